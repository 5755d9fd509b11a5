package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quizforge/internal/api/handlers"
)

// SetupRoutes registers all endpoints on the router.
func SetupRoutes(router *gin.Engine, h *handlers.Handler) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/login", h.HandleGoogleLogin)
	router.GET("/auth/google/callback", h.HandleGoogleCallback)

	apiGroup := router.Group("/api")
	apiGroup.GET("/auth/status", h.HandleAuthStatus)

	protected := apiGroup.Group("")
	protected.Use(AuthRequired())
	{
		protected.GET("/profile", h.HandleGetProfile)
		protected.POST("/logout", h.HandleLogout)

		protected.POST("/quizzes/generate", h.HandleGenerateQuiz)
		protected.GET("/quizzes", h.HandleListUserQuizzes)
		protected.GET("/quizzes/:id", h.HandleGetQuiz)
		protected.DELETE("/quizzes/:id", h.HandleDeleteQuiz)

		protected.POST("/quizzes/:id/attempts", h.HandleStartAttempt)
		protected.GET("/attempts", h.HandleListUserAttempts)
		protected.GET("/attempts/:attemptId", h.HandleGetAttempt)
		protected.PUT("/attempts/:attemptId/answers", h.HandleSaveAttemptAnswer)
		protected.POST("/attempts/:attemptId/finish", h.HandleFinishAttempt)
	}
}
