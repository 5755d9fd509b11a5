package api

import (
	"encoding/gob"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizforge/internal/api/handlers"
)

func init() {
	gin.SetMode(gin.TestMode)
	gob.Register(handlers.UserProfile{})
}

func TestCORSMiddlewareSetsHeaders(t *testing.T) {
	t.Setenv("FRONTEND_URL", "https://app.example.com")

	router := gin.New()
	router.Use(CORSMiddleware())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSMiddlewarePreflight(t *testing.T) {
	t.Setenv("FRONTEND_URL", "https://app.example.com")

	router := gin.New()
	router.Use(CORSMiddleware())
	router.POST("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func newSessionRouter() *gin.Engine {
	router := gin.New()
	store := cookie.NewStore([]byte("test-secret"))
	router.Use(sessions.Sessions("test_session", store))
	return router
}

func TestAuthRequiredRejectsAnonymous(t *testing.T) {
	router := newSessionRouter()
	router.GET("/private", AuthRequired(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRequiredAllowsSessionUser(t *testing.T) {
	router := newSessionRouter()
	router.GET("/login", func(c *gin.Context) {
		session := sessions.Default(c)
		session.Set(handlers.ProfileSessionKey, handlers.UserProfile{
			ID:    "3b35b6f6-7a6f-4b6a-9f3e-0d1b3d6a5c1e",
			Email: "user@example.com",
		})
		require.NoError(t, session.Save())
		c.Status(http.StatusOK)
	})
	router.GET("/private", AuthRequired(), func(c *gin.Context) {
		v, exists := c.Get(handlers.ProfileSessionKey)
		require.True(t, exists)
		profile := v.(handlers.UserProfile)
		c.JSON(http.StatusOK, gin.H{"email": profile.Email})
	})

	loginW := httptest.NewRecorder()
	router.ServeHTTP(loginW, httptest.NewRequest(http.MethodGet, "/login", nil))
	require.Equal(t, http.StatusOK, loginW.Code)
	cookies := loginW.Result().Cookies()
	require.NotEmpty(t, cookies)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "user@example.com")
}
