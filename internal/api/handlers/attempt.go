package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"quizforge/internal/db"
)

// HandleStartAttempt creates a new attempt at a quiz for the caller.
func (h *Handler) HandleStartAttempt(c *gin.Context) {
	profile, ok := currentProfile(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	userID, err := uuid.Parse(profile.ID)
	if err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Invalid user session", err)
		return
	}
	quizID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid quiz ID"})
		return
	}

	quiz, err := h.DB.Queries.GetQuizByID(c.Request.Context(), quizID)
	if errors.Is(err, pgx.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Quiz not found"})
		return
	}
	if err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to load quiz", err)
		return
	}
	if quiz.Visibility != db.QuizVisibilityPublic && !isCreator(c, quiz.CreatorID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "You do not have access to this quiz"})
		return
	}

	attempt, err := h.DB.Queries.CreateQuizAttempt(c.Request.Context(), db.CreateQuizAttemptParams{
		QuizID: quizID,
		UserID: userID,
	})
	if err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to start attempt", err)
		return
	}

	log.Printf("INFO: User %s started attempt %s on quiz %s", profile.Email, attempt.ID, quizID)
	h.sendDiscordNotification(discordEmbed{
		Title: "Quiz attempt started",
		Color: discordColorGreen,
		Fields: []discordEmbedField{
			{Name: "User", Value: profile.Email, Inline: true},
			{Name: "Quiz", Value: quiz.Title, Inline: true},
		},
	})
	c.JSON(http.StatusCreated, gin.H{
		"attemptId": attempt.ID,
		"quizId":    attempt.QuizID,
		"startTime": attempt.StartTime,
	})
}

// loadOwnAttempt loads an attempt and verifies it belongs to the caller.
func (h *Handler) loadOwnAttempt(c *gin.Context) (db.QuizAttempt, bool) {
	profile, ok := currentProfile(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return db.QuizAttempt{}, false
	}
	userID, err := uuid.Parse(profile.ID)
	if err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Invalid user session", err)
		return db.QuizAttempt{}, false
	}
	attemptID, err := uuid.Parse(c.Param("attemptId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid attempt ID"})
		return db.QuizAttempt{}, false
	}

	attempt, err := h.DB.Queries.GetQuizAttempt(c.Request.Context(), attemptID)
	if errors.Is(err, pgx.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Attempt not found"})
		return db.QuizAttempt{}, false
	}
	if err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to load attempt", err)
		return db.QuizAttempt{}, false
	}
	if attempt.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "This attempt belongs to another user"})
		return db.QuizAttempt{}, false
	}
	return attempt, true
}

// HandleGetAttempt returns an attempt with its recorded answers.
func (h *Handler) HandleGetAttempt(c *gin.Context) {
	attempt, ok := h.loadOwnAttempt(c)
	if !ok {
		return
	}

	answers, err := h.DB.Queries.ListAttemptAnswersByAttempt(c.Request.Context(), attempt.ID)
	if err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to load attempt answers", err)
		return
	}

	answerPayload := make([]gin.H, 0, len(answers))
	for _, a := range answers {
		entry := gin.H{
			"questionId": a.QuestionID,
			"isCorrect":  a.IsCorrect.Bool,
		}
		if a.SelectedAnswerID.Valid {
			entry["selectedAnswerId"] = uuid.UUID(a.SelectedAnswerID.Bytes)
		}
		answerPayload = append(answerPayload, entry)
	}

	payload := gin.H{
		"attemptId": attempt.ID,
		"quizId":    attempt.QuizID,
		"startTime": attempt.StartTime,
		"answers":   answerPayload,
	}
	if attempt.Score.Valid {
		payload["score"] = attempt.Score.Int32
	}
	if attempt.EndTime.Valid {
		payload["endTime"] = attempt.EndTime.Time
	}
	c.JSON(http.StatusOK, payload)
}

type saveAnswerRequest struct {
	QuestionID uuid.UUID `json:"questionId" binding:"required"`
	AnswerID   uuid.UUID `json:"answerId" binding:"required"`
}

// HandleSaveAttemptAnswer records (or replaces) the caller's answer to one
// question, grading it against the stored correctness flag.
func (h *Handler) HandleSaveAttemptAnswer(c *gin.Context) {
	attempt, ok := h.loadOwnAttempt(c)
	if !ok {
		return
	}
	if attempt.EndTime.Valid {
		c.JSON(http.StatusConflict, gin.H{"error": "Attempt already finished"})
		return
	}

	var req saveAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	isCorrect, err := h.DB.Queries.GetAnswerCorrectness(c.Request.Context(), req.AnswerID)
	if errors.Is(err, pgx.ErrNoRows) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown answer ID"})
		return
	}
	if err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to grade answer", err)
		return
	}

	saved, err := h.DB.Queries.UpsertAttemptAnswer(c.Request.Context(), db.UpsertAttemptAnswerParams{
		QuizAttemptID:    attempt.ID,
		QuestionID:       req.QuestionID,
		SelectedAnswerID: pgtype.UUID{Bytes: req.AnswerID, Valid: true},
		IsCorrect:        pgtype.Bool{Bool: isCorrect, Valid: true},
	})
	if err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to save answer", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"questionId": saved.QuestionID,
		"isCorrect":  saved.IsCorrect.Bool,
	})
}

// HandleFinishAttempt computes the final score and stamps the end time.
func (h *Handler) HandleFinishAttempt(c *gin.Context) {
	attempt, ok := h.loadOwnAttempt(c)
	if !ok {
		return
	}
	if attempt.EndTime.Valid {
		c.JSON(http.StatusConflict, gin.H{"error": "Attempt already finished"})
		return
	}

	score, err := h.DB.Queries.CalculateQuizAttemptScore(c.Request.Context(), attempt.ID)
	if err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to compute score", err)
		return
	}

	updated, err := h.DB.Queries.UpdateQuizAttemptScoreAndEndTime(c.Request.Context(),
		db.UpdateQuizAttemptScoreAndEndTimeParams{
			ID:      attempt.ID,
			Score:   pgtype.Int4{Int32: int32(score), Valid: true},
			EndTime: pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true},
		})
	if err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to finish attempt", err)
		return
	}

	log.Printf("INFO: Attempt %s finished with score %d", updated.ID, score)
	h.sendDiscordNotification(discordEmbed{
		Title: "Quiz attempt finished",
		Color: discordColorGreen,
		Fields: []discordEmbedField{
			{Name: "Attempt", Value: updated.ID.String(), Inline: true},
			{Name: "Score", Value: fmt.Sprintf("%d", score), Inline: true},
		},
	})
	c.JSON(http.StatusOK, gin.H{
		"attemptId": updated.ID,
		"score":     updated.Score.Int32,
		"endTime":   updated.EndTime.Time,
	})
}

// HandleListUserAttempts lists the caller's attempts with quiz titles.
func (h *Handler) HandleListUserAttempts(c *gin.Context) {
	profile, ok := currentProfile(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	userID, err := uuid.Parse(profile.ID)
	if err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Invalid user session", err)
		return
	}

	attempts, err := h.DB.Queries.ListUserAttemptsWithQuizName(c.Request.Context(), userID)
	if err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to list attempts", err)
		return
	}

	payload := make([]gin.H, 0, len(attempts))
	for _, a := range attempts {
		entry := gin.H{
			"attemptId": a.ID,
			"quizId":    a.QuizID,
			"quizTitle": a.QuizTitle,
			"startTime": a.StartTime,
		}
		if a.Score.Valid {
			entry["score"] = a.Score.Int32
		}
		if a.EndTime.Valid {
			entry["endTime"] = a.EndTime.Time
		}
		payload = append(payload, entry)
	}
	c.JSON(http.StatusOK, gin.H{"attempts": payload})
}
