package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"quizforge/internal/db"
	"quizforge/internal/gemini"
	"quizforge/internal/keypool"
	"quizforge/internal/models"
)

// materialSource tracks one input document through generation and storage.
type materialSource struct {
	title    string
	tempPath string // empty for sources with nothing to upload
}

// HandleGenerateQuiz accepts uploaded documents and YouTube URLs, generates a
// quiz with Gemini, and persists it in one transaction.
func (h *Handler) HandleGenerateQuiz(c *gin.Context) {
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

	// 1. Parse the multipart form: files plus optional video URLs.
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form"})
		return
	}
	uploads := form.File["files"]
	videoURLs := form.Value["videoUrls"]
	if len(uploads) == 0 && len(videoURLs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Provide at least one file or video URL"})
		return
	}

	var (
		docs    []gemini.DocumentFile
		sources []materialSource
	)
	defer func() {
		for _, doc := range docs {
			if err := os.Remove(doc.Path); err != nil && !os.IsNotExist(err) {
				log.Printf("WARN: Failed to remove temp file %s: %v", doc.Path, err)
			}
		}
	}()

	// 2. Stage uploaded files on disk.
	for _, fh := range uploads {
		f, err := fh.Open()
		if err != nil {
			h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to read uploaded file", err)
			return
		}
		doc, err := gemini.NewDocumentFile(f, fh.Filename, fh.Size)
		f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unusable file %s: %v", fh.Filename, err)})
			return
		}
		docs = append(docs, *doc)
		sources = append(sources, materialSource{title: fh.Filename, tempPath: doc.Path})
	}

	// 3. Fetch transcripts for video URLs and stage them as text documents.
	for _, videoURL := range videoURLs {
		videoURL = strings.TrimSpace(videoURL)
		if videoURL == "" {
			continue
		}
		transcript, err := h.Youtube.GetTranscript(c.Request.Context(), videoURL, "")
		if err != nil {
			log.Printf("WARN: Failed to fetch transcript for %s: %v", videoURL, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Could not fetch transcript for %s", videoURL)})
			return
		}
		tempPath, err := gemini.SaveTempFile([]byte(transcript), "transcript.txt")
		if err != nil {
			h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to stage transcript", err)
			return
		}
		docs = append(docs, gemini.DocumentFile{
			Name: "transcript.txt",
			Path: tempPath,
			Size: int64(len(transcript)),
		})
		sources = append(sources, materialSource{title: videoURL, tempPath: tempPath})
	}

	// 4. Generate the quiz.
	log.Printf("INFO: Generating quiz for user %s from %d documents", profile.Email, len(docs))
	quiz, usage, err := h.Gemini.ProcessDocuments(c.Request.Context(), docs)
	if err != nil {
		if errors.Is(err, keypool.ErrExhausted) {
			log.Printf("WARN: Quiz generation rejected, all API keys cooling down")
			h.notifyError("Quiz generation unavailable", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Quiz generation is temporarily unavailable. Please try again in a few minutes.",
			})
			return
		}
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to generate quiz", err)
		return
	}

	validQuestions := filterValidQuestions(quiz.Questions)
	if len(validQuestions) == 0 {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to generate quiz",
			fmt.Errorf("model returned no usable questions"))
		return
	}

	title := strings.TrimSpace(quiz.Title)
	if title == "" {
		title = "Untitled Quiz"
	}
	visibility := db.QuizVisibilityPrivate
	if c.PostForm("visibility") == string(db.QuizVisibilityPublic) {
		visibility = db.QuizVisibilityPublic
	}

	// 5. Persist quiz, materials, questions, and answers atomically.
	tx, err := h.DB.Pool.Begin(c.Request.Context())
	if err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to save quiz", err)
		return
	}
	defer tx.Rollback(c.Request.Context())
	qtx := h.DB.Queries.WithTx(tx)

	quizRow, err := qtx.CreateQuiz(c.Request.Context(), db.CreateQuizParams{
		CreatorID:   pgtype.UUID{Bytes: userID, Valid: true},
		Title:       title,
		Description: pgtype.Text{String: c.PostForm("description"), Valid: c.PostForm("description") != ""},
		Visibility:  visibility,
	})
	if err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to save quiz", err)
		return
	}

	var materials []db.Material
	for _, src := range sources {
		material, err := qtx.CreateMaterial(c.Request.Context(), db.CreateMaterialParams{
			UserID: userID,
			Title:  src.title,
		})
		if err != nil {
			h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to save material", err)
			return
		}
		if err := qtx.LinkQuizMaterial(c.Request.Context(), db.LinkQuizMaterialParams{
			QuizID:     quizRow.ID,
			MaterialID: material.ID,
		}); err != nil {
			h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to link material", err)
			return
		}
		materials = append(materials, material)
	}

	for _, q := range validQuestions {
		questionRow, err := qtx.CreateQuestion(c.Request.Context(), db.CreateQuestionParams{
			QuizID:     quizRow.ID,
			TopicTitle: pgtype.Text{String: q.Topic, Valid: q.Topic != ""},
			Question:   q.Text,
		})
		if err != nil {
			h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to save question", err)
			return
		}
		for _, opt := range q.Options {
			if _, err := qtx.CreateAnswer(c.Request.Context(), db.CreateAnswerParams{
				QuestionID:  questionRow.ID,
				Answer:      opt.Text,
				IsCorrect:   opt.IsCorrect,
				Explanation: pgtype.Text{String: opt.Explanation, Valid: opt.Explanation != ""},
			}); err != nil {
				h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to save answer", err)
				return
			}
		}
	}

	if err := tx.Commit(c.Request.Context()); err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to save quiz", err)
		return
	}

	// 6. Upload source materials to object storage after commit, best effort.
	if h.R2.Enabled() {
		for i, material := range materials {
			src := sources[i]
			if src.tempPath == "" {
				continue
			}
			f, err := os.Open(src.tempPath)
			if err != nil {
				log.Printf("WARN: Skipping R2 upload for material %s: %v", material.ID, err)
				continue
			}
			publicURL, err := h.R2.UploadMaterial(c.Request.Context(), userID, material.ID, src.title, f)
			f.Close()
			if err != nil {
				log.Printf("WARN: R2 upload failed for material %s: %v", material.ID, err)
				continue
			}
			if err := h.DB.Queries.UpdateMaterialURL(c.Request.Context(), material.ID,
				pgtype.Text{String: publicURL, Valid: true}); err != nil {
				log.Printf("WARN: Failed to store material URL for %s: %v", material.ID, err)
			}
		}
	}

	log.Printf("INFO: Created quiz %s (%d questions, %d tokens) for user %s",
		quizRow.ID, len(validQuestions), usage.Total, profile.Email)
	h.sendDiscordNotification(discordEmbed{
		Title: "Quiz generated",
		Color: discordColorGreen,
		Fields: []discordEmbedField{
			{Name: "User", Value: profile.Email, Inline: true},
			{Name: "Questions", Value: fmt.Sprintf("%d", len(validQuestions)), Inline: true},
			{Name: "Tokens", Value: fmt.Sprintf("%d", usage.Total), Inline: true},
		},
	})

	c.JSON(http.StatusCreated, gin.H{
		"quizId":        quizRow.ID,
		"title":         quizRow.Title,
		"questionCount": len(validQuestions),
		"tokenUsage": gin.H{
			"prompt":     usage.Prompt,
			"candidates": usage.Candidates,
			"total":      usage.Total,
		},
	})
}

// filterValidQuestions keeps questions that have text and exactly one correct
// option among at least two.
func filterValidQuestions(questions []models.QuizQuestion) []models.QuizQuestion {
	var valid []models.QuizQuestion
	for _, q := range questions {
		if strings.TrimSpace(q.Text) == "" || len(q.Options) < 2 {
			log.Printf("WARN: Dropping malformed question %q", q.Text)
			continue
		}
		correct := 0
		for _, opt := range q.Options {
			if opt.IsCorrect {
				correct++
			}
		}
		if correct != 1 {
			log.Printf("WARN: Dropping question with %d correct options: %q", correct, q.Text)
			continue
		}
		valid = append(valid, q)
	}
	return valid
}

// HandleGetQuiz returns a quiz with its questions and answers. Private
// quizzes are visible to their creator only.
func (h *Handler) HandleGetQuiz(c *gin.Context) {
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

	questions, err := h.DB.Queries.ListQuestionsByQuizID(c.Request.Context(), quizID)
	if err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to load questions", err)
		return
	}

	questionPayload := make([]gin.H, 0, len(questions))
	for _, q := range questions {
		answers, err := h.DB.Queries.ListAnswersByQuestionID(c.Request.Context(), q.ID)
		if err != nil {
			h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to load answers", err)
			return
		}
		answerPayload := make([]gin.H, 0, len(answers))
		for _, a := range answers {
			answerPayload = append(answerPayload, gin.H{
				"id":   a.ID,
				"text": a.Answer,
			})
		}
		questionPayload = append(questionPayload, gin.H{
			"id":      q.ID,
			"text":    q.Question,
			"topic":   q.TopicTitle.String,
			"answers": answerPayload,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"id":          quiz.ID,
		"title":       quiz.Title,
		"description": quiz.Description.String,
		"visibility":  quiz.Visibility,
		"creatorName": quiz.CreatorName.String,
		"createdAt":   quiz.CreatedAt,
		"questions":   questionPayload,
	})
}

// HandleListUserQuizzes lists the authenticated user's quizzes.
func (h *Handler) HandleListUserQuizzes(c *gin.Context) {
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

	quizzes, err := h.DB.Queries.ListQuizzesByCreator(c.Request.Context(),
		pgtype.UUID{Bytes: userID, Valid: true})
	if err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to list quizzes", err)
		return
	}

	payload := make([]gin.H, 0, len(quizzes))
	for _, q := range quizzes {
		payload = append(payload, gin.H{
			"id":            q.ID,
			"title":         q.Title,
			"description":   q.Description.String,
			"visibility":    q.Visibility,
			"questionCount": q.QuestionCount,
			"createdAt":     q.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"quizzes": payload})
}

// HandleDeleteQuiz deletes a quiz owned by the caller.
func (h *Handler) HandleDeleteQuiz(c *gin.Context) {
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
	if !isCreator(c, quiz.CreatorID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the creator can delete a quiz"})
		return
	}

	if err := h.DB.Queries.DeleteQuiz(c.Request.Context(), quizID); err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to delete quiz", err)
		return
	}
	log.Printf("INFO: Deleted quiz %s", quizID)
	h.sendDiscordNotification(discordEmbed{
		Title:       "Quiz deleted",
		Description: quiz.Title,
		Color:       discordColorRed,
	})
	c.JSON(http.StatusOK, gin.H{"message": "Quiz deleted"})
}

// isCreator reports whether the session user matches the quiz creator.
func isCreator(c *gin.Context, creatorID pgtype.UUID) bool {
	profile, ok := currentProfile(c)
	if !ok || !creatorID.Valid {
		return false
	}
	userID, err := uuid.Parse(profile.ID)
	if err != nil {
		return false
	}
	return uuid.UUID(creatorID.Bytes) == userID
}
