package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizforge/internal/models"
)

func TestFilterValidQuestions(t *testing.T) {
	questions := []models.QuizQuestion{
		{
			Text: "Keeps a well-formed question",
			Options: []models.QuizOption{
				{Text: "right", IsCorrect: true},
				{Text: "wrong"},
			},
		},
		{
			Text: "Drops a question with no correct option",
			Options: []models.QuizOption{
				{Text: "a"},
				{Text: "b"},
			},
		},
		{
			Text: "Drops a question with two correct options",
			Options: []models.QuizOption{
				{Text: "a", IsCorrect: true},
				{Text: "b", IsCorrect: true},
			},
		},
		{
			Text: "Drops a question with a single option",
			Options: []models.QuizOption{
				{Text: "only", IsCorrect: true},
			},
		},
		{
			Text: "   ",
			Options: []models.QuizOption{
				{Text: "right", IsCorrect: true},
				{Text: "wrong"},
			},
		},
	}

	valid := filterValidQuestions(questions)

	require.Len(t, valid, 1)
	assert.Equal(t, "Keeps a well-formed question", valid[0].Text)
}

func TestFilterValidQuestionsEmpty(t *testing.T) {
	assert.Empty(t, filterValidQuestions(nil))
}
