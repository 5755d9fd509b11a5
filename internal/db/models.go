package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// QuizVisibility controls who can view a quiz.
type QuizVisibility string

const (
	QuizVisibilityPublic  QuizVisibility = "public"
	QuizVisibilityPrivate QuizVisibility = "private"
)

type User struct {
	ID        uuid.UUID
	Email     string
	Name      pgtype.Text
	GoogleID  pgtype.Text
	Picture   pgtype.Text
	CreatedAt time.Time
}

type Quiz struct {
	ID          uuid.UUID
	CreatorID   pgtype.UUID
	Title       string
	Description pgtype.Text
	Visibility  QuizVisibility
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Material struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Title     string
	Url       pgtype.Text
	CreatedAt time.Time
}

type Question struct {
	ID         uuid.UUID
	QuizID     uuid.UUID
	TopicTitle pgtype.Text
	Question   string
	CreatedAt  time.Time
}

type Answer struct {
	ID          uuid.UUID
	QuestionID  uuid.UUID
	Answer      string
	IsCorrect   bool
	Explanation pgtype.Text
}

type QuizAttempt struct {
	ID        uuid.UUID
	QuizID    uuid.UUID
	UserID    uuid.UUID
	Score     pgtype.Int4
	StartTime time.Time
	EndTime   pgtype.Timestamptz
}

type AttemptAnswer struct {
	ID               uuid.UUID
	QuizAttemptID    uuid.UUID
	QuestionID       uuid.UUID
	SelectedAnswerID pgtype.UUID
	IsCorrect        pgtype.Bool
	UpdatedAt        time.Time
}
