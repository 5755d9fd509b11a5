package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// --- users ---

const createUser = `
INSERT INTO users (email, name, google_id, picture)
VALUES ($1, $2, $3, $4)
RETURNING id, email, name, google_id, picture, created_at
`

type CreateUserParams struct {
	Email    string
	Name     pgtype.Text
	GoogleID pgtype.Text
	Picture  pgtype.Text
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRow(ctx, createUser, arg.Email, arg.Name, arg.GoogleID, arg.Picture)
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.GoogleID, &u.Picture, &u.CreatedAt)
	return u, err
}

const getUserByEmail = `
SELECT id, email, name, google_id, picture, created_at
FROM users
WHERE email = $1
`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRow(ctx, getUserByEmail, email)
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.GoogleID, &u.Picture, &u.CreatedAt)
	return u, err
}

// --- quizzes ---

const createQuiz = `
INSERT INTO quizzes (creator_id, title, description, visibility)
VALUES ($1, $2, $3, $4)
RETURNING id, creator_id, title, description, visibility, created_at, updated_at
`

type CreateQuizParams struct {
	CreatorID   pgtype.UUID
	Title       string
	Description pgtype.Text
	Visibility  QuizVisibility
}

func (q *Queries) CreateQuiz(ctx context.Context, arg CreateQuizParams) (Quiz, error) {
	row := q.db.QueryRow(ctx, createQuiz, arg.CreatorID, arg.Title, arg.Description, arg.Visibility)
	var qz Quiz
	err := row.Scan(&qz.ID, &qz.CreatorID, &qz.Title, &qz.Description, &qz.Visibility, &qz.CreatedAt, &qz.UpdatedAt)
	return qz, err
}

const getQuizByID = `
SELECT q.id, q.creator_id, q.title, q.description, q.visibility, q.created_at, q.updated_at,
       u.name AS creator_name, u.picture AS creator_picture
FROM quizzes q
LEFT JOIN users u ON u.id = q.creator_id
WHERE q.id = $1
`

type GetQuizByIDRow struct {
	ID             uuid.UUID
	CreatorID      pgtype.UUID
	Title          string
	Description    pgtype.Text
	Visibility     QuizVisibility
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CreatorName    pgtype.Text
	CreatorPicture pgtype.Text
}

func (q *Queries) GetQuizByID(ctx context.Context, id uuid.UUID) (GetQuizByIDRow, error) {
	row := q.db.QueryRow(ctx, getQuizByID, id)
	var r GetQuizByIDRow
	err := row.Scan(&r.ID, &r.CreatorID, &r.Title, &r.Description, &r.Visibility,
		&r.CreatedAt, &r.UpdatedAt, &r.CreatorName, &r.CreatorPicture)
	return r, err
}

const listQuizzesByCreator = `
SELECT q.id, q.title, q.description, q.visibility, q.created_at, q.updated_at,
       COUNT(qs.id) AS question_count
FROM quizzes q
LEFT JOIN questions qs ON qs.quiz_id = q.id
WHERE q.creator_id = $1
GROUP BY q.id
ORDER BY q.created_at DESC
`

type ListQuizzesByCreatorRow struct {
	ID            uuid.UUID
	Title         string
	Description   pgtype.Text
	Visibility    QuizVisibility
	CreatedAt     time.Time
	UpdatedAt     time.Time
	QuestionCount int64
}

func (q *Queries) ListQuizzesByCreator(ctx context.Context, creatorID pgtype.UUID) ([]ListQuizzesByCreatorRow, error) {
	rows, err := q.db.Query(ctx, listQuizzesByCreator, creatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListQuizzesByCreatorRow
	for rows.Next() {
		var r ListQuizzesByCreatorRow
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.Visibility,
			&r.CreatedAt, &r.UpdatedAt, &r.QuestionCount); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const deleteQuiz = `
DELETE FROM quizzes
WHERE id = $1
`

func (q *Queries) DeleteQuiz(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, deleteQuiz, id)
	return err
}

// --- materials ---

const createMaterial = `
INSERT INTO materials (user_id, title, url)
VALUES ($1, $2, $3)
RETURNING id, user_id, title, url, created_at
`

type CreateMaterialParams struct {
	UserID uuid.UUID
	Title  string
	Url    pgtype.Text
}

func (q *Queries) CreateMaterial(ctx context.Context, arg CreateMaterialParams) (Material, error) {
	row := q.db.QueryRow(ctx, createMaterial, arg.UserID, arg.Title, arg.Url)
	var m Material
	err := row.Scan(&m.ID, &m.UserID, &m.Title, &m.Url, &m.CreatedAt)
	return m, err
}

const updateMaterialURL = `
UPDATE materials
SET url = $2
WHERE id = $1
`

func (q *Queries) UpdateMaterialURL(ctx context.Context, id uuid.UUID, url pgtype.Text) error {
	_, err := q.db.Exec(ctx, updateMaterialURL, id, url)
	return err
}

const linkQuizMaterial = `
INSERT INTO quiz_materials (quiz_id, material_id)
VALUES ($1, $2)
ON CONFLICT DO NOTHING
`

type LinkQuizMaterialParams struct {
	QuizID     uuid.UUID
	MaterialID uuid.UUID
}

func (q *Queries) LinkQuizMaterial(ctx context.Context, arg LinkQuizMaterialParams) error {
	_, err := q.db.Exec(ctx, linkQuizMaterial, arg.QuizID, arg.MaterialID)
	return err
}

// --- questions & answers ---

const createQuestion = `
INSERT INTO questions (quiz_id, topic_title, question)
VALUES ($1, $2, $3)
RETURNING id, quiz_id, topic_title, question, created_at
`

type CreateQuestionParams struct {
	QuizID     uuid.UUID
	TopicTitle pgtype.Text
	Question   string
}

func (q *Queries) CreateQuestion(ctx context.Context, arg CreateQuestionParams) (Question, error) {
	row := q.db.QueryRow(ctx, createQuestion, arg.QuizID, arg.TopicTitle, arg.Question)
	var qu Question
	err := row.Scan(&qu.ID, &qu.QuizID, &qu.TopicTitle, &qu.Question, &qu.CreatedAt)
	return qu, err
}

const listQuestionsByQuizID = `
SELECT id, quiz_id, topic_title, question, created_at
FROM questions
WHERE quiz_id = $1
ORDER BY created_at
`

func (q *Queries) ListQuestionsByQuizID(ctx context.Context, quizID uuid.UUID) ([]Question, error) {
	rows, err := q.db.Query(ctx, listQuestionsByQuizID, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Question
	for rows.Next() {
		var qu Question
		if err := rows.Scan(&qu.ID, &qu.QuizID, &qu.TopicTitle, &qu.Question, &qu.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, qu)
	}
	return items, rows.Err()
}

const createAnswer = `
INSERT INTO answers (question_id, answer, is_correct, explanation)
VALUES ($1, $2, $3, $4)
RETURNING id, question_id, answer, is_correct, explanation
`

type CreateAnswerParams struct {
	QuestionID  uuid.UUID
	Answer      string
	IsCorrect   bool
	Explanation pgtype.Text
}

func (q *Queries) CreateAnswer(ctx context.Context, arg CreateAnswerParams) (Answer, error) {
	row := q.db.QueryRow(ctx, createAnswer, arg.QuestionID, arg.Answer, arg.IsCorrect, arg.Explanation)
	var a Answer
	err := row.Scan(&a.ID, &a.QuestionID, &a.Answer, &a.IsCorrect, &a.Explanation)
	return a, err
}

const listAnswersByQuestionID = `
SELECT id, question_id, answer, is_correct, explanation
FROM answers
WHERE question_id = $1
ORDER BY id
`

func (q *Queries) ListAnswersByQuestionID(ctx context.Context, questionID uuid.UUID) ([]Answer, error) {
	rows, err := q.db.Query(ctx, listAnswersByQuestionID, questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Answer
	for rows.Next() {
		var a Answer
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.Answer, &a.IsCorrect, &a.Explanation); err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

const getAnswerCorrectness = `
SELECT is_correct
FROM answers
WHERE id = $1
`

func (q *Queries) GetAnswerCorrectness(ctx context.Context, id uuid.UUID) (bool, error) {
	row := q.db.QueryRow(ctx, getAnswerCorrectness, id)
	var isCorrect bool
	err := row.Scan(&isCorrect)
	return isCorrect, err
}

// --- quiz attempts ---

const createQuizAttempt = `
INSERT INTO quiz_attempts (quiz_id, user_id)
VALUES ($1, $2)
RETURNING id, quiz_id, user_id, score, start_time, end_time
`

type CreateQuizAttemptParams struct {
	QuizID uuid.UUID
	UserID uuid.UUID
}

func (q *Queries) CreateQuizAttempt(ctx context.Context, arg CreateQuizAttemptParams) (QuizAttempt, error) {
	row := q.db.QueryRow(ctx, createQuizAttempt, arg.QuizID, arg.UserID)
	var a QuizAttempt
	err := row.Scan(&a.ID, &a.QuizID, &a.UserID, &a.Score, &a.StartTime, &a.EndTime)
	return a, err
}

const getQuizAttempt = `
SELECT id, quiz_id, user_id, score, start_time, end_time
FROM quiz_attempts
WHERE id = $1
`

func (q *Queries) GetQuizAttempt(ctx context.Context, id uuid.UUID) (QuizAttempt, error) {
	row := q.db.QueryRow(ctx, getQuizAttempt, id)
	var a QuizAttempt
	err := row.Scan(&a.ID, &a.QuizID, &a.UserID, &a.Score, &a.StartTime, &a.EndTime)
	return a, err
}

const upsertAttemptAnswer = `
INSERT INTO attempt_answers (quiz_attempt_id, question_id, selected_answer_id, is_correct)
VALUES ($1, $2, $3, $4)
ON CONFLICT (quiz_attempt_id, question_id)
DO UPDATE SET selected_answer_id = EXCLUDED.selected_answer_id,
              is_correct = EXCLUDED.is_correct,
              updated_at = now()
RETURNING id, quiz_attempt_id, question_id, selected_answer_id, is_correct, updated_at
`

type UpsertAttemptAnswerParams struct {
	QuizAttemptID    uuid.UUID
	QuestionID       uuid.UUID
	SelectedAnswerID pgtype.UUID
	IsCorrect        pgtype.Bool
}

func (q *Queries) UpsertAttemptAnswer(ctx context.Context, arg UpsertAttemptAnswerParams) (AttemptAnswer, error) {
	row := q.db.QueryRow(ctx, upsertAttemptAnswer,
		arg.QuizAttemptID, arg.QuestionID, arg.SelectedAnswerID, arg.IsCorrect)
	var a AttemptAnswer
	err := row.Scan(&a.ID, &a.QuizAttemptID, &a.QuestionID, &a.SelectedAnswerID, &a.IsCorrect, &a.UpdatedAt)
	return a, err
}

const listAttemptAnswersByAttempt = `
SELECT id, quiz_attempt_id, question_id, selected_answer_id, is_correct, updated_at
FROM attempt_answers
WHERE quiz_attempt_id = $1
`

func (q *Queries) ListAttemptAnswersByAttempt(ctx context.Context, quizAttemptID uuid.UUID) ([]AttemptAnswer, error) {
	rows, err := q.db.Query(ctx, listAttemptAnswersByAttempt, quizAttemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AttemptAnswer
	for rows.Next() {
		var a AttemptAnswer
		if err := rows.Scan(&a.ID, &a.QuizAttemptID, &a.QuestionID, &a.SelectedAnswerID, &a.IsCorrect, &a.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

const calculateQuizAttemptScore = `
SELECT COUNT(*)
FROM attempt_answers
WHERE quiz_attempt_id = $1 AND is_correct = TRUE
`

func (q *Queries) CalculateQuizAttemptScore(ctx context.Context, quizAttemptID uuid.UUID) (int64, error) {
	row := q.db.QueryRow(ctx, calculateQuizAttemptScore, quizAttemptID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const updateQuizAttemptScoreAndEndTime = `
UPDATE quiz_attempts
SET score = $2, end_time = $3
WHERE id = $1
RETURNING id, quiz_id, user_id, score, start_time, end_time
`

type UpdateQuizAttemptScoreAndEndTimeParams struct {
	ID      uuid.UUID
	Score   pgtype.Int4
	EndTime pgtype.Timestamptz
}

func (q *Queries) UpdateQuizAttemptScoreAndEndTime(ctx context.Context, arg UpdateQuizAttemptScoreAndEndTimeParams) (QuizAttempt, error) {
	row := q.db.QueryRow(ctx, updateQuizAttemptScoreAndEndTime, arg.ID, arg.Score, arg.EndTime)
	var a QuizAttempt
	err := row.Scan(&a.ID, &a.QuizID, &a.UserID, &a.Score, &a.StartTime, &a.EndTime)
	return a, err
}

const listUserAttemptsWithQuizName = `
SELECT a.id, a.quiz_id, q.title AS quiz_title, a.score, a.start_time, a.end_time
FROM quiz_attempts a
JOIN quizzes q ON q.id = a.quiz_id
WHERE a.user_id = $1
ORDER BY a.start_time DESC
`

type ListUserAttemptsWithQuizNameRow struct {
	ID        uuid.UUID
	QuizID    uuid.UUID
	QuizTitle string
	Score     pgtype.Int4
	StartTime time.Time
	EndTime   pgtype.Timestamptz
}

func (q *Queries) ListUserAttemptsWithQuizName(ctx context.Context, userID uuid.UUID) ([]ListUserAttemptsWithQuizNameRow, error) {
	rows, err := q.db.Query(ctx, listUserAttemptsWithQuizName, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListUserAttemptsWithQuizNameRow
	for rows.Next() {
		var r ListUserAttemptsWithQuizNameRow
		if err := rows.Scan(&r.ID, &r.QuizID, &r.QuizTitle, &r.Score, &r.StartTime, &r.EndTime); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}
