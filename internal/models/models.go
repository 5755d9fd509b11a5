// Package models holds the wire types shared between the Gemini client and
// the API layer.
package models

// QuizResponse is the structured JSON document the model is instructed to
// return for a quiz-generation request.
type QuizResponse struct {
	Title     string         `json:"title"`
	Questions []QuizQuestion `json:"questions"`
}

// QuizQuestion is one generated question with its four answer options.
type QuizQuestion struct {
	Text    string       `json:"text"`
	Topic   string       `json:"topic"`
	Options []QuizOption `json:"options"`
}

// QuizOption is one answer option, with the explanation the model supplies
// for why the option is correct or incorrect.
type QuizOption struct {
	Text        string `json:"text"`
	IsCorrect   bool   `json:"is_correct"`
	Explanation string `json:"explanation"`
}

// TokenUsage accumulates the token counts reported by the provider across
// all requests issued for one generation job.
type TokenUsage struct {
	Prompt     int64 `json:"prompt_tokens"`
	Candidates int64 `json:"candidate_tokens"`
	Total      int64 `json:"total_tokens"`
}

// Add merges usage reported for a single provider call into the running
// totals for a job.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Prompt += other.Prompt
	u.Candidates += other.Candidates
	u.Total += other.Total
}
