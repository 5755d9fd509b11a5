package gemini

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"quizforge/internal/keypool"
	"quizforge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newExhaustedClient returns a Client whose single pool key is cooling down,
// so the next Acquire fails with keypool.ErrExhausted.
func newExhaustedClient(t *testing.T) *Client {
	t.Helper()
	pool, err := keypool.New([]string{"only-key"})
	require.NoError(t, err)
	secret, err := pool.Acquire()
	require.NoError(t, err)
	pool.ReportOutcome(secret, false, "429")

	client, err := NewClient(pool)
	require.NoError(t, err)
	return client
}

func stageTestFiles(t *testing.T, names ...string) []DocumentFile {
	t.Helper()
	dir := t.TempDir()
	files := make([]DocumentFile, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("source material"), 0644))
		files = append(files, DocumentFile{Name: name, Path: path, Size: 15})
	}
	return files
}

func TestExtractJSONFromText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bare json passes through",
			in:   `{"title":"T","questions":[{"text":"q"}]}`,
			want: `{"title":"T","questions":[{"text":"q"}]}`,
		},
		{
			name: "json inside surrounding prose",
			in:   "Here is your quiz:\n{\"title\":\"T\",\"questions\":[]}\nEnjoy!",
			want: `{"title":"T","questions":[]}`,
		},
		{
			name: "plain text returned unchanged",
			in:   "the model refused to answer",
			want: "the model refused to answer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSONFromText(tt.in))
		})
	}
}

func TestExtractJSONFromTextCodeFence(t *testing.T) {
	in := "```json\n{\"answer\": 1}\n```"
	assert.Equal(t, `{"answer": 1}`, extractJSONFromText(in))
}

func TestCreateFileBatches(t *testing.T) {
	files := []DocumentFile{
		{Name: "huge.pdf", Size: 900},
		{Name: "a.pdf", Size: 100},
		{Name: "b.pdf", Size: 120},
		{Name: "c.pdf", Size: 90},
		{Name: "d.pdf", Size: 80},
	}

	batches := createFileBatches(files, 1000)

	// The oversized file is isolated in its own batch.
	require.NotEmpty(t, batches)
	assert.Len(t, batches[0], 1)
	assert.Equal(t, "huge.pdf", batches[0][0].Name)

	// Every file lands in exactly one batch, and no batch holds more than
	// three files.
	total := 0
	for _, batch := range batches {
		assert.LessOrEqual(t, len(batch), 3)
		total += len(batch)
	}
	assert.Equal(t, len(files), total)
}

func TestCreateFileBatchesRespectsSizeCap(t *testing.T) {
	files := []DocumentFile{
		{Name: "a.pdf", Size: 400},
		{Name: "b.pdf", Size: 400},
		{Name: "c.pdf", Size: 400},
	}

	batches := createFileBatches(files, 1000)

	for _, batch := range batches {
		var size int64
		for _, f := range batch {
			size += f.Size
		}
		assert.LessOrEqual(t, size, int64(1000))
	}
}

func TestLimitQuizSize(t *testing.T) {
	quiz := &models.QuizResponse{Questions: make([]models.QuizQuestion, 250)}
	limitQuizSize(quiz, 200)
	assert.Len(t, quiz.Questions, 200)

	small := &models.QuizResponse{Questions: make([]models.QuizQuestion, 5)}
	limitQuizSize(small, 200)
	assert.Len(t, small.Questions, 5)

	limitQuizSize(nil, 200) // must not panic
}

func TestGetMimeType(t *testing.T) {
	assert.Equal(t, "application/pdf", getMimeType("notes.PDF"))
	assert.Equal(t, "text/plain", getMimeType("transcript.txt"))
	assert.Equal(t, "text/markdown", getMimeType("readme.md"))
	assert.Equal(t, "application/octet-stream", getMimeType("archive.zip"))
}

func TestNewClientRequiresPool(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)
}

func TestProcessFilesIndividuallyPreservesExhaustion(t *testing.T) {
	client := newExhaustedClient(t)
	files := stageTestFiles(t, "a.txt", "b.txt")

	_, err := client.processFilesIndividually(context.Background(), files)

	require.Error(t, err)
	// The batch fan-out must keep the sentinel visible so the HTTP layer can
	// answer 503 instead of a generic failure.
	assert.ErrorIs(t, err, keypool.ErrExhausted)
}

func TestProcessDocumentsPreservesExhaustion(t *testing.T) {
	client := newExhaustedClient(t)
	files := stageTestFiles(t, "a.txt")

	_, _, err := client.ProcessDocuments(context.Background(), files)

	require.Error(t, err)
	assert.ErrorIs(t, err, keypool.ErrExhausted)
}
