// Package gemini generates quizzes from source documents via the Google
// generative AI API. Every outbound call borrows an API key from the key
// pool and reports the outcome back, so rate-limited keys rotate out of use.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"quizforge/internal/keypool"
	"quizforge/internal/models"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// QuizPrompt instructs the model to return a complete multiple-choice quiz
// as a single JSON object.
const QuizPrompt = `Generate a comprehensive multiple-choice quiz from the content of these documents. Requirements:

1. Give the quiz a descriptive title reflecting the main subject matter.
2. Cover ALL main topics and subtopics; no significant concept may be omitted. Tag each question with its topic so questions can be grouped later.
3. Balance question types: factual recall, comprehension, application/analysis (applying principles to new scenarios, connecting ideas across sections), and synthesis/evaluation (implications, competing perspectives, unstated assumptions).
4. Prefer second- and third-order thinking for analytical questions: "what would happen if" scenarios, underlying mechanisms, interactions between concepts, exceptions and limitations.
5. Each question has exactly 4 options with exactly one correct answer.
6. For EACH option provide a concise "explanation" of WHY it is correct or incorrect based on the documents. Do not write "This is correct/incorrect"; state the reason directly. Make distractors plausible (common misconceptions, partial understandings), keep all options similar in length, grammar and tone, and avoid joke options.

Respond with a JSON object of this shape:
{
  "title": "Descriptive Quiz Title Based on Document Content",
  "questions": [
    {
      "text": "Question text here?",
      "topic": "the topic this question is about.",
      "options": [
        {"text": "Option A", "is_correct": false, "explanation": "Explanation why A is incorrect."},
        {"text": "Option B", "is_correct": true, "explanation": "Explanation why B is correct."},
        {"text": "Option C", "is_correct": false, "explanation": "Explanation why C is incorrect."},
        {"text": "Option D", "is_correct": false, "explanation": "Explanation why D is incorrect."}
      ]
    },
    ...more questions...
  ]
}
`

const (
	// MaxInlineSize is the maximum total size for inline document data (20MB).
	// Larger payloads go through the File API.
	MaxInlineSize = 20 * 1024 * 1024
	// ModelName is the Gemini model to use.
	ModelName = "gemini-2.0-flash"
	// maxAttempts is how many times a generation request is retried.
	maxAttempts = 3
)

// Client issues quiz-generation requests against Gemini, one API key per
// outbound call. genai clients are created lazily, one per distinct key.
type Client struct {
	keys *keypool.Pool

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewClient creates a client backed by the given key pool.
func NewClient(keys *keypool.Pool) (*Client, error) {
	if keys == nil {
		return nil, fmt.Errorf("gemini: key pool is required")
	}
	return &Client{
		keys:    keys,
		clients: make(map[string]*genai.Client),
	}, nil
}

// Close closes every underlying genai client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, client := range c.clients {
		client.Close()
	}
	c.clients = make(map[string]*genai.Client)
}

// clientFor returns the cached genai client for the key, creating it on
// first use.
func (c *Client) clientFor(ctx context.Context, secret string) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[secret]; ok {
		return client, nil
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(secret))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	c.clients[secret] = client
	return client, nil
}

// DocumentFile represents a source document to be processed.
type DocumentFile struct {
	Name string
	Path string
	Size int64
}

// NewDocumentFile stages an uploaded file on disk for processing.
func NewDocumentFile(file io.Reader, filename string, size int64) (*DocumentFile, error) {
	if size == 0 {
		return nil, fmt.Errorf("file %s is empty", filename)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("file %s is empty", filename)
	}

	tempPath, err := SaveTempFile(data, filename)
	if err != nil {
		return nil, err
	}

	return &DocumentFile{Name: filename, Path: tempPath, Size: size}, nil
}

// SaveTempFile writes data to a uniquely named file in the OS temp directory.
func SaveTempFile(data []byte, filename string) (string, error) {
	tempFile := filepath.Join(os.TempDir(), uuid.New().String()+"_"+filename)
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save temporary file: %w", err)
	}
	return tempFile, nil
}

// ProcessDocuments generates a quiz from the given documents, fanning file
// chunks out to a pool of workers. The combined response carries every
// worker's questions plus the total token usage reported by the provider.
func (c *Client) ProcessDocuments(ctx context.Context, files []DocumentFile) (*models.QuizResponse, models.TokenUsage, error) {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Minute)
	defer cancel()

	var usage models.TokenUsage

	if len(files) == 0 {
		return nil, usage, fmt.Errorf("no files provided for processing")
	}

	const (
		numWorkers = 6
		chunkSize  = 1
	)

	fileChunks := make(chan []DocumentFile, (len(files)+chunkSize-1)/chunkSize)
	results := make(chan *chunkResult, len(files)/chunkSize+1)
	errChan := make(chan error, len(files)/chunkSize+1)
	var wg sync.WaitGroup

	for i := 0; i < len(files); i += chunkSize {
		end := i + chunkSize
		if end > len(files) {
			end = len(files)
		}
		fileChunks <- files[i:end]
	}
	close(fileChunks)

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range fileChunks {
				result, err := c.processChunk(ctx, chunk)
				if err != nil {
					errChan <- fmt.Errorf("failed to process chunk: %w", err)
					return
				}
				results <- result
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
		close(errChan)
	}()

	var combined *models.QuizResponse
	for result := range results {
		if result == nil || result.quiz == nil {
			continue
		}
		usage.Add(result.usage)
		if combined == nil {
			combined = result.quiz
		} else {
			combined.Questions = append(combined.Questions, result.quiz.Questions...)
			if combined.Title == "" {
				combined.Title = result.quiz.Title
			}
		}
	}

	var errs []error
	for err := range errChan {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, usage, fmt.Errorf("failed to process one or more chunks: %w", errors.Join(errs...))
	}

	if combined != nil && combined.Title == "" {
		combined.Title = fmt.Sprintf("Quiz Generated on %s", time.Now().Format("January 2, 2006"))
	}

	return combined, usage, nil
}

// chunkResult pairs one chunk's quiz with the token usage it cost.
type chunkResult struct {
	quiz  *models.QuizResponse
	usage models.TokenUsage
}

// processChunk routes a chunk of documents to the cheapest viable transport.
func (c *Client) processChunk(ctx context.Context, files []DocumentFile) (*chunkResult, error) {
	totalSize := int64(0)
	for _, file := range files {
		totalSize += file.Size
	}

	// Several mid-sized files together: split into batches and recurse.
	if len(files) > 1 && totalSize > MaxInlineSize/2 {
		return c.processFilesIndividually(ctx, files)
	}

	if totalSize > MaxInlineSize {
		return c.processWithFileAPI(ctx, files)
	}

	return c.processInline(ctx, files)
}

// processFilesIndividually processes files in size-based batches with capped
// parallelism and combines the results.
func (c *Client) processFilesIndividually(ctx context.Context, files []DocumentFile) (*chunkResult, error) {
	batches := createFileBatches(files, MaxInlineSize/4)

	const maxConcurrent = 15
	sem := make(chan struct{}, maxConcurrent)

	resultCh := make(chan *chunkResult, len(batches))
	errCh := make(chan error, len(batches))
	var wg sync.WaitGroup

	for i, batch := range batches {
		wg.Add(1)
		go func(batchNum int, batchFiles []DocumentFile) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			batchCtx, cancel := context.WithTimeout(ctx, 15*time.Minute)
			defer cancel()

			result, err := c.processChunk(batchCtx, batchFiles)
			if err != nil {
				fileNames := make([]string, len(batchFiles))
				for i, f := range batchFiles {
					fileNames[i] = f.Name
				}
				errCh <- fmt.Errorf("failed to process batch %d (%s): %w",
					batchNum, strings.Join(fileNames, ", "), err)
				return
			}
			resultCh <- result
		}(i, batch)
	}

	go func() {
		wg.Wait()
		close(resultCh)
		close(errCh)
	}()

	var allQuestions []models.QuizQuestion
	var usage models.TokenUsage
	var title string
	var errs []error

	for result := range resultCh {
		if result == nil || result.quiz == nil || len(result.quiz.Questions) == 0 {
			continue
		}
		usage.Add(result.usage)
		if title == "" {
			title = result.quiz.Title
		}

		// Cap the contribution of any single batch so one verbose batch does
		// not crowd out the rest.
		questions := result.quiz.Questions
		const maxQuestionsPerBatch = 40
		if len(questions) > maxQuestionsPerBatch {
			questions = questions[:maxQuestionsPerBatch]
		}
		allQuestions = append(allQuestions, questions...)
	}

	for err := range errCh {
		if err != nil {
			errs = append(errs, err)
		}
	}

	// Fail the whole job rather than returning partial results when a batch
	// timed out or errored. Wrapping keeps sentinel errors (pool exhaustion)
	// visible to errors.Is in the HTTP layer.
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to process one or more batches: %w", errors.Join(errs...))
	}

	if len(allQuestions) == 0 {
		return nil, fmt.Errorf("no questions generated from any files")
	}

	// Shuffle so topics from different files interleave.
	rand.Shuffle(len(allQuestions), func(i, j int) {
		allQuestions[i], allQuestions[j] = allQuestions[j], allQuestions[i]
	})

	const maxTotalQuestions = 100
	if len(allQuestions) > maxTotalQuestions {
		allQuestions = allQuestions[:maxTotalQuestions]
	}

	return &chunkResult{
		quiz:  &models.QuizResponse{Title: title, Questions: allQuestions},
		usage: usage,
	}, nil
}

// createFileBatches groups files into batches bounded by maxBatchSize.
func createFileBatches(files []DocumentFile, maxBatchSize int64) [][]DocumentFile {
	sortedFiles := make([]DocumentFile, len(files))
	copy(sortedFiles, files)
	sort.Slice(sortedFiles, func(i, j int) bool {
		return sortedFiles[i].Size > sortedFiles[j].Size
	})

	var batches [][]DocumentFile
	var currentBatch []DocumentFile
	var currentSize int64

	for _, file := range sortedFiles {
		// Very large files get a batch of their own.
		if file.Size > maxBatchSize/2 {
			batches = append(batches, []DocumentFile{file})
			continue
		}

		if currentSize+file.Size > maxBatchSize || len(currentBatch) >= 3 {
			if len(currentBatch) > 0 {
				batches = append(batches, currentBatch)
				currentBatch = nil
				currentSize = 0
			}
		}

		currentBatch = append(currentBatch, file)
		currentSize += file.Size
	}

	if len(currentBatch) > 0 {
		batches = append(batches, currentBatch)
	}

	return batches
}

// processInline sends the documents inline as blobs in a single request.
func (c *Client) processInline(ctx context.Context, files []DocumentFile) (*chunkResult, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files provided for processing")
	}

	parts := []genai.Part{genai.Text(QuizPrompt)}

	for _, file := range files {
		data, err := os.ReadFile(file.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", file.Name, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("file %s is empty", file.Name)
		}

		parts = append(parts, genai.Blob{
			MIMEType: getMimeType(file.Name),
			Data:     data,
		})
	}

	return c.generateQuiz(ctx, parts)
}

// processWithFileAPI uploads the documents through the Gemini File API and
// references them in the generation request. Uploads are scoped to the key
// that made them, so the whole sequence (upload, generate, delete) runs on a
// single key acquired up front.
func (c *Client) processWithFileAPI(ctx context.Context, files []DocumentFile) (*chunkResult, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files provided for processing")
	}

	secret, err := c.keys.Acquire()
	if err != nil {
		return nil, fmt.Errorf("acquiring API key for file upload: %w", err)
	}

	client, err := c.clientFor(ctx, secret)
	if err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	fileDataCh := make(chan *genai.FileData, len(files))
	errorCh := make(chan error, len(files))

	for _, file := range files {
		wg.Add(1)
		go func(file DocumentFile) {
			defer wg.Done()

			fileInfo, err := os.Stat(file.Path)
			if err != nil {
				errorCh <- fmt.Errorf("failed to access file %s: %w", file.Name, err)
				return
			}
			if fileInfo.Size() == 0 {
				errorCh <- fmt.Errorf("file %s is empty", file.Name)
				return
			}

			uploaded, err := client.UploadFileFromPath(ctx, file.Path, nil)
			if err != nil {
				errorCh <- fmt.Errorf("failed to upload file %s: %w", file.Name, err)
				return
			}
			fileDataCh <- &genai.FileData{URI: uploaded.URI}
		}(file)
	}

	wg.Wait()
	close(fileDataCh)
	close(errorCh)

	for err := range errorCh {
		if err != nil {
			c.keys.ReportOutcome(secret, false, err.Error())
			return nil, err
		}
	}

	var fileDataList []*genai.FileData
	for fileData := range fileDataCh {
		fileDataList = append(fileDataList, fileData)
	}
	if len(fileDataList) == 0 {
		return nil, fmt.Errorf("no files were successfully uploaded")
	}

	parts := []genai.Part{genai.Text(QuizPrompt)}
	for _, fileData := range fileDataList {
		parts = append(parts, fileData)
	}

	// Generation must stay on the uploading key.
	result, genErr := c.generateQuizWithKey(ctx, secret, parts)

	for _, fileData := range fileDataList {
		if err := client.DeleteFile(ctx, fileData.URI); err != nil {
			log.Printf("WARN: failed to delete uploaded file %s: %v", fileData.URI, err)
		}
	}

	return result, genErr
}

// generateQuiz runs the generation retry loop, acquiring a fresh API key from
// the pool for every attempt and reporting each outcome back.
func (c *Client) generateQuiz(ctx context.Context, parts []genai.Part) (*chunkResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Minute)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		secret, err := c.keys.Acquire()
		if err != nil {
			// Pool exhaustion is not retryable from here; surface it so the
			// HTTP layer can tell the client to come back later.
			return nil, fmt.Errorf("acquiring API key: %w", err)
		}

		result, err := c.generateOnce(ctx, secret, parts, attempt)
		c.keys.ReportOutcome(secret, err == nil, errText(err))
		if err != nil {
			lastErr = fmt.Errorf("attempt %d: %w", attempt+1, err)
			time.Sleep(2 * time.Second)
			continue
		}
		return result, nil
	}

	return nil, fmt.Errorf("failed to generate quiz after %d attempts: %w", maxAttempts, lastErr)
}

// generateQuizWithKey is the retry loop pinned to one key, used when the
// request references File API uploads owned by that key.
func (c *Client) generateQuizWithKey(ctx context.Context, secret string, parts []genai.Part) (*chunkResult, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := c.generateOnce(ctx, secret, parts, attempt)
		c.keys.ReportOutcome(secret, err == nil, errText(err))
		if err != nil {
			lastErr = fmt.Errorf("attempt %d: %w", attempt+1, err)
			time.Sleep(2 * time.Second)
			continue
		}
		return result, nil
	}
	return nil, fmt.Errorf("failed to generate quiz after %d attempts: %w", maxAttempts, lastErr)
}

// generateOnce performs a single GenerateContent call with the given key and
// parses the response. Later attempts shrink the output budget and ask the
// model for fewer questions, since oversized responses tend to truncate.
func (c *Client) generateOnce(ctx context.Context, secret string, parts []genai.Part, attempt int) (*chunkResult, error) {
	client, err := c.clientFor(ctx, secret)
	if err != nil {
		return nil, err
	}

	model := client.GenerativeModel(ModelName)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0.2)
	model.SetTopK(40)
	model.SetTopP(0.95)
	model.SetMaxOutputTokens(8192)

	if attempt > 0 {
		model.SetMaxOutputTokens(int32(4096 - attempt*1000))

		maxQs := 50 - attempt*15
		limitedPrompt := fmt.Sprintf("%s\n\nIMPORTANT: Due to size constraints, please limit your response to no more than %d questions.",
			QuizPrompt, maxQs)

		// Swap out the prompt part without mutating the caller's slice.
		adjusted := make([]genai.Part, len(parts))
		copy(adjusted, parts)
		for i, part := range adjusted {
			if _, ok := part.(genai.Text); ok {
				adjusted[i] = genai.Text(limitedPrompt)
				break
			}
		}
		parts = adjusted
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	var usage models.TokenUsage
	if resp.UsageMetadata != nil {
		usage = models.TokenUsage{
			Prompt:     int64(resp.UsageMetadata.PromptTokenCount),
			Candidates: int64(resp.UsageMetadata.CandidatesTokenCount),
			Total:      int64(resp.UsageMetadata.TotalTokenCount),
		}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no content generated")
	}

	jsonText := ""
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			jsonText += string(text)
		}
	}

	jsonText = extractJSONFromText(jsonText)
	if jsonText == "" {
		return nil, fmt.Errorf("no JSON content found in response")
	}

	var quiz models.QuizResponse
	decoder := json.NewDecoder(strings.NewReader(jsonText))
	decoder.DisallowUnknownFields()
	decoder.UseNumber()
	if err := decoder.Decode(&quiz); err != nil {
		log.Printf("DEBUG: raw JSON text before parse error: %s", jsonText)
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	if len(quiz.Questions) == 0 {
		return nil, fmt.Errorf("quiz response contained no questions")
	}

	limitQuizSize(&quiz, 200)
	return &chunkResult{quiz: &quiz, usage: usage}, nil
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// extractJSONFromText pulls a JSON object out of text that may contain
// markdown fences or other wrapping, and tries to repair truncated JSON by
// balancing braces.
func extractJSONFromText(text string) string {
	jsonPattern := regexp.MustCompile(`(?s)\{.*"questions".*\}`)
	if matches := jsonPattern.FindString(text); matches != "" {
		return matches
	}

	codeBlockPattern := regexp.MustCompile("```(?:json)?\\s*(\\{.*?\\})\\s*```")
	if matches := codeBlockPattern.FindStringSubmatch(text); len(matches) > 1 {
		return matches[1]
	}

	if strings.Contains(text, `{"questions"`) {
		startIdx := strings.Index(text, `{"questions"`)
		partialJSON := text[startIdx:]

		openBraces := 0
		closeBraces := 0
		inString := false
		escaped := false

		for _, char := range partialJSON {
			if escaped {
				escaped = false
				continue
			}
			if char == '\\' {
				escaped = true
				continue
			}
			if char == '"' {
				inString = !inString
				continue
			}
			if !inString {
				if char == '{' {
					openBraces++
				} else if char == '}' {
					closeBraces++
				}
			}
		}

		if openBraces > closeBraces {
			partialJSON += strings.Repeat("}", openBraces-closeBraces)
		}

		var test map[string]interface{}
		if err := json.Unmarshal([]byte(partialJSON), &test); err == nil {
			return partialJSON
		}
	}

	return text
}

// limitQuizSize caps the number of questions so oversized responses do not
// blow up downstream inserts.
func limitQuizSize(quiz *models.QuizResponse, maxQuestions int) {
	if quiz == nil || len(quiz.Questions) <= maxQuestions {
		return
	}
	quiz.Questions = quiz.Questions[:maxQuestions]
}

// getMimeType maps a filename extension to the MIME type sent to the model.
func getMimeType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}
