// Package youtube fetches video transcripts by scraping the caption tracks
// YouTube embeds in its watch pages. Transcripts become plain-text source
// material for quiz generation.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	videoIDPattern       = regexp.MustCompile(`(?:youtube\.com\/(?:[^\/]+\/.+\/|(?:v|e(?:mbed)?)\/|.*[?&]v=)|youtu\.be\/)([^"&?\/\s]{11})`)
	xmlTranscriptPattern = regexp.MustCompile(`<text start="([^"]*)" dur="([^"]*)">([^<]*)<\/text>`)
	titlePattern         = regexp.MustCompile(`<title>(.+?) - YouTube</title>`)
)

// Segment is one timed piece of a video transcript.
type Segment struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Offset   float64 `json:"offset"`
	Lang     string  `json:"lang"`
}

// Fetcher retrieves transcripts for YouTube videos.
type Fetcher struct {
	httpClient *http.Client
}

// New creates a Fetcher with a bounded HTTP timeout.
func New() *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// GetTranscript fetches the transcript for a video URL (or bare 11-character
// video ID) and joins the segments into one plain-text string. An empty lang
// selects the first available caption track.
func (f *Fetcher) GetTranscript(ctx context.Context, url string, lang string) (string, error) {
	videoID, err := extractVideoID(url)
	if err != nil {
		return "", err
	}

	segments, _, err := f.fetchTranscript(ctx, videoID, lang)
	if err != nil {
		return "", err
	}

	var fullText strings.Builder
	for _, seg := range segments {
		fullText.WriteString(html.UnescapeString(seg.Text))
		fullText.WriteString(" ")
	}
	return fullText.String(), nil
}

// fetchTranscript scrapes the watch page for caption tracks, picks one, and
// downloads its timed-text XML. Returns the segments and the video title.
func (f *Fetcher) fetchTranscript(ctx context.Context, videoID string, lang string) ([]Segment, string, error) {
	pageBody, err := f.get(ctx, fmt.Sprintf("https://www.youtube.com/watch?v=%s", videoID))
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch video page: %w", err)
	}

	var videoTitle string
	if match := titlePattern.FindSubmatch(pageBody); len(match) > 1 {
		videoTitle = html.UnescapeString(string(match[1]))
	}

	splitHTML := strings.Split(string(pageBody), `"captions":`)
	if len(splitHTML) <= 1 {
		log.Printf("DEBUG: no captions marker in watch page for video %s", videoID)
		return nil, "", fmt.Errorf("no captions available for video %s", videoID)
	}

	var captions struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks []struct {
				BaseURL      string `json:"baseUrl"`
				LanguageCode string `json:"languageCode"`
			} `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	}

	end := strings.Index(splitHTML[1], `,"videoDetails`)
	if end < 0 {
		return nil, "", fmt.Errorf("failed to locate captions data for video %s", videoID)
	}
	if err := json.Unmarshal([]byte(splitHTML[1][:end]), &captions); err != nil {
		return nil, "", fmt.Errorf("failed to parse captions data: %w", err)
	}

	tracks := captions.PlayerCaptionsTracklistRenderer.CaptionTracks
	if len(tracks) == 0 {
		return nil, "", fmt.Errorf("no transcripts available for video %s", videoID)
	}

	transcriptURL := tracks[0].BaseURL
	if lang != "" {
		transcriptURL = ""
		for _, track := range tracks {
			if track.LanguageCode == lang {
				transcriptURL = track.BaseURL
				break
			}
		}
		if transcriptURL == "" {
			return nil, "", fmt.Errorf("no transcript available in language %s", lang)
		}
	}

	transcriptBody, err := f.get(ctx, transcriptURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch transcript: %w", err)
	}

	return parseTranscriptXML(string(transcriptBody), lang), videoTitle, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// parseTranscriptXML converts YouTube's timed-text XML into segments.
func parseTranscriptXML(body string, lang string) []Segment {
	matches := xmlTranscriptPattern.FindAllStringSubmatch(body, -1)
	var segments []Segment
	for _, match := range matches {
		offset, _ := strconv.ParseFloat(match[1], 64)
		duration, _ := strconv.ParseFloat(match[2], 64)
		segments = append(segments, Segment{
			Text:     match[3],
			Duration: duration,
			Offset:   offset,
			Lang:     lang,
		})
	}
	return segments
}

// extractVideoID accepts a full YouTube URL or a bare 11-character video ID.
func extractVideoID(url string) (string, error) {
	if len(url) == 11 {
		return url, nil
	}
	if match := videoIDPattern.FindStringSubmatch(url); match != nil {
		return match[1], nil
	}
	return "", fmt.Errorf("invalid YouTube URL or video ID")
}
