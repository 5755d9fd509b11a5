// Package handlers implements the HTTP endpoints: Google OAuth, quiz
// generation and CRUD, and quiz attempts.
package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	"quizforge/internal/db"
	"quizforge/internal/gemini"
	"quizforge/internal/r2"
	"quizforge/internal/youtube"
)

// ProfileSessionKey is the session key under which the authenticated user's
// profile is stored.
const ProfileSessionKey = "profile"

// UserProfile is the session payload for an authenticated user. It must be
// registered with gob before the session store is used.
type UserProfile struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Handler carries the dependencies shared by all endpoints.
type Handler struct {
	OauthConfig   *oauth2.Config
	StoreName     string
	DB            *db.DB
	Gemini        *gemini.Client
	Youtube       *youtube.Fetcher
	R2            *r2.Client
	DiscordClient *http.Client
}

// NewHandler wires the endpoint dependencies together.
func NewHandler(oauthConfig *oauth2.Config, storeName string, database *db.DB, geminiClient *gemini.Client, youtubeFetcher *youtube.Fetcher, r2Client *r2.Client) *Handler {
	return &Handler{
		OauthConfig:   oauthConfig,
		StoreName:     storeName,
		DB:            database,
		Gemini:        geminiClient,
		Youtube:       youtubeFetcher,
		R2:            r2Client,
		DiscordClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Discord webhook payload types.
type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
}

type discordWebhookPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

const (
	discordColorRed   = 15158332
	discordColorGreen = 3066993
)

// sendDiscordNotification posts an embed to the webhook named by
// DISCORD_WEBHOOK_URL. It runs asynchronously and never blocks a request.
func (h *Handler) sendDiscordNotification(embed discordEmbed) {
	webhookURL := os.Getenv("DISCORD_WEBHOOK_URL")
	if webhookURL == "" {
		return
	}

	embed.Timestamp = time.Now().UTC().Format(time.RFC3339)
	payload := discordWebhookPayload{Embeds: []discordEmbed{embed}}

	go func() {
		body, err := json.Marshal(payload)
		if err != nil {
			log.Printf("ERROR: Failed to marshal Discord payload: %v", err)
			return
		}
		resp, err := h.DiscordClient.Post(webhookURL, "application/json", bytes.NewReader(body))
		if err != nil {
			log.Printf("ERROR: Failed to send Discord notification: %v", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			log.Printf("WARN: Discord webhook returned status %d", resp.StatusCode)
		}
	}()
}

// notifyError is a convenience wrapper for error embeds.
func (h *Handler) notifyError(title string, err error, fields ...discordEmbedField) {
	h.sendDiscordNotification(discordEmbed{
		Title:       title,
		Description: err.Error(),
		Color:       discordColorRed,
		Fields:      fields,
	})
}

// handleErrorAndNotify logs the error, fires a Discord notification, and
// writes a JSON error response.
func (h *Handler) handleErrorAndNotify(c *gin.Context, status int, userMessage string, err error) {
	log.Printf("ERROR: %s: %v", userMessage, err)
	h.notifyError(userMessage, err, discordEmbedField{
		Name:  "Path",
		Value: fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path),
	})
	c.JSON(status, gin.H{"error": userMessage})
}

// currentProfile returns the session profile set by the auth middleware.
func currentProfile(c *gin.Context) (UserProfile, bool) {
	v, exists := c.Get(ProfileSessionKey)
	if !exists {
		return UserProfile{}, false
	}
	profile, ok := v.(UserProfile)
	return profile, ok
}
