package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"os"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	goauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"quizforge/internal/db"
)

const oauthStateSessionKey = "oauth_state"

// generateStateToken returns a random URL-safe token for CSRF protection of
// the OAuth flow.
func generateStateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HandleGoogleLogin redirects the browser to Google's consent screen.
func (h *Handler) HandleGoogleLogin(c *gin.Context) {
	state, err := generateStateToken()
	if err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to start login flow", err)
		return
	}

	session := sessions.Default(c)
	session.Set(oauthStateSessionKey, state)
	if err := session.Save(); err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to save session", err)
		return
	}

	c.Redirect(http.StatusTemporaryRedirect, h.OauthConfig.AuthCodeURL(state))
}

// HandleGoogleCallback exchanges the code, loads the Google profile, and
// creates the user on first login.
func (h *Handler) HandleGoogleCallback(c *gin.Context) {
	session := sessions.Default(c)

	// 1. Validate the state token against the session.
	expectedState, _ := session.Get(oauthStateSessionKey).(string)
	session.Delete(oauthStateSessionKey)
	if expectedState == "" || c.Query("state") != expectedState {
		log.Printf("WARN: OAuth state mismatch from %s", c.ClientIP())
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid OAuth state"})
		return
	}

	// 2. Exchange the authorization code for a token.
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing authorization code"})
		return
	}
	token, err := h.OauthConfig.Exchange(c.Request.Context(), code)
	if err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to exchange authorization code", err)
		return
	}

	// 3. Fetch the user's Google profile.
	oauthService, err := goauth2.NewService(c.Request.Context(),
		option.WithTokenSource(h.OauthConfig.TokenSource(c.Request.Context(), token)))
	if err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to create OAuth service", err)
		return
	}
	userInfo, err := oauthService.Userinfo.Get().Do()
	if err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to fetch user info", err)
		return
	}

	// 4. Look the user up by email; create on first login.
	user, err := h.DB.Queries.GetUserByEmail(c.Request.Context(), userInfo.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		user, err = h.DB.Queries.CreateUser(c.Request.Context(), db.CreateUserParams{
			Email:    userInfo.Email,
			Name:     pgtype.Text{String: userInfo.Name, Valid: userInfo.Name != ""},
			GoogleID: pgtype.Text{String: userInfo.Id, Valid: userInfo.Id != ""},
			Picture:  pgtype.Text{String: userInfo.Picture, Valid: userInfo.Picture != ""},
		})
		if err == nil {
			log.Printf("INFO: Created new user %s (%s)", user.ID, user.Email)
			h.sendDiscordNotification(discordEmbed{
				Title:       "New user signed up",
				Description: userInfo.Email,
				Color:       discordColorGreen,
			})
		}
	}
	if err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to load user account", err)
		return
	}

	// 5. Store the profile in the session.
	profile := UserProfile{
		ID:      user.ID.String(),
		Email:   user.Email,
		Name:    user.Name.String,
		Picture: user.Picture.String,
	}
	session.Set(ProfileSessionKey, profile)
	if err := session.Save(); err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to save session", err)
		return
	}

	frontendURL := os.Getenv("FRONTEND_URL")
	if frontendURL == "" {
		frontendURL = "/"
	}
	c.Redirect(http.StatusTemporaryRedirect, frontendURL)
}

// HandleAuthStatus reports whether the caller has an authenticated session.
func (h *Handler) HandleAuthStatus(c *gin.Context) {
	session := sessions.Default(c)
	profile, ok := session.Get(ProfileSessionKey).(UserProfile)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authenticated": true, "user": profile})
}

// HandleGetProfile returns the authenticated user's profile.
func (h *Handler) HandleGetProfile(c *gin.Context) {
	profile, ok := currentProfile(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

// HandleLogout clears the session.
func (h *Handler) HandleLogout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{MaxAge: -1, Path: "/"})
	if err := session.Save(); err != nil {
		h.handleErrorAndNotify(c, http.StatusInternalServerError, "Failed to clear session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}
