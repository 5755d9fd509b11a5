package main

import (
	"context"
	"database/sql"
	"encoding/gob"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"quizforge/internal/api"
	"quizforge/internal/api/handlers"
	"quizforge/internal/db"
	"quizforge/internal/gemini"
	"quizforge/internal/keypool"
	"quizforge/internal/r2"
	"quizforge/internal/youtube"

	sessions "github.com/gin-contrib/sessions"
	gsessions "github.com/gin-contrib/sessions/postgres"
	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for the database/sql session store
	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const storeName = "quizforge_session"

var (
	googleOauthConfig *oauth2.Config
	sessionSecretKey  []byte
)

func init() {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("FATAL: Error loading .env file: %v", err)
		}
		log.Println("INFO: No .env file found, relying on system environment variables.")
	}

	secret := os.Getenv("SESSION_SECRET")
	if secret == "" {
		log.Fatal("FATAL: SESSION_SECRET environment variable must be set.")
	}
	sessionSecretKey = []byte(secret)

	// The session payload type must be registered before the store is used.
	gob.Register(handlers.UserProfile{})

	clientID := os.Getenv("GOOGLE_CLIENT_ID")
	clientSecret := os.Getenv("GOOGLE_CLIENT_SECRET")
	redirectURL := os.Getenv("GOOGLE_REDIRECT_URL")
	if clientID == "" || clientSecret == "" || redirectURL == "" {
		log.Fatal("FATAL: GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET, and GOOGLE_REDIRECT_URL environment variables must be set.")
	}

	googleOauthConfig = &oauth2.Config{
		RedirectURL:  redirectURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: google.Endpoint,
	}
}

// loadAPIKeys reads the Gemini key list from GEMINI_API_KEYS (comma separated),
// falling back to the single-key GEMINI_API_KEY variable.
func loadAPIKeys() []string {
	raw := os.Getenv("GEMINI_API_KEYS")
	if raw == "" {
		raw = os.Getenv("GEMINI_API_KEY")
	}
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.NewDB(ctx)
	if err != nil {
		log.Fatalf("FATAL: Failed to connect to database: %v", err)
	}
	defer database.Close()

	pool, err := keypool.New(loadAPIKeys())
	if err != nil {
		log.Fatalf("FATAL: Failed to build API key pool (set GEMINI_API_KEYS or GEMINI_API_KEY): %v", err)
	}
	log.Printf("INFO: API key pool initialized with %d key(s)", pool.Size())

	geminiClient, err := gemini.NewClient(pool)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Gemini client: %v", err)
	}
	defer geminiClient.Close()

	r2Client, err := r2.NewClient()
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize R2 client: %v", err)
	}

	router := gin.Default()
	router.Use(api.CORSMiddleware())

	// Session store backed by Postgres through database/sql over the pgx
	// stdlib driver.
	dbURL := os.Getenv("DATABASE_URL")
	sessionDB, err := sql.Open("pgx", dbURL)
	if err != nil {
		log.Fatalf("FATAL: Failed to open database connection for session store: %v", err)
	}
	defer sessionDB.Close()
	if err := sessionDB.Ping(); err != nil {
		log.Fatalf("FATAL: Failed to ping database for session store: %v", err)
	}

	store, err := gsessions.NewStore(sessionDB, sessionSecretKey)
	if err != nil {
		log.Fatalf("FATAL: Failed to create postgres session store: %v", err)
	}
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		Secure:   os.Getenv("SESSION_SECURE") == "true",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions(storeName, store))

	handler := handlers.NewHandler(googleOauthConfig, storeName, database, geminiClient, youtube.New(), r2Client)
	api.SetupRoutes(router, handler)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		log.Printf("INFO: Server listening on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("FATAL: Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("INFO: Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("FATAL: Server forced to shutdown: %v", err)
	}

	log.Println("INFO: Server exited properly")
}
