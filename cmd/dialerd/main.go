// dialerd - outbound call-center dialer engine: campaign pacing loops over
// an Asterisk Manager Interface session, with an HTTP command façade.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gin-gonic/gin"

	"github.com/rdesksystems/dialer-engine/pkg/ami"
	"github.com/rdesksystems/dialer-engine/pkg/api"
	"github.com/rdesksystems/dialer-engine/pkg/config"
	"github.com/rdesksystems/dialer-engine/pkg/database"
	"github.com/rdesksystems/dialer-engine/pkg/engine"
	"github.com/rdesksystems/dialer-engine/pkg/repository"
	"github.com/rdesksystems/dialer-engine/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	log.Printf("Starting %s", version.Full())
	log.Printf("Config Directory: %s", *configDir)

	ctx := context.Background()

	// Initialize configuration system
	cfg, err := config.Initialize(*configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}
	gin.SetMode(cfg.HTTP.GinMode)

	// Initialize database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("Error closing database client: %v", err)
		}
	}()
	log.Println("✓ Connected to PostgreSQL database")
	log.Println("✓ Database schema initialized")

	// Wire the engine over its collaborators
	repo := repository.NewPostgres(dbClient.DB())
	session := ami.NewSession(cfg.AMI)

	eng := engine.New(cfg, repo, session)
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("Failed to start dialer engine: %v", err)
	}
	defer eng.Shutdown()
	log.Println("✓ Dialer engine started")

	// Serve the command façade
	router := api.NewRouter(eng, dbClient.DB())
	server := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: router,
	}

	go func() {
		log.Printf("HTTP server listening on :%s", cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Block until signalled, then drain: HTTP first, then the engine
	// (deferred above) cancels every dialer and closes the AMI session.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
}
