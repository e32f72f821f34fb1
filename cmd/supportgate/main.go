package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mhollis/supportgate/internal/database"
	"github.com/mhollis/supportgate/internal/logging"
	"github.com/mhollis/supportgate/internal/roles"
	"github.com/mhollis/supportgate/internal/server"
)

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	godotenv.Load()

	port := os.Getenv("SUPPORTGATE_PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("SUPPORTGATE_DB_PATH")
	if dbPath == "" {
		dbPath = "supportgate.db"
	}

	baseURL := os.Getenv("SUPPORTGATE_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:" + port
	}

	adminKey := os.Getenv("SUPPORTGATE_ADMIN_KEY")
	if adminKey == "" {
		log.Fatal("SUPPORTGATE_ADMIN_KEY is required")
	}

	logger := logging.Setup(os.Getenv("SUPPORTGATE_LOG_LEVEL"), os.Getenv("SUPPORTGATE_LOG_FORMAT"))

	registry := roles.Default()
	if rolesFile := os.Getenv("SUPPORTGATE_ROLES_FILE"); rolesFile != "" {
		var err error
		registry, err = roles.LoadFromFile(rolesFile)
		if err != nil {
			log.Fatalf("failed to load roles file: %v", err)
		}
	}

	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	srv, err := server.New(db, server.Config{
		BaseURL:  baseURL,
		AdminKey: adminKey,
	}, registry, logger)
	if err != nil {
		log.Fatalf("failed to build server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Scheduler().Start(ctx)
	defer srv.Scheduler().Stop()

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		fmt.Printf("supportgate running at %s\n", baseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}
