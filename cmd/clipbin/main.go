package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/clipbin/clipbin/internal/database"
	"github.com/clipbin/clipbin/internal/media"
	"github.com/clipbin/clipbin/internal/server"
	"github.com/clipbin/clipbin/internal/storage"
	"github.com/clipbin/clipbin/internal/transcode"
	"github.com/clipbin/clipbin/internal/video"
)

func main() {
	port := getEnv("PORT", "8080")

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, databaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(databaseURL); err != nil {
		log.Fatalf("database migration failed: %v", err)
	}
	log.Println("database migrations applied")

	store, err := buildStorage(ctx)
	if err != nil {
		log.Fatalf("storage initialization failed: %v", err)
	}

	engine := transcode.NewEngine(int(getEnvInt64("MAX_CONCURRENT_TRANSCODES", int64(runtime.GOMAXPROCS(0)))))
	inspector := media.NewInspector()

	baseURL := getEnv("BASE_URL", "http://localhost:8080")

	srv := server.New(server.Config{
		DB:             db.Pool,
		Pinger:         db,
		Storage:        store,
		Transcoder:     engine,
		Inspector:      inspector,
		JWTSecret:      jwtSecret,
		BaseURL:        baseURL,
		AllowedOrigin:  os.Getenv("ALLOWED_ORIGIN"),
		MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", 500*1024*1024),
		OpenEditDelete: getEnvBool("OPEN_EDIT_DELETE", false),
	})

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	video.NewSweeper(db.Pool, store).StartRetentionLoop(sweepCtx, video.RetentionPeriod)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		var err error
		if getEnvBool("TLS_ENABLED", false) {
			certFile := os.Getenv("TLS_CERT_FILE")
			keyFile := os.Getenv("TLS_KEY_FILE")
			if certFile == "" || keyFile == "" {
				log.Fatal("TLS_ENABLED requires TLS_CERT_FILE and TLS_KEY_FILE")
			}
			log.Printf("clipbin listening on :%s (TLS)", port)
			err = httpServer.ListenAndServeTLS(certFile, keyFile)
		} else {
			log.Printf("clipbin listening on :%s", port)
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-shutdownCh
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown failed: %v", err)
	}
	log.Println("shutdown complete")
}

// buildStorage selects the blob backend: local disk by default, S3 when
// STORAGE_BACKEND=s3.
func buildStorage(ctx context.Context) (video.ObjectStorage, error) {
	switch backend := getEnv("STORAGE_BACKEND", "local"); backend {
	case "local":
		return storage.NewLocal(getEnv("STORAGE_ROOT", "./data/videos"))
	case "s3":
		store, err := storage.NewS3(ctx, storage.S3Config{
			Endpoint:  getEnv("S3_ENDPOINT", "http://localhost:3900"),
			Bucket:    getEnv("S3_BUCKET", "clipbin"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			Region:    getEnv("S3_REGION", "eu-central-1"),
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("bucket check: %w", err)
		}
		log.Println("storage bucket ready")
		return store, nil
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", backend)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
