package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maneesh/epubshelf/internal/assistant"
	"github.com/maneesh/epubshelf/internal/auth"
	"github.com/maneesh/epubshelf/internal/config"
	"github.com/maneesh/epubshelf/internal/handlers"
	"github.com/maneesh/epubshelf/internal/ingest"
	"github.com/maneesh/epubshelf/internal/logger"
	"github.com/maneesh/epubshelf/internal/reader"
	"github.com/maneesh/epubshelf/internal/storage"
	"github.com/maneesh/epubshelf/internal/tracing"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		// No logger yet
		bootstrap, _ := logger.New("production")
		bootstrap.Fatal("failed to load config", "error", err)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("starting epubshelf", "service", cfg.ServiceName, "port", cfg.ServicePort, "version", version)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing
	shutdownTracer, err := tracing.InitTracer(ctx, log, tracing.Options{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.JaegerEndpoint,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		log.Fatal("failed to initialize tracer", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("error shutting down tracer", "error", err)
		}
	}()

	// Initialize MinIO client
	minioClient, err := storage.NewMinioClient(ctx, log,
		cfg.MinIOEndpoint,
		cfg.MinIOAccessKey,
		cfg.MinIOSecretKey,
		cfg.MinIOBucketName,
		cfg.MinIOUseSSL,
		cfg.MinIOPresignTTL,
	)
	if err != nil {
		log.Fatal("failed to initialize MinIO client", "error", err)
	}
	log.Info("MinIO client initialized", "bucket", cfg.MinIOBucketName)

	// Initialize MySQL client
	mysqlClient, err := storage.NewMySQLClient(cfg.GetDSN())
	if err != nil {
		log.Fatal("failed to initialize MySQL client", "error", err)
	}
	defer mysqlClient.Close()
	if err := mysqlClient.EnsureSchema(ctx); err != nil {
		log.Fatal("failed to apply schema", "error", err)
	}
	log.Info("MySQL client initialized", "host", cfg.MySQLHost, "database", cfg.MySQLDatabase)

	// Initialize Redis client
	redisClient, err := storage.NewRedisClient(ctx, cfg.GetRedisAddr(), cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL)
	if err != nil {
		log.Fatal("failed to initialize Redis client", "error", err)
	}
	defer redisClient.Close()
	log.Info("Redis client initialized", "addr", cfg.GetRedisAddr())

	catalog := storage.NewCatalog(mysqlClient, redisClient, log)

	// Services
	ingestSvc := ingest.NewService(catalog, minioClient, log)
	readerSvc := reader.NewService(catalog, minioClient, log)
	assistantSvc := assistant.NewService(catalog,
		assistant.NewClient(cfg.CompletionURL, cfg.CompletionAPIKey, cfg.CompletionTimeout), log)
	authn := auth.NewAuthenticator(cfg.JWTSecret, cfg.CookieName, log)

	router := handlers.NewRouter(authn, handlers.Handlers{
		Upload:    handlers.NewUploadHandler(ingestSvc, cfg.GetMaxUploadBytes(), log),
		Library:   handlers.NewLibraryHandler(readerSvc, log),
		File:      handlers.NewFileHandler(readerSvc, log),
		Read:      handlers.NewReadHandler(readerSvc, cfg.LoginPath, cfg.LibraryPath, log),
		Assistant: handlers.NewAssistantHandler(assistantSvc, log),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServicePort,
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", "port", cfg.ServicePort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	log.Info("server exited")
}
