package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"media-uploader/internal/config"
	"media-uploader/internal/credentials"
	apphttp "media-uploader/internal/http"
	"media-uploader/internal/repository/sqlite"
	"media-uploader/internal/service"
	"media-uploader/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		logger.Fatalf("auth jwt secret is required")
	}
	if cfg.Storage.Bucket == "" {
		logger.Fatalf("storage bucket is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	sessionRepo := sqlite.NewUploadSessionRepository(db)
	partRepo := sqlite.NewUploadPartRepository(db)

	if err := sessionRepo.Init(ctx); err != nil {
		logger.Fatalf("init session repository: %v", err)
	}
	if err := partRepo.Init(ctx); err != nil {
		logger.Fatalf("init part repository: %v", err)
	}

	creds, err := buildCredentials(cfg, logger)
	if err != nil {
		logger.Fatalf("load credentials: %v", err)
	}

	client := storage.NewClient(cfg.Storage.Region, cfg.Storage.Endpoint, creds)
	storageOpts := storage.Options{
		Bucket:        cfg.Storage.Bucket,
		PresignExpiry: cfg.Storage.PresignExpiry,
		CallTimeout:   cfg.Storage.CallTimeout,
	}
	backend := storage.NewS3Backend(client, creds, storageOpts, logger)
	signer := storage.NewS3Signer(client, creds, storageOpts)
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)

	uploadService := service.NewUploadService(sessionRepo, partRepo, backend, signer, service.Config{
		MultipartThreshold: cfg.Storage.MultipartThreshold,
		KeyPrefix:          cfg.Storage.KeyPrefix,
	}, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(uploadService, cfg.Auth.JWTSecret, logger)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}

func buildCredentials(cfg config.Config, logger *logrus.Logger) (*credentials.Provider, error) {
	if cfg.AWS.AccessKeyID == "" || cfg.AWS.SecretAccessKey == "" || cfg.AWS.SessionToken == "" {
		return nil, fmt.Errorf("aws session credentials are required; run the credential refresh script first")
	}

	expiry, err := cfg.CredentialExpiry()
	if err != nil {
		return nil, err
	}
	if remaining := time.Until(expiry); remaining <= 0 {
		logger.Warnf("configured credential already expired at %s; storage calls will fail until it is replaced", expiry.Format(time.RFC3339))
	} else {
		logger.Infof("temporary credential valid for %s", remaining.Round(time.Second))
	}

	return credentials.NewProvider(credentials.Temporary{
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		SessionToken:    cfg.AWS.SessionToken,
		ExpiresAt:       expiry,
	}), nil
}
