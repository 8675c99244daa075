package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-tours/config"
	"go-tours/middleware"
	"go-tours/routes"
	"go-tours/services"
	"go-tours/store"
	"go-tours/utils/auth"
	"go-tours/utils/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Setup(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// MongoDB
	db, err := store.Connect(ctx, cfg.MongoURI(), cfg.Database.Name)
	if err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := db.Disconnect(dctx); err != nil {
			slog.Error("Failed to disconnect MongoDB", "error", err)
		}
	}()
	if err := db.EnsureIndexes(ctx); err != nil {
		return err
	}

	// Redis
	redisClient, err := store.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.DB)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Photos and mail
	var photos services.PhotoStore
	if cfg.Bucket.Name != "" {
		s3Store, err := services.NewS3PhotoStore(ctx, cfg.Bucket.Name, cfg.Bucket.Region, cfg.Bucket.AccessKey, cfg.Bucket.SecretAccessKey)
		if err != nil {
			return err
		}
		photos = s3Store
	} else {
		slog.Warn("BUCKET_NAME not set, photo uploads are disabled")
	}
	var mailer services.Mailer = services.LogMailer{}
	if cfg.Email.Host != "" {
		mailer = services.NewSMTPMailer(cfg.Email.Host, cfg.Email.Port, cfg.Email.Username, cfg.Email.Password, cfg.Email.FromName, cfg.Email.From)
	}

	tokenTTL, err := cfg.TokenTTL()
	if err != nil {
		return err
	}

	// Services
	userService := services.NewUserService(db.Users, redisClient, photos)
	tourService := services.NewTourService(db.Tours, db.Users, db.Reviews)
	reviewService := services.NewReviewService(db.Reviews, db.Tours, db.Users)
	authService := services.NewAuthService(userService, auth.NewSigner(cfg.Auth.JWTSecret, tokenTTL), mailer)

	trustedProxies, err := middleware.ParseProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}

	handler := routes.New(routes.Deps{
		Tours:          tourService,
		Users:          userService,
		Reviews:        reviewService,
		Auth:           authService,
		Redis:          redisClient,
		Errors:         middleware.NewErrorHandler(cfg.Env),
		AllowedOrigins: cfg.AllowedOrigins,
		TrustedProxies: trustedProxies,
		PublicURL:      cfg.PublicURL,
		Development:    !cfg.Production(),
		CookieTTL:      cfg.CookieTTL(),
		Health:         db.Ping,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server starting", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutdown signal received, draining connections")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	slog.Info("Server stopped cleanly")
	return nil
}
