package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rongwang/countersign-server/internal/api"
	"github.com/rongwang/countersign-server/internal/config"
	"github.com/rongwang/countersign-server/internal/notify"
	"github.com/rongwang/countersign-server/internal/repository"
	"github.com/rongwang/countersign-server/internal/service"
	"github.com/rongwang/countersign-server/internal/storage"
	"github.com/rongwang/countersign-server/internal/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Environment, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server stopped", zap.Error(err))
	}
	logger.Info("Server gracefully stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	db, err := config.SetupDatabase(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to set up database: %w", err)
	}
	defer db.Close()

	repo := repository.NewPostgresRepository(db)

	files, err := newFileStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to set up file storage: %w", err)
	}

	sender, err := newSender(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up mail transport: %w", err)
	}
	if closer, ok := sender.(io.Closer); ok {
		defer closer.Close()
	}

	dispatcher := notify.NewDispatcher(sender, files, cfg.Server.SiteURL, cfg.Mail.AdminMail, logger)
	svc := service.NewDefaultService(repo, files, dispatcher, logger, cfg.Auth.JWTSecret)
	handler := api.NewHandler(svc, logger, cfg.Server.MaxUploadBytes)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		api.Recovery(logger),
		api.RequestLogger(logger),
		api.JWTSecretMiddleware([]byte(cfg.Auth.JWTSecret)),
	)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting server",
			zap.String("addr", srv.Addr),
			zap.String("storage", cfg.Storage.Backend),
			zap.String("transport", cfg.Notify.Transport),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newFileStore(cfg config.StorageConfig) (storage.FileStore, error) {
	switch cfg.Backend {
	case "minio":
		return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	default:
		return storage.NewLocalStore(cfg.LocalPath)
	}
}

func newSender(cfg *config.Config) (notify.Sender, error) {
	switch cfg.Notify.Transport {
	case "redis":
		return notify.NewRedisStreamSender(notify.RedisSenderConfig{
			Addr:     cfg.Notify.RedisAddr,
			Password: cfg.Notify.RedisPassword,
			Stream:   cfg.Notify.RedisStream,
		})
	case "amqp":
		return notify.NewAMQPSender(cfg.Notify.AMQPURL, cfg.Notify.AMQPExchange, cfg.Notify.AMQPRouting)
	default:
		m := cfg.Mail
		return notify.NewSMTPSender(m.Host, m.Port, m.Username, m.Password, m.From)
	}
}
