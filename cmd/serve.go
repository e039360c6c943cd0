package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/faceverify/internal/auth"
	"github.com/example/faceverify/internal/config"
	"github.com/example/faceverify/internal/handlers"
	"github.com/example/faceverify/internal/logging"
	"github.com/example/faceverify/internal/repository"
	"github.com/example/faceverify/internal/retry"
	"github.com/example/faceverify/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the face verification HTTP API",
	Long: `Start the HTTP API. Verification requests are matched against the reference
directory, logged to PostgreSQL and cached in Redis.

Configuration is read from the environment (and an optional .env file).`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	db, err := initDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	repo := repository.NewVerificationRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Error("auto migrate failed", zap.Error(err))
		return err
	}

	redisClient, err := initRedis(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	stack, err := buildFaceStack(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to set up face analysis", zap.Error(err))
		return err
	}
	defer stack.close()

	uc := usecase.NewVerificationUseCase(
		repo,
		usecase.NewRedisCache(redisClient),
		stack.store,
		stack.selector,
		stack.enroller,
		usecase.Options{
			Threshold: cfg.Face.MatchThreshold,
			Model:     cfg.Face.Model,
			MaxPixels: cfg.References.MaxPixels,
			Policy:    retry.DefaultPolicy(),
		},
		logger,
	)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), handlers.CORSMiddleware(cfg.HTTP.AllowedOrigins))
	r.MaxMultipartMemory = handlers.MaxUploadSize

	handlers.RegisterRoutes(r, uc, auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience))

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("face verification API listening",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("backend", cfg.Face.Backend),
		zap.String("model", cfg.Face.Model),
		zap.Float64("threshold", cfg.Face.MatchThreshold),
		zap.String("reference_dir", stack.store.Dir()),
	)
	if err := serveHTTPServer(server, cfg.HTTP.ShutdownTimeout, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		return err
	}
	return nil
}

func initDatabase(ctx context.Context, cfg config.DatabaseConfig, zapLogger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Error("failed to connect to database", zap.Error(err))
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Error("failed to access db handle", zap.Error(err))
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Error("database ping failed", zap.Error(err))
		return nil, err
	}

	return db, nil
}

func initRedis(ctx context.Context, cfg config.RedisConfig, zapLogger *zap.Logger) (*redis.Client, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(pingCtx).Err(); err != nil {
		zapLogger.Error("redis connection failed", zap.Error(err))
		client.Close()
		return nil, err
	}
	return client, nil
}
