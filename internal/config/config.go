package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"labelq/internal/log"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	DatabaseURL       string
	RedisAddr         string
	RedisPassword     string
	ResolverDomain    string
	ArtifactDir       string
	LabelQueue        string
	DeadLetterQueue   string
	HTTPAddr          string
	WorkerID          string
	LabelBatchSize    int
	EventBatchSize    int
	MaxFailedAttempts int
	DeadLetterDelay   time.Duration
	RetryDelayFactor  int
	PromoteInterval   time.Duration
	ReceiveTimeout    time.Duration
	RedeliveryDelay   time.Duration
}

func Load() (*Config, error) {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Log but continue, env vars may be set elsewhere
		logger := log.NewLogger()
		logger.Warn("Failed to load .env file", zap.Error(err))
	}

	logger := log.NewLogger()
	cfg := &Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		ResolverDomain:    os.Getenv("RESOLVER_DOMAIN"),
		ArtifactDir:       os.Getenv("ARTIFACT_DIR"),
		LabelQueue:        "labels",
		DeadLetterQueue:   "labels-dead-letter",
		HTTPAddr:          ":8080",
		WorkerID:          os.Getenv("WORKER_ID"),
		LabelBatchSize:    25,
		EventBatchSize:    100,
		MaxFailedAttempts: 5,
		DeadLetterDelay:   60 * time.Second,
		RetryDelayFactor:  3,
		PromoteInterval:   time.Second,
		ReceiveTimeout:    5 * time.Second,
		RedeliveryDelay:   10 * time.Second,
	}

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisAddr == "" {
		logger.Error("REDIS_ADDR is required")
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	if cfg.ResolverDomain == "" {
		logger.Error("RESOLVER_DOMAIN is required")
		return nil, fmt.Errorf("RESOLVER_DOMAIN is required")
	}
	if cfg.ArtifactDir == "" {
		logger.Error("ARTIFACT_DIR is required")
		return nil, fmt.Errorf("ARTIFACT_DIR is required")
	}
	if queue := os.Getenv("LABEL_QUEUE"); queue != "" {
		cfg.LabelQueue = queue
	}
	if queue := os.Getenv("DEAD_LETTER_QUEUE"); queue != "" {
		cfg.DeadLetterQueue = queue
	}
	if addr := os.Getenv("HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker-1"
		logger.Info("Using default WorkerID", zap.String("worker_id", cfg.WorkerID))
	}
	if attempts := os.Getenv("MAX_FAILED_ATTEMPTS"); attempts != "" {
		parsed, err := strconv.Atoi(attempts)
		if err != nil || parsed <= 0 {
			logger.Error("Invalid MAX_FAILED_ATTEMPTS", zap.String("value", attempts))
			return nil, fmt.Errorf("invalid MAX_FAILED_ATTEMPTS: %s", attempts)
		}
		cfg.MaxFailedAttempts = parsed
	}

	logger.Info("Config loaded successfully")
	return cfg, nil
}
