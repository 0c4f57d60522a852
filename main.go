package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"labelq/internal/config"
	"labelq/internal/export"
	"labelq/internal/log"
	"labelq/internal/metrics"
	"labelq/internal/objstore"
	"labelq/internal/processor"
	"labelq/internal/queue"
	"labelq/internal/retry"
	"labelq/internal/server"
	"labelq/internal/store"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := log.NewLogger()
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to open postgres", zap.Error(err))
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal("Failed to connect to postgres", zap.Error(err))
	}
	if err := store.EnsureSchema(context.Background(), db); err != nil {
		logger.Fatal("Failed to ensure schema", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	objects, err := objstore.New(cfg.ArtifactDir)
	if err != nil {
		logger.Fatal("Failed to initialize artifact store", zap.Error(err))
	}

	labelStore := store.NewLabelStore(db, cfg, logger)
	eventStore := store.NewEventStore(db, cfg, logger)
	batchStore := store.NewBatchStore(db, logger)

	labelQueue := queue.New(redisClient, cfg.LabelQueue, cfg, logger)
	deadLetterQueue := queue.New(redisClient, cfg.DeadLetterQueue, cfg, logger)
	queues := []*queue.Queue{labelQueue, deadLetterQueue}

	pipelineMetrics := metrics.NewPipelineMetrics(queues, logger)
	exporter := export.NewExporter(objects, batchStore, logger)
	primary := processor.New(labelStore, eventStore, exporter, deadLetterQueue, cfg, logger, pipelineMetrics)
	recovery := retry.New(labelStore, eventStore, deadLetterQueue, cfg, logger, pipelineMetrics)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		labelQueue.Run(ctx)
		return nil
	})
	g.Go(func() error {
		deadLetterQueue.Run(ctx)
		return nil
	})
	g.Go(func() error {
		labelQueue.Consume(ctx, primary.Handle)
		return nil
	})
	g.Go(func() error {
		deadLetterQueue.Consume(ctx, recovery.Handle)
		return nil
	})
	g.Go(func() error {
		pipelineMetrics.Run(ctx)
		return nil
	})

	r := chi.NewRouter()
	server.SetupRouter(r, db, redisClient, queues, logger)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}
	go func() {
		logger.Info("Ops server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	logger.Info("Label pipeline started", zap.String("worker_id", cfg.WorkerID))
	<-ctx.Done()
	logger.Info("Shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
	if err := g.Wait(); err != nil {
		logger.Error("Worker shutdown failed", zap.Error(err))
	}
}
