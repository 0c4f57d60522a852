package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"labelq/internal/log"
	"labelq/internal/queue"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SetupRouter wires the ops endpoints: health, Prometheus metrics and queue
// stats. The pipeline itself has no synchronous API.
func SetupRouter(r *chi.Mux, db *sql.DB, redisClient *redis.Client, queues []*queue.Queue, logger *log.Logger) {
	r.Use(httprate.Limit(100, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			logger.Error("Database health check failed", zap.Error(err))
			http.Error(w, "Database unhealthy", http.StatusServiceUnavailable)
			return
		}
		if err := redisClient.Ping(r.Context()).Err(); err != nil {
			logger.Error("Redis health check failed", zap.Error(err))
			http.Error(w, "Redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		type queueStats struct {
			Ready   int64 `json:"ready"`
			Delayed int64 `json:"delayed"`
		}
		stats := make(map[string]queueStats, len(queues))
		for _, q := range queues {
			ready, delayed, err := q.Depth(r.Context())
			if err != nil {
				logger.Error("Failed to get queue depth", zap.Error(err), zap.String("queue", q.Name()))
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			stats[q.Name()] = queueStats{Ready: ready, Delayed: delayed}
		}
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			logger.Error("Failed to encode stats", zap.Error(err))
			http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		}
	})
}
