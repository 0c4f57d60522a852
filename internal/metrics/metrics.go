package metrics

import (
	"context"
	"time"

	"labelq/internal/log"
	"labelq/internal/queue"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type PipelineMetrics struct {
	LabelsCreated     prometheus.Counter
	LabelsConfirmed   prometheus.Counter
	LabelDuplicates   prometheus.Counter
	EventsRejected    prometheus.Counter
	DeadLettersTotal  *prometheus.CounterVec
	RetryAttempts     prometheus.Counter
	MessagesAbandoned prometheus.Counter
	QueueReadyDepth   *prometheus.GaugeVec
	QueueDelayedDepth *prometheus.GaugeVec
	queues            []*queue.Queue
	logger            *log.Logger
}

func NewPipelineMetrics(queues []*queue.Queue, logger *log.Logger) *PipelineMetrics {
	metrics := &PipelineMetrics{
		LabelsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labelq_labels_created_total",
			Help: "Total number of label records durably created",
		}),
		LabelsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labelq_labels_confirmed_total",
			Help: "Total number of label records transitioned to confirmed",
		}),
		LabelDuplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labelq_label_duplicates_total",
			Help: "Total number of create items rejected as duplicates",
		}),
		EventsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labelq_print_events_rejected_total",
			Help: "Total number of print event records rejected by the time-series store",
		}),
		DeadLettersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labelq_dead_letters_total",
				Help: "Total number of dead-letter messages published",
			},
			[]string{"command"},
		),
		RetryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labelq_retry_attempts_total",
			Help: "Total number of dead-letter retry attempts",
		}),
		MessagesAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labelq_messages_abandoned_total",
			Help: "Total number of messages abandoned after exhausting retries",
		}),
		QueueReadyDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "labelq_queue_ready_depth",
				Help: "Number of ready messages per queue",
			},
			[]string{"queue"},
		),
		QueueDelayedDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "labelq_queue_delayed_depth",
				Help: "Number of delayed messages per queue",
			},
			[]string{"queue"},
		),
		queues: queues,
		logger: logger,
	}

	prometheus.MustRegister(
		metrics.LabelsCreated,
		metrics.LabelsConfirmed,
		metrics.LabelDuplicates,
		metrics.EventsRejected,
		metrics.DeadLettersTotal,
		metrics.RetryAttempts,
		metrics.MessagesAbandoned,
		metrics.QueueReadyDepth,
		metrics.QueueDelayedDepth,
	)
	return metrics
}

// Run refreshes queue depth gauges until ctx is done.
func (m *PipelineMetrics) Run(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Metrics collector shutting down")
			return
		case <-ticker.C:
			for _, q := range m.queues {
				ready, delayed, err := q.Depth(ctx)
				if err != nil {
					m.logger.Error("Failed to get queue depth", zap.Error(err), zap.String("queue", q.Name()))
					continue
				}
				m.QueueReadyDepth.WithLabelValues(q.Name()).Set(float64(ready))
				m.QueueDelayedDepth.WithLabelValues(q.Name()).Set(float64(delayed))
			}
		}
	}
}
