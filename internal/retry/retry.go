// Package retry re-attempts the failed subsets carried by dead-letter
// envelopes, with a bounded attempt budget and linear backoff.
package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"labelq/internal/config"
	"labelq/internal/log"
	"labelq/internal/message"
	"labelq/internal/metrics"
	"labelq/internal/store"

	"go.uber.org/zap"
)

type LabelStore interface {
	CreateBatch(ctx context.Context, serials []store.Serial) (unprocessed, duplicates []store.Serial)
	ConfirmBatch(ctx context.Context, serials []store.Serial) []store.Serial
	CreateConfirmedBatch(ctx context.Context, serials []store.Serial) []store.Serial
}

type EventStore interface {
	Append(ctx context.Context, records []store.PrintRecord) []store.RejectedRecord
}

type Publisher interface {
	Publish(ctx context.Context, body []byte, delay time.Duration) error
}

type Processor struct {
	labels  LabelStore
	events  EventStore
	dlq     Publisher
	cfg     *config.Config
	logger  *log.Logger
	metrics *metrics.PipelineMetrics
}

func New(labels LabelStore, events EventStore, dlq Publisher, cfg *config.Config, logger *log.Logger, m *metrics.PipelineMetrics) *Processor {
	return &Processor{
		labels:  labels,
		events:  events,
		dlq:     dlq,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// Handle re-attempts one dead-letter envelope. Items that fail again are
// republished with an incremented attempt counter and a longer delay, until
// the attempt ceiling is hit and the envelope is abandoned.
func (p *Processor) Handle(ctx context.Context, body []byte) error {
	envelope, err := message.ParseDeadLetter(body)
	if err != nil {
		return err
	}
	p.metrics.RetryAttempts.Inc()

	var failed message.Unprocessed

	if len(envelope.Unprocessed.Labels) > 0 {
		switch envelope.Command {
		case message.CommandCreate:
			// Re-run the full create path: a duplicate may have landed
			// between attempts, and duplicates must stay terminal.
			unprocessed, duplicates := p.labels.CreateBatch(ctx, envelope.Unprocessed.Labels)
			if len(duplicates) > 0 {
				p.logger.Info("Duplicate labels found", zap.Int("count", len(duplicates)), zap.Any("duplicates", duplicates))
				p.metrics.LabelDuplicates.Add(float64(len(duplicates)))
			}
			failed.Labels = unprocessed
		case message.CommandConfirm:
			// Pure confirmations replay straight through the conditional
			// write primitive, no re-validation needed.
			failed.Labels = p.labels.ConfirmBatch(ctx, envelope.Unprocessed.Labels)
		case message.CommandCreateConfirmed:
			failed.Labels = p.labels.CreateConfirmedBatch(ctx, envelope.Unprocessed.Labels)
		}
	}

	if len(envelope.Unprocessed.Events) > 0 {
		rejected := p.events.Append(ctx, envelope.Unprocessed.Events)
		failed.Events = store.RetryableRejected(rejected)
		p.metrics.EventsRejected.Add(float64(len(failed.Events)))
	}

	if failed.Empty() {
		return nil
	}

	attempts := envelope.FailedAttempts + 1
	if attempts > p.cfg.MaxFailedAttempts {
		// The single operator-visible failure mode. The full payload is
		// logged so the message can be replayed manually.
		payload, _ := json.Marshal(message.DeadLetter{
			Command:        envelope.Command,
			Unprocessed:    failed,
			FailedAttempts: envelope.FailedAttempts,
		})
		p.logger.Error("Could not process message, abandoning after max attempts",
			zap.Int("max_attempts", p.cfg.MaxFailedAttempts),
			zap.String("command", string(envelope.Command)),
			zap.ByteString("payload", payload))
		p.metrics.MessagesAbandoned.Inc()
		return nil
	}

	republished := message.DeadLetter{
		Command:        envelope.Command,
		Unprocessed:    failed,
		FailedAttempts: attempts,
	}
	body, err = json.Marshal(republished)
	if err != nil {
		return fmt.Errorf("marshal dead-letter envelope: %w", err)
	}
	delay := p.cfg.DeadLetterDelay * time.Duration(p.cfg.RetryDelayFactor) * time.Duration(attempts)
	p.logger.Info("Message will be sent back to the dead-letter queue",
		zap.String("command", string(envelope.Command)),
		zap.Int("attempt", attempts),
		zap.Duration("delay", delay),
		zap.Int("labels", len(failed.Labels)),
		zap.Int("events", len(failed.Events)))
	if err := p.dlq.Publish(ctx, body, delay); err != nil {
		return fmt.Errorf("republish dead-letter message: %w", err)
	}
	p.metrics.DeadLettersTotal.WithLabelValues(string(envelope.Command)).Inc()
	return nil
}
