// Package processor consumes inbound label commands, drives the label and
// event stores, and dead-letters whatever the stores could not durably
// write. One invocation handles exactly one message and keeps no state
// between invocations.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"labelq/internal/config"
	"labelq/internal/log"
	"labelq/internal/message"
	"labelq/internal/metrics"
	"labelq/internal/serial"
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

type Exporter interface {
	ExportBatch(ctx context.Context, req store.PrintRequest, links []string) error
}

type Processor struct {
	labels   LabelStore
	events   EventStore
	exporter Exporter
	dlq      Publisher
	cfg      *config.Config
	logger   *log.Logger
	metrics  *metrics.PipelineMetrics
}

func New(labels LabelStore, events EventStore, exporter Exporter, dlq Publisher, cfg *config.Config, logger *log.Logger, m *metrics.PipelineMetrics) *Processor {
	return &Processor{
		labels:   labels,
		events:   events,
		exporter: exporter,
		dlq:      dlq,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}
}

// Handle processes one inbound message. Partial store failures never return
// an error; they are dead-lettered instead. Only a malformed message or a
// failed export/publish propagates, for the queue infrastructure to deal
// with.
func (p *Processor) Handle(ctx context.Context, body []byte) error {
	msg, err := message.Parse(body)
	if err != nil {
		return err
	}

	var failed message.Unprocessed

	switch msg.Command {
	case message.CommandCreate:
		failed.Labels = p.handleCreate(ctx, msg.Serials)

	case message.CommandConfirm:
		failed = p.handleConfirm(ctx, msg.Serials)

	case message.CommandCreateConfirmed:
		failed, err = p.handleCreateConfirmed(ctx, *msg.PrintRequest)
		if err != nil {
			return err
		}
	}

	if failed.Empty() {
		return nil
	}
	return p.deadLetter(ctx, msg.Command, failed)
}

func (p *Processor) handleCreate(ctx context.Context, serials []store.Serial) []store.Serial {
	unprocessed, duplicates := p.labels.CreateBatch(ctx, serials)
	if len(duplicates) > 0 {
		// Expected outcome of concurrent writers, not an error. Never retried.
		p.logger.Info("Duplicate labels found", zap.Int("count", len(duplicates)), zap.Any("duplicates", duplicates))
		p.metrics.LabelDuplicates.Add(float64(len(duplicates)))
	}
	p.metrics.LabelsCreated.Add(float64(len(serials) - len(unprocessed) - len(duplicates)))
	return unprocessed
}

func (p *Processor) handleConfirm(ctx context.Context, serials []store.Serial) message.Unprocessed {
	// Both calls always run to completion; a failure in one must not cancel
	// the other.
	var unprocessed []store.Serial
	var rejected []store.RejectedRecord
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		unprocessed = p.labels.ConfirmBatch(ctx, serials)
	}()
	go func() {
		defer wg.Done()
		rejected = p.events.Append(ctx, store.BuildPrintRecords(serials))
	}()
	wg.Wait()

	p.metrics.LabelsConfirmed.Add(float64(len(serials) - len(unprocessed)))
	p.metrics.EventsRejected.Add(float64(len(rejected)))
	return message.Unprocessed{
		Labels: unprocessed,
		Events: store.RetryableRejected(rejected),
	}
}

func (p *Processor) handleCreateConfirmed(ctx context.Context, req store.PrintRequest) (message.Unprocessed, error) {
	serials := make([]store.Serial, req.Amount)
	links := make([]string, req.Amount)
	for i := range serials {
		code := serial.New()
		serials[i] = store.Serial{
			BrandID:   req.BrandID,
			GTIN:      req.GTIN,
			Serial:    code,
			Sub:       req.Sub,
			RequestID: req.RequestID,
		}
		links[i] = serial.DigitalLink(p.cfg.ResolverDomain, req.GTIN, code)
	}

	unprocessed := p.labels.CreateConfirmedBatch(ctx, serials)
	rejected := p.events.Append(ctx, store.BuildPrintRecords(serials))

	p.metrics.LabelsCreated.Add(float64(len(serials) - len(unprocessed)))
	p.metrics.EventsRejected.Add(float64(len(rejected)))

	failed := message.Unprocessed{
		Labels: unprocessed,
		Events: store.RetryableRejected(rejected),
	}

	if err := p.exporter.ExportBatch(ctx, req, links); err != nil {
		return failed, fmt.Errorf("export batch %d of request %s: %w", req.BatchIndex, req.RequestID, err)
	}
	return failed, nil
}

func (p *Processor) deadLetter(ctx context.Context, command message.Command, failed message.Unprocessed) error {
	envelope := message.DeadLetter{
		Command:     command,
		Unprocessed: failed,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal dead-letter envelope: %w", err)
	}
	p.logger.Info("Message will be sent to dead-letter queue",
		zap.String("command", string(command)),
		zap.Int("labels", len(failed.Labels)),
		zap.Int("events", len(failed.Events)))
	if err := p.dlq.Publish(ctx, body, p.cfg.DeadLetterDelay); err != nil {
		return fmt.Errorf("publish dead-letter message: %w", err)
	}
	p.metrics.DeadLettersTotal.WithLabelValues(string(command)).Inc()
	return nil
}
