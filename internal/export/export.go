// Package export writes the generated identifier list of a bulk sub-batch
// to the object store and marks the sub-batch complete.
package export

import (
	"context"
	"encoding/json"
	"fmt"

	"labelq/internal/log"
	"labelq/internal/objstore"
	"labelq/internal/store"

	"go.uber.org/zap"
)

type BatchStore interface {
	MarkComplete(ctx context.Context, req store.PrintRequest) error
}

type Exporter struct {
	objects *objstore.Store
	batches BatchStore
	logger  *log.Logger
}

func NewExporter(objects *objstore.Store, batches BatchStore, logger *log.Logger) *Exporter {
	return &Exporter{
		objects: objects,
		batches: batches,
		logger:  logger,
	}
}

// ArtifactKey is deterministic per (request, batch index), so a repeated
// export overwrites the same object instead of accumulating copies.
func ArtifactKey(requestID string, batchIndex int) string {
	return fmt.Sprintf("serialised-codes/%s/tmp/batch-%d.json", requestID, batchIndex)
}

// ExportBatch stores the digital-link list for one sub-batch, then marks the
// sub-batch complete. The mark strictly follows the artifact write: a
// consumer that observes complete=true can rely on the artifact existing.
func (e *Exporter) ExportBatch(ctx context.Context, req store.PrintRequest, links []string) error {
	body, err := json.Marshal(links)
	if err != nil {
		return fmt.Errorf("marshal digital links: %w", err)
	}
	key := ArtifactKey(req.RequestID, req.BatchIndex)
	if err := e.objects.Put(key, body); err != nil {
		return fmt.Errorf("export batch artifact: %w", err)
	}
	if err := e.batches.MarkComplete(ctx, req); err != nil {
		return fmt.Errorf("mark batch complete: %w", err)
	}
	e.logger.Info("Exported batch artifact",
		zap.String("request_id", req.RequestID),
		zap.Int("batch_index", req.BatchIndex),
		zap.Int("links", len(links)))
	return nil
}
