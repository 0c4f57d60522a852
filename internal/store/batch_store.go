package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"labelq/internal/log"
)

// BatchStore tracks per-sub-batch progress of bulk print requests.
type BatchStore struct {
	db     *sql.DB
	logger *log.Logger
}

func NewBatchStore(db *sql.DB, logger *log.Logger) *BatchStore {
	return &BatchStore{
		db:     db,
		logger: logger,
	}
}

// MarkComplete records that a sub-batch's identifier artifact was durably
// exported. The flag is an idempotent set: marking a completed batch again
// is a no-op. Callers must only invoke this after the artifact write
// succeeded.
func (s *BatchStore) MarkComplete(ctx context.Context, req PrintRequest) error {
	var printerID sql.NullString
	if req.PrinterID != "" {
		printerID = sql.NullString{String: req.PrinterID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO print_request_batches
            (request_id, batch_index, sub, gtin, brand_id, printer_id, amount, complete, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8)
        ON CONFLICT (request_id, batch_index) DO UPDATE
        SET complete = TRUE,
            updated_at = EXCLUDED.updated_at
    `, req.RequestID, req.BatchIndex, req.Sub, req.GTIN, req.BrandID, printerID, req.Amount, time.Now())
	if err != nil {
		return fmt.Errorf("mark batch complete: %w", err)
	}
	return nil
}

// IsComplete reports whether a sub-batch was marked complete.
func (s *BatchStore) IsComplete(ctx context.Context, requestID string, batchIndex int) (bool, error) {
	var complete bool
	err := s.db.QueryRowContext(ctx, `
        SELECT complete FROM print_request_batches WHERE request_id = $1 AND batch_index = $2
    `, requestID, batchIndex).Scan(&complete)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get batch info: %w", err)
	}
	return complete, nil
}
