package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"labelq/internal/config"
	"labelq/internal/log"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Labels are kept for five years, matching the retention of the printed
// label stock itself.
const labelTTL = time.Duration(60*60*24*30*12*5) * time.Second

// LabelStore persists label records in Postgres. The (gtin, serial) primary
// key is the only uniqueness mechanism in the pipeline: concurrent writers
// race at the store and the loser surfaces as a duplicate, never as an
// unprocessed item.
type LabelStore struct {
	db     *sql.DB
	cfg    *config.Config
	logger *log.Logger
}

func NewLabelStore(db *sql.DB, cfg *config.Config, logger *log.Logger) *LabelStore {
	return &LabelStore{
		db:     db,
		cfg:    cfg,
		logger: logger,
	}
}

func (s *LabelStore) DB() *sql.DB {
	return s.db
}

// CreateBatch inserts label records in "printed" state. Items whose
// (gtin, serial) already exists are reported as duplicates and must never be
// retried; a chunk whose statement fails outright is reported whole as
// unprocessed.
func (s *LabelStore) CreateBatch(ctx context.Context, serials []Serial) (unprocessed, duplicates []Serial) {
	return s.insertBatch(ctx, serials, false)
}

// CreateConfirmedBatch inserts label records pre-marked confirmed, for bulk
// jobs whose serials were generated in-process. Conflicts only arise when a
// previous attempt already landed the row, so they are dropped silently
// rather than reported.
func (s *LabelStore) CreateConfirmedBatch(ctx context.Context, serials []Serial) []Serial {
	unprocessed, _ := s.insertBatch(ctx, serials, true)
	return unprocessed
}

func (s *LabelStore) insertBatch(ctx context.Context, serials []Serial, confirmed bool) (unprocessed, duplicates []Serial) {
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, batch := range chunk(serials, s.cfg.LabelBatchSize) {
		wg.Add(1)
		go func(batch []Serial) {
			defer wg.Done()
			inserted, err := s.insertChunk(ctx, batch, confirmed)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Error("Label batch failed to process", zap.Error(err), zap.Int("size", len(batch)))
				unprocessed = append(unprocessed, batch...)
				return
			}
			for _, item := range batch {
				if !inserted[labelKey(item.GTIN, item.Serial)] {
					duplicates = append(duplicates, item)
				}
			}
		}(batch)
	}
	wg.Wait()
	return unprocessed, duplicates
}

func (s *LabelStore) insertChunk(ctx context.Context, batch []Serial, confirmed bool) (map[string]bool, error) {
	now := time.Now()
	var sb strings.Builder
	sb.WriteString(`INSERT INTO labels
        (gtin, serial, brand_id, created_by, request_id, printed, confirmed, created_at, printed_at, expires_at)
        VALUES `)
	args := make([]interface{}, 0, len(batch)*10)
	for i, item := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 10
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10)
		var requestID sql.NullString
		if item.RequestID != "" {
			requestID = sql.NullString{String: item.RequestID, Valid: true}
		}
		args = append(args, item.GTIN, item.Serial, item.BrandID, item.Sub, requestID,
			true, confirmed, now, now, now.Add(labelTTL))
	}
	sb.WriteString(" ON CONFLICT (gtin, serial) DO NOTHING RETURNING gtin, serial")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("insert labels: %w", err)
	}
	defer rows.Close()

	inserted := make(map[string]bool, len(batch))
	for rows.Next() {
		var gtin, serial string
		if err := rows.Scan(&gtin, &serial); err != nil {
			return nil, fmt.Errorf("scan inserted label: %w", err)
		}
		inserted[labelKey(gtin, serial)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inserted labels: %w", err)
	}
	return inserted, nil
}

// ConfirmBatch transitions existing records to confirmed. Items with no
// prior record are soft failures: they are reported as unprocessed so the
// retry path re-attempts them once the create eventually lands. The update
// is a pure confirmation, so the recovery processor replays it through this
// same primitive without re-validation.
func (s *LabelStore) ConfirmBatch(ctx context.Context, serials []Serial) []Serial {
	var unprocessed []Serial
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, batch := range chunk(serials, s.cfg.LabelBatchSize) {
		wg.Add(1)
		go func(batch []Serial) {
			defer wg.Done()
			updated, err := s.confirmChunk(ctx, batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Error("Confirm batch failed to process", zap.Error(err), zap.Int("size", len(batch)))
				unprocessed = append(unprocessed, batch...)
				return
			}
			for _, item := range batch {
				if !updated[labelKey(item.GTIN, item.Serial)] {
					unprocessed = append(unprocessed, item)
				}
			}
		}(batch)
	}
	wg.Wait()
	return unprocessed
}

func (s *LabelStore) confirmChunk(ctx context.Context, batch []Serial) (map[string]bool, error) {
	var sb strings.Builder
	sb.WriteString(`UPDATE labels SET confirmed = TRUE WHERE (gtin, serial) IN (`)
	args := make([]interface{}, 0, len(batch)*2)
	for i, item := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d)", i*2+1, i*2+2)
		args = append(args, item.GTIN, item.Serial)
	}
	sb.WriteString(") RETURNING gtin, serial")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("confirm labels: %w", err)
	}
	defer rows.Close()

	updated := make(map[string]bool, len(batch))
	for rows.Next() {
		var gtin, serial string
		if err := rows.Scan(&gtin, &serial); err != nil {
			return nil, fmt.Errorf("scan confirmed label: %w", err)
		}
		updated[labelKey(gtin, serial)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate confirmed labels: %w", err)
	}
	return updated, nil
}

// GetLabel fetches a single label record.
func (s *LabelStore) GetLabel(ctx context.Context, gtin, serialCode string) (Label, error) {
	var label Label
	err := s.db.QueryRowContext(ctx, `
        SELECT gtin, serial, brand_id, created_by, request_id, printed, confirmed, created_at, printed_at, expires_at
        FROM labels WHERE gtin = $1 AND serial = $2
    `, gtin, serialCode).Scan(&label.GTIN, &label.Serial, &label.BrandID, &label.CreatedBy, &label.RequestID,
		&label.Printed, &label.Confirmed, &label.CreatedAt, &label.PrintedAt, &label.ExpiresAt)
	if err != nil {
		return Label{}, fmt.Errorf("get label: %w", err)
	}
	return label, nil
}

// CountLabels returns the number of label records for a gtin.
func (s *LabelStore) CountLabels(ctx context.Context, gtin string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM labels WHERE gtin = $1`, gtin).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count labels: %w", err)
	}
	return count, nil
}

func labelKey(gtin, serial string) string {
	return gtin + "#" + serial
}
