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

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// EventStore appends print events to the time-series table. Appends report
// per-record rejections instead of failing whole calls, so callers can retry
// only the rejected subset.
type EventStore struct {
	db     *sql.DB
	cfg    *config.Config
	logger *log.Logger
	cb     *gobreaker.CircuitBreaker
}

func NewEventStore(db *sql.DB, cfg *config.Config, logger *log.Logger) *EventStore {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "print-events",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
	})
	return &EventStore{
		db:     db,
		cfg:    cfg,
		logger: logger,
		cb:     cb,
	}
}

// BuildPrintRecords aggregates serials into one print record per gtin, the
// measure being how many labels the batch printed for that gtin.
func BuildPrintRecords(serials []Serial) []PrintRecord {
	now := time.Now().UnixMilli()
	counts := make(map[string]int64)
	requestIDs := make(map[string]string)
	var order []string
	for _, item := range serials {
		if _, seen := counts[item.GTIN]; !seen {
			order = append(order, item.GTIN)
			if item.RequestID != "" {
				requestIDs[item.GTIN] = item.RequestID
			}
		}
		counts[item.GTIN]++
	}

	records := make([]PrintRecord, 0, len(order))
	for _, gtin := range order {
		records = append(records, PrintRecord{
			GTIN:      gtin,
			BatchID:   uuid.NewString(),
			RequestID: requestIDs[gtin],
			Count:     counts[gtin],
			Version:   1,
			Time:      now,
		})
	}
	return records
}

// Append writes records in chunks of EventBatchSize. A record whose
// (gtin, time) slot already holds an equal or higher version is rejected
// with ReasonHigherVersion; a chunk that cannot reach the store at all is
// rejected whole with ReasonTransport.
func (s *EventStore) Append(ctx context.Context, records []PrintRecord) []RejectedRecord {
	var rejected []RejectedRecord
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, batch := range chunk(records, s.cfg.EventBatchSize) {
		wg.Add(1)
		go func(batch []PrintRecord) {
			defer wg.Done()
			batchRejected, err := s.appendChunk(ctx, batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Error("Error while inserting print records", zap.Error(err), zap.Int("size", len(batch)))
				for _, record := range batch {
					rejected = append(rejected, RejectedRecord{Record: record, Reason: ReasonTransport})
				}
				return
			}
			rejected = append(rejected, batchRejected...)
		}(batch)
	}
	wg.Wait()
	return rejected
}

func (s *EventStore) appendChunk(ctx context.Context, batch []PrintRecord) ([]RejectedRecord, error) {
	result, err := s.cb.Execute(func() (interface{}, error) {
		var sb strings.Builder
		sb.WriteString(`INSERT INTO print_events
        (gtin, event_time, batch_id, request_id, measure_value, version)
        VALUES `)
		args := make([]interface{}, 0, len(batch)*6)
		for i, record := range batch {
			if i > 0 {
				sb.WriteString(", ")
			}
			base := i * 6
			fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)",
				base+1, base+2, base+3, base+4, base+5, base+6)
			var requestID sql.NullString
			if record.RequestID != "" {
				requestID = sql.NullString{String: record.RequestID, Valid: true}
			}
			args = append(args, record.GTIN, record.Time, record.BatchID, requestID, record.Count, record.Version)
		}
		sb.WriteString(` ON CONFLICT (gtin, event_time) DO UPDATE
        SET batch_id = EXCLUDED.batch_id,
            request_id = EXCLUDED.request_id,
            measure_value = EXCLUDED.measure_value,
            version = EXCLUDED.version
        WHERE print_events.version < EXCLUDED.version
        RETURNING gtin, event_time`)

		rows, err := s.db.QueryContext(ctx, sb.String(), args...)
		if err != nil {
			return nil, fmt.Errorf("insert print records: %w", err)
		}
		defer rows.Close()

		applied := make(map[string]bool, len(batch))
		for rows.Next() {
			var gtin string
			var eventTime int64
			if err := rows.Scan(&gtin, &eventTime); err != nil {
				return nil, fmt.Errorf("scan applied print record: %w", err)
			}
			applied[eventKey(gtin, eventTime)] = true
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate applied print records: %w", err)
		}

		var rejected []RejectedRecord
		for _, record := range batch {
			if !applied[eventKey(record.GTIN, record.Time)] {
				rejected = append(rejected, RejectedRecord{Record: record, Reason: ReasonHigherVersion})
			}
		}
		return rejected, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]RejectedRecord), nil
}

func eventKey(gtin string, eventTime int64) string {
	return fmt.Sprintf("%s#%d", gtin, eventTime)
}

// CountEvents sums the recorded print measure for a gtin.
func (s *EventStore) CountEvents(ctx context.Context, gtin string) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
        SELECT SUM(measure_value) FROM print_events WHERE gtin = $1
    `, gtin).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count print events: %w", err)
	}
	return total.Int64, nil
}
