package store

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS labels (
        gtin        TEXT        NOT NULL,
        serial      TEXT        NOT NULL,
        brand_id    TEXT        NOT NULL,
        created_by  TEXT        NOT NULL,
        request_id  TEXT,
        printed     BOOLEAN     NOT NULL DEFAULT FALSE,
        confirmed   BOOLEAN     NOT NULL DEFAULT FALSE,
        created_at  TIMESTAMPTZ NOT NULL,
        printed_at  TIMESTAMPTZ,
        expires_at  TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (gtin, serial)
    )`,
	`CREATE TABLE IF NOT EXISTS print_events (
        gtin          TEXT   NOT NULL,
        event_time    BIGINT NOT NULL,
        batch_id      TEXT   NOT NULL,
        request_id    TEXT,
        measure_name  TEXT   NOT NULL DEFAULT 'label_printed',
        measure_value BIGINT NOT NULL,
        version       BIGINT NOT NULL DEFAULT 1,
        PRIMARY KEY (gtin, event_time)
    )`,
	`CREATE TABLE IF NOT EXISTS print_request_batches (
        request_id  TEXT    NOT NULL,
        batch_index INT     NOT NULL,
        sub         TEXT    NOT NULL,
        gtin        TEXT    NOT NULL,
        brand_id    TEXT    NOT NULL,
        printer_id  TEXT,
        amount      INT     NOT NULL,
        complete    BOOLEAN NOT NULL DEFAULT FALSE,
        updated_at  TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (request_id, batch_index)
    )`,
}

// EnsureSchema creates the pipeline tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
