package store

import (
	"time"
)

// Serial identifies one physical label and carries everything needed to
// write or re-write its record. It is the per-store retry unit carried in
// dead-letter envelopes.
type Serial struct {
	BrandID   string `json:"brand_id"`
	GTIN      string `json:"gtin"`
	Serial    string `json:"serial"`
	Sub       string `json:"sub"`
	RequestID string `json:"request_id,omitempty"`
}

// PrintRequest describes one sub-batch of a bulk create-confirmed job.
type PrintRequest struct {
	Sub        string `json:"sub"`
	GTIN       string `json:"gtin"`
	Amount     int    `json:"amount"`
	BrandID    string `json:"brand_id"`
	PrinterID  string `json:"printer_id"`
	RequestID  string `json:"request_id"`
	BatchIndex int    `json:"batch_index"`
}

type Label struct {
	GTIN      string
	Serial    string
	BrandID   string
	CreatedBy string
	RequestID *string
	Printed   bool
	Confirmed bool
	CreatedAt time.Time
	PrintedAt *time.Time
	ExpiresAt time.Time
}

// PrintRecord is one time-series data point: how many labels were printed
// for a gtin at a given instant.
type PrintRecord struct {
	GTIN      string `json:"gtin"`
	BatchID   string `json:"batch_id"`
	RequestID string `json:"request_id,omitempty"`
	Count     int64  `json:"count"`
	Version   int64  `json:"version"`
	Time      int64  `json:"time"` // unix milliseconds
}

type RejectReason string

const (
	// ReasonHigherVersion means a record with the same dimensions and time
	// already exists at an equal or higher version. Superseded data, not a
	// failure.
	ReasonHigherVersion RejectReason = "higher-version-required"
	// ReasonTransport means the write never reached the store.
	ReasonTransport RejectReason = "transport"
)

type RejectedRecord struct {
	Record PrintRecord  `json:"record"`
	Reason RejectReason `json:"reason"`
}

// RetryableRejected extracts the records worth retrying from a rejection
// list. Higher-version rejections mean an equal or newer record already
// landed; they are dropped from the unprocessed set and never alerted.
func RetryableRejected(rejected []RejectedRecord) []PrintRecord {
	var records []PrintRecord
	for _, r := range rejected {
		if r.Reason == ReasonHigherVersion {
			continue
		}
		records = append(records, r.Record)
	}
	return records
}

// chunk splits items into sub-batches of at most size elements.
func chunk[T any](items []T, size int) [][]T {
	var batches [][]T
	for size < len(items) {
		items, batches = items[size:], append(batches, items[0:size:size])
	}
	if len(items) > 0 {
		batches = append(batches, items)
	}
	return batches
}
