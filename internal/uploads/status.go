// Package uploads tracks the processing status of uploaded prescription
// files: counters, per-record errors, and the state machine between them.
package uploads

import (
	"fmt"
	"time"
)

// State is the processing state of an upload.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether s may move to next. States only move
// forward: pending -> processing -> completed|failed, and pending may
// finish directly when a file has no data rows or fails on open.
func (s State) CanTransition(next State) bool {
	switch s {
	case StatePending:
		return next == StateProcessing || next.Terminal()
	case StateProcessing:
		return next == StateProcessing || next.Terminal()
	default:
		return false
	}
}

// RecordError is a validation failure on one source line.
type RecordError struct {
	Message string `json:"message"`
	Field   string `json:"field"`
	Line    int    `json:"line"`
	Value   string `json:"value"`
}

// Status is the aggregate processing status of one upload.
type Status struct {
	UploadID         string        `json:"upload_id"`
	Status           State         `json:"status"`
	TotalRecords     int           `json:"total_records"`
	ProcessedRecords int           `json:"processed_records"`
	ValidRecords     int           `json:"valid_records"`
	Errors           []RecordError `json:"errors"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Snapshot is a stored status and the version it was read at. Errors are
// not loaded on a snapshot.
type Snapshot struct {
	Status  Status
	Version int64
}

// Batch is the outcome of validating one batch of rows.
type Batch struct {
	Processed int
	Valid     int
	Errors    []RecordError
}

// Validate checks batch counters before they are merged.
func (b Batch) Validate() error {
	if b.Processed < 0 || b.Valid < 0 {
		return fmt.Errorf("%w: negative counters", ErrInvalidBatch)
	}
	if b.Valid > b.Processed {
		return fmt.Errorf("%w: valid %d exceeds processed %d", ErrInvalidBatch, b.Valid, b.Processed)
	}
	return nil
}

// apply returns s with b merged in.
func (s Status) apply(b Batch) Status {
	next := s
	next.Errors = nil
	next.TotalRecords += b.Processed
	next.ProcessedRecords += b.Processed
	next.ValidRecords += b.Valid
	if next.Status == StatePending {
		next.Status = StateProcessing
	}
	return next
}
