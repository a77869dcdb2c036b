// Package audit records request and job events in size and latency bounded
// micro-batches.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Category is the kind of activity an event describes.
type Category string

const (
	CategoryRequest Category = "request"
	CategoryJob     Category = "job"
)

// Outcome is the result recorded for an event.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeError      Outcome = "error"
	OutcomeProcessing Outcome = "processing"
	OutcomeClosed     Outcome = "closed"
)

// Event is one audit entry.
type Event struct {
	ID        string    `json:"id"`
	Category  Category  `json:"category"`
	Resource  string    `json:"resource"`
	Outcome   Outcome   `json:"outcome"`
	Origin    string    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent returns an Event with a fresh id. The timestamp is stamped by
// the batcher on submission.
func NewEvent(category Category, resource string, outcome Outcome, origin string) Event {
	return Event{
		ID:       uuid.NewString(),
		Category: category,
		Resource: resource,
		Outcome:  outcome,
		Origin:   origin,
	}
}

// Sink durably writes a batch of events.
type Sink interface {
	Write(ctx context.Context, events []Event) error
}

// Recorder accepts events without blocking on durability.
type Recorder interface {
	Submit(e Event)
}
