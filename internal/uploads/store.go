package uploads

import (
	"context"

	"github.com/JaimeStill/rxflow/pkg/pagination"
)

// WriteResult reports how a versioned write resolved.
type WriteResult int

const (
	// Written means the write applied and the version advanced.
	Written WriteResult = iota
	// Conflict means another writer advanced the version first.
	Conflict
)

func (r WriteResult) String() string {
	if r == Written {
		return "written"
	}
	return "conflict"
}

// Store persists upload statuses with optimistic concurrency.
type Store interface {
	// Create inserts a new status at version 1. Returns ErrDuplicate if the
	// id exists.
	Create(ctx context.Context, s Status) error
	// Find returns the status without errors and its current version.
	// Returns ErrNotFound for unknown ids.
	Find(ctx context.Context, id string) (Snapshot, error)
	// Update writes next and appends errs only if the stored version still
	// equals expected. Returns ErrNotFound for unknown ids.
	Update(ctx context.Context, next Status, expected int64, errs []RecordError) (WriteResult, error)
	// OpenErrors returns a cursor over the upload's errors in append order.
	OpenErrors(ctx context.Context, id string, pageSize int) (ErrorCursor, error)
	// ListErrors returns one page of errors and the total error count.
	ListErrors(ctx context.Context, id string, page pagination.PageRequest) ([]RecordError, int, error)
}

// ErrorCursor pages through an upload's errors. Callers must Close it.
type ErrorCursor interface {
	// Next returns the next page, or an empty page once exhausted.
	Next(ctx context.Context) ([]RecordError, error)
	Close() error
}
