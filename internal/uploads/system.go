package uploads

import (
	"context"

	"github.com/JaimeStill/rxflow/pkg/pagination"
)

// System defines the public contract for upload status operations.
type System interface {
	Register(ctx context.Context, id string) (*Status, error)
	MergeBatch(ctx context.Context, id string, b Batch) error
	Finalize(ctx context.Context, id string, outcome State) error
	Get(ctx context.Context, id string, includeErrors bool) (*Status, error)
	Errors(ctx context.Context, id string, page pagination.PageRequest) (*pagination.PageResult[RecordError], error)
}

var _ System = (*Aggregator)(nil)
