package uploads

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/JaimeStill/rxflow/pkg/pagination"
)

type memoryEntry struct {
	status    Status
	version   int64
	errors    []RecordError
	conflicts int
}

// MemoryStore is an in-process Store. It honours the same version
// semantics as the PostgreSQL store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
	updates int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// InjectConflicts makes the next n updates for id lose their race: the
// stored version advances as if another writer got there first.
func (m *MemoryStore) InjectConflicts(id string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		e.conflicts = n
	}
}

// Updates returns how many Update calls the store has received.
func (m *MemoryStore) Updates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

func (m *MemoryStore) Create(_ context.Context, s Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[s.UploadID]; ok {
		return ErrDuplicate
	}

	now := m.now()
	s.CreatedAt, s.UpdatedAt = now, now
	m.entries[s.UploadID] = &memoryEntry{
		status:  s,
		version: 1,
		errors:  slices.Clone(s.Errors),
	}
	m.entries[s.UploadID].status.Errors = nil
	return nil
}

func (m *MemoryStore) Find(_ context.Context, id string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return Snapshot{Status: e.status, Version: e.version}, nil
}

func (m *MemoryStore) Update(_ context.Context, next Status, expected int64, errs []RecordError) (WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++

	e, ok := m.entries[next.UploadID]
	if !ok {
		return Conflict, ErrNotFound
	}

	if e.conflicts > 0 {
		e.conflicts--
		e.version++
		return Conflict, nil
	}
	if e.version != expected {
		return Conflict, nil
	}

	next.Errors = nil
	next.CreatedAt = e.status.CreatedAt
	next.UpdatedAt = m.now()
	e.status = next
	e.version++
	e.errors = append(e.errors, errs...)
	return Written, nil
}

func (m *MemoryStore) OpenErrors(_ context.Context, id string, pageSize int) (ErrorCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &memoryCursor{errors: slices.Clone(e.errors), pageSize: max(pageSize, 1)}, nil
}

func (m *MemoryStore) ListErrors(_ context.Context, id string, page pagination.PageRequest) ([]RecordError, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, 0, ErrNotFound
	}

	all := slices.Clone(e.errors)
	for i := len(page.Sort) - 1; i >= 0; i-- {
		f := page.Sort[i]
		slices.SortStableFunc(all, func(a, b RecordError) int {
			c := compareField(a, b, f.Field)
			if f.Descending {
				return -c
			}
			return c
		})
	}

	start := min(page.Offset(), len(all))
	end := min(start+page.PageSize, len(all))
	return all[start:end], len(all), nil
}

func compareField(a, b RecordError, field string) int {
	switch field {
	case "line":
		return cmp.Compare(a.Line, b.Line)
	case "field":
		return cmp.Compare(a.Field, b.Field)
	case "message":
		return cmp.Compare(a.Message, b.Message)
	case "value":
		return cmp.Compare(a.Value, b.Value)
	default:
		return 0
	}
}

type memoryCursor struct {
	errors   []RecordError
	pageSize int
	pos      int
	closed   bool
}

func (c *memoryCursor) Next(_ context.Context) ([]RecordError, error) {
	if c.closed {
		return nil, errCursorClosed
	}
	end := min(c.pos+c.pageSize, len(c.errors))
	page := c.errors[c.pos:end]
	c.pos = end
	return page, nil
}

func (c *memoryCursor) Close() error {
	c.closed = true
	return nil
}
