package prescriptions

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/JaimeStill/rxflow/pkg/repository"
)

// Repository persists valid records.
type Repository interface {
	// SaveMany upserts records by id, tagging each with uploadID.
	SaveMany(ctx context.Context, uploadID string, records []Record) error
}

// insertChunk keeps a single statement well under the PostgreSQL limit of
// 65535 bind parameters.
const insertChunk = 1000

var insertColumns = []string{
	"id", "upload_id", "date", "patient_cpf", "doctor_crm", "doctor_uf",
	"controlled", "medication", "dosage", "frequency", "duration", "notes",
}

type repo struct {
	db *sql.DB
}

// NewRepository returns a PostgreSQL-backed Repository.
func NewRepository(db *sql.DB) Repository {
	return &repo{db: db}
}

func (r *repo) SaveMany(ctx context.Context, uploadID string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	_, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		for chunk := range slices.Chunk(dedupe(records), insertChunk) {
			q, args := buildUpsert(uploadID, chunk)
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("save %d prescriptions: %w", len(records), err)
	}
	return nil
}

func buildUpsert(uploadID string, records []Record) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO prescriptions (")
	b.WriteString(strings.Join(insertColumns, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(records)*len(insertColumns))
	for i, rec := range records {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range insertColumns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", len(args)+j+1)
		}
		b.WriteByte(')')

		args = append(args,
			rec.ID, uploadID, rec.Date, rec.PatientCPF, rec.DoctorCRM, rec.DoctorUF,
			rec.Controlled == ControlledTrue, rec.Medication, rec.Dosage, rec.Frequency,
			rec.Duration, nullable(rec.Notes),
		)
	}

	b.WriteString(" ON CONFLICT (id) DO UPDATE SET ")
	for i, col := range insertColumns[1:] {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = EXCLUDED.%s", col, col)
	}

	return b.String(), args
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// dedupe keeps the last occurrence of each id. A single upsert statement
// cannot touch the same row twice.
func dedupe(records []Record) []Record {
	seen := make(map[string]int, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if i, ok := seen[r.ID]; ok {
			out[i] = r
			continue
		}
		seen[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}

// MemoryRepository keeps records in a map keyed by id.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]Record
	uploads map[string]string
	failErr error
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[string]Record),
		uploads: make(map[string]string),
	}
}

// FailWith makes every later SaveMany return err.
func (m *MemoryRepository) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *MemoryRepository) SaveMany(_ context.Context, uploadID string, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return m.failErr
	}
	for _, r := range records {
		m.records[r.ID] = r
		m.uploads[r.ID] = uploadID
	}
	return nil
}

// Len returns the number of stored records.
func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Get returns the record stored under id and the upload that wrote it.
func (m *MemoryRepository) Get(id string) (Record, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	return r, m.uploads[id], ok
}
