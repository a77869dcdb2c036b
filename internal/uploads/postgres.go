package uploads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/JaimeStill/rxflow/pkg/pagination"
	"github.com/JaimeStill/rxflow/pkg/query"
	"github.com/JaimeStill/rxflow/pkg/repository"
)

// errorInsertChunk bounds rows per INSERT (5 parameters each).
const errorInsertChunk = 2000

type postgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a Store backed by the upload_statuses and
// upload_errors tables.
func NewPostgresStore(db *sql.DB) Store {
	return &postgresStore{db: db}
}

func (p *postgresStore) Create(ctx context.Context, s Status) error {
	const q = `
		INSERT INTO upload_statuses
			(upload_id, status, total_records, processed_records, valid_records, version)
		VALUES ($1, $2, $3, $4, $5, 1)`

	_, err := p.db.ExecContext(ctx, q,
		s.UploadID, s.Status, s.TotalRecords, s.ProcessedRecords, s.ValidRecords,
	)
	if err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return nil
}

func (p *postgresStore) Find(ctx context.Context, id string) (Snapshot, error) {
	q, args := query.NewBuilder(statusProjection).WhereEquals("upload_id", id).Build()

	snap, err := repository.QueryOne(ctx, p.db, q, args, scanSnapshot)
	if err != nil {
		return Snapshot{}, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return snap, nil
}

func (p *postgresStore) Update(ctx context.Context, next Status, expected int64, errs []RecordError) (WriteResult, error) {
	const q = `
		UPDATE upload_statuses SET
			status = $2,
			total_records = $3,
			processed_records = $4,
			valid_records = $5,
			version = version + 1,
			updated_at = NOW()
		WHERE upload_id = $1 AND version = $6`

	result, err := repository.WithTx(ctx, p.db, func(tx *sql.Tx) (WriteResult, error) {
		err := repository.ExecExpectOne(ctx, tx, q,
			next.UploadID, next.Status, next.TotalRecords, next.ProcessedRecords, next.ValidRecords, expected,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return p.missOrConflict(ctx, tx, next.UploadID)
		}
		if err != nil {
			return Conflict, fmt.Errorf("update status %s: %w", next.UploadID, err)
		}

		if err := insertErrors(ctx, tx, next.UploadID, errs); err != nil {
			return Conflict, fmt.Errorf("append errors %s: %w", next.UploadID, err)
		}
		return Written, nil
	})
	if err != nil {
		if repository.IsTransient(err) {
			return Conflict, nil
		}
		return Conflict, err
	}
	return result, nil
}

// missOrConflict distinguishes an unknown id from a stale version after an
// update matched no rows.
func (p *postgresStore) missOrConflict(ctx context.Context, tx *sql.Tx, id string) (WriteResult, error) {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM upload_statuses WHERE upload_id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return Conflict, fmt.Errorf("check status %s: %w", id, err)
	}
	if !exists {
		return Conflict, ErrNotFound
	}
	return Conflict, nil
}

func insertErrors(ctx context.Context, tx *sql.Tx, uploadID string, errs []RecordError) error {
	for start := 0; start < len(errs); start += errorInsertChunk {
		chunk := errs[start:min(start+errorInsertChunk, len(errs))]

		var b strings.Builder
		b.WriteString("INSERT INTO upload_errors (upload_id, line, field, message, value) VALUES ")
		args := make([]any, 0, len(chunk)*5)
		for i, e := range chunk {
			if i > 0 {
				b.WriteString(", ")
			}
			n := len(args)
			fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5)
			args = append(args, uploadID, e.Line, e.Field, e.Message, e.Value)
		}

		if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
			return err
		}
	}
	return nil
}

func (p *postgresStore) OpenErrors(ctx context.Context, id string, pageSize int) (ErrorCursor, error) {
	if _, err := p.Find(ctx, id); err != nil {
		return nil, err
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin error cursor: %w", err)
	}

	q, args := query.NewBuilder(errorProjection, errorDefaultSort).WhereEquals("e.upload_id", id).Build()
	if _, err := tx.ExecContext(ctx, "DECLARE upload_errors_cursor NO SCROLL CURSOR FOR "+q, args...); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("declare error cursor: %w", err)
	}

	return &postgresCursor{tx: tx, pageSize: max(pageSize, 1)}, nil
}

func (p *postgresStore) ListErrors(ctx context.Context, id string, page pagination.PageRequest) ([]RecordError, int, error) {
	if _, err := p.Find(ctx, id); err != nil {
		return nil, 0, err
	}

	qb := query.NewBuilder(errorProjection, errorDefaultSort).WhereEquals("e.upload_id", id)
	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count errors: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	errs, err := repository.QueryMany(ctx, p.db, pageSQL, pageArgs, scanRecordError)
	if err != nil {
		return nil, 0, fmt.Errorf("query errors: %w", err)
	}
	return errs, total, nil
}

// postgresCursor holds a read-only transaction open for the lifetime of a
// server-side cursor.
type postgresCursor struct {
	tx       *sql.Tx
	pageSize int
	closed   bool
}

func (c *postgresCursor) Next(ctx context.Context) ([]RecordError, error) {
	if c.closed {
		return nil, errCursorClosed
	}
	q := fmt.Sprintf("FETCH FORWARD %d FROM upload_errors_cursor", c.pageSize)
	errs, err := repository.QueryMany(ctx, c.tx, q, nil, scanRecordError)
	if err != nil {
		return nil, fmt.Errorf("fetch errors: %w", err)
	}
	return errs, nil
}

func (c *postgresCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	if _, err := c.tx.Exec("CLOSE upload_errors_cursor"); err != nil {
		c.tx.Rollback()
		return fmt.Errorf("close error cursor: %w", err)
	}
	return c.tx.Commit()
}
