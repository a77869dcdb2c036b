package uploads

import (
	"github.com/JaimeStill/rxflow/pkg/query"
	"github.com/JaimeStill/rxflow/pkg/repository"
)

var statusProjection = query.
	NewProjectionMap("public", "upload_statuses", "s").
	Project("upload_id", "upload_id").
	Project("status", "status").
	Project("total_records", "total_records").
	Project("processed_records", "processed_records").
	Project("valid_records", "valid_records").
	Project("created_at", "created_at").
	Project("updated_at", "updated_at").
	Project("version", "version")

var errorProjection = query.
	NewProjectionMap("public", "upload_errors", "e").
	Project("message", "message").
	Project("field", "field").
	Project("line", "line").
	Project("value", "value")

// errors sort in append order unless the client asks otherwise.
var errorDefaultSort = query.SortField{Field: "e.id"}

func scanSnapshot(s repository.Scanner) (Snapshot, error) {
	var snap Snapshot
	st := &snap.Status
	err := s.Scan(
		&st.UploadID,
		&st.Status,
		&st.TotalRecords,
		&st.ProcessedRecords,
		&st.ValidRecords,
		&st.CreatedAt,
		&st.UpdatedAt,
		&snap.Version,
	)
	return snap, err
}

func scanRecordError(s repository.Scanner) (RecordError, error) {
	var e RecordError
	err := s.Scan(&e.Message, &e.Field, &e.Line, &e.Value)
	return e, err
}
