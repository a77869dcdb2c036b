// Package ingest streams uploaded CSV files through validation and
// persistence on bounded background workers.
package ingest

import "fmt"

// Job is the unit of work handed to a worker.
type Job struct {
	UploadID  string `json:"upload_id"`
	FilePath  string `json:"file_path"`
	BatchSize int    `json:"batch_size"`
}

// Validate reports whether the job can be run.
func (j Job) Validate() error {
	switch {
	case j.UploadID == "":
		return fmt.Errorf("%w: upload_id is required", ErrInvalidJob)
	case j.FilePath == "":
		return fmt.Errorf("%w: file_path is required", ErrInvalidJob)
	case j.BatchSize <= 0:
		return fmt.Errorf("%w: batch_size must be positive, got %d", ErrInvalidJob, j.BatchSize)
	}
	return nil
}

// Signal is the single message a worker sends its supervisor.
type Signal struct {
	Type SignalType `json:"type"`
	Err  error      `json:"-"`
}

// SignalType is the terminal state a worker reports.
type SignalType string

const (
	SignalDone   SignalType = "done"
	SignalFailed SignalType = "failed"
)
