package ingest_test

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/JaimeStill/rxflow/internal/ingest"
)

func readAll(t *testing.T, r *ingest.BatchReader) ([][]ingest.Row, error) {
	t.Helper()
	var batches [][]ingest.Row
	for {
		rows, err := r.Next()
		if errors.Is(err, io.EOF) {
			return batches, nil
		}
		if err != nil {
			return batches, err
		}
		batches = append(batches, rows)
	}
}

func TestBatchReaderSizes(t *testing.T) {
	var b strings.Builder
	b.WriteString("id,duration\n")
	for i := range 7 {
		b.WriteString(string(rune('a'+i)) + ",5\n")
	}

	batches, err := readAll(t, ingest.NewBatchReader(strings.NewReader(b.String()), 3))
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	sizes := make([]int, len(batches))
	for i, batch := range batches {
		sizes[i] = len(batch)
	}
	if len(sizes) != 3 || sizes[0] != 3 || sizes[1] != 3 || sizes[2] != 1 {
		t.Errorf("batch sizes = %v, want [3 3 1]", sizes)
	}
	if batches[0][0].Line != 2 || batches[2][0].Line != 8 {
		t.Errorf("lines = %d..%d, want 2..8", batches[0][0].Line, batches[2][0].Line)
	}
}

func TestBatchReaderEmpty(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"zero bytes", ""},
		{"header only", "id,duration\n"},
		{"bom and header", "\xEF\xBB\xBFid,duration\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ingest.NewBatchReader(strings.NewReader(tt.input), 10)
			if _, err := r.Next(); !errors.Is(err, io.EOF) {
				t.Errorf("Next() error = %v, want io.EOF", err)
			}
			if _, err := r.Next(); !errors.Is(err, io.EOF) {
				t.Errorf("second Next() error = %v, want io.EOF", err)
			}
		})
	}
}

func TestBatchReaderHeaderMapping(t *testing.T) {
	input := "\xEF\xBB\xBF ID ,Duration,notes\n1,5\n2,7,x,extra\n"
	rows, err := ingest.NewBatchReader(strings.NewReader(input), 10).Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}

	if rows[0].Values["id"] != "1" || rows[0].Values["duration"] != "5" {
		t.Errorf("row 1 = %v", rows[0].Values)
	}
	if _, ok := rows[0].Values["notes"]; ok {
		t.Errorf("short row has notes = %q, want absent", rows[0].Values["notes"])
	}
	if rows[1].Values["notes"] != "x" || len(rows[1].Values) != 3 {
		t.Errorf("long row = %v", rows[1].Values)
	}
}

func TestBatchReaderMultilineLines(t *testing.T) {
	input := "id,notes\n1,\"first\nsecond\"\n2,plain\n"
	rows, err := ingest.NewBatchReader(strings.NewReader(input), 10).Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if rows[0].Line != 2 || rows[1].Line != 4 {
		t.Errorf("lines = %d, %d, want 2, 4", rows[0].Line, rows[1].Line)
	}
}

func TestBatchReaderCorrupt(t *testing.T) {
	input := "id,notes\n1,ok\n2,\"unterminated\n"
	r := ingest.NewBatchReader(strings.NewReader(input), 1)

	if _, err := r.Next(); err != nil {
		t.Fatalf("first Next() error = %v", err)
	}
	if _, err := r.Next(); !errors.Is(err, ingest.ErrCorruptStream) {
		t.Fatalf("Next() error = %v, want ErrCorruptStream", err)
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() after corruption error = %v, want io.EOF", err)
	}
}

func TestBatchReaderReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := ingest.NewBatchReader(io.MultiReader(strings.NewReader("id\n1\n"), errReader{boom}), 10)

	_, err := r.Next()
	if !errors.Is(err, boom) {
		t.Fatalf("Next() error = %v, want %v", err, boom)
	}
	if errors.Is(err, ingest.ErrCorruptStream) {
		t.Error("read failure reported as corrupt stream")
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
