package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// Row is one data row keyed by header column, with its 1-based source line.
type Row struct {
	Line   int
	Values map[string]string
}

// BatchReader pulls rows from a CSV stream in batches. The first row is the
// header. Nothing is read ahead of the batch being returned.
type BatchReader struct {
	csv    *csv.Reader
	header []string
	size   int
	done   bool
}

// NewBatchReader returns a reader yielding at most size rows per batch.
func NewBatchReader(r io.Reader, size int) *BatchReader {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		br.Discard(len(byteOrderMark))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1

	return &BatchReader{csv: cr, size: max(size, 1)}
}

// Next returns the next batch. It returns io.EOF once the stream is
// exhausted, and an error wrapping ErrCorruptStream on malformed input.
func (b *BatchReader) Next() ([]Row, error) {
	if b.done {
		return nil, io.EOF
	}

	if b.header == nil {
		header, err := b.csv.Read()
		if err != nil {
			b.done = true
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, readError(err)
		}
		b.header = make([]string, len(header))
		for i, h := range header {
			b.header[i] = strings.ToLower(strings.TrimSpace(h))
		}
	}

	rows := make([]Row, 0, b.size)
	for len(rows) < b.size {
		fields, err := b.csv.Read()
		if errors.Is(err, io.EOF) {
			b.done = true
			break
		}
		if err != nil {
			b.done = true
			return nil, readError(err)
		}

		line, _ := b.csv.FieldPos(0)
		rows = append(rows, Row{Line: line, Values: b.values(fields)})
	}

	if len(rows) == 0 {
		return nil, io.EOF
	}
	return rows, nil
}

func (b *BatchReader) values(fields []string) map[string]string {
	values := make(map[string]string, len(b.header))
	for i, name := range b.header {
		if i < len(fields) {
			values[name] = fields[i]
		}
	}
	return values
}

func readError(err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return fmt.Errorf("%w: %w", ErrCorruptStream, err)
	}
	return fmt.Errorf("read csv: %w", err)
}
