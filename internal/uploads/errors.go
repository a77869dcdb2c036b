package uploads

import (
	"errors"
	"net/http"
)

// Domain errors for upload status operations.
var (
	ErrNotFound     = errors.New("upload not found")
	ErrDuplicate    = errors.New("upload already registered")
	ErrConflict     = errors.New("upload status update conflict")
	ErrFinalized    = errors.New("upload status already finalized")
	ErrInvalidBatch = errors.New("invalid batch")
	ErrInvalidState = errors.New("invalid upload state")
	ErrInvalidFile  = errors.New("invalid file: expected a CSV upload in field \"file\"")
	ErrFileTooLarge = errors.New("file exceeds maximum upload size")
)

var errCursorClosed = errors.New("error cursor closed")

// MapHTTPStatus maps upload domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrConflict), errors.Is(err, ErrFinalized):
		return http.StatusConflict
	case errors.Is(err, ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidFile), errors.Is(err, ErrInvalidBatch), errors.Is(err, ErrInvalidState):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
