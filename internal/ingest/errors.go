package ingest

import "errors"

var (
	ErrCorruptStream    = errors.New("corrupt csv stream")
	ErrInvalidJob       = errors.New("invalid job")
	ErrDispatcherClosed = errors.New("dispatcher closed")
	ErrWorkerTimeout    = errors.New("worker timed out")
	ErrWorkerPanic      = errors.New("worker panicked")
)
