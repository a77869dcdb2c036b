package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/JaimeStill/rxflow/pkg/formatting"
	"github.com/JaimeStill/rxflow/pkg/handlers"
	"github.com/JaimeStill/rxflow/pkg/pagination"
	"github.com/JaimeStill/rxflow/pkg/routes"
	"github.com/JaimeStill/rxflow/pkg/storage"
)

// Scheduler hands a stored upload to background ingestion. Schedule blocks
// until a worker slot is available or ctx ends.
type Scheduler interface {
	Schedule(ctx context.Context, uploadID, path string) error
}

// Handler provides HTTP endpoints for upload operations.
type Handler struct {
	sys           System
	files         storage.System
	scheduler     Scheduler
	logger        *slog.Logger
	pagination    pagination.Config
	maxUploadSize int64
}

// NewHandler creates a Handler that stores files in files and queues them on scheduler.
func NewHandler(
	sys System,
	files storage.System,
	scheduler Scheduler,
	logger *slog.Logger,
	pagination pagination.Config,
	maxUploadSize int64,
) *Handler {
	return &Handler{
		sys:           sys,
		files:         files,
		scheduler:     scheduler,
		logger:        logger.With("handler", "uploads"),
		pagination:    pagination,
		maxUploadSize: maxUploadSize,
	}
}

// Routes returns the route group definition for upload endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/uploads",
		Routes: []routes.Route{
			{Method: "POST", Pattern: "", Handler: h.Upload},
			{Method: "GET", Pattern: "/{id}", Handler: h.Find},
			{Method: "GET", Pattern: "/{id}/errors", Handler: h.Errors},
		},
	}
}

// Upload streams the multipart "file" part to storage, registers a pending
// status, and waits for a worker slot before answering 201.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	part, err := filePart(r)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	defer part.Close()

	id := uuid.NewString()
	key := StorageKey(id)

	if err := h.files.Upload(r.Context(), key, part, "text/csv"); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = fmt.Errorf("%w (%s)", ErrFileTooLarge, formatting.FormatBytes(tooLarge.Limit, 0))
			handlers.RespondError(w, h.logger, http.StatusRequestEntityTooLarge, err)
			return
		}
		handlers.RespondError(w, h.logger, storage.MapHTTPStatus(err), err)
		return
	}

	status, err := h.sys.Register(r.Context(), id)
	if err != nil {
		h.discard(key)
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	if err := h.scheduler.Schedule(r.Context(), id, key); err != nil {
		if ferr := h.sys.Finalize(context.WithoutCancel(r.Context()), id, StateFailed); ferr != nil {
			h.logger.Error("finalize unscheduled upload failed", "upload_id", id, "error", ferr)
		}
		handlers.RespondError(w, h.logger, http.StatusServiceUnavailable, fmt.Errorf("schedule upload %s: %w", id, err))
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, status)
}

// Find returns the status of one upload. Errors are included only with
// ?include_errors=true.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	include, _ := strconv.ParseBool(r.URL.Query().Get("include_errors"))

	status, err := h.sys.Get(r.Context(), id, include)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), notFoundMessage(id, err))
		return
	}

	handlers.RespondJSON(w, http.StatusOK, status)
}

// Errors returns one page of an upload's record errors.
func (h *Handler) Errors(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)

	result, err := h.sys.Errors(r.Context(), id, page)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), notFoundMessage(id, err))
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// StorageKey returns the blob key an upload's file is stored under.
func StorageKey(id string) string {
	return "uploads/" + id + ".csv"
}

func (h *Handler) discard(key string) {
	if err := h.files.Delete(context.Background(), key); err != nil {
		h.logger.Warn("discard stored upload failed", "key", key, "error", err)
	}
}

func notFoundMessage(id string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("upload: %s - does not exist", id)
	}
	return err
}

// filePart advances to the "file" part of a multipart body and checks it
// is a CSV by content type or extension.
func filePart(r *http.Request) (io.ReadCloser, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, ErrInvalidFile
	}

	for {
		part, err := mr.NextPart()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, ErrFileTooLarge
			}
			return nil, ErrInvalidFile
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		if !isCSV(part.Header.Get("Content-Type"), part.FileName()) {
			part.Close()
			return nil, ErrInvalidFile
		}
		return part, nil
	}
}

func isCSV(contentType, filename string) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt == "text/csv" {
		return true
	}
	return strings.EqualFold(filepath.Ext(filename), ".csv")
}
