package uploads_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/JaimeStill/rxflow/internal/uploads"
	"github.com/JaimeStill/rxflow/pkg/pagination"
	"github.com/JaimeStill/rxflow/pkg/routes"
	"github.com/JaimeStill/rxflow/pkg/storage"
)

type fakeScheduler struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeScheduler) Schedule(_ context.Context, uploadID, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, uploadID+"|"+path)
	return f.err
}

type fixture struct {
	agg   *uploads.Aggregator
	files storage.System
	sched *fakeScheduler
	mux   *http.ServeMux
}

func newFixture(t *testing.T, maxUploadSize int64) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		agg:   newAggregator(uploads.NewMemoryStore()),
		files: storage.NewFilesystem(t.TempDir(), logger),
		sched: &fakeScheduler{},
		mux:   http.NewServeMux(),
	}

	h := uploads.NewHandler(f.agg, f.files, f.sched, logger,
		pagination.Config{DefaultPageSize: 20, MaxPageSize: 100}, maxUploadSize)
	routes.Register(f.mux, h.Routes())
	return f
}

func multipartBody(t *testing.T, field, filename, contentType, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)

	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("CreatePart() error = %v", err)
	}
	part.Write([]byte(content))
	mw.Close()
	return &buf, mw.FormDataContentType()
}

const sampleCSV = "id,date,patient_cpf,doctor_crm,doctor_uf,controlled,medication,dosage,frequency,duration,notes\n" +
	"1,2024-01-10,52998224725,123456,SP,False,Dipirona,500mg,6/6h,5,\n"

func TestHandlerUpload(t *testing.T) {
	f := newFixture(t, 1<<20)

	body, ct := multipartBody(t, "file", "rx.csv", "text/csv", sampleCSV)
	req := httptest.NewRequest("POST", "/uploads", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var status uploads.Status
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != uploads.StatePending || status.UploadID == "" {
		t.Errorf("status = %+v, want pending with id", status)
	}
	if status.Errors == nil {
		t.Error("errors = null, want []")
	}

	if len(f.sched.calls) != 1 || f.sched.calls[0] != status.UploadID+"|"+uploads.StorageKey(status.UploadID) {
		t.Errorf("scheduler calls = %v", f.sched.calls)
	}

	rc, err := f.files.Download(context.Background(), uploads.StorageKey(status.UploadID))
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	stored, _ := io.ReadAll(rc)
	rc.Close()
	if string(stored) != sampleCSV {
		t.Errorf("stored file = %q", stored)
	}
}

func TestHandlerUploadRejects(t *testing.T) {
	tests := []struct {
		name        string
		field       string
		filename    string
		contentType string
		content     string
		maxSize     int64
		wantStatus  int
	}{
		{"not csv", "file", "report.pdf", "application/pdf", "%PDF", 1 << 20, http.StatusBadRequest},
		{"wrong field", "document", "rx.csv", "text/csv", sampleCSV, 1 << 20, http.StatusBadRequest},
		{"csv by extension", "file", "RX.CSV", "application/octet-stream", sampleCSV, 1 << 20, http.StatusCreated},
		{"too large", "file", "rx.csv", "text/csv", strings.Repeat(sampleCSV, 200), 1024, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.maxSize)
			body, ct := multipartBody(t, tt.field, tt.filename, tt.contentType, tt.content)
			req := httptest.NewRequest("POST", "/uploads", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			f.mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestHandlerUploadNotMultipart(t *testing.T) {
	f := newFixture(t, 1<<20)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest("POST", "/uploads", strings.NewReader("id\n1\n")))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandlerUploadScheduleFailure(t *testing.T) {
	f := newFixture(t, 1<<20)
	f.sched.err = errors.New("dispatcher closed")

	body, ct := multipartBody(t, "file", "rx.csv", "text/csv", sampleCSV)
	req := httptest.NewRequest("POST", "/uploads", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	id := strings.SplitN(f.sched.calls[0], "|", 2)[0]
	status, err := f.agg.Get(context.Background(), id, false)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if status.Status != uploads.StateFailed {
		t.Errorf("status = %s, want failed", status.Status)
	}
}

func TestHandlerFind(t *testing.T) {
	f := newFixture(t, 1<<20)
	ctx := context.Background()
	f.agg.Register(ctx, "u1")
	f.agg.MergeBatch(ctx, "u1", uploads.Batch{Processed: 2, Valid: 1, Errors: recordErrors(3)})

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantErrors int
	}{
		{"without errors", "/uploads/u1", http.StatusOK, 0},
		{"with errors", "/uploads/u1?include_errors=true", http.StatusOK, 1},
		{"unknown", "/uploads/nope", http.StatusNotFound, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			f.mux.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				var body map[string]string
				json.NewDecoder(rec.Body).Decode(&body)
				if body["error"] != "upload: nope - does not exist" {
					t.Errorf("error = %q", body["error"])
				}
				return
			}

			var status uploads.Status
			if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(status.Errors) != tt.wantErrors {
				t.Errorf("len(errors) = %d, want %d", len(status.Errors), tt.wantErrors)
			}
		})
	}
}

func TestHandlerErrors(t *testing.T) {
	f := newFixture(t, 1<<20)
	ctx := context.Background()
	f.agg.Register(ctx, "u1")
	f.agg.MergeBatch(ctx, "u1", uploads.Batch{Processed: 3, Errors: recordErrors(2, 3, 4)})

	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest("GET", "/uploads/u1/errors?page=2&page_size=2", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var result pagination.PageResult[uploads.RecordError]
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Total != 3 || len(result.Data) != 1 || result.Data[0].Line != 4 {
		t.Errorf("result = %+v", result)
	}

	rec = httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest("GET", "/uploads/nope/errors", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown status = %d, want 404", rec.Code)
	}
}
