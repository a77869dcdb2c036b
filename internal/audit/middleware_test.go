package audit_test

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/JaimeStill/rxflow/internal/audit"
)

type memoryRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (m *memoryRecorder) Submit(e audit.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name         string
		method       string
		path         string
		forwarded    string
		wantResource string
		wantOutcome  audit.Outcome
		wantOrigin   string
	}{
		{"matched", "GET", "/uploads/abc", "", "GET - /api/uploads/{id}", audit.OutcomeSuccess, "192.0.2.1"},
		{"not found", "GET", "/missing", "", "GET - /api/missing", audit.OutcomeError, "192.0.2.1"},
		{"client error", "POST", "/uploads", "203.0.113.9, 10.0.0.1", "POST - /api/uploads", audit.OutcomeError, "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("GET /uploads/{id}", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			mux.HandleFunc("POST /uploads", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
			})

			rec := &memoryRecorder{}
			handler := audit.Middleware(rec, "/api")(mux)

			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if len(rec.events) != 1 {
				t.Fatalf("recorded %d events, want 1", len(rec.events))
			}
			e := rec.events[0]
			if e.Category != audit.CategoryRequest || e.Resource != tt.wantResource ||
				e.Outcome != tt.wantOutcome || e.Origin != tt.wantOrigin {
				t.Errorf("event = %+v", e)
			}
			if e.ID == "" {
				t.Error("event id is empty")
			}
		})
	}
}

func TestOrigin(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"host port", "198.51.100.4:5555", "", "198.51.100.4"},
		{"no port", "198.51.100.4", "", "198.51.100.4"},
		{"forwarded", "10.0.0.1:80", " 203.0.113.7 ", "203.0.113.7"},
		{"empty", "", "", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := audit.Origin(req); got != tt.want {
				t.Errorf("Origin() = %q, want %q", got, tt.want)
			}
		})
	}
}
