package audit

import (
	"net"
	"net/http"
	"strings"

	"github.com/JaimeStill/rxflow/pkg/middleware"
)

// Middleware records one request event per call. It must sit innermost in
// a module stack so the router's matched pattern is visible; prefix is the
// module mount path used to report the full resource.
func Middleware(recorder Recorder, prefix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := middleware.NewStatusRecorder(w)
			next.ServeHTTP(rec, r)

			outcome := OutcomeSuccess
			if rec.Status() >= http.StatusBadRequest {
				outcome = OutcomeError
			}
			recorder.Submit(NewEvent(CategoryRequest, resource(r, prefix), outcome, Origin(r)))
		})
	}
}

func resource(r *http.Request, prefix string) string {
	path := r.URL.Path
	if r.Pattern != "" {
		path = r.Pattern
		if _, after, ok := strings.Cut(path, " "); ok {
			path = after
		}
	}
	return r.Method + " - " + prefix + path
}

// Origin resolves the client address from X-Forwarded-For, falling back to
// the connection's remote host.
func Origin(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
