package observability

import (
	"net/http"
	"time"
)

// MetricsMiddleware records codeexec_requests_total and
// codeexec_request_duration_seconds per request. The route label is the
// ServeMux pattern, so next has to be the mux itself.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		RequestsTotal.WithLabelValues(r.Method, statusClass(rec.code()), route).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
	})
}

func statusClass(code int) string {
	return string(rune('0'+code/100)) + "xx"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

// Flush is needed by the MCP streamable transport.
func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
