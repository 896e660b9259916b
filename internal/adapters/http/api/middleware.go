package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/okian/tabulator/pkg/metrics"
)

// MetricsMiddleware records request count, latency and error class for one
// route. endpoint is the metrics label, not the path.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		durationMs := float64(time.Since(start).Microseconds()) / 1000
		status := strconv.Itoa(rec.status)
		metrics.RecordHTTPRequest(endpoint, r.Method, status)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, status, durationMs)

		class, severity, failed := errorClass(rec.status)
		if !failed {
			return
		}
		metrics.RecordErrorByEndpoint(endpoint, r.Method, class)
		metrics.RecordErrorByType(class, severity)
		metrics.RecordErrorLatency("http", class, durationMs)
	}
}

// errorClass maps a response status onto the domain error kinds. A gate or
// finalization conflict is part of normal judging flow and rates low.
func errorClass(status int) (class, severity string, failed bool) {
	switch {
	case status >= http.StatusInternalServerError:
		return "internal", "high", true
	case status == http.StatusConflict:
		return "conflict", "low", true
	case status == http.StatusNotFound:
		return "not_found", "medium", true
	case status == http.StatusBadRequest:
		return "validation", "medium", true
	case status >= http.StatusBadRequest:
		return "client", "medium", true
	default:
		return "", "", false
	}
}

// statusRecorder remembers the status written through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wrote {
		rw.status = code
		rw.wrote = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.wrote = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *statusRecorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
