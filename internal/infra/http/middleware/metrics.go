package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/deplai/api/internal/metrics"
)

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (mrw *metricsResponseWriter) WriteHeader(code int) {
	mrw.statusCode = code
	mrw.ResponseWriter.WriteHeader(code)
}

// Metrics returns the Prometheus metrics middleware.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip metrics endpoint itself
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			metrics.HTTPRequestsInFlight.Inc()

			mrw := &metricsResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(mrw, r)

			duration := time.Since(start).Seconds()
			metrics.HTTPRequestsInFlight.Dec()

			// Normalize path for metrics (replace IDs with placeholder)
			path := normalizePath(r.URL.Path)

			metrics.HTTPRequestsTotal.WithLabelValues(
				r.Method,
				path,
				strconv.Itoa(mrw.statusCode),
			).Inc()

			metrics.HTTPRequestDuration.WithLabelValues(
				r.Method,
				path,
			).Observe(duration)
		})
	}
}

// normalizePath replaces dynamic path segments with placeholders.
// This prevents high cardinality in metrics labels.
func normalizePath(path string) string {
	segments := make([]byte, 0, len(path))
	i := 0
	for i < len(path) {
		if path[i] == '/' {
			segments = append(segments, '/')
			i++
			start := i
			for i < len(path) && path[i] != '/' {
				i++
			}
			segment := path[start:i]
			if isID(segment) {
				segments = append(segments, "{id}"...)
			} else {
				segments = append(segments, segment...)
			}
		} else {
			segments = append(segments, path[i])
			i++
		}
	}
	return string(segments)
}

// isID checks if a string looks like an ID (UUID or numeric).
func isID(s string) bool {
	if len(s) == 0 {
		return false
	}

	// UUID pattern (36 chars with dashes)
	if len(s) == 36 {
		dashes := 0
		for _, c := range s {
			if c == '-' {
				dashes++
			} else if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
				return false
			}
		}
		if dashes == 4 {
			return true
		}
	}

	// Numeric ID
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0 && len(s) <= 20
}
