package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fleetfuel/fleetfuel360/internal/metrics"
)

// statusRecorder captures the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Instrument wraps next with request logging and Prometheus metrics.
// Paths are normalized so per-vehicle routes do not explode label
// cardinality.
func Instrument(log *zap.Logger, next http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The alert stream hijacks the connection; wrapping its
		// ResponseWriter would break the upgrade.
		if strings.HasSuffix(r.URL.Path, "/alerts/stream") {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		path := normalizePath(r.URL.Path)
		elapsed := time.Since(start)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(elapsed.Seconds())

		log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", elapsed))
	})
}

// normalizePath collapses ID-carrying routes to their pattern.
func normalizePath(path string) string {
	const vehicles = "/api/v1/vehicles/"
	if strings.HasPrefix(path, vehicles) && path != vehicles {
		return vehicles + ":id"
	}
	return path
}
