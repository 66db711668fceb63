// Package middleware holds the HTTP middleware the miner's API is wrapped
// in: request IDs, Prometheus instrumentation, timeouts, per-client rate
// limiting and CORS.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/metrics"
)

// Metrics records request counts, latency and the in-flight gauge. Paths
// carrying a dataset name are reported under their route template.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			route := routeOf(r.URL.Path)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.Status())).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// Status is the code sent to the client; a handler that wrote nothing
// produced an implicit 200.
func (s *statusRecorder) Status() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

var datasetRoutes = []struct {
	prefix, suffix, route string
}{
	{"/api/v1/runs/", "", "/api/v1/runs/{dataset}"},
	{"/api/v1/datasets/", "/transactions", "/api/v1/datasets/{dataset}/transactions"},
}

// routeOf keeps label cardinality bounded by replacing dataset names.
func routeOf(path string) string {
	for _, dr := range datasetRoutes {
		rest, ok := strings.CutPrefix(path, dr.prefix)
		if !ok {
			continue
		}
		name, ok := strings.CutSuffix(rest, dr.suffix)
		if ok && name != "" && !strings.Contains(name, "/") {
			return dr.route
		}
	}
	return path
}
