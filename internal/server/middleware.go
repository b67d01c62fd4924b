package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	apperrors "github.com/vnsid/vnsid/internal/errors"
	"github.com/vnsid/vnsid/internal/logger"
)

const (
	adminRate  = 20 // requests per second
	adminBurst = 40
)

var (
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vnsid_admin_http_request_duration_seconds",
		Help:    "Duration of admin HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	httpRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vnsid_admin_http_requests_in_flight",
		Help: "Number of admin HTTP requests currently being processed",
	})
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware tracks request metrics
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		// health checks and scrapes would drown the histogram
		if strings.HasPrefix(path, "/health") || strings.HasPrefix(path, "/ready") ||
			strings.HasPrefix(path, "/live") || path == s.opts.Metrics.Path {
			next.ServeHTTP(w, r)
			return
		}

		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		httpRequestDuration.WithLabelValues(r.Method, routeTemplate(r), strconv.Itoa(rw.status)).
			Observe(time.Since(start).Seconds())
	})
}

// routeTemplate keeps label cardinality bounded for unknown paths.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// rateLimiter caps the admin API request rate across all callers.
type rateLimiter struct {
	limiter *rate.Limiter
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	return &rateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.limiter.Allow() {
			logger.FromContext(r.Context()).Warn("Admin request rate limited")
			w.Header().Set("Retry-After", "1")
			apperrors.NewErrorHandler(logger.FromContext(r.Context())).HandleError(w, r,
				apperrors.New(apperrors.ErrorTypeResourceExhausted, "too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
