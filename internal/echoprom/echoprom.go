// Package echoprom is echo middleware recording request latency and
// status-code counts per route, for any echo.Echo this module builds
// (currently the relay-API face, spec §4.11).
//
// Adapted from a standalone echoprom package: kept the
// Skipper/MetricsPath/MetricsPort config shape and the histogram+counter
// pair, but registered against prometheus.DefaultRegisterer instead of a
// package-private Registry so these metrics land on the same /metrics
// surface as every other promauto collector in this module (internal/
// relay/api already registers its own counters against the default
// registerer; a second private registry would just split one process's
// metrics across two unscrapeable halves).
package echoprom

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weecore_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds, by route and method.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weecore_http_requests_total",
			Help: "Total HTTP requests, by route, method, and status code.",
		},
		[]string{"method", "path", "code"},
	)
)

// Config controls the middleware and its optional standalone metrics
// server.
type Config struct {
	// Skipper, if set, suppresses instrumentation for a request.
	Skipper func(c echo.Context) bool

	// MetricsPath is where the standalone server (if MetricsPort != 0)
	// exposes the registry.
	MetricsPath string

	// MetricsPort starts a second HTTP listener serving MetricsPath; 0
	// disables it (the caller's own mux can mount promhttp.Handler
	// itself instead, e.g. alongside the admin console).
	MetricsPort int
}

// DefaultConfig instruments every request, with no standalone server.
func DefaultConfig() Config {
	return Config{
		Skipper:     func(echo.Context) bool { return false },
		MetricsPath: "/metrics",
	}
}

// Middleware instruments every request with DefaultConfig.
func Middleware() echo.MiddlewareFunc {
	return MiddlewareWithConfig(DefaultConfig())
}

// MiddlewareWithConfig instruments every request per cfg, optionally
// starting a standalone metrics listener.
func MiddlewareWithConfig(cfg Config) echo.MiddlewareFunc {
	if cfg.Skipper == nil {
		cfg.Skipper = DefaultConfig().Skipper
	}
	if cfg.MetricsPort != 0 {
		go startMetricsServer(cfg)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper(c) {
				return next(c)
			}
			start := time.Now()
			path := c.Path()
			method := c.Request().Method

			err := next(c)

			requestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			requestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Response().Status)).Inc()
			return err
		}
	}
}

func startMetricsServer(cfg Config) {
	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, promhttp.Handler())
	srv := &http.Server{Addr: ":" + strconv.Itoa(cfg.MetricsPort), Handler: mux}
	metricsServers.Store(cfg.MetricsPort, srv)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		panic("echoprom: metrics server: " + err.Error())
	}
}

// ShutdownMetricsServer shuts down the standalone listener started by
// MiddlewareWithConfig, if one was configured on port.
func ShutdownMetricsServer(ctx context.Context, port int) error {
	v, ok := metricsServers.LoadAndDelete(port)
	if !ok {
		return nil
	}
	return v.(*http.Server).Shutdown(ctx)
}

// metricsServers maps a MetricsPort to the *http.Server started on it.
var metricsServers sync.Map
