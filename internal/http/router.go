package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/eink-dashboard/internal/observability"
)

// RouterConfig holds the per-route protections for the dashboard.
type RouterConfig struct {
	RequestTimeout time.Duration
	// Limiter is nil when rate limiting is disabled.
	Limiter *rate.Limiter
}

// NewRouter wires the dashboard on "/" and "/api" (any method), /health and /metrics.
func NewRouter(h *Handler, logger *zap.Logger, rc RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.NotFoundHandler = http.HandlerFunc(NotFound)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	var dashboard http.Handler = http.HandlerFunc(h.GetDashboard)
	if rc.RequestTimeout > 0 {
		dashboard = TimeoutMiddleware(rc.RequestTimeout)(dashboard)
	}
	dashboard = RateLimitMiddleware(rc.Limiter)(dashboard)
	router.Handle("/", dashboard)
	router.Handle("/api", dashboard)
	return router
}
