package http

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/eink-dashboard/internal/circuitbreaker"
	"github.com/kjstillabower/eink-dashboard/internal/lifecycle"
	"github.com/kjstillabower/eink-dashboard/internal/observability"
	"github.com/kjstillabower/eink-dashboard/internal/service"
	"github.com/kjstillabower/eink-dashboard/internal/traffic"
	"github.com/kjstillabower/eink-dashboard/internal/upstream"
)

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// Breakers are reported per source; an open breaker marks the service degraded.
	Breakers []*circuitbreaker.CircuitBreaker
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	dashboard        *service.DashboardService
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(dashboard *service.DashboardService, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		dashboard:    dashboard,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// GetDashboard serves the rendered page. Any method is accepted; body and query are ignored.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	doc, err := h.dashboard.BuildPage(r.Context())
	if err != nil {
		traffic.RecordError()
		h.requestLogger(r).Error("dashboard request failed",
			zap.Error(err),
			zap.String("category", string(upstream.CategorizeError(err))))
		writeFailure(w, err)
		return
	}
	traffic.RecordSuccess()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, doc)
}

// writeFailure writes the plain-text 500 the display shows verbatim.
func writeFailure(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = io.WriteString(w, "Feil: "+err.Error())
}

// requestLogger prefers the correlation-scoped logger set by CorrelationIDMiddleware.
func (h *Handler) requestLogger(r *http.Request) *zap.Logger {
	if logger, ok := observability.ContextLogger(r.Context()); ok {
		return logger
	}
	return h.logger
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{
		upstream.SourceCalendar: "healthy",
		upstream.SourceWeather:  "healthy",
	}
	if h.healthConfig != nil {
		for _, cb := range h.healthConfig.Breakers {
			if cb != nil && cb.State() == circuitbreaker.StateOpen {
				checks[cb.Name()] = "unhealthy"
			}
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "eink-dashboard",
		"version":   "dev",
		"checks":    checks,
		"uptime":    lifecycle.Uptime().Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > circuit open > error rate > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	for _, cb := range h.healthConfig.Breakers {
		if cb != nil && cb.State() == circuitbreaker.StateOpen {
			return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open_" + cb.Name()}
		}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errors, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errors) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// NotFound answers unknown routes in the standard error format.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "NOT_FOUND", "no route for "+r.URL.Path)
}
