// Package app wires configuration into the dashboard components shared by the
// long-running service and the serverless function.
package app

import (
	"context"
	"errors"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/eink-dashboard/internal/calendar"
	"github.com/kjstillabower/eink-dashboard/internal/circuitbreaker"
	"github.com/kjstillabower/eink-dashboard/internal/client"
	"github.com/kjstillabower/eink-dashboard/internal/config"
	httphandler "github.com/kjstillabower/eink-dashboard/internal/http"
	"github.com/kjstillabower/eink-dashboard/internal/observability"
	"github.com/kjstillabower/eink-dashboard/internal/render"
	"github.com/kjstillabower/eink-dashboard/internal/service"
	"github.com/kjstillabower/eink-dashboard/internal/traffic"
	"github.com/kjstillabower/eink-dashboard/internal/upstream"
)

type App struct {
	Calendar  *calendar.Fetcher
	Weather   *client.METClient
	Dashboard *service.DashboardService
	Handler   *httphandler.Handler
	Router    *mux.Router
	Breakers  []*circuitbreaker.CircuitBreaker
}

// New builds every component from cfg. It does not contact any upstream.
func New(cfg *config.Config, logger *zap.Logger) *App {
	calendarHTTP := upstream.NewClient(upstream.SourceCalendar, cfg.UserAgent(), cfg.CalendarTimeout)
	weatherHTTP := upstream.NewClient(upstream.SourceWeather, cfg.UserAgent(), cfg.WeatherAPITimeout)

	a := &App{}
	if cfg.CircuitBreakerEnabled {
		for _, c := range []*upstream.Client{calendarHTTP, weatherHTTP} {
			cb := newBreaker(cfg, c.Source())
			c.SetCircuitBreaker(cb)
			a.Breakers = append(a.Breakers, cb)
		}
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	a.Calendar = calendar.NewFetcher(calendarHTTP, cfg.ICSURL, cfg.Location, cfg.ExpandRecurring)
	a.Weather = client.NewMETClient(weatherHTTP, cfg.WeatherAPIURL, cfg.Latitude, cfg.Longitude)
	a.Dashboard = service.NewDashboardService(a.Calendar, a.Weather, render.NewRenderer(cfg.StylesheetURL))

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		Breakers:         a.Breakers,
	}
	a.Handler = httphandler.NewHandler(a.Dashboard, healthConfig, logger)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	a.Router = httphandler.NewRouter(a.Handler, logger, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        limiter,
	})
	traffic.SetRetention(cfg.DegradedWindow)
	observability.RegisterTrafficGauges(cfg.DegradedWindow)

	if cfg.ICSURL == "" {
		logger.Warn("ICS_URL is not set; every dashboard request will fail until it is configured")
	}
	return a
}

func newBreaker(cfg *config.Config, source string) *circuitbreaker.CircuitBreaker {
	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		Name:             source,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(name, from.String(), to.String(), int(to))
		},
		// A sibling fetch failing cancels this one; that says nothing about this upstream.
		Excluded: func(err error) bool { return errors.Is(err, context.Canceled) },
	})
	observability.CircuitBreakerState.WithLabelValues(source).Set(0)
	return cb
}
