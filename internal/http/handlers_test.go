package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/eink-dashboard/internal/circuitbreaker"
	"github.com/kjstillabower/eink-dashboard/internal/lifecycle"
	"github.com/kjstillabower/eink-dashboard/internal/models"
	"github.com/kjstillabower/eink-dashboard/internal/render"
	"github.com/kjstillabower/eink-dashboard/internal/service"
	"github.com/kjstillabower/eink-dashboard/internal/traffic"
	"github.com/kjstillabower/eink-dashboard/internal/upstream"
)

type mockCalendar struct {
	events []models.CalendarEvent
	err    error
}

func (m *mockCalendar) TodayEvents(ctx context.Context) ([]models.CalendarEvent, error) {
	return m.events, m.err
}

type mockWeatherClient struct {
	weather models.WeatherSnapshot
	err     error
	block   chan struct{} // if set, GetCurrentWeather blocks until ctx.Done()
}

func (m *mockWeatherClient) GetCurrentWeather(ctx context.Context) (models.WeatherSnapshot, error) {
	if m.block != nil {
		select {
		case <-ctx.Done():
			return models.WeatherSnapshot{}, ctx.Err()
		case <-m.block:
		}
	}
	return m.weather, m.err
}

func newDashboard(cal *mockCalendar, weather *mockWeatherClient) *service.DashboardService {
	return service.NewDashboardService(cal, weather, render.NewRenderer("https://usetrmnl.com/css/latest/plugins.css"))
}

func okDashboard() *service.DashboardService {
	return newDashboard(
		&mockCalendar{events: []models.CalendarEvent{{Time: "14:30", Summary: "Dentist"}}},
		&mockWeatherClient{weather: models.WeatherSnapshot{Temperature: 7.64, PrecipitationNextHour: "0.3", SymbolCode: "partlycloudy_day"}},
	)
}

// resetState clears process-wide health inputs before and after a test.
func resetState(t *testing.T) {
	t.Helper()
	traffic.Reset()
	lifecycle.SetShuttingDown(false)
	t.Cleanup(func() {
		traffic.Reset()
		lifecycle.SetShuttingDown(false)
	})
}

// TestHandler_GetDashboard_Success verifies the rendered page and headers for any method.
func TestHandler_GetDashboard_Success(t *testing.T) {
	resetState(t)
	handler := NewHandler(okDashboard(), nil, zap.NewNop())

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodHead} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/?ignored=1", strings.NewReader("ignored body"))
			w := httptest.NewRecorder()
			handler.GetDashboard(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if got := w.Header().Get("Content-Type"); got != "text/html; charset=utf-8" {
				t.Errorf("Content-Type = %q", got)
			}
			body := w.Body.String()
			for _, want := range []string{"I DAG", "<strong>14:30</strong> Dentist", "Vær nå", "7.6°C", "Nedbør neste time: 0.3 mm", "partlycloudy day"} {
				if !strings.Contains(body, want) {
					t.Errorf("body missing %q", want)
				}
			}
		})
	}
	if total := traffic.RequestCount(time.Minute); total != 3 {
		t.Errorf("traffic.RequestCount = %d, want 3", total)
	}
}

// TestHandler_GetDashboard_Failure verifies the plain-text 500 and the error log.
func TestHandler_GetDashboard_Failure(t *testing.T) {
	tests := []struct {
		name         string
		cal          *mockCalendar
		weather      *mockWeatherClient
		wantBody     string
		wantCategory string
	}{
		{
			name:         "weather 503",
			cal:          &mockCalendar{},
			weather:      &mockWeatherClient{err: &upstream.StatusError{Source: upstream.SourceWeather, StatusCode: 503}},
			wantBody:     "Feil: weather upstream responded with HTTP 503",
			wantCategory: "upstream_5xx",
		},
		{
			name:         "calendar not configured",
			cal:          &mockCalendar{err: &upstream.FetchError{Source: upstream.SourceCalendar, Err: upstream.ErrMissingURL}},
			weather:      &mockWeatherClient{},
			wantBody:     "Feil: calendar: fetch failed: " + upstream.ErrMissingURL.Error(),
			wantCategory: "not_configured",
		},
		{
			name:         "calendar parse error",
			cal:          &mockCalendar{err: &upstream.ParseError{Source: upstream.SourceCalendar, Err: errors.New("bad line")}},
			weather:      &mockWeatherClient{},
			wantBody:     "Feil: calendar: parse response: bad line",
			wantCategory: "parsing",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetState(t)
			core, logs := observer.New(zapcore.InfoLevel)
			handler := NewHandler(newDashboard(tt.cal, tt.weather), nil, zap.New(core))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			w := httptest.NewRecorder()
			handler.GetDashboard(w, req)

			if w.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", w.Code)
			}
			if got := w.Body.String(); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
			if got := w.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
				t.Errorf("Content-Type = %q, want text/plain", got)
			}

			entries := logs.FilterMessage("dashboard request failed").All()
			if len(entries) != 1 {
				t.Fatalf("logged %d failure entries, want 1", len(entries))
			}
			if entries[0].Level != zapcore.ErrorLevel {
				t.Errorf("level = %v, want error", entries[0].Level)
			}
			if got := entries[0].ContextMap()["category"]; got != tt.wantCategory {
				t.Errorf("category = %v, want %s", got, tt.wantCategory)
			}
			if errs, total := traffic.ErrorRate(time.Minute); errs != 1 || total != 1 {
				t.Errorf("traffic.ErrorRate = %d/%d, want 1/1", errs, total)
			}
		})
	}
}

func TestHandler_GetDashboard_UsesRequestLogger(t *testing.T) {
	resetState(t)
	handlerCore, handlerLogs := observer.New(zapcore.InfoLevel)
	reqCore, reqLogs := observer.New(zapcore.InfoLevel)
	handler := NewHandler(newDashboard(&mockCalendar{err: errors.New("boom")}, &mockWeatherClient{}), nil, zap.New(handlerCore))

	router := NewRouter(handler, zap.New(reqCore), RouterConfig{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "corr-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if handlerLogs.Len() != 0 {
		t.Errorf("handler logger got %d entries, want 0", handlerLogs.Len())
	}
	entries := reqLogs.FilterMessage("dashboard request failed").All()
	if len(entries) != 1 {
		t.Fatalf("request logger got %d entries, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["correlation_id"]; got != "corr-42" {
		t.Errorf("correlation_id = %v, want corr-42", got)
	}
}

type healthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks"`
}

func getHealth(t *testing.T, handler *Handler) (int, healthResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.GetHealth(w, req)

	var resp healthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	return w.Code, resp
}

func TestHandler_GetHealth(t *testing.T) {
	openBreaker := func() *circuitbreaker.CircuitBreaker {
		cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, Timeout: time.Hour, Name: upstream.SourceWeather})
		_ = cb.Call(context.Background(), func() error { return errors.New("down") })
		return cb
	}

	tests := []struct {
		name       string
		cfg        *HealthConfig
		setup      func()
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no config",
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name:       "healthy with traffic",
			cfg:        &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50},
			setup:      func() { traffic.RecordSuccess(); traffic.RecordSuccess(); traffic.RecordError() },
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name:       "error rate breach",
			cfg:        &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50},
			setup:      func() { traffic.RecordSuccess(); traffic.RecordError() },
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
		},
		{
			name:       "open circuit",
			cfg:        &HealthConfig{Breakers: []*circuitbreaker.CircuitBreaker{openBreaker()}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
			wantChecks: map[string]string{"calendar": "healthy", "weather": "unhealthy"},
		},
		{
			name:       "shutting down wins",
			cfg:        &HealthConfig{Breakers: []*circuitbreaker.CircuitBreaker{openBreaker()}},
			setup:      func() { lifecycle.SetShuttingDown(true) },
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "shutting-down",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetState(t)
			if tt.setup != nil {
				tt.setup()
			}
			code, resp := getHealth(t, NewHandler(okDashboard(), tt.cfg, zap.NewNop()))
			if code != tt.wantCode || resp.Status != tt.wantStatus {
				t.Errorf("health = %d %q, want %d %q", code, resp.Status, tt.wantCode, tt.wantStatus)
			}
			if resp.Service != "eink-dashboard" {
				t.Errorf("service = %q", resp.Service)
			}
			for k, v := range tt.wantChecks {
				if resp.Checks[k] != v {
					t.Errorf("checks[%s] = %q, want %q", k, resp.Checks[k], v)
				}
			}
		})
	}
}

func TestHandler_GetHealth_LogsTransition(t *testing.T) {
	resetState(t)
	core, logs := observer.New(zapcore.InfoLevel)
	handler := NewHandler(okDashboard(), &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50}, zap.New(core))

	getHealth(t, handler)
	traffic.RecordError()
	getHealth(t, handler)

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("transition entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != "healthy" || fields["current_status"] != "degraded" {
		t.Errorf("transition fields = %v", fields)
	}
}
