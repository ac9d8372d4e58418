package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/eink-dashboard/internal/client"
	"github.com/kjstillabower/eink-dashboard/internal/models"
	"github.com/kjstillabower/eink-dashboard/internal/observability"
	"github.com/kjstillabower/eink-dashboard/internal/render"
)

// CalendarSource yields today's events in display order.
type CalendarSource interface {
	TodayEvents(ctx context.Context) ([]models.CalendarEvent, error)
}

// DashboardService fetches the calendar and the weather concurrently and renders the page.
// Both results are required: the first failure cancels the other fetch and is returned as-is,
// so callers can inspect it with errors.As. Nothing is cached between calls.
type DashboardService struct {
	calendar CalendarSource
	weather  client.WeatherClient
	renderer *render.Renderer
}

// NewDashboardService creates a DashboardService with the provided dependencies.
func NewDashboardService(calendar CalendarSource, weather client.WeatherClient, renderer *render.Renderer) *DashboardService {
	return &DashboardService{
		calendar: calendar,
		weather:  weather,
		renderer: renderer,
	}
}

// Page gathers the page model. Used by BuildPage and by callers that render elsewhere.
func (s *DashboardService) Page(ctx context.Context) (models.PageModel, error) {
	var page models.PageModel

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		events, err := s.calendar.TodayEvents(gctx)
		if err != nil {
			return err
		}
		page.Events = events
		return nil
	})
	g.Go(func() error {
		weather, err := s.weather.GetCurrentWeather(gctx)
		if err != nil {
			return err
		}
		page.Weather = weather
		return nil
	})
	if err := g.Wait(); err != nil {
		return models.PageModel{}, err
	}
	return page, nil
}

// BuildPage returns the rendered HTML document for the current moment.
func (s *DashboardService) BuildPage(ctx context.Context) (string, error) {
	start := time.Now()
	logger := observability.LoggerFromContext(ctx)

	page, err := s.Page(ctx)
	if err != nil {
		observability.DashboardRendersTotal.WithLabelValues("error").Inc()
		return "", err
	}
	observability.CalendarEventsToday.Set(float64(len(page.Events)))

	doc, err := s.renderer.Render(page)
	if err != nil {
		observability.DashboardRendersTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("build page: %w", err)
	}
	observability.DashboardRendersTotal.WithLabelValues("success").Inc()

	logger.Debug("dashboard rendered",
		zap.Int("events", len(page.Events)),
		zap.Int("bytes", len(doc)),
		zap.Duration("duration", time.Since(start)))
	return doc, nil
}
