package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kjstillabower/eink-dashboard/internal/models"
	"github.com/kjstillabower/eink-dashboard/internal/upstream"
)

const forecastFixture = `{
  "type": "Feature",
  "geometry": {"type": "Point", "coordinates": [5.6187, 58.9997, 12]},
  "properties": {
    "meta": {"updated_at": "2026-10-16T08:00:00Z"},
    "timeseries": [
      {
        "time": "2026-10-16T08:00:00Z",
        "data": {
          "instant": {"details": {"air_temperature": 7.64, "wind_speed": 5.1}},
          "next_1_hours": {
            "summary": {"symbol_code": "partlycloudy_day"},
            "details": {"precipitation_amount": 0.34}
          }
        }
      },
      {
        "time": "2026-10-16T09:00:00Z",
        "data": {"instant": {"details": {"air_temperature": 99}}}
      }
    ]
  }
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *METClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	httpClient := upstream.NewClient(upstream.SourceWeather, "TRMNL-plugin/1.0 ops@example.org", 2*time.Second)
	return NewMETClient(httpClient, server.URL+"/weatherapi/locationforecast/2.0/compact", 58.9997, 5.6187)
}

func TestMETClient_GetCurrentWeather_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/weatherapi/locationforecast/2.0/compact" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("lat"); got != "58.9997" {
			t.Errorf("lat = %q, want 58.9997", got)
		}
		if got := r.URL.Query().Get("lon"); got != "5.6187" {
			t.Errorf("lon = %q, want 5.6187", got)
		}
		if got := r.Header.Get("User-Agent"); got != "TRMNL-plugin/1.0 ops@example.org" {
			t.Errorf("User-Agent = %q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(forecastFixture))
	})

	got, err := c.GetCurrentWeather(context.Background())
	if err != nil {
		t.Fatalf("GetCurrentWeather() error = %v", err)
	}
	want := models.WeatherSnapshot{Temperature: 7.64, PrecipitationNextHour: "0.3", SymbolCode: "partlycloudy_day"}
	if got != want {
		t.Errorf("GetCurrentWeather() = %+v, want %+v", got, want)
	}
}

func TestMETClient_GetCurrentWeather_Mapping(t *testing.T) {
	tests := []struct {
		name string
		body string
		want models.WeatherSnapshot
	}{
		{
			name: "no next hour block",
			body: `{"properties":{"timeseries":[{"data":{"instant":{"details":{"air_temperature":-3}}}}]}}`,
			want: models.WeatherSnapshot{Temperature: -3, PrecipitationNextHour: "0"},
		},
		{
			name: "zero precipitation is formatted",
			body: `{"properties":{"timeseries":[{"data":{"instant":{"details":{"air_temperature":12.5}},
				"next_1_hours":{"summary":{"symbol_code":"clearsky_day"},"details":{"precipitation_amount":0}}}}]}}`,
			want: models.WeatherSnapshot{Temperature: 12.5, PrecipitationNextHour: "0.0", SymbolCode: "clearsky_day"},
		},
		{
			name: "next hour without precipitation",
			body: `{"properties":{"timeseries":[{"data":{"instant":{"details":{"air_temperature":0}},
				"next_1_hours":{"summary":{"symbol_code":"fog"},"details":{}}}}]}}`,
			want: models.WeatherSnapshot{Temperature: 0, PrecipitationNextHour: "0", SymbolCode: "fog"},
		},
		{
			name: "heavy rain",
			body: `{"properties":{"timeseries":[{"data":{"instant":{"details":{"air_temperature":9.04}},
				"next_1_hours":{"summary":{"symbol_code":"heavyrain"},"details":{"precipitation_amount":3.14}}}}]}}`,
			want: models.WeatherSnapshot{Temperature: 9.04, PrecipitationNextHour: "3.1", SymbolCode: "heavyrain"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			got, err := c.GetCurrentWeather(context.Background())
			if err != nil {
				t.Fatalf("GetCurrentWeather() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("GetCurrentWeather() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMETClient_GetCurrentWeather_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantParse error
		check     func(t *testing.T, err error)
	}{
		{
			name:   "503 from upstream",
			status: http.StatusServiceUnavailable,
			check: func(t *testing.T, err error) {
				var se *upstream.StatusError
				if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable || se.Source != upstream.SourceWeather {
					t.Errorf("error = %v, want weather StatusError 503", err)
				}
			},
		},
		{
			name:   "403 missing identification",
			status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				if upstream.CategorizeError(err) != upstream.ErrorCategoryUpstream4xx {
					t.Errorf("category = %s, want upstream_4xx", upstream.CategorizeError(err))
				}
			},
		},
		{
			name:      "empty timeseries",
			status:    http.StatusOK,
			body:      `{"properties":{"timeseries":[]}}`,
			wantParse: ErrNoTimeseries,
		},
		{
			name:      "missing temperature",
			status:    http.StatusOK,
			body:      `{"properties":{"timeseries":[{"data":{"instant":{"details":{}}}}]}}`,
			wantParse: ErrMissingTemperature,
		},
		{
			name:   "not JSON",
			status: http.StatusOK,
			body:   `<html>maintenance</html>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.GetCurrentWeather(context.Background())
			if err == nil {
				t.Fatal("GetCurrentWeather() expected error")
			}
			if tt.check != nil {
				tt.check(t, err)
				return
			}
			var pe *upstream.ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("error = %v, want ParseError", err)
			}
			if tt.wantParse != nil && !errors.Is(err, tt.wantParse) {
				t.Errorf("error = %v, want %v", err, tt.wantParse)
			}
		})
	}
}

func TestMETClient_GetCurrentWeather_ContextCanceled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(forecastFixture))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.GetCurrentWeather(ctx); err == nil {
		t.Fatal("GetCurrentWeather() expected error for canceled context")
	}
}

func TestMETClient_BuildURL_KeepsExistingQuery(t *testing.T) {
	c := NewMETClient(nil, "https://api.met.no/weatherapi/locationforecast/2.0/compact?altitude=12", -33.8688, 151.2093)
	got, err := c.buildURL()
	if err != nil {
		t.Fatalf("buildURL() error = %v", err)
	}
	want := "https://api.met.no/weatherapi/locationforecast/2.0/compact?altitude=12&lat=-33.8688&lon=151.2093"
	if got != want {
		t.Errorf("buildURL() = %q, want %q", got, want)
	}
}
