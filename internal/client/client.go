package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/kjstillabower/eink-dashboard/internal/models"
	"github.com/kjstillabower/eink-dashboard/internal/observability"
	"github.com/kjstillabower/eink-dashboard/internal/upstream"
)

type WeatherClient interface {
	GetCurrentWeather(ctx context.Context) (models.WeatherSnapshot, error)
}

var (
	ErrNoTimeseries       = errors.New("forecast has no timeseries entries")
	ErrMissingTemperature = errors.New("air_temperature missing from first timeseries entry")
)

// METClient reads the locationforecast "compact" product for a fixed position.
type METClient struct {
	http      *upstream.Client
	apiURL    string
	latitude  float64
	longitude float64
}

func NewMETClient(httpClient *upstream.Client, apiURL string, latitude, longitude float64) *METClient {
	return &METClient{
		http:      httpClient,
		apiURL:    apiURL,
		latitude:  latitude,
		longitude: longitude,
	}
}

// Pointer fields distinguish absent values from zero.
type forecastResponse struct {
	Properties struct {
		Timeseries []struct {
			Time string `json:"time"`
			Data struct {
				Instant struct {
					Details struct {
						AirTemperature *float64 `json:"air_temperature"`
					} `json:"details"`
				} `json:"instant"`
				Next1Hours *struct {
					Summary struct {
						SymbolCode string `json:"symbol_code"`
					} `json:"summary"`
					Details struct {
						PrecipitationAmount *float64 `json:"precipitation_amount"`
					} `json:"details"`
				} `json:"next_1_hours"`
			} `json:"data"`
		} `json:"timeseries"`
	} `json:"properties"`
}

// GetCurrentWeather performs one GET and maps the first timeseries entry. No retries.
func (c *METClient) GetCurrentWeather(ctx context.Context) (models.WeatherSnapshot, error) {
	reqURL, err := c.buildURL()
	if err != nil {
		return models.WeatherSnapshot{}, &upstream.FetchError{Source: upstream.SourceWeather, Err: err}
	}

	body, err := c.http.Get(ctx, reqURL, "application/json")
	if err != nil {
		return models.WeatherSnapshot{}, err
	}

	snapshot, err := mapForecast(body)
	if err != nil {
		parseErr := &upstream.ParseError{Source: upstream.SourceWeather, Err: err}
		upstream.RecordError(upstream.SourceWeather, parseErr)
		return models.WeatherSnapshot{}, parseErr
	}

	observability.LoggerFromContext(ctx).Debug("weather fetched",
		zap.Float64("temperature", snapshot.Temperature),
		zap.String("symbol", snapshot.SymbolCode))
	return snapshot, nil
}

func (c *METClient) buildURL() (string, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return "", fmt.Errorf("invalid API URL: %w", err)
	}

	params := baseURL.Query()
	params.Set("lat", strconv.FormatFloat(c.latitude, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(c.longitude, 'f', -1, 64))
	baseURL.RawQuery = params.Encode()
	return baseURL.String(), nil
}

func mapForecast(body []byte) (models.WeatherSnapshot, error) {
	var resp forecastResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.WeatherSnapshot{}, err
	}
	if len(resp.Properties.Timeseries) == 0 {
		return models.WeatherSnapshot{}, ErrNoTimeseries
	}

	now := resp.Properties.Timeseries[0].Data
	if now.Instant.Details.AirTemperature == nil {
		return models.WeatherSnapshot{}, ErrMissingTemperature
	}

	snapshot := models.WeatherSnapshot{
		Temperature:           *now.Instant.Details.AirTemperature,
		PrecipitationNextHour: "0",
	}
	if now.Next1Hours != nil {
		if p := now.Next1Hours.Details.PrecipitationAmount; p != nil {
			// Exact binary ties round to even (0.25 -> "0.2"). MET amounts carry one decimal.
			snapshot.PrecipitationNextHour = strconv.FormatFloat(*p, 'f', 1, 64)
		}
		snapshot.SymbolCode = now.Next1Hours.Summary.SymbolCode
	}
	return snapshot, nil
}
