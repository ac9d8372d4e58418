package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // serverless images ship without zoneinfo

	"gopkg.in/yaml.v3"
)

const (
	DefaultLatitude      = 58.9997
	DefaultLongitude     = 5.6187
	DefaultContactEmail  = "dashboard@example.com"
	DefaultTimezone      = "Europe/Oslo"
	DefaultWeatherAPIURL = "https://api.met.no/weatherapi/locationforecast/2.0/compact"
	DefaultStylesheetURL = "https://usetrmnl.com/css/latest/plugins.css"
	DefaultUserAgent     = "TRMNL-plugin/1.0"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	// ICSURL may be empty; the calendar fetch then fails per request.
	ICSURL          string
	CalendarTimeout time.Duration
	ExpandRecurring bool

	Latitude          float64
	Longitude         float64
	ContactEmail      string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration

	Timezone      string
	Location      *time.Location
	StylesheetURL string

	RequestTimeout time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	DegradedWindow   time.Duration
	DegradedErrorPct int

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration
}

// UserAgent is the identifying header MET Norway requires from clients.
func (c *Config) UserAgent() string {
	return DefaultUserAgent + " " + c.ContactEmail
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Calendar struct {
		URL             string `yaml:"url"`
		Timeout         string `yaml:"timeout"`
		ExpandRecurring *bool  `yaml:"expand_recurring"`
	} `yaml:"calendar"`

	WeatherAPI struct {
		URL          string   `yaml:"url"`
		Timeout      string   `yaml:"timeout"`
		Latitude     *float64 `yaml:"latitude"`
		Longitude    *float64 `yaml:"longitude"`
		ContactEmail string   `yaml:"contact_email"`
	} `yaml:"weather_api"`

	Display struct {
		Timezone      string `yaml:"timezone"`
		StylesheetURL string `yaml:"stylesheet_url"`
	} `yaml:"display"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) when present, then applies
// environment overrides. ICS_URL, LAT, LON and CONTACT_EMAIL always come from env when set.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	var fc fileConfig
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case os.IsNotExist(err):
		// serverless deployments run on env alone
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return build(fc)
}

// FromEnv builds a configuration from defaults and environment variables only.
func FromEnv() (*Config, error) {
	return build(fileConfig{})
}

func build(fc fileConfig) (*Config, error) {
	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8080")

	cfg.ICSURL = firstNonEmpty(strings.TrimSpace(os.Getenv("ICS_URL")), strings.TrimSpace(fc.Calendar.URL))
	cfg.CalendarTimeout = parseDuration(fc.Calendar.Timeout, 10*time.Second)
	cfg.ExpandRecurring = true
	if fc.Calendar.ExpandRecurring != nil {
		cfg.ExpandRecurring = *fc.Calendar.ExpandRecurring
	}

	cfg.Latitude = DefaultLatitude
	if fc.WeatherAPI.Latitude != nil {
		cfg.Latitude = *fc.WeatherAPI.Latitude
	}
	cfg.Longitude = DefaultLongitude
	if fc.WeatherAPI.Longitude != nil {
		cfg.Longitude = *fc.WeatherAPI.Longitude
	}
	var err error
	if cfg.Latitude, err = floatFromEnv("LAT", cfg.Latitude); err != nil {
		return nil, err
	}
	if cfg.Longitude, err = floatFromEnv("LON", cfg.Longitude); err != nil {
		return nil, err
	}
	cfg.ContactEmail = firstNonEmpty(strings.TrimSpace(os.Getenv("CONTACT_EMAIL")), fc.WeatherAPI.ContactEmail, DefaultContactEmail)
	cfg.WeatherAPIURL = firstNonEmpty(os.Getenv("WEATHER_API_URL"), fc.WeatherAPI.URL, DefaultWeatherAPIURL)
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 10*time.Second)

	cfg.Timezone = firstNonEmpty(os.Getenv("TIMEZONE"), fc.Display.Timezone, DefaultTimezone)
	cfg.StylesheetURL = firstNonEmpty(fc.Display.StylesheetURL, DefaultStylesheetURL)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 25*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = cfg.RateLimitRPS
	}

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 1
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 60*time.Second)

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 5*time.Minute)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, s)
	}
	return v, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// Resolves the display timezone and raises RequestTimeout above both upstream timeouts.
func validate(cfg *Config) error {
	if cfg.Latitude < -90 || cfg.Latitude > 90 {
		return fmt.Errorf("LAT must be within [-90, 90], got %v", cfg.Latitude)
	}
	if cfg.Longitude < -180 || cfg.Longitude > 180 {
		return fmt.Errorf("LON must be within [-180, 180], got %v", cfg.Longitude)
	}
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("display.timezone %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	slowest := cfg.WeatherAPITimeout
	if cfg.CalendarTimeout > slowest {
		slowest = cfg.CalendarTimeout
	}
	if cfg.RequestTimeout <= slowest {
		cfg.RequestTimeout = slowest + time.Second
	}
	return nil
}
