package models

// CalendarEvent is one of today's events as shown on the dashboard.
type CalendarEvent struct {
	Time    string `json:"time"` // HH:mm in the display timezone
	Summary string `json:"summary"`
}

// WeatherSnapshot is the "now" entry of a forecast.
type WeatherSnapshot struct {
	Temperature           float64 `json:"temperature"`
	PrecipitationNextHour string  `json:"precipitationNextHour"`
	SymbolCode            string  `json:"symbolCode,omitempty"`
}

// PageModel is everything the renderer needs for one page.
type PageModel struct {
	Events  []CalendarEvent `json:"events"`
	Weather WeatherSnapshot `json:"weather"`
}
