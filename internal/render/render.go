// Package render produces the dashboard HTML document.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/kjstillabower/eink-dashboard/internal/models"
)

//go:embed templates/dashboard.html.tmpl
var templateFS embed.FS

var dashboardTemplate = template.Must(
	template.New("dashboard.html.tmpl").
		Funcs(template.FuncMap{"humanize": HumanizeSymbol}).
		ParseFS(templateFS, "templates/dashboard.html.tmpl"),
)

// Renderer is safe for concurrent use.
type Renderer struct {
	stylesheetURL string
}

func NewRenderer(stylesheetURL string) *Renderer {
	return &Renderer{stylesheetURL: stylesheetURL}
}

type pageData struct {
	StylesheetURL string
	Events        []models.CalendarEvent
	Weather       models.WeatherSnapshot
}

// Render returns the complete document for page. Feed and forecast text is escaped.
func (r *Renderer) Render(page models.PageModel) (string, error) {
	var buf bytes.Buffer
	err := dashboardTemplate.Execute(&buf, pageData{
		StylesheetURL: r.stylesheetURL,
		Events:        page.Events,
		Weather:       page.Weather,
	})
	if err != nil {
		return "", fmt.Errorf("render dashboard: %w", err)
	}
	return buf.String(), nil
}

// HumanizeSymbol turns a MET symbol code such as "partlycloudy_day" into "partlycloudy day".
func HumanizeSymbol(code string) string {
	return strings.ReplaceAll(code, "_", " ")
}
