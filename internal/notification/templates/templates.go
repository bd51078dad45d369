package templates

import (
	"bytes"
	"embed"
	"html/template"
)

//go:embed *.html
var files embed.FS

const (
	AggregatedCompleted = "aggregated_completed"
	DailyCompleted      = "daily_completed"
)

var parsed = template.Must(template.ParseFS(files, "*.html"))

// Render executes the named template with data.
func Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := parsed.ExecuteTemplate(&buf, name+".html", data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
