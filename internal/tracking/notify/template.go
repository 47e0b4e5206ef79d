package notify

import (
	"bytes"
	"errors"
	"text/template"
	"time"

	tracking "livestock-cloud/internal/tracking/domain"
)

// DefaultTemplate renders the alert message as the push body.
const DefaultTemplate = `{{.Message}}`

// TemplateData provides fields for rendering push content.
type TemplateData struct {
	Title    string
	Message  string
	Animal   string
	Farm     string
	Type     string
	Priority string
	Reason   string
	Time     string
}

// Template renders push content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a push template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alert-push").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func templateData(event tracking.AlertEvent) TemplateData {
	data := TemplateData{
		Title:    event.Title,
		Message:  event.Message,
		Animal:   event.AnimalID,
		Farm:     event.FarmID,
		Type:     string(event.Type),
		Priority: string(event.Priority),
		Time:     event.CreatedAt.UTC().Format(time.RFC3339),
	}
	if event.Reason != tracking.ReasonNone {
		data.Reason = event.Reason.String()
	}
	return data
}
