package notify

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/template"
)

const DefaultTemplate = `[Statement {{.EventLabel}}]
Company: {{.Company}}
Period: {{.Period}}
Containers: {{.Containers}}
Total USD: {{.TotalUSD}}
Total UZS: {{.TotalUZS}}
{{- if .FinalizedBy }}
Finalized by: {{.FinalizedBy}}
{{- end }}
Statement: {{.StatementID}}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Event       string
	EventLabel  string
	StatementID string
	CompanyID   string
	Company     string
	Period      string
	Containers  int
	TotalUSD    string
	TotalUZS    string
	FinalizedBy string
}

// Template renders notification text. Referencing a field that TemplateData
// does not have fails at parse time rather than printing "<no value>".
type Template struct {
	tpl *template.Template
}

// NewTemplate parses text, or DefaultTemplate when text is blank.
func NewTemplate(text string) (*Template, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultTemplate
	}
	parsed, err := template.New("statement-notification").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("notification template: %w", err)
	}
	if err := parsed.Execute(io.Discard, TemplateData{}); err != nil {
		return nil, fmt.Errorf("notification template: %w", err)
	}
	return &Template{tpl: parsed}, nil
}

func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("notification template: not parsed")
	}
	var out strings.Builder
	if err := t.tpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("notification template: render %s: %w", data.StatementID, err)
	}
	return out.String(), nil
}
