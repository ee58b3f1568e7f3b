package draft

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Templates holds the prompt templates used for drafting. Each is a
// text/template body; unset fields fall back to the defaults.
type Templates struct {
	Reply       string `yaml:"reply"`
	SearchQuery string `yaml:"searchQuery"`
}

const defaultReplyTemplate = `Email from {{.Sender}}: {{.Body}}

{{if .Context}}Additional context:
{{.Context}}{{else}}No additional context provided.{{end}}

Draft a professional and concise response addressing their questions or requests:`

const defaultSearchQueryTemplate = `Email: {{.Body}}

Generate a concise search query to find information that would help respond to this email. Reply with the query only:`

// LoadTemplates reads template overrides from a YAML file. An empty
// path returns the defaults.
func LoadTemplates(path string) (*Templates, error) {
	t := &Templates{
		Reply:       defaultReplyTemplate,
		SearchQuery: defaultSearchQueryTemplate,
	}
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read templates file %s: %w", path, err)
	}
	var overrides Templates
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("cannot parse templates file %s: %w", path, err)
	}
	if overrides.Reply != "" {
		t.Reply = overrides.Reply
	}
	if overrides.SearchQuery != "" {
		t.SearchQuery = overrides.SearchQuery
	}
	return t, nil
}

type promptData struct {
	Sender  string
	Subject string
	Body    string
	Context string
}

func render(name, tmpl string, data promptData) (string, error) {
	t, err := template.New(name).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return buf.String(), nil
}
