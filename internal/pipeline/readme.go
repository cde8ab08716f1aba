package pipeline

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"
)

//go:embed readme.md.tmpl
var readmeSource string

var readmeTemplate = template.Must(template.New("readme").Parse(readmeSource))

// Manifest is what the generated README describes
type Manifest struct {
	Repo          string
	OriginalModel string
	Endpoint      string
	Artifacts     []Artifact
}

// RenderReadme renders the repository README for m
func RenderReadme(m Manifest) ([]byte, error) {
	var buf bytes.Buffer
	if err := readmeTemplate.Execute(&buf, m); err != nil {
		return nil, fmt.Errorf("rendering README: %w", err)
	}
	return buf.Bytes(), nil
}
