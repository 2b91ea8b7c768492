// Package render drives a browser through the talking-robot animation and
// captures one still per frame.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"path/filepath"

	"replybot/internal/utils"
)

//go:embed templates/robot.html
var templatesFS embed.FS

const (
	PageFile            = "index.html"
	DefaultAmplitude    = 0.5
	defaultTemplateName = "templates/robot.html"
)

// PageData is what the page template renders.
type PageData struct {
	Comment          string
	Reply            string
	Tone             string
	DefaultAmplitude float64
}

func loadTemplate(templatePath string) (*template.Template, error) {
	if templatePath != "" {
		return template.ParseFiles(templatePath)
	}
	return template.ParseFS(templatesFS, defaultTemplateName)
}

// WritePage renders dir/index.html from templatePath, or the built-in page when empty.
func WritePage(dir string, data PageData, templatePath string) (string, error) {
	tmpl, err := loadTemplate(templatePath)
	if err != nil {
		return "", fmt.Errorf("load page template: %w", err)
	}
	if data.DefaultAmplitude == 0 {
		data.DefaultAmplitude = DefaultAmplitude
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}
	path := filepath.Join(dir, PageFile)
	if err := utils.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	utils.Debug("page written", "path", path, "bytes", buf.Len())
	return path, nil
}
