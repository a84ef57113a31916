package template

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/gh-nvat/osps-sarifgate/src/pkg/models"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "template")

//go:embed templates/*.tmpl
var defaultTemplates embed.FS

// Renderer renders the Markdown report of a run
type Renderer struct {
	funcs template.FuncMap
}

func NewRenderer() *Renderer {
	return &Renderer{
		funcs: template.FuncMap{
			"stateIcon": stateIcon,
			"passIcon":  passIcon,
			"shortSHA":  shortSHA,
			"oneLine":   oneLine,
			"failing":   failing,
		},
	}
}

// Render renders data with the embedded default templates
func (r *Renderer) Render(data *models.ReportData) (string, error) {
	return r.RenderWithTemplates("", data)
}

// RenderWithTemplates renders data, taking each template from templatesPath when present there
// and from the embedded defaults otherwise
func (r *Renderer) RenderWithTemplates(templatesPath string, data *models.ReportData) (string, error) {
	tmpl := template.New(FileNameSummaryTemplate).Funcs(r.funcs)
	for _, name := range []string{FileNameSummaryTemplate, FileNamePolicyTemplate} {
		src, err := r.loadTemplate(templatesPath, name)
		if err != nil {
			return "", err
		}
		var t *template.Template
		if name == FileNameSummaryTemplate {
			t = tmpl
		} else {
			t = tmpl.New(name)
		}
		if _, err := t.Parse(src); err != nil {
			return "", fmt.Errorf("failed to parse template %s: %w", name, err)
		}
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, FileNameSummaryTemplate, data); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return buf.String(), nil
}

func (r *Renderer) loadTemplate(templatesPath, name string) (string, error) {
	if templatesPath != "" {
		path := filepath.Join(templatesPath, name)
		content, err := os.ReadFile(path)
		if err == nil {
			logger.WithField("path", path).Debug("Using custom template")
			return string(content), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to read template %s: %w", path, err)
		}
	}
	content, err := defaultTemplates.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("failed to read embedded template %s: %w", name, err)
	}
	return string(content), nil
}

func stateIcon(state string) string {
	switch state {
	case "uploaded":
		return "✅"
	case "skipped-empty":
		return "⏭️"
	case "failed-non-fatal":
		return "⚠️"
	case "failed-invalid-format":
		return "❌"
	default:
		return "ℹ️"
	}
}

func passIcon(pass bool) string {
	if pass {
		return "✅"
	}
	return "❌"
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

// oneLine keeps a message from breaking a Markdown table row
func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func failing(m models.PolicyMatrix) []models.PolicyResult {
	var out []models.PolicyResult
	for _, group := range [][]models.PolicyResult{m.BlockingPolicies, m.WarningPolicies, m.RecommendPolicies} {
		for _, p := range group {
			if !p.IsPassing {
				out = append(out, p)
			}
		}
	}
	return out
}
