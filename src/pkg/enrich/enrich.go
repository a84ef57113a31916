package enrich

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gh-nvat/osps-sarifgate/src/pkg/models"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/sarif"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var logger = log.WithField("package", "enrich")

const (
	DefaultToolName       = "OSPS Security Assessment"
	DefaultToolVersion    = "1.0.0"
	DefaultPlaceholderURI = "README.md"

	resultNotRun = "not run"
)

// Options controls how assessment results are merged into a SARIF document
type Options struct {
	// PlaceholderURI is used as physical location for repository level findings
	PlaceholderURI string
	// ToolName fills an empty driver name
	ToolName string
}

func (o Options) withDefaults() Options {
	if o.PlaceholderURI == "" {
		o.PlaceholderURI = DefaultPlaceholderURI
	}
	if o.ToolName == "" {
		o.ToolName = DefaultToolName
	}
	return o
}

// Summary describes what EnrichFile changed
type Summary struct {
	ResultCount int
	Added       int
	Located     int
}

// EnrichFile merges the assessment YAML at yamlPath into the SARIF file at sarifPath and writes it back.
// A missing YAML file is not an error, the SARIF is still normalised.
// Fields outside the ones enrichment touches are written back untouched.
func EnrichFile(sarifPath, yamlPath string, opts Options) (*Summary, error) {
	lg := logger.WithField("sarifPath", sarifPath).WithField("yamlPath", yamlPath)

	data, err := os.ReadFile(sarifPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read SARIF file: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", sarif.ErrInvalidFormat, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document is null", sarif.ErrInvalidFormat)
	}

	var report *models.AssessmentReport
	if yamlPath != "" {
		report, err = LoadAssessment(yamlPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			lg.Debug("Assessment YAML not found, only normalising SARIF")
		case err != nil:
			lg.WithField("error", err).Warn("Could not read assessment YAML, only normalising SARIF")
			report = nil
		}
	}

	summary, err := Enrich(doc, report, opts)
	if err != nil {
		return nil, err
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode SARIF: %w", err)
	}
	if err := os.WriteFile(sarifPath, out, 0644); err != nil {
		return nil, fmt.Errorf("failed to write SARIF file: %w", err)
	}

	lg.WithField("results", summary.ResultCount).WithField("added", summary.Added).Info("Enriched SARIF")
	return summary, nil
}

// LoadAssessment reads the YAML output of the assessment
func LoadAssessment(path string) (*models.AssessmentReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report models.AssessmentReport
	if err := yaml.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse assessment YAML %s: %w", path, err)
	}
	return &report, nil
}

// Enrich normalises the decoded SARIF log doc in place and adds one result per evaluated requirement of report.
// Running it twice over the same inputs adds nothing the second time.
func Enrich(doc map[string]any, report *models.AssessmentReport, opts Options) (*Summary, error) {
	opts = opts.withDefaults()
	summary := &Summary{}

	if version, _ := doc["version"].(string); version == "" {
		doc["version"] = sarif.SupportedVersions[0]
	}

	runs, ok := doc["runs"].([]any)
	if !ok && doc["runs"] != nil {
		return nil, fmt.Errorf("%w: runs is not an array", sarif.ErrInvalidFormat)
	}
	if len(runs) == 0 {
		runs = []any{map[string]any{
			"tool": map[string]any{"driver": map[string]any{
				"name":    opts.ToolName,
				"version": DefaultToolVersion,
			}},
			"results": []any{},
		}}
		doc["runs"] = runs
	}

	for i, r := range runs {
		run, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: runs[%d] is not an object", sarif.ErrInvalidFormat, i)
		}
		for _, res := range array(run["results"]) {
			if result, ok := res.(map[string]any); ok && ensurePhysicalLocation(result, opts.PlaceholderURI) {
				summary.Located++
			}
		}

		tool := object(run, "tool")
		driver := object(tool, "driver")
		if name, _ := driver["name"].(string); name == "" {
			driver["name"] = opts.ToolName
		}
		// rules are not kept in sync with the added results
		delete(driver, "rules")
	}

	run := runs[0].(map[string]any)
	results := array(run["results"])
	if report != nil {
		seen := map[string]bool{}
		for _, res := range results {
			result, _ := res.(map[string]any)
			if ruleID, _ := result["ruleId"].(string); ruleID != "" {
				seen[ruleID] = true
			}
		}

		for _, suite := range report.EvaluationSuites {
			for _, control := range suite.ControlEvaluations {
				for _, assessment := range control.Assessments {
					if assessment.RequirementID == "" || assessment.Result == "" || strings.EqualFold(assessment.Result, resultNotRun) {
						continue
					}
					ruleID := control.ControlID + "/" + assessment.RequirementID
					if seen[ruleID] {
						continue
					}
					seen[ruleID] = true
					results = append(results, newResult(ruleID, assessment, opts.PlaceholderURI))
					summary.Added++
				}
			}
		}
	}
	if results == nil {
		results = []any{}
	}
	run["results"] = results

	for _, r := range runs {
		summary.ResultCount += len(array(r.(map[string]any)["results"]))
	}
	return summary, nil
}

func newResult(ruleID string, assessment models.Assessment, uri string) map[string]any {
	text := assessment.Message
	if text == "" {
		text = assessment.RequirementID + ": " + assessment.Result
	}
	return map[string]any{
		"ruleId":  ruleID,
		"level":   LevelForResult(assessment.Result),
		"message": map[string]any{"text": text},
		"locations": []any{map[string]any{
			"physicalLocation": placeholderLocation(uri),
			"logicalLocations": []any{map[string]any{"fullyQualifiedName": ruleID}},
		}},
	}
}

// ensurePhysicalLocation gives every location of result a physical location; code scanning rejects results without one
func ensurePhysicalLocation(result map[string]any, uri string) bool {
	locations := array(result["locations"])
	if len(locations) == 0 {
		result["locations"] = []any{map[string]any{"physicalLocation": placeholderLocation(uri)}}
		return true
	}
	changed := false
	for _, l := range locations {
		location, ok := l.(map[string]any)
		if !ok {
			continue
		}
		if _, ok := location["physicalLocation"]; !ok {
			location["physicalLocation"] = placeholderLocation(uri)
			changed = true
		}
	}
	return changed
}

func placeholderLocation(uri string) map[string]any {
	return map[string]any{"artifactLocation": map[string]any{"uri": uri}}
}

// object returns parent[key] as an object, creating it when missing
func object(parent map[string]any, key string) map[string]any {
	child, ok := parent[key].(map[string]any)
	if !ok {
		child = map[string]any{}
		parent[key] = child
	}
	return child
}

func array(v any) []any {
	a, _ := v.([]any)
	return a
}

// LevelForResult maps an assessment result onto a SARIF level.
// Passed requirements become notes so the endpoint can close earlier alerts.
func LevelForResult(result string) string {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "failed", "error":
		return sarif.LevelError
	case "warn", "warning", "needs review":
		return sarif.LevelWarning
	case "passed", "pass":
		return sarif.LevelNote
	default:
		return sarif.LevelNone
	}
}
