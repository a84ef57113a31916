package enrich

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gh-nvat/osps-sarifgate/src/pkg/models"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/sarif"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const assessmentYAML = `
evaluation_suites:
  - name: OSPS Baseline
    catalog_id: osps-baseline
    control_evaluations:
      - control_id: OSPS-AC-01
        assessments:
          - requirement_id: OSPS-AC-01.01
            result: Failed
            message: MFA is not required for organization members
          - requirement_id: OSPS-AC-01.02
            result: Not Run
      - control_id: OSPS-BR-01
        assessments:
          - requirement_id: OSPS-BR-01.01
            result: Passed
          - requirement_id: OSPS-BR-01.02
            result: Needs Review
            message: workflow inputs are not sanitized
          - requirement_id: ""
            result: Failed
`

const sarifWithoutLocations = `{
  "version": "2.1.0",
  "runs": [{
    "tool": {"driver": {"name": "", "rules": [{"id": "OSPS-AC-01/OSPS-AC-01.01"}]}},
    "results": [
      {"ruleId": "OSPS-AC-01/OSPS-AC-01.01", "level": "error", "message": {"text": "from the tool"}},
      {"ruleId": "OSPS-DO-01/OSPS-DO-01.01", "message": {"text": "logical only"}, "locations": [{"logicalLocations": [{"fullyQualifiedName": "OSPS-DO-01"}]}]}
    ]
  }]
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func readDoc(t *testing.T, path string) *sarif.Document {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	doc, err := sarif.Parse(data)
	require.NoError(t, err)
	return doc
}

func TestEnrichFile(t *testing.T) {
	dir := t.TempDir()
	sarifPath := writeFile(t, dir, "osps.sarif", sarifWithoutLocations)
	yamlPath := writeFile(t, dir, "osps.yaml", assessmentYAML)

	summary, err := EnrichFile(sarifPath, yamlPath, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Located)
	// AC-01.01 is already present, AC-01.02 was not run and the empty requirement is ignored
	assert.Equal(t, 2, summary.Added)
	assert.Equal(t, 4, summary.ResultCount)

	doc := readDoc(t, sarifPath)

	run := doc.Runs[0]
	assert.Equal(t, DefaultToolName, run.Tool.Driver.Name)
	assert.Empty(t, run.Tool.Driver.Rules)
	for _, result := range run.Results {
		require.NotEmpty(t, result.Locations, result.RuleID)
		for _, loc := range result.Locations {
			require.NotNil(t, loc.PhysicalLocation, result.RuleID)
			assert.Equal(t, DefaultPlaceholderURI, loc.PhysicalLocation.ArtifactLocation.URI)
		}
	}

	byRule := map[string]sarif.Result{}
	for _, result := range run.Results {
		byRule[result.RuleID] = result
	}
	assert.Equal(t, "from the tool", byRule["OSPS-AC-01/OSPS-AC-01.01"].Message.Text)
	assert.Equal(t, sarif.LevelNote, byRule["OSPS-BR-01/OSPS-BR-01.01"].Level)
	assert.Equal(t, "OSPS-BR-01.01: Passed", byRule["OSPS-BR-01/OSPS-BR-01.01"].Message.Text)
	assert.Equal(t, sarif.LevelWarning, byRule["OSPS-BR-01/OSPS-BR-01.02"].Level)
	assert.Equal(t, "workflow inputs are not sanitized", byRule["OSPS-BR-01/OSPS-BR-01.02"].Message.Text)
	assert.Equal(t, "OSPS-BR-01/OSPS-BR-01.02", byRule["OSPS-BR-01/OSPS-BR-01.02"].Locations[0].LogicalLocations[0].FullyQualifiedName)
	assert.Equal(t, "OSPS-DO-01", byRule["OSPS-DO-01/OSPS-DO-01.01"].Locations[0].LogicalLocations[0].FullyQualifiedName)
}

func TestEnrichFile_Idempotent(t *testing.T) {
	dir := t.TempDir()
	sarifPath := writeFile(t, dir, "osps.sarif", sarifWithoutLocations)
	yamlPath := writeFile(t, dir, "osps.yaml", assessmentYAML)

	_, err := EnrichFile(sarifPath, yamlPath, Options{})
	require.NoError(t, err)
	first, err := os.ReadFile(sarifPath)
	require.NoError(t, err)

	summary, err := EnrichFile(sarifPath, yamlPath, Options{})
	require.NoError(t, err)
	second, err := os.ReadFile(sarifPath)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Added)
	assert.Equal(t, 0, summary.Located)
	assert.Equal(t, string(first), string(second))
}

func TestEnrichFile_MissingYAML(t *testing.T) {
	dir := t.TempDir()
	sarifPath := writeFile(t, dir, "osps.sarif", `{"version":"2.1.0","runs":[]}`)

	summary, err := EnrichFile(sarifPath, filepath.Join(dir, "missing.yaml"), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.ResultCount)

	doc := readDoc(t, sarifPath)
	require.Len(t, doc.Runs, 1)
	assert.Equal(t, DefaultToolName, doc.Runs[0].Tool.Driver.Name)
	assert.Equal(t, DefaultToolVersion, doc.Runs[0].Tool.Driver.Version)
	assert.False(t, doc.HasResults())
}

func TestEnrichFile_BrokenYAML(t *testing.T) {
	dir := t.TempDir()
	sarifPath := writeFile(t, dir, "osps.sarif", sarifWithoutLocations)
	yamlPath := writeFile(t, dir, "osps.yaml", "evaluation_suites: [unterminated")

	summary, err := EnrichFile(sarifPath, yamlPath, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Added)
	assert.Equal(t, 2, summary.ResultCount)
}

func TestEnrichFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := EnrichFile(filepath.Join(dir, "missing.sarif"), "", Options{})
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = EnrichFile(writeFile(t, dir, "bad.sarif", "not json"), "", Options{})
	assert.ErrorIs(t, err, sarif.ErrInvalidFormat)

	_, err = EnrichFile(writeFile(t, dir, "null.sarif", "null"), "", Options{})
	assert.ErrorIs(t, err, sarif.ErrInvalidFormat)
}

func TestEnrichFile_KeepsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	sarifPath := writeFile(t, dir, "osps.sarif", `{
  "$schema": "https://json.schemastore.org/sarif-2.1.0.json",
  "version": "2.1.0",
  "runs": [{
    "tool": {"driver": {"name": "pvtr", "rules": [{"id": "X"}]}},
    "invocations": [{"executionSuccessful": true}],
    "originalUriBaseIds": {"ROOT": {"uri": "file:///src/"}},
    "results": [{
      "ruleId": "OSPS-AC-01/OSPS-AC-01.01",
      "message": {"text": "MFA"},
      "partialFingerprints": {"primaryLocationLineHash": "abc:1"},
      "properties": {"tags": ["security"]},
      "locations": [{"physicalLocation": {"artifactLocation": {"uri": "a.go", "uriBaseId": "ROOT"}, "region": {"startLine": 3, "snippet": {"text": "x := 1"}}}}]
    }]
  }]
}`)

	_, err := EnrichFile(sarifPath, "", Options{})
	require.NoError(t, err)

	data, err := os.ReadFile(sarifPath)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, "https://json.schemastore.org/sarif-2.1.0.json", doc["$schema"])
	run := doc["runs"].([]any)[0].(map[string]any)
	assert.Equal(t, []any{map[string]any{"executionSuccessful": true}}, run["invocations"])
	assert.Contains(t, run, "originalUriBaseIds")
	assert.NotContains(t, run["tool"].(map[string]any)["driver"], "rules")

	result := run["results"].([]any)[0].(map[string]any)
	assert.Equal(t, map[string]any{"primaryLocationLineHash": "abc:1"}, result["partialFingerprints"])
	assert.Equal(t, map[string]any{"tags": []any{"security"}}, result["properties"])
	region := result["locations"].([]any)[0].(map[string]any)["physicalLocation"].(map[string]any)["region"].(map[string]any)
	assert.Equal(t, map[string]any{"text": "x := 1"}, region["snippet"])
}

func TestEnrich_PlaceholderURI(t *testing.T) {
	doc := map[string]any{}
	report := &models.AssessmentReport{EvaluationSuites: []models.EvaluationSuite{{
		ControlEvaluations: []models.ControlEvaluation{{
			ControlID:   "OSPS-VM-01",
			Assessments: []models.Assessment{{RequirementID: "OSPS-VM-01.01", Result: "Failed"}},
		}},
	}}}

	summary, err := Enrich(doc, report, Options{PlaceholderURI: "SECURITY.md"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Added)
	assert.Equal(t, "2.1.0", doc["version"])

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	typed, err := sarif.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "SECURITY.md", typed.Runs[0].Results[0].Locations[0].PhysicalLocation.ArtifactLocation.URI)
	assert.Equal(t, sarif.LevelError, typed.Runs[0].Results[0].Level)
}

func TestEnrich_MalformedRuns(t *testing.T) {
	_, err := Enrich(map[string]any{"runs": "nope"}, nil, Options{})
	assert.ErrorIs(t, err, sarif.ErrInvalidFormat)

	_, err = Enrich(map[string]any{"runs": []any{"nope"}}, nil, Options{})
	assert.ErrorIs(t, err, sarif.ErrInvalidFormat)
}

func TestLevelForResult(t *testing.T) {
	tests := map[string]string{
		"Failed":       sarif.LevelError,
		"error":        sarif.LevelError,
		"Warn":         sarif.LevelWarning,
		"Needs Review": sarif.LevelWarning,
		"Passed":       sarif.LevelNote,
		"pass":         sarif.LevelNote,
		"Unknown":      sarif.LevelNone,
		"":             sarif.LevelNone,
	}
	for result, want := range tests {
		assert.Equal(t, want, LevelForResult(result), result)
	}
}
