package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const failingSarif = `{
  "version": "2.1.0",
  "runs": [{
    "tool": {"driver": {"name": "pvtr-github-repo"}},
    "results": [
      {"ruleId": "OSPS-AC-01/OSPS-AC-01.01", "level": "error", "message": {"text": "MFA not required"}},
      {"ruleId": "OSPS-BR-01/OSPS-BR-01.01", "level": "note", "message": {"text": "passed"}}
    ]
  }]
}`

const passingSarif = `{
  "version": "2.1.0",
  "runs": [{
    "tool": {"driver": {"name": "pvtr-github-repo", "version": "0.9.0"}},
    "results": [{"ruleId": "OSPS-BR-01/OSPS-BR-01.01", "level": "note", "message": {"text": "passed"}}]
  }]
}`

func loadedEvaluator(t *testing.T) *PolicyEvaluator {
	t.Helper()
	e := NewPolicyEvaluator("testdata/policies")
	require.NoError(t, e.LoadAndValidate(context.Background()))
	return e
}

func TestLoadAndValidate(t *testing.T) {
	e := loadedEvaluator(t)
	assert.Equal(t, []string{"no-critical-findings", "tool-version"}, e.Config().PolicyIDs)
	assert.Len(t, e.prepared, 2)
}

func TestLoadAndValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		files   map[string]string
		wantErr string
	}{
		{
			name:    "no policies",
			config:  "policies: {}",
			wantErr: "no policies defined",
		},
		{
			name: "unknown level",
			config: `policies:
  p:
    name: P
    filePath: p.rego
    enforcement:
      level: fatal`,
			wantErr: "unknown enforcement level",
		},
		{
			name: "not rego",
			config: `policies:
  p:
    name: P
    filePath: p.opa
    enforcement:
      level: warning`,
			wantErr: "must be .rego",
		},
		{
			name: "missing file",
			config: `policies:
  p:
    name: P
    filePath: p.rego
    enforcement:
      level: warning`,
			wantErr: "failed to read",
		},
		{
			name: "does not compile",
			config: `policies:
  p:
    name: P
    filePath: p.rego
    enforcement:
      level: warning`,
			files:   map[string]string{"p.rego": "package main\n\ndeny[msg {"},
			wantErr: "failed to compile",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, POLICY_CONFIG_FILENAME), []byte(tt.config), 0644))
			for name, content := range tt.files {
				require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
			}

			err := NewPolicyEvaluator(dir).LoadAndValidate(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEvaluate(t *testing.T) {
	e := loadedEvaluator(t)

	results, err := e.Evaluate(context.Background(), []byte(failingSarif))
	require.NoError(t, err)
	assert.Equal(t, []string{"OSPS-AC-01/OSPS-AC-01.01 failed: MFA not required"}, results["no-critical-findings"])
	assert.Equal(t, []string{"tool pvtr-github-repo does not report a version"}, results["tool-version"])

	results, err = e.Evaluate(context.Background(), []byte(passingSarif))
	require.NoError(t, err)
	assert.Empty(t, results["no-critical-findings"])
	assert.Empty(t, results["tool-version"])

	_, err = e.Evaluate(context.Background(), []byte("not json"))
	assert.Error(t, err)
}

func TestGeneratePolicyEvalResult(t *testing.T) {
	e := loadedEvaluator(t)

	eval, err := e.GeneratePolicyEvalResult(context.Background(), map[string][]byte{
		"failing": []byte(failingSarif),
		"passing": []byte(passingSarif),
	})
	require.NoError(t, err)

	failing := eval.ArtifactSummary["failing"]
	assert.False(t, failing.PassingStatus.PassBlockingCheck)
	assert.False(t, failing.PassingStatus.PassRecommendCheck)
	assert.True(t, failing.PassingStatus.PassWarningCheck)
	assert.Equal(t, 2, failing.PolicyCounts.TotalCount)
	assert.Equal(t, 2, failing.PolicyCounts.TotalFailed)
	assert.Equal(t, 1, failing.PolicyCounts.BlockingFailedCount)
	require.Len(t, eval.PolicyMatrix["failing"].BlockingPolicies, 1)
	assert.Equal(t, "https://baseline.openssf.org/", eval.PolicyMatrix["failing"].BlockingPolicies[0].ExternalLink)

	passing := eval.ArtifactSummary["passing"]
	assert.True(t, passing.PassingStatus.PassBlockingCheck)
	assert.Equal(t, 2, passing.PolicyCounts.TotalSuccess)

	assert.True(t, eval.HasBlockingFailures())
}
