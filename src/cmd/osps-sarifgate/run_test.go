package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gh-nvat/osps-sarifgate/src/internal/runner"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOptions() *runner.Options {
	return &runner.Options{
		RunMode:      RUN_MODE_LOCAL,
		Catalog:      "osps-baseline",
		OutputFormat: "sarif",
		SarifPath:    "[CATALOG].sarif",
		PollInterval: time.Second,
	}
}

func TestValidateOptions(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(o *runner.Options)
		wantErr string
	}{
		{name: "valid", modify: func(o *runner.Options) {}},
		{name: "bad run mode", modify: func(o *runner.Options) { o.RunMode = "remote" }, wantErr: "run-mode"},
		{name: "bad format", modify: func(o *runner.Options) { o.OutputFormat = "xml" }, wantErr: "xml"},
		{name: "enrich needs sarif", modify: func(o *runner.Options) { o.OutputFormat = "yaml"; o.Enrich = true }, wantErr: "--enrich"},
		{name: "negative retries", modify: func(o *runner.Options) { o.Retries = -1 }, wantErr: "--retries"},
		{name: "zero poll interval", modify: func(o *runner.Options) { o.WaitForProcessing = true; o.PollInterval = 0 }, wantErr: "--poll-interval"},
		{name: "missing path", modify: func(o *runner.Options) { o.SarifPath = "" }, wantErr: "--sarif-path"},
		{name: "unknown variable", modify: func(o *runner.Options) { o.SarifPath = "[SUITE].sarif" }, wantErr: "SARIF path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validOptions()
			tt.modify(opts)
			err := validateOptions(opts)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "CATALOG=osps-baseline", opts.SarifPathValues)
			assert.NotNil(t, opts.PathBuilder)
		})
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("OSPS_CATALOG=osps-level2\nOSPS_POLICIES_PATH=./policies\n"), 0644))
	t.Setenv("OSPS_CATALOG", "")
	t.Setenv("OSPS_POLICIES_PATH", "")
	// godotenv never overrides variables that already exist
	require.NoError(t, os.Unsetenv("OSPS_CATALOG"))
	require.NoError(t, os.Unsetenv("OSPS_POLICIES_PATH"))

	cmd, opts := newTestCmd(t, "--env-file", envFile, "--policies-path", "./mine")
	require.NoError(t, loadEnv(cmd, opts))
	assert.Equal(t, "osps-level2", opts.Catalog)
	assert.Equal(t, "./mine", opts.PoliciesPath)
}

func TestLoadEnv_MissingFile(t *testing.T) {
	cmd, opts := newTestCmd(t, "--env-file", filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, loadEnv(cmd, opts))
}

func TestRedacted(t *testing.T) {
	opts := validOptions()
	opts.GhToken = "ghp_secret"
	r := redacted(opts)
	assert.Equal(t, "***", r.GhToken)
	assert.Equal(t, "ghp_secret", opts.GhToken)
}

func newTestCmd(t *testing.T, args ...string) (*cobra.Command, *runner.Options) {
	t.Helper()
	opts := &runner.Options{}
	cmd := &cobra.Command{Use: "osps-sarifgate"}
	bindFlags(cmd, opts)
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd, opts
}

func TestBindFlags_Defaults(t *testing.T) {
	_, opts := newTestCmd(t)
	assert.Equal(t, RUN_MODE_GITHUB, opts.RunMode)
	assert.Equal(t, "sarif", opts.OutputFormat)
	assert.Equal(t, "osps-baseline", opts.Catalog)
	assert.True(t, opts.FailOnInvalid)
	assert.Equal(t, 2, opts.Retries)
	assert.Equal(t, "README.md", opts.PlaceholderURI)
}

func TestLogger_FollowsDebugFlag(t *testing.T) {
	level := log.GetLevel()
	t.Cleanup(func() { log.SetLevel(level) })

	log.SetLevel(log.DebugLevel)
	assert.Same(t, log.StandardLogger(), logger.Logger)
	assert.True(t, logger.Logger.IsLevelEnabled(log.DebugLevel))
}
