package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/gh-nvat/osps-sarifgate/src/internal/runner"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/assessment"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/github"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/policy"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/template"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/trace"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var logger = log.WithField("package", "run")

const (
	RUN_MODE_GITHUB = "github"
	RUN_MODE_LOCAL  = "local"

	DEFAULT_ENV_FILE = ".env"
)

// envFlags are flags that fall back to an environment variable when not given on the command line
var envFlags = map[string]string{
	"assess-command": "OSPS_ASSESS_COMMAND",
	"catalog":        "OSPS_CATALOG",
	"policies-path":  "OSPS_POLICIES_PATH",
	"gh-api-url":     "GITHUB_API_URL",
}

// Initialize creates and initializes the appropriate runner
func createRunner(ctx context.Context, opts *runner.Options) (runner.RunnerInterface, error) {
	logger.WithField("runMode", opts.RunMode).Debug("Creating runner..")

	var assessor assessment.Assessor
	if opts.AssessCommand != "" {
		r, err := assessment.NewRunner(opts.AssessCommand)
		if err != nil {
			return nil, err
		}
		assessor = r
	}
	var evaluator *policy.PolicyEvaluator
	if opts.PoliciesPath != "" {
		evaluator = policy.NewPolicyEvaluator(opts.PoliciesPath)
	}
	renderer := template.NewRenderer()

	switch opts.RunMode {
	case RUN_MODE_GITHUB:
		ghClient, err := github.NewClientWithToken(opts.GhToken, opts.GhAPIURL)
		if err != nil {
			return nil, fmt.Errorf("GitHub authentication failed: %w", err)
		}
		runner, err := runner.NewRunnerGitHub(
			ctx, opts, ghClient, assessor, evaluator, renderer)
		if err != nil {
			return nil, fmt.Errorf("failed to create GitHub runner: %w", err)
		}
		return runner, nil
	case RUN_MODE_LOCAL:
		runner, err := runner.NewRunnerLocal(
			ctx, opts, assessor, evaluator, renderer,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Local runner: %w", err)
		}
		return runner, nil
	default:
		return nil, fmt.Errorf("invalid run mode: %s", opts.RunMode)
	}
}

func initialize(ctx context.Context, opts *runner.Options) (runner.RunnerInterface, error) {
	runner, err := createRunner(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}
	if err := runner.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize runner: %w", err)
	}
	return runner, nil
}

func run(ctx context.Context, cmd *cobra.Command, opts *runner.Options) error {
	if opts.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if err := loadEnv(cmd, opts); err != nil {
		return err
	}
	logger.WithField("opts", redacted(opts)).Info("Running..")

	// Initialize tracer
	shutdown, err := trace.InitTracer("osps-sarifgate", opts.EnableExportPerformanceReport, opts.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer shutdown()

	// Validate options
	if err := validateOptions(opts); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}

	// Initialize runner
	appRunner, err := initialize(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	err = appRunner.Process()
	if err != nil {
		return fmt.Errorf("failed to process: %w", err)
	}

	return nil
}

// loadEnv loads the dotenv file, then fills flags that were not set from their environment variable.
// Variables already in the environment win over the file.
func loadEnv(cmd *cobra.Command, opts *runner.Options) error {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DEFAULT_ENV_FILE
	}
	if err := godotenv.Load(envFile); err != nil {
		if opts.EnvFile != "" || !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else {
		logger.WithField("envFile", envFile).Debug("Loaded env file")
	}

	for name, env := range envFlags {
		if cmd.Flags().Changed(name) {
			continue
		}
		if value, ok := os.LookupEnv(env); ok && value != "" {
			if err := cmd.Flags().Set(name, value); err != nil {
				return fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	return nil
}

func validateOptions(opts *runner.Options) error {
	// Validate run mode
	if opts.RunMode != RUN_MODE_GITHUB && opts.RunMode != RUN_MODE_LOCAL {
		return fmt.Errorf("run-mode must be 'github' or 'local', got: %s", opts.RunMode)
	}

	if err := assessment.ValidateFormat(opts.OutputFormat); err != nil {
		return err
	}
	if opts.Enrich && opts.OutputFormat != assessment.FormatSARIF {
		return fmt.Errorf("--enrich requires --output-format %s", assessment.FormatSARIF)
	}

	if opts.Retries < 0 {
		return fmt.Errorf("--retries must not be negative, got: %d", opts.Retries)
	}
	if opts.WaitForProcessing && opts.PollInterval <= 0 {
		return fmt.Errorf("--poll-interval must be positive, got: %s", opts.PollInterval)
	}

	// Initialize PathBuilder
	if opts.SarifPathValues == "" && opts.Catalog != "" {
		opts.SarifPathValues = "CATALOG=" + opts.Catalog
	}
	if opts.SarifPath == "" {
		return fmt.Errorf("--sarif-path is required")
	}
	if err := opts.InitializePathBuilder(); err != nil {
		return fmt.Errorf("invalid SARIF path configuration: %w", err)
	}

	if opts.RunMode == RUN_MODE_LOCAL && opts.CommentOnPR {
		logger.Warn("--comment-on-pr has no effect in local mode")
	}
	return nil
}

// redacted returns a copy of opts that is safe to log
func redacted(opts *runner.Options) runner.Options {
	c := *opts
	if c.GhToken != "" {
		c.GhToken = "***"
	}
	c.PathBuilder = nil
	return c
}
