package main

import (
	"fmt"
	"os"

	"github.com/gh-nvat/osps-sarifgate/src/internal/runner"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/assessment"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/enrich"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/gatekeeper"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command, parse args from CLI
func newRootCmd() *cobra.Command {
	opts := &runner.Options{}

	cmd := &cobra.Command{
		Use:   "osps-sarifgate",
		Short: "OSPS Baseline assessment gatekeeper for GitHub Code Scanning",
		Long: `osps-sarifgate runs an OSPS Baseline assessment, validates the SARIF it produces and uploads
eligible results to GitHub Code Scanning. Upload problems never fail the workflow; only invalid
SARIF (and, when enforced, blocking policies) do.`,
		Version:       fmt.Sprintf("%s (built: %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd, opts)
		},
	}
	bindFlags(cmd, opts)
	return cmd
}

// bindFlags registers every flag of cmd onto opts
func bindFlags(cmd *cobra.Command, opts *runner.Options) {
	// Run mode
	cmd.Flags().StringVar(&opts.RunMode, "run-mode", RUN_MODE_GITHUB, "Run mode: github or local")
	cmd.Flags().BoolVar(&opts.Debug, "debug", false, "Debug mode")
	cmd.Flags().StringVar(&opts.EnvFile, "env-file", "",
		"Dotenv file to load before reading flags from the environment (default .env, if present)")

	// Assessment flags
	cmd.Flags().StringVar(&opts.AssessCommand, "assess-command", "",
		"Command running the assessment; empty means the results directory is already populated")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", assessment.DefaultCatalog, "Control catalog to assess against")
	cmd.Flags().StringVar(&opts.OutputFormat, "output-format", assessment.FormatSARIF, "Assessment output format: yaml, json or sarif")
	cmd.Flags().StringVar(&opts.ResultsDir, "results-dir", "./results", "Directory the assessment writes its results to")

	// Artifact flags
	cmd.Flags().StringVar(&opts.SarifPath, "sarif-path", "[CATALOG].sarif",
		"SARIF artifact path template relative to --results-dir, with [VARIABLES]")
	cmd.Flags().StringVar(&opts.SarifPathValues, "sarif-path-values", "",
		"Template variable values (e.g., CATALOG=osps-baseline;SUITE=a,b); defaults to CATALOG=<catalog>")
	cmd.Flags().BoolVar(&opts.Enrich, "enrich", false, "Merge the YAML assessment next to each SARIF file into it")
	cmd.Flags().StringVar(&opts.PlaceholderURI, "placeholder-uri", enrich.DefaultPlaceholderURI,
		"Physical location given to repository level findings")

	// Gatekeeper flags
	cmd.Flags().BoolVar(&opts.FailOnInvalid, "fail-on-invalid", true, "Fail the run when an artifact is not valid SARIF")
	cmd.Flags().StringVar(&opts.Category, "category", "", "Code scanning category (default: the artifact key)")
	cmd.Flags().BoolVar(&opts.WaitForProcessing, "wait-for-processing", false, "Poll until GitHub has processed the upload")
	cmd.Flags().DurationVar(&opts.MaxWait, "max-wait", gatekeeper.DefaultMaxWait, "Maximum time to wait for processing")
	cmd.Flags().DurationVar(&opts.PollInterval, "poll-interval", gatekeeper.DefaultPollInterval, "Processing status poll interval")
	cmd.Flags().DurationVar(&opts.UploadTimeout, "upload-timeout", gatekeeper.DefaultUploadTimeout, "Timeout of one upload, retries included")
	cmd.Flags().IntVar(&opts.Retries, "retries", gatekeeper.DefaultRetries, "Retries of a transient upload failure")
	cmd.Flags().DurationVar(&opts.RetryBackoff, "retry-backoff", gatekeeper.DefaultRetryBackoff, "Base backoff between upload retries")

	// Policy flags
	cmd.Flags().StringVar(&opts.PoliciesPath, "policies-path", "",
		"Path to policies directory (contains policy-config.yaml); empty disables policies")
	cmd.Flags().BoolVar(&opts.EnforcePolicies, "enforce-policies", false, "Fail the run when a blocking policy fails")

	// Reporting flags
	cmd.Flags().StringVar(&opts.TemplatesPath, "templates-path", "",
		"Directory with custom report templates (default: built-in templates)")
	cmd.Flags().StringVar(&opts.OutputDir, "output-dir", "./output",
		"Output directory in case the tool need to export files. In local mode, the tool will export the report to this directory.")
	cmd.Flags().BoolVar(&opts.EnableExportReport, "enable-export-report", false, "Enable export report (json file to output dir)")
	cmd.Flags().BoolVar(&opts.EnableExportPerformanceReport, "enable-export-performance-report", false, "Enable export performance report (json file to output dir)")

	// GitHub mode flags
	cmd.Flags().StringVar(&opts.GhRepo, "gh-repo", "",
		"GitHub repository (e.g., org/repo), defaults to GITHUB_REPOSITORY [github mode]")
	cmd.Flags().StringVar(&opts.GhToken, "gh-token", "",
		"GitHub token, defaults to GH_TOKEN or GITHUB_TOKEN [github mode]")
	cmd.Flags().StringVar(&opts.GhAPIURL, "gh-api-url", "",
		"GitHub API URL, defaults to GITHUB_API_URL [github mode]")
	cmd.Flags().IntVar(&opts.GhPrNumber, "gh-pr-number", 0,
		"GitHub PR number, derived from the ref when empty [github mode]")
	cmd.Flags().StringVar(&opts.CommitSHA, "commit-sha", "",
		"Commit the results belong to, defaults to GITHUB_SHA or the local HEAD [github mode]")
	cmd.Flags().StringVar(&opts.Ref, "ref", "",
		"Fully qualified ref the results belong to, defaults to GITHUB_REF or the local HEAD [github mode]")
	cmd.Flags().BoolVar(&opts.CommentOnPR, "comment-on-pr", false, "Post the report as a PR comment [github mode]")
}
