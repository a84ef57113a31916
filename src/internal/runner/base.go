package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gh-nvat/osps-sarifgate/src/pkg/assessment"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/enrich"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/gatekeeper"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/github"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/models"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/pathbuilder"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/policy"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/template"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/trace"
	"github.com/google/uuid"

	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "runner")

var (
	// ErrInvalidArtifacts is returned when an artifact was rejected as invalid SARIF and FailOnInvalid is set
	ErrInvalidArtifacts = errors.New("invalid SARIF artifacts")
	// ErrBlockingPolicies is returned when a blocking policy failed and EnforcePolicies is set
	ErrBlockingPolicies = errors.New("blocking policies failed")
)

const REPORT_FILENAME_JSON = "report.json"

type RunnerBase struct {
	Context context.Context
	Options *Options

	RunMode string

	Assessor  assessment.Assessor     // nil when the results already exist
	Evaluator *policy.PolicyEvaluator // nil when no policies are configured
	Renderer  *template.Renderer
}

// make RunnerBase implement RunnerInterface
var _ RunnerInterface = (*RunnerBase)(nil)

func NewRunnerBase(
	ctx context.Context,
	options *Options,
	assessor assessment.Assessor,
	evaluator *policy.PolicyEvaluator,
	renderer *template.Renderer,
) (*RunnerBase, error) {
	runner := &RunnerBase{
		Context:   ctx,
		Options:   options,
		RunMode:   options.RunMode,
		Assessor:  assessor,
		Evaluator: evaluator,
		Renderer:  renderer,
	}
	return runner, nil
}

func (r *RunnerBase) Initialize() error {
	logger.Info("Initializing runner: starting...")

	if r.Renderer == nil {
		return fmt.Errorf("renderer is required")
	}
	if r.Options.PathBuilder == nil && r.Options.SarifPath != "" {
		if err := r.Options.InitializePathBuilder(); err != nil {
			return fmt.Errorf("invalid SARIF path configuration: %w", err)
		}
	}

	if r.Evaluator != nil {
		logger.Info("Initialize runner: Evaluator: Loading and validating policy configuration")
		if err := r.Evaluator.LoadAndValidate(r.Context); err != nil {
			return fmt.Errorf("failed to load policy config: %w", err)
		}
	}

	logger.Info("Initialize runner: done.")
	return nil
}

// Assess runs the external assessment and makes its results readable
func (r *RunnerBase) Assess() error {
	return r.assess(r.Context)
}

func (r *RunnerBase) assess(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "Assess")
	defer span.End()

	if r.Assessor == nil {
		logger.Info("Assess: no assessment command configured, using existing results")
		return nil
	}

	params := assessment.Params{
		Token:        r.Options.GhToken,
		Catalog:      r.Options.Catalog,
		OutputFormat: r.Options.OutputFormat,
		ResultsDir:   r.Options.ResultsDir,
	}
	if params.Token == "" {
		params.Token = github.TokenFromEnv()
	}
	if r.Options.GhRepo != "" {
		owner, repo, err := github.ParseOwnerRepo(r.Options.GhRepo)
		if err != nil {
			return err
		}
		params.Owner, params.Repo = owner, repo
	}

	if err := r.Assessor.Run(ctx, params); err != nil {
		return err
	}
	if r.Options.ResultsDir != "" {
		if err := assessment.FixPermissions(r.Options.ResultsDir); err != nil {
			return fmt.Errorf("failed to fix permissions of %s: %w", r.Options.ResultsDir, err)
		}
		outputs, err := assessment.FindOutputs(r.Options.ResultsDir, r.Options.OutputFormat)
		if err != nil {
			return err
		}
		if len(outputs) == 0 {
			logger.WithField("resultsDir", r.Options.ResultsDir).Warn("Assess: the assessment wrote no output")
		}
		logger.WithField("outputs", outputs).Debug("Assess: outputs found")
	}
	return nil
}

// CollectArtifacts expands the SARIF path template, resolved against the results directory
func (r *RunnerBase) CollectArtifacts() ([]pathbuilder.Artifact, error) {
	if r.Options.OutputFormat != assessment.FormatSARIF {
		logger.WithField("outputFormat", r.Options.OutputFormat).Info("CollectArtifacts: output format is not sarif, nothing to gate")
		return nil, nil
	}
	if r.Options.PathBuilder == nil {
		if err := r.Options.InitializePathBuilder(); err != nil {
			return nil, fmt.Errorf("invalid SARIF path configuration: %w", err)
		}
	}

	artifacts, err := r.Options.PathBuilder.Artifacts()
	if err != nil {
		return nil, fmt.Errorf("failed to expand SARIF path: %w", err)
	}
	for i := range artifacts {
		artifacts[i].Path = pathbuilder.Resolve(r.Options.ResultsDir, artifacts[i].Path)
	}
	logger.WithField("count", len(artifacts)).Info("CollectArtifacts: done.")
	return artifacts, nil
}

// EnrichArtifacts merges the YAML assessment next to each SARIF artifact into it.
// returns: artifact key -> number of added results
func (r *RunnerBase) EnrichArtifacts(artifacts []pathbuilder.Artifact) map[string]int {
	return r.enrichArtifacts(r.Context, artifacts)
}

func (r *RunnerBase) enrichArtifacts(ctx context.Context, artifacts []pathbuilder.Artifact) map[string]int {
	added := make(map[string]int)
	if !r.Options.Enrich {
		return added
	}
	_, span := trace.StartSpan(ctx, "EnrichArtifacts")
	defer span.End()

	for _, artifact := range artifacts {
		lg := logger.WithField("artifact", artifact.Key)
		yamlPath := assessment.CompanionYAML(artifact.Path)
		summary, err := enrich.EnrichFile(artifact.Path, yamlPath, enrich.Options{PlaceholderURI: r.Options.PlaceholderURI})
		if err != nil {
			// the gatekeeper reports the artifact itself
			lg.WithField("error", err).Warn("Could not enrich SARIF artifact")
			continue
		}
		added[artifact.Key] = summary.Added
	}
	return added
}

// categoryFor returns the upload category of artifact; several artifacts never share one
func (r *RunnerBase) categoryFor(artifact pathbuilder.Artifact, total int) string {
	switch {
	case r.Options.Category == "":
		return artifact.Category()
	case total > 1:
		return r.Options.Category + "-" + artifact.Category()
	default:
		return r.Options.Category
	}
}

// GateArtifacts runs the gatekeeper on every artifact. A nil uploadCfg validates and decides without uploading.
func (r *RunnerBase) GateArtifacts(artifacts []pathbuilder.Artifact, uploadCfg *gatekeeper.UploadConfig) (map[string]models.ArtifactReport, error) {
	return r.gateArtifacts(r.Context, artifacts, uploadCfg)
}

func (r *RunnerBase) gateArtifacts(ctx context.Context, artifacts []pathbuilder.Artifact, uploadCfg *gatekeeper.UploadConfig) (map[string]models.ArtifactReport, error) {
	ctx, span := trace.StartSpan(ctx, "GateArtifacts")
	defer span.End()

	reports := make(map[string]models.ArtifactReport, len(artifacts))
	for _, artifact := range artifacts {
		artifactCtx, artifactSpan := trace.StartSpan(ctx, fmt.Sprintf("GateArtifacts.%s", artifact.Key))
		report := models.ArtifactReport{
			Key:      artifact.Key,
			Path:     artifact.Path,
			Category: r.categoryFor(artifact, len(artifacts)),
		}

		var (
			outcome *gatekeeper.UploadOutcome
			err     error
		)
		if uploadCfg == nil {
			outcome, err = checkOnly(artifact.Path)
		} else {
			cfg := *uploadCfg
			cfg.Category = report.Category
			outcome, err = gatekeeper.CheckAndUpload(artifactCtx, artifact.Path, cfg)
		}
		artifactSpan.End()
		if err != nil {
			return nil, fmt.Errorf("artifact %s: %w", artifact.Key, err)
		}

		report.Eligibility = string(eligibilityOf(outcome))
		report.State = string(outcome.State)
		report.Message = outcome.Message
		report.Hint = outcome.Hint
		report.ResultCount = outcome.ResultCount
		report.SarifID = outcome.SarifID
		report.AnalysesURL = outcome.AnalysesURL
		report.Processing = outcome.ProcessingStatus
		report.Attempts = outcome.Attempts
		reports[artifact.Key] = report

		logger.WithField("artifact", artifact.Key).
			WithField("state", report.State).
			WithField("results", report.ResultCount).
			Info("Gated SARIF artifact")
	}
	return reports, nil
}

// checkOnly validates and decides without uploading
func checkOnly(path string) (*gatekeeper.UploadOutcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", gatekeeper.ErrMissingArtifact, err)
	}
	vr := gatekeeper.Validate(data)
	eligibility := gatekeeper.DecideUploadEligibility(vr)
	switch eligibility.Decision {
	case gatekeeper.DecisionReject:
		return &gatekeeper.UploadOutcome{
			State:   gatekeeper.StateFailedInvalidFormat,
			Message: eligibility.Reason.Error(),
			Err:     eligibility.Reason,
		}, nil
	case gatekeeper.DecisionSkip:
		return &gatekeeper.UploadOutcome{
			State:   gatekeeper.StateSkippedEmpty,
			Message: "no results found (all controls passed), nothing to upload",
			Err:     eligibility.Reason,
		}, nil
	default:
		return &gatekeeper.UploadOutcome{
			Message:     "eligible for upload, uploads are disabled in local mode",
			ResultCount: vr.ResultCount,
		}, nil
	}
}

func eligibilityOf(outcome *gatekeeper.UploadOutcome) gatekeeper.Decision {
	switch outcome.State {
	case gatekeeper.StateFailedInvalidFormat:
		return gatekeeper.DecisionReject
	case gatekeeper.StateSkippedEmpty:
		return gatekeeper.DecisionSkip
	default:
		return gatekeeper.DecisionProceed
	}
}

// EvaluatePolicies evaluates the configured policies against every readable artifact
func (r *RunnerBase) EvaluatePolicies(artifacts []pathbuilder.Artifact, reports map[string]models.ArtifactReport) (*models.PolicyEvaluation, error) {
	return r.evaluatePolicies(r.Context, artifacts, reports)
}

func (r *RunnerBase) evaluatePolicies(ctx context.Context, artifacts []pathbuilder.Artifact, reports map[string]models.ArtifactReport) (*models.PolicyEvaluation, error) {
	if r.Evaluator == nil {
		return &models.PolicyEvaluation{}, nil
	}
	ctx, span := trace.StartSpan(ctx, "EvaluatePolicies")
	defer span.End()
	logger.Info("EvaluatePolicies: starting...")

	inputs := make(map[string][]byte)
	for _, artifact := range artifacts {
		if reports[artifact.Key].State == string(gatekeeper.StateFailedInvalidFormat) {
			continue
		}
		data, err := os.ReadFile(artifact.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read artifact %s: %w", artifact.Key, err)
		}
		inputs[artifact.Key] = data
	}

	eval, err := r.Evaluator.GeneratePolicyEvalResult(ctx, inputs)
	if err != nil {
		return nil, err
	}
	logger.Info("EvaluatePolicies: done.")
	return eval, nil
}

// process runs every stage and returns the report; a nil uploadCfg never uploads
func (r *RunnerBase) process(uploadCfg *gatekeeper.UploadConfig) (*models.ReportData, error) {
	ctx, span := trace.StartSpan(r.Context, "Process")
	defer span.End()
	logger.Info("Process: starting...")

	if err := r.assess(ctx); err != nil {
		return nil, err
	}

	artifacts, err := r.CollectArtifacts()
	if err != nil {
		return nil, err
	}

	enriched := r.enrichArtifacts(ctx, artifacts)

	reports, err := r.gateArtifacts(ctx, artifacts, uploadCfg)
	if err != nil {
		return nil, err
	}
	for key, n := range enriched {
		report := reports[key]
		report.Enriched = n
		reports[key] = report
	}

	policyEval, err := r.evaluatePolicies(ctx, artifacts, reports)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(artifacts))
	for _, artifact := range artifacts {
		keys = append(keys, artifact.Key)
	}

	data := &models.ReportData{
		InvocationID:     uuid.NewString(),
		Timestamp:        time.Now(),
		RunMode:          r.RunMode,
		OutputFormat:     r.Options.OutputFormat,
		Repo:             r.Options.GhRepo,
		CommitSHA:        r.Options.CommitSHA,
		Ref:              r.Options.Ref,
		ArtifactKeys:     keys,
		Artifacts:        reports,
		PolicyEvaluation: *policyEval,
	}
	logger.WithField("invocationId", data.InvocationID).Info("Process: done.")
	return data, nil
}

func (r *RunnerBase) Process() error {
	data, err := r.process(nil)
	if err != nil {
		return err
	}
	if err := r.Output(data); err != nil {
		return err
	}
	return r.Verdict(data)
}

// Verdict turns the report into the exit contract: only invalid SARIF (when FailOnInvalid is set)
// and enforced blocking policies fail the run
func (r *RunnerBase) Verdict(data *models.ReportData) error {
	var invalid []string
	for _, key := range data.ArtifactKeys {
		if data.Artifacts[key].State == string(gatekeeper.StateFailedInvalidFormat) {
			invalid = append(invalid, key)
		}
	}
	if len(invalid) > 0 {
		if r.Options.FailOnInvalid {
			return fmt.Errorf("%w: %s", ErrInvalidArtifacts, strings.Join(invalid, ", "))
		}
		logger.WithField("artifacts", invalid).Warn("Invalid SARIF artifacts ignored, fail-on-invalid is disabled")
	}

	if data.PolicyEvaluation.HasBlockingFailures() {
		if r.Options.EnforcePolicies {
			return ErrBlockingPolicies
		}
		logger.Warn("Blocking policies failed, enforce-policies is disabled")
	}
	return nil
}

func (r *RunnerBase) Output(data *models.ReportData) error {
	_, span := trace.StartSpan(r.Context, "Output")
	defer span.End()

	logger.Info("Output: starting...")
	if err := r.outputReportJson(data); err != nil {
		return err
	}
	logger.Info("Output: done.")
	return nil
}

// Exporting report json file to output directory if enabled
func (r *RunnerBase) outputReportJson(data *models.ReportData) error {
	if !r.Options.EnableExportReport {
		logger.Info("OutputJson: option was disabled")
		return nil
	}
	logger.Info("OutputJson: starting...")

	if err := os.MkdirAll(r.Options.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	resultsJson, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	filePath := filepath.Join(r.Options.OutputDir, REPORT_FILENAME_JSON)
	if err := os.WriteFile(filePath, resultsJson, 0644); err != nil {
		logger.WithField("filePath", filePath).WithField("error", err).Error("Failed to write report data to file")
		return err
	}
	logger.WithField("filePath", filePath).Info("Written report data to file")
	return nil
}
