package runner

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gh-nvat/osps-sarifgate/src/pkg/assessment"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/gatekeeper"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/github"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/gitref"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/models"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/policy"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/template"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/trace"
)

// Action outputs written to GITHUB_OUTPUT
const (
	OUTPUT_UPLOAD_STATE = "upload-state"
	OUTPUT_SARIF_ID     = "sarif-id"
	OUTPUT_RESULT_COUNT = "result-count"
)

// statePrecedence orders outcome states from least to most severe for the aggregated upload-state output
var statePrecedence = map[string]int{
	string(gatekeeper.StateSkippedEmpty):        1,
	string(gatekeeper.StateUploaded):            2,
	string(gatekeeper.StateFailedNonFatal):      3,
	string(gatekeeper.StateFailedInvalidFormat): 4,
}

type RunnerGitHub struct {
	RunnerBase

	options  *Options
	ghclient github.GitHubClient

	runId int
}

// make RunnerGitHub implement RunnerInterface
var _ RunnerInterface = (*RunnerGitHub)(nil)

func NewRunnerGitHub(
	ctx context.Context,
	options *Options,
	ghclient github.GitHubClient,
	assessor assessment.Assessor,
	evaluator *policy.PolicyEvaluator,
	renderer *template.Renderer,
) (*RunnerGitHub, error) {
	if ghclient == nil {
		return nil, fmt.Errorf("GitHub client is not initialized")
	}
	baseRunner, err := NewRunnerBase(ctx, options, assessor, evaluator, renderer)
	if err != nil {
		return nil, err
	}
	runner := &RunnerGitHub{
		RunnerBase: *baseRunner,
		ghclient:   ghclient,
		options:    options,
	}
	return runner, nil
}

func (r *RunnerGitHub) Initialize() error {
	lg := logger.WithField("func", "RunnerGitHub.Initialize()")
	lg.Info("Initializing runner: starting...")

	if r.options.GhRepo == "" {
		r.options.GhRepo = os.Getenv("GITHUB_REPOSITORY")
	}
	if _, _, err := github.ParseOwnerRepo(r.options.GhRepo); err != nil {
		return fmt.Errorf("github mode requires --gh-repo or GITHUB_REPOSITORY: %w", err)
	}

	// an explicit PR number without a ref targets the PR head
	if r.options.GhPrNumber > 0 && r.options.Ref == "" && os.Getenv("GITHUB_REF") == "" {
		pr, err := r.ghclient.GetPR(r.Context, r.options.GhRepo, r.options.GhPrNumber)
		if err != nil {
			return fmt.Errorf("failed to get PR %d: %w", r.options.GhPrNumber, err)
		}
		r.options.Ref = fmt.Sprintf("refs/pull/%d/head", pr.Number)
		if r.options.CommitSHA == "" {
			r.options.CommitSHA = pr.HeadSHA
		}
	}

	workspace := os.Getenv("GITHUB_WORKSPACE")
	if workspace == "" {
		workspace = "."
	}
	head, err := gitref.Resolve(r.options.CommitSHA, r.options.Ref, workspace)
	if err != nil {
		return fmt.Errorf("failed to resolve commit and ref: %w", err)
	}
	r.options.CommitSHA, r.options.Ref = head.CommitSHA, head.Ref
	if !gitref.IsValidRef(r.options.Ref) {
		lg.WithField("ref", r.options.Ref).Warn("Ref is not fully qualified, the code scanning endpoint may reject the upload")
	}

	if r.options.GhPrNumber == 0 {
		r.options.GhPrNumber = gitref.PullRequestNumber(r.options.Ref)
	}

	r.runId = 0
	runIdStr := os.Getenv("GITHUB_RUN_ID")
	if runIdStr != "" {
		if _, err := fmt.Sscanf(runIdStr, "%d", &r.runId); err != nil {
			lg.WithField("GITHUB_RUN_ID", runIdStr).WithField("error", err).Warn("GITHUB_RUN_ID env was set but failed to parse into int. Will not link the workflow run.")
		}
	} else {
		lg.Warn("GITHUB_RUN_ID env was not set. The report will not link the workflow run.")
	}

	lg.WithField("repo", r.options.GhRepo).
		WithField("commit", r.options.CommitSHA).
		WithField("ref", r.options.Ref).
		WithField("pr", r.options.GhPrNumber).
		Info("Initializing runner: done.")
	return r.RunnerBase.Initialize()
}

func (r *RunnerGitHub) Process() error {
	cfg := r.options.UploadConfig(r.ghclient)
	cfg.CheckoutURI = github.GetCheckoutURI()

	data, err := r.process(&cfg)
	if err != nil {
		return err
	}
	if r.runId > 0 {
		if url, err := github.GetWorkflowRunUrl(r.options.GhRepo, r.runId); err == nil {
			data.WorkflowRunURL = url
		}
	}
	if url, err := github.GetCodeScanningUrl(r.options.GhRepo); err == nil {
		data.CodeScanningURL = url
	}

	if err := r.Output(data); err != nil {
		return err
	}
	return r.Verdict(data)
}

func (r *RunnerGitHub) Output(data *models.ReportData) error {
	_, span := trace.StartSpan(r.Context, "Output")
	defer span.End()

	logger.Info("Output: starting...")
	if err := r.outputReportJson(data); err != nil {
		return err
	}

	renderedMarkdown, err := r.Renderer.RenderWithTemplates(r.Options.TemplatesPath, data)
	if err != nil {
		logger.WithField("error", err).Error("Failed to render markdown template")
		return err
	}
	logger.WithField("renderedMarkdown", renderedMarkdown).Debug("Rendered markdown")

	if err := r.outputStepSummary(renderedMarkdown); err != nil {
		return err
	}
	if err := r.outputActionOutputs(data); err != nil {
		return err
	}
	r.outputGitHubComment(renderedMarkdown)
	logger.Info("Output: done.")
	return nil
}

// Append the rendered report to the job summary
func (r *RunnerGitHub) outputStepSummary(markdown string) error {
	path := os.Getenv("GITHUB_STEP_SUMMARY")
	if path == "" {
		logger.Info("OutputStepSummary: GITHUB_STEP_SUMMARY not set, skipping")
		return nil
	}
	return appendFile(path, markdown+"\n")
}

// Write upload-state, sarif-id and result-count for later workflow steps
func (r *RunnerGitHub) outputActionOutputs(data *models.ReportData) error {
	path := os.Getenv("GITHUB_OUTPUT")
	if path == "" {
		logger.Info("OutputActionOutputs: GITHUB_OUTPUT not set, skipping")
		return nil
	}

	state, ids, total := aggregateOutcomes(data)
	var b strings.Builder
	fmt.Fprintf(&b, "%s=%s\n", OUTPUT_UPLOAD_STATE, state)
	fmt.Fprintf(&b, "%s=%s\n", OUTPUT_SARIF_ID, strings.Join(ids, ","))
	fmt.Fprintf(&b, "%s=%s\n", OUTPUT_RESULT_COUNT, strconv.Itoa(total))
	return appendFile(path, b.String())
}

// aggregateOutcomes returns the most severe state, the SARIF ids in artifact order and the total result count
func aggregateOutcomes(data *models.ReportData) (string, []string, int) {
	state := ""
	ids := []string{}
	total := 0
	for _, key := range data.ArtifactKeys {
		report := data.Artifacts[key]
		if statePrecedence[report.State] > statePrecedence[state] {
			state = report.State
		}
		if report.SarifID != "" {
			ids = append(ids, report.SarifID)
		}
		total += report.ResultCount
	}
	return state, ids, total
}

// Post or update the report comment on the pull request; failures only warn
func (r *RunnerGitHub) outputGitHubComment(markdown string) {
	if !r.options.CommentOnPR {
		return
	}
	if r.options.GhPrNumber == 0 {
		logger.Info("OutputGitHubComment: not a pull request, skipping")
		return
	}
	logger.Info("OutputGitHubComment: starting...")

	category := r.options.Category
	if category == "" {
		category = "default"
	}
	commentSignature := strings.ReplaceAll(template.ToolCommentSignature, template.ToolCommentCategoryToken, category)
	finalComment := commentSignature + "\n\n" + markdown

	existingComment, err := r.ghclient.FindToolComment(r.Context, r.options.GhRepo, r.options.GhPrNumber, commentSignature)
	if err != nil {
		logger.WithField("error", err).Warn("Failed to find existing comment, will create new one")
	}

	if existingComment != nil {
		if err := r.ghclient.UpdateComment(r.Context, r.options.GhRepo, existingComment.ID, finalComment); err != nil {
			logger.WithField("error", err).Warn("Failed to update existing comment")
			return
		}
		logger.Info("Updated existing GitHub comment")
		return
	}
	if _, err := r.ghclient.CreateComment(r.Context, r.options.GhRepo, r.options.GhPrNumber, finalComment); err != nil {
		logger.WithField("error", err).Warn("Failed to create new comment")
		return
	}
	logger.Info("Created new GitHub comment")
}

func appendFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
