package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dustin/go-humanize"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/models"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/sarif"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/trace"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "gatekeeper")

const (
	DefaultMaxWait       = 2 * time.Minute
	DefaultPollInterval  = 5 * time.Second
	DefaultUploadTimeout = time.Minute
	DefaultRetries       = 2
	DefaultRetryBackoff  = 2 * time.Second

	maxRetryInterval = 30 * time.Second
)

var maxPayloadSize = sarif.MaxCompressedSize

// Uploader is the code scanning ingestion endpoint
type Uploader interface {
	UploadSarif(ctx context.Context, req models.UploadRequest) (*models.UploadReceipt, error)
	GetSarifStatus(ctx context.Context, repo, sarifID string) (*models.ProcessingStatus, error)
}

// UploadConfig carries everything an upload needs; nothing is read from globals
type UploadConfig struct {
	Uploader Uploader

	Repo        string // owner/repo
	CommitSHA   string
	Ref         string
	CheckoutURI string
	ToolName    string // defaults to the document's driver name
	Category    string // stamped into runs[].automationDetails.id of the uploaded copy

	WaitForProcessing bool
	MaxWait           time.Duration // bounds the whole upload, retries and polling included
	PollInterval      time.Duration
	UploadTimeout     time.Duration
	Retries           int
	RetryBackoff      time.Duration
}

func (c UploadConfig) withDefaults() UploadConfig {
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = DefaultUploadTimeout
	}
	// zero retries is a valid setting, DefaultRetries is applied by the CLI
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	return c
}

// Validate checks the fields an upload cannot do without
func (c UploadConfig) Validate() error {
	if c.Uploader == nil {
		return fmt.Errorf("%w: no uploader configured", ErrInvalidConfig)
	}
	if c.Repo == "" {
		return fmt.Errorf("%w: repository is required", ErrInvalidConfig)
	}
	if c.CommitSHA == "" {
		return fmt.Errorf("%w: commit SHA is required", ErrInvalidConfig)
	}
	if c.Ref == "" {
		return fmt.Errorf("%w: ref is required", ErrInvalidConfig)
	}
	return nil
}

// CheckAndUpload validates the SARIF artifact at sarifPath and uploads it when it has results.
// The returned error is reserved for invocation misuse (unreadable artifact, unusable config);
// every upload-stage problem is reported through the outcome instead.
func CheckAndUpload(ctx context.Context, sarifPath string, cfg UploadConfig) (*UploadOutcome, error) {
	ctx, span := trace.StartSpan(ctx, "Gatekeeper.CheckAndUpload")
	defer span.End()

	lg := logger.WithField("sarifPath", sarifPath)
	if sarifPath == "" {
		return nil, fmt.Errorf("%w: path is empty", ErrMissingArtifact)
	}
	data, err := os.ReadFile(sarifPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMissingArtifact, err)
	}

	vr := Validate(data)
	eligibility := DecideUploadEligibility(vr)
	lg.WithField("decision", eligibility.Decision).WithField("resultCount", vr.ResultCount).Info("Checked SARIF artifact")

	switch eligibility.Decision {
	case DecisionReject:
		outcome := rejected(eligibility.Reason)
		lg.WithField("error", outcome.Err).Error("SARIF artifact is not valid, upload rejected")
		return outcome, nil
	case DecisionSkip:
		outcome := skipped(vr.ResultCount)
		lg.Info(outcome.Message)
		return outcome, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return Upload(ctx, vr.Document, cfg), nil
}

// Upload submits doc to the ingestion endpoint. It never returns a failure as an error:
// network, authentication and endpoint rejections become StateFailedNonFatal.
// It returns within MaxWait even when the endpoint never answers.
func Upload(ctx context.Context, doc *sarif.Document, cfg UploadConfig) *UploadOutcome {
	ctx, span := trace.StartSpan(ctx, "Gatekeeper.Upload")
	defer span.End()

	cfg = cfg.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, cfg.MaxWait)
	defer cancel()
	started := time.Now()
	outcome := &UploadOutcome{ResultCount: doc.ResultCount()}
	defer func() { outcome.Duration = time.Since(started) }()

	lg := logger.WithField("repo", cfg.Repo).WithField("ref", cfg.Ref).WithField("category", cfg.Category)

	if err := cfg.Validate(); err != nil {
		return failNonFatal(outcome, err, "")
	}

	payload, err := encodePayload(doc, cfg.Category)
	if err != nil {
		return failNonFatal(outcome, err, "")
	}

	toolName := cfg.ToolName
	if toolName == "" {
		toolName = doc.ToolName()
	}
	req := models.UploadRequest{
		Repo:        cfg.Repo,
		CommitSHA:   cfg.CommitSHA,
		Ref:         cfg.Ref,
		Sarif:       payload,
		CheckoutURI: cfg.CheckoutURI,
		ToolName:    toolName,
		StartedAt:   started,
	}

	receipt, attempts, err := uploadWithRetry(ctx, cfg, req)
	outcome.Attempts = attempts
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrUploadTransport, err)
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ErrProcessingTimeout, err)
		}
		outcome = failNonFatal(outcome, err, remediationHint(err))
		lg.WithField("attempts", attempts).WithField("error", err).WithField("hint", outcome.Hint).Warn("SARIF upload failed, continuing")
		return outcome
	}

	outcome.State = StateUploaded
	outcome.SarifID = receipt.ID
	outcome.SarifURL = receipt.URL
	outcome.ProcessingStatus = models.ProcessingStatusPending
	lg.WithField("sarifId", receipt.ID).WithField("attempts", attempts).Info("SARIF uploaded")

	if !cfg.WaitForProcessing {
		return outcome
	}
	return waitForProcessing(ctx, cfg, outcome)
}

func encodePayload(doc *sarif.Document, category string) (string, error) {
	raw := doc.Raw
	if raw == nil {
		var err error
		if raw, err = sarif.Marshal(doc); err != nil {
			return "", err
		}
	}
	raw, err := sarif.WithDefaultMessages(raw)
	if err != nil {
		return "", err
	}
	if raw, err = sarif.WithCategory(raw, category); err != nil {
		return "", err
	}

	payload, size, err := sarif.Compress(raw)
	if err != nil {
		return "", err
	}
	if size > maxPayloadSize {
		return "", fmt.Errorf("%w: compressed SARIF is %s, the endpoint accepts at most %s",
			ErrPayloadTooLarge, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(maxPayloadSize)))
	}
	logger.WithField("raw", humanize.IBytes(uint64(len(raw)))).WithField("compressed", humanize.IBytes(uint64(size))).Debug("Encoded SARIF payload")
	return payload, nil
}

// uploadWithRetry retries temporary failures with exponential backoff until the upload deadline
func uploadWithRetry(ctx context.Context, cfg UploadConfig, req models.UploadRequest) (*models.UploadReceipt, int, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.UploadTimeout)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.RetryBackoff
	policy.MaxInterval = maxRetryInterval

	attempts := 0
	var lastErr error
	receipt, err := backoff.Retry(ctx, func() (*models.UploadReceipt, error) {
		attempts++
		receipt, err := cfg.Uploader.UploadSarif(ctx, req)
		if err != nil {
			lastErr = err
			if !isTemporary(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if receipt == nil {
			receipt = &models.UploadReceipt{}
		}
		return receipt, nil
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(cfg.Retries+1)),
		backoff.WithMaxElapsedTime(cfg.UploadTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.WithField("attempt", attempts).WithField("retryIn", next).WithField("error", err).Warn("SARIF upload attempt failed, retrying")
		}),
	)
	if err == nil {
		return receipt, attempts, nil
	}
	if lastErr == nil {
		return nil, attempts, err
	}
	// keep the endpoint error when the deadline cut the retries short
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(lastErr, ctxErr) {
		return nil, attempts, fmt.Errorf("%w: %w", lastErr, ctxErr)
	}
	return nil, attempts, lastErr
}

// waitForProcessing polls until the endpoint reports the upload as processed or ctx, bounded by MaxWait, ends
func waitForProcessing(ctx context.Context, cfg UploadConfig, outcome *UploadOutcome) *UploadOutcome {
	ctx, span := trace.StartSpan(ctx, "Gatekeeper.WaitForProcessing")
	defer span.End()

	lg := logger.WithField("sarifId", outcome.SarifID)
	if outcome.SarifID == "" {
		lg.Warn("Endpoint returned no SARIF id, cannot wait for processing")
		return outcome
	}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	lg.WithField("maxWait", cfg.MaxWait).Info("Waiting for SARIF processing")
	for {
		select {
		case <-ctx.Done():
			err := fmt.Errorf("%w: still %s after %s", ErrProcessingTimeout, outcome.ProcessingStatus, cfg.MaxWait)
			lg.WithField("error", err).Warn("Gave up waiting for SARIF processing, the upload itself succeeded")
			return failNonFatal(outcome, err, "processing continues on the endpoint; raise --max-wait or check the code scanning page later")
		case <-ticker.C:
		}

		status, err := cfg.Uploader.GetSarifStatus(ctx, cfg.Repo, outcome.SarifID)
		if err != nil {
			// the status endpoint can answer 404 for a short while after the upload
			lg.WithField("error", err).Debug("Processing status not available yet")
			continue
		}
		outcome.ProcessingStatus = status.Status
		lg.WithField("status", status.Status).Debug("Polled SARIF processing status")

		switch status.Status {
		case models.ProcessingStatusComplete:
			outcome.AnalysesURL = status.AnalysesURL
			lg.WithField("analysesUrl", status.AnalysesURL).Info("SARIF processing complete")
			return outcome
		case models.ProcessingStatusFailed:
			err := fmt.Errorf("%w: the endpoint failed to process the SARIF document", ErrUploadTransport)
			lg.WithField("error", err).Warn("SARIF processing failed, continuing")
			return failNonFatal(outcome, err, "open the code scanning tool status page of the repository for the processing errors")
		}
	}
}

func failNonFatal(outcome *UploadOutcome, err error, hint string) *UploadOutcome {
	outcome.State = StateFailedNonFatal
	outcome.Err = err
	outcome.Message = err.Error()
	outcome.Hint = hint
	if outcome.Hint == "" && errors.Is(err, ErrPayloadTooLarge) {
		outcome.Hint = "reduce the number of results, e.g. by uploading each catalog separately"
	}
	return outcome
}

func isTemporary(err error) bool {
	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) {
		return temporary.Temporary()
	}
	return false
}

// remediationHint turns an endpoint failure into something the workflow author can act on
func remediationHint(err error) string {
	var endpointErr *models.EndpointError
	if !errors.As(err, &endpointErr) {
		if errors.Is(err, context.DeadlineExceeded) {
			return "the endpoint did not answer in time; retry later or raise --upload-timeout and --max-wait"
		}
		return ""
	}

	switch code := endpointErr.StatusCode; {
	case code == 0 && errors.Is(err, context.DeadlineExceeded):
		return "the endpoint did not answer in time; retry later or raise --upload-timeout and --max-wait"
	case code == 0:
		return "could not reach the GitHub API; check network access and GITHUB_API_URL"
	case code == http.StatusUnauthorized:
		return "the token is invalid or expired; check GH_TOKEN / GITHUB_TOKEN"
	case code == http.StatusForbidden:
		return "the token is not allowed to upload; grant 'security-events: write' to the job and make sure code scanning is enabled for the repository"
	case code == http.StatusNotFound:
		return "repository not found or not visible to the token; check --gh-repo and the token scope"
	case code == http.StatusRequestEntityTooLarge:
		return "the SARIF payload is too large for the endpoint"
	case code == http.StatusUnprocessableEntity:
		return "the endpoint rejected the SARIF content or the commit/ref; check --commit-sha and --ref"
	case code == http.StatusTooManyRequests:
		return "rate limited by the GitHub API; retry later"
	case code >= 500:
		return "the GitHub API is failing; retry later"
	default:
		return ""
	}
}
