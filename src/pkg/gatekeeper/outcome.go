package gatekeeper

import (
	"errors"
	"time"

	"github.com/gh-nvat/osps-sarifgate/src/pkg/sarif"
)

var (
	// ErrInvalidFormat indicates that the SARIF artifact is structurally malformed or uses an unsupported version
	ErrInvalidFormat = sarif.ErrInvalidFormat
	// ErrEmptyResults is not a failure: the assessment passed every control and there is nothing to upload
	ErrEmptyResults = errors.New("SARIF has no results")
	// ErrUploadTransport covers network, authentication and endpoint-side rejections during upload
	ErrUploadTransport = errors.New("SARIF upload failed")
	// ErrProcessingTimeout indicates the endpoint did not confirm processing within the configured wait
	ErrProcessingTimeout = errors.New("SARIF processing not confirmed in time")
	// ErrPayloadTooLarge indicates the compressed SARIF exceeds what the endpoint accepts
	ErrPayloadTooLarge = errors.New("SARIF payload too large")
	// ErrMissingArtifact indicates the SARIF artifact path is empty, missing or unreadable
	ErrMissingArtifact = errors.New("SARIF artifact not readable")
	// ErrInvalidConfig indicates the upload configuration cannot be used
	ErrInvalidConfig = errors.New("invalid upload configuration")
)

// State is the terminal state of one gatekeeper invocation
type State string

const (
	StateSkippedEmpty        State = "skipped-empty"
	StateUploaded            State = "uploaded"
	StateFailedNonFatal      State = "failed-non-fatal"
	StateFailedInvalidFormat State = "failed-invalid-format"
)

// UploadOutcome is the observable result of CheckAndUpload.
// Err is nil only for StateUploaded.
type UploadOutcome struct {
	State   State
	Message string
	Err     error
	Hint    string

	ResultCount int

	SarifID          string
	SarifURL         string
	ProcessingStatus string
	AnalysesURL      string
	Attempts         int
	Duration         time.Duration
}

// Succeeded reports whether the document was accepted by the endpoint
func (o *UploadOutcome) Succeeded() bool {
	return o.State == StateUploaded
}

// Fatal reports whether the outcome should fail the host workflow.
// Only an invalid format can, and only when the caller asks for it.
func (o *UploadOutcome) Fatal(failOnInvalid bool) bool {
	return o.State == StateFailedInvalidFormat && failOnInvalid
}

func skipped(resultCount int) *UploadOutcome {
	return &UploadOutcome{
		State:       StateSkippedEmpty,
		Message:     "no results found (all controls passed); the code scanning endpoint rejects SARIF without results, upload skipped",
		Err:         ErrEmptyResults,
		ResultCount: resultCount,
	}
}

func rejected(err error) *UploadOutcome {
	return &UploadOutcome{
		State:   StateFailedInvalidFormat,
		Message: err.Error(),
		Err:     err,
		Hint:    "the assessment produced a SARIF file the gatekeeper cannot read; check the assessment output-format and plugin version",
	}
}
