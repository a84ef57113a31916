package gatekeeper

import (
	"github.com/gh-nvat/osps-sarifgate/src/pkg/sarif"
)

// ValidationResult is the outcome of inspecting a SARIF artifact
type ValidationResult struct {
	Document    *sarif.Document
	HasResults  bool
	ResultCount int
	Err         error // wraps ErrInvalidFormat when parsing or validation failed
}

// Decision is what the gatekeeper does with a validated document
type Decision string

const (
	DecisionProceed Decision = "proceed"
	DecisionSkip    Decision = "skip"
	DecisionReject  Decision = "reject"
)

// Eligibility is a Decision plus the reason for anything but Proceed
type Eligibility struct {
	Decision Decision
	Reason   error
}

// Validate parses raw SARIF bytes. It has no side effects.
func Validate(data []byte) ValidationResult {
	doc, err := sarif.Parse(data)
	if err != nil {
		return ValidationResult{Err: err}
	}
	return ValidationResult{
		Document:    doc,
		HasResults:  doc.HasResults(),
		ResultCount: doc.ResultCount(),
	}
}

// DecideUploadEligibility maps a validation result onto an upload decision
func DecideUploadEligibility(vr ValidationResult) Eligibility {
	switch {
	case vr.Err != nil || vr.Document == nil:
		reason := vr.Err
		if reason == nil {
			reason = ErrInvalidFormat
		}
		return Eligibility{Decision: DecisionReject, Reason: reason}
	case !vr.HasResults:
		return Eligibility{Decision: DecisionSkip, Reason: ErrEmptyResults}
	default:
		return Eligibility{Decision: DecisionProceed}
	}
}
