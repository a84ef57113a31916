package models

import "time"

// ReportData represents the complete report data structure
type ReportData struct {
	InvocationID string    `json:"invocationId"`
	Timestamp    time.Time `json:"timestamp"`
	RunMode      string    `json:"runMode"`
	OutputFormat string    `json:"outputFormat"`

	Repo      string `json:"repo,omitempty"`
	CommitSHA string `json:"commitSha,omitempty"`
	Ref       string `json:"ref,omitempty"`

	// Workflow run and code scanning links, github mode only
	WorkflowRunURL  string `json:"workflowRunUrl,omitempty"`
	CodeScanningURL string `json:"codeScanningUrl,omitempty"`

	// ArtifactKeys preserves the order in which artifacts were processed
	ArtifactKeys []string `json:"artifactKeys"`

	// Gatekeeper outcome per artifact key
	Artifacts map[string]ArtifactReport `json:"artifacts"`

	// Policy evaluation results per artifact key
	PolicyEvaluation PolicyEvaluation `json:"policyEvaluation"`
}

// ArtifactReport is the observable result of running the gatekeeper on one SARIF artifact
type ArtifactReport struct {
	Key      string `json:"key"`
	Path     string `json:"path"`
	Category string `json:"category,omitempty"`

	Eligibility string `json:"eligibility"`           // proceed, skip or reject
	State       string `json:"state"`                 // outcome state
	Message     string `json:"message,omitempty"`     // diagnostic for non-success states
	Hint        string `json:"hint,omitempty"`        // remediation hint for upload failures
	ResultCount int    `json:"resultCount"`           // number of SARIF results across runs
	Enriched    int    `json:"enriched,omitempty"`    // results added from the YAML assessment
	SarifID     string `json:"sarifId,omitempty"`     // github mode only
	AnalysesURL string `json:"analysesUrl,omitempty"` // github mode only, once processed
	Processing  string `json:"processing,omitempty"`  // last known processing status
	Attempts    int    `json:"attempts,omitempty"`
}

// PolicyEvaluation represents the overall policy evaluation results
type PolicyEvaluation struct {
	// Summary table: artifact key -> Success/Failed counts
	ArtifactSummary map[string]ArtifactPolicySummary `json:"artifactSummary"`

	// Detailed policy matrix
	PolicyMatrix map[string]PolicyMatrix `json:"policyMatrix"`
}

type ArtifactPolicySummary struct {
	PassingStatus EnforcementPassingStatus `json:"passingStatus"`
	PolicyCounts  PolicyCounts             `json:"policyCounts"`
}

type EnforcementPassingStatus struct {
	PassBlockingCheck  bool `json:"passBlockingCheck"`
	PassWarningCheck   bool `json:"passWarningCheck"`
	PassRecommendCheck bool `json:"passRecommendCheck"`
}

// PolicyCounts represents the count of policies by status for an artifact
type PolicyCounts struct {
	TotalCount   int `json:"totalCount"`
	TotalSuccess int `json:"totalSuccess"`
	TotalFailed  int `json:"totalFailed"`

	BlockingSuccessCount  int `json:"blockingSuccessCount"`
	BlockingFailedCount   int `json:"blockingFailedCount"`
	WarningSuccessCount   int `json:"warningSuccessCount"`
	WarningFailedCount    int `json:"warningFailedCount"`
	RecommendSuccessCount int `json:"recommendSuccessCount"`
	RecommendFailedCount  int `json:"recommendFailedCount"`
}

// PolicyMatrix represents the detailed policy evaluation matrix
type PolicyMatrix struct {
	// Policies grouped by enforcement level
	BlockingPolicies  []PolicyResult `json:"blockingPolicies"`
	WarningPolicies   []PolicyResult `json:"warningPolicies"`
	RecommendPolicies []PolicyResult `json:"recommendPolicies"`
}

// PolicyResult represents the result of a single policy evaluation
type PolicyResult struct {
	PolicyId     string   `json:"policyId"`
	PolicyName   string   `json:"policyName"`
	ExternalLink string   `json:"externalLink,omitempty"` // Optional link to policy documentation
	IsPassing    bool     `json:"isPassing"`              // true or false, if false it means FailMessages is not empty
	FailMessages []string `json:"failMessages"`
}

// HasBlockingFailures reports whether any artifact failed a blocking policy
func (p PolicyEvaluation) HasBlockingFailures() bool {
	for _, summary := range p.ArtifactSummary {
		if !summary.PassingStatus.PassBlockingCheck {
			return true
		}
	}
	return false
}
