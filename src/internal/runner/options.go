package runner

import (
	"time"

	"github.com/gh-nvat/osps-sarifgate/src/pkg/gatekeeper"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/pathbuilder"
)

type Options struct {
	// Run mode
	RunMode string // "github" or "local"
	Debug   bool   // Debug mode
	EnvFile string // Optional dotenv file loaded before flags are validated

	// Assessment options
	AssessCommand string // External assessment command; empty means the results already exist
	Catalog       string
	OutputFormat  string // yaml, json or sarif
	ResultsDir    string

	// SARIF artifacts
	SarifPath       string // Template with [VARIABLES], relative to ResultsDir (e.g., "[CATALOG].sarif")
	SarifPathValues string // Variable values: "KEY=v1,v2;KEY2=v3"
	Enrich          bool   // Merge the YAML assessment next to each SARIF file into it
	PlaceholderURI  string // Physical location given to repository level findings

	// Computed internally from SarifPath + SarifPathValues
	PathBuilder *pathbuilder.PathBuilder

	// Gatekeeper
	FailOnInvalid     bool   // Fail the run when an artifact is not valid SARIF
	Category          string // Upload category; defaults to the artifact key
	WaitForProcessing bool
	MaxWait           time.Duration
	PollInterval      time.Duration
	UploadTimeout     time.Duration
	Retries           int
	RetryBackoff      time.Duration

	// Policies
	PoliciesPath    string // Directory with policy-config.yaml; empty disables policy evaluation
	EnforcePolicies bool   // Fail the run on blocking policy failures

	// Reporting
	TemplatesPath                 string
	OutputDir                     string
	EnableExportReport            bool
	EnableExportPerformanceReport bool

	// GitHub mode options
	GhRepo      string
	GhToken     string
	GhAPIURL    string
	GhPrNumber  int // 0 means derive from the ref, if it is a pull request ref
	CommitSHA   string
	Ref         string
	CommentOnPR bool
}

// InitializePathBuilder creates the PathBuilder from SarifPath and SarifPathValues
func (o *Options) InitializePathBuilder() error {
	pb, err := pathbuilder.NewPathBuilder(o.SarifPath, o.SarifPathValues)
	if err != nil {
		return err
	}
	if err := pb.Validate(); err != nil {
		return err
	}
	o.PathBuilder = pb
	return nil
}

// UploadConfig returns the gatekeeper settings shared by every artifact
func (o *Options) UploadConfig(uploader gatekeeper.Uploader) gatekeeper.UploadConfig {
	return gatekeeper.UploadConfig{
		Uploader:          uploader,
		Repo:              o.GhRepo,
		CommitSHA:         o.CommitSHA,
		Ref:               o.Ref,
		Category:          o.Category,
		WaitForProcessing: o.WaitForProcessing,
		MaxWait:           o.MaxWait,
		PollInterval:      o.PollInterval,
		UploadTimeout:     o.UploadTimeout,
		Retries:           o.Retries,
		RetryBackoff:      o.RetryBackoff,
	}
}
