package runner

import (
	"github.com/gh-nvat/osps-sarifgate/src/pkg/models"
	"github.com/gh-nvat/osps-sarifgate/src/pkg/pathbuilder"
)

type RunnerInterface interface {
	// Initialize the runner with necessary context and data
	Initialize() error

	// Run the external assessment, if one is configured
	Assess() error

	// Expand the SARIF path template into the artifacts of this run
	CollectArtifacts() ([]pathbuilder.Artifact, error)

	// Main routine to process the runner
	Process() error

	// Handling the export
	Output(data *models.ReportData) error
}
