package models

// AssessmentReport is the YAML output of the external assessment process.
// Only the fields used for SARIF enrichment are modelled.
type AssessmentReport struct {
	EvaluationSuites []EvaluationSuite `yaml:"evaluation_suites"`
}

type EvaluationSuite struct {
	Name               string              `yaml:"name"`
	CatalogID          string              `yaml:"catalog_id"`
	ControlEvaluations []ControlEvaluation `yaml:"control_evaluations"`
}

type ControlEvaluation struct {
	ControlID   string       `yaml:"control_id"`
	Assessments []Assessment `yaml:"assessments"`
}

type Assessment struct {
	RequirementID string `yaml:"requirement_id"`
	Result        string `yaml:"result"` // Passed, Failed, Needs Review, Not Run, ...
	Message       string `yaml:"message"`
}
