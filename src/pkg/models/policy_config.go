package models

// PolicyConfig represents the complete policy configuration
// - Policies: id -> PolicyEntry
// - PolicyIDs: ordered list of policy IDs (sorted on load)
type PolicyConfig struct {
	Policies  map[string]PolicyEntry `yaml:"policies"`
	PolicyIDs []string               `yaml:"-"` // Not in YAML, populated during load
}

// PolicyEntry represents a single rego policy evaluated against a SARIF document
type PolicyEntry struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	FilePath     string            `yaml:"filePath"`
	Query        string            `yaml:"query,omitempty"`        // defaults to data.main.deny
	ExternalLink string            `yaml:"externalLink,omitempty"` // Optional link to policy documentation
	Enforcement  EnforcementConfig `yaml:"enforcement"`
}

// EnforcementConfig defines how a failing policy affects the run
type EnforcementConfig struct {
	Level string `yaml:"level"` // recommend, warning or blocking
}
