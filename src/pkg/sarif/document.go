package sarif

// Document is the subset of a SARIF log that the gatekeeper and the enricher work with.
// Raw keeps the bytes the document was parsed from, the upload transmits those verbatim.
type Document struct {
	Schema  string `json:"$schema,omitempty"`
	Version string `json:"version"`
	Runs    []Run  `json:"runs"`

	Raw []byte `json:"-"`
}

type Run struct {
	Tool              Tool               `json:"tool"`
	AutomationDetails *AutomationDetails `json:"automationDetails,omitempty"`
	Results           []Result           `json:"results"`
}

type AutomationDetails struct {
	ID string `json:"id,omitempty"`
}

type Tool struct {
	Driver *Driver `json:"driver,omitempty"`
}

type Driver struct {
	Name           string `json:"name"`
	Version        string `json:"version,omitempty"`
	SemanticVer    string `json:"semanticVersion,omitempty"`
	InformationURI string `json:"informationUri,omitempty"`
	Rules          []Rule `json:"rules,omitempty"`
}

type Rule struct {
	ID               string   `json:"id"`
	Name             string   `json:"name,omitempty"`
	ShortDescription *Message `json:"shortDescription,omitempty"`
	HelpURI          string   `json:"helpUri,omitempty"`
}

type Result struct {
	RuleID    string     `json:"ruleId,omitempty"`
	Level     string     `json:"level,omitempty"`
	Message   Message    `json:"message"`
	Locations []Location `json:"locations,omitempty"`
}

// Message is optional for the gatekeeper; the uploaded copy gets a default text
type Message struct {
	Text string `json:"text,omitempty"`
	ID   string `json:"id,omitempty"`
}

type Location struct {
	PhysicalLocation *PhysicalLocation `json:"physicalLocation,omitempty"`
	LogicalLocations []LogicalLocation `json:"logicalLocations,omitempty"`
}

type PhysicalLocation struct {
	ArtifactLocation *ArtifactLocation `json:"artifactLocation,omitempty"`
	Region           *Region           `json:"region,omitempty"`
}

type ArtifactLocation struct {
	URI       string `json:"uri"`
	URIBaseID string `json:"uriBaseId,omitempty"`
}

type Region struct {
	StartLine   int `json:"startLine,omitempty"`
	StartColumn int `json:"startColumn,omitempty"`
	EndLine     int `json:"endLine,omitempty"`
	EndColumn   int `json:"endColumn,omitempty"`
}

type LogicalLocation struct {
	Name               string `json:"name,omitempty"`
	FullyQualifiedName string `json:"fullyQualifiedName,omitempty"`
	Kind               string `json:"kind,omitempty"`
}

const (
	LevelError   = "error"
	LevelWarning = "warning"
	LevelNote    = "note"
	LevelNone    = "none"
)

// SupportedVersions lists the SARIF versions accepted by Parse
var SupportedVersions = []string{"2.1.0"}

// ResultCount returns the number of results across all runs
func (d *Document) ResultCount() int {
	count := 0
	for _, run := range d.Runs {
		count += len(run.Results)
	}
	return count
}

// HasResults is true iff at least one run carries at least one result
func (d *Document) HasResults() bool {
	for _, run := range d.Runs {
		if len(run.Results) > 0 {
			return true
		}
	}
	return false
}

// ToolName returns the driver name of the first run, or "" when there is none
func (d *Document) ToolName() string {
	for _, run := range d.Runs {
		if run.Tool.Driver != nil && run.Tool.Driver.Name != "" {
			return run.Tool.Driver.Name
		}
	}
	return ""
}
