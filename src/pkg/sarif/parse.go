package sarif

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrInvalidFormat indicates that a SARIF document is malformed or uses an unsupported version
	ErrInvalidFormat = errors.New("invalid SARIF format")
)

// Parse decodes and validates a SARIF document.
// Any returned error wraps ErrInvalidFormat.
func Parse(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: document is empty", ErrInvalidFormat)
	}

	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if err := Validate(doc); err != nil {
		return nil, err
	}
	doc.Raw = data
	return doc, nil
}

// Validate checks the structural invariants of a decoded document
func Validate(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidFormat)
	}
	if doc.Version == "" {
		return fmt.Errorf("%w: missing version", ErrInvalidFormat)
	}
	if !slices.Contains(SupportedVersions, doc.Version) {
		return fmt.Errorf("%w: unsupported version %q (supported: %v)", ErrInvalidFormat, doc.Version, SupportedVersions)
	}
	// runs: [] decodes to an empty, non-nil slice; a missing or null field stays nil
	if doc.Runs == nil {
		return fmt.Errorf("%w: missing runs", ErrInvalidFormat)
	}

	for i, run := range doc.Runs {
		if run.Tool.Driver == nil || run.Tool.Driver.Name == "" {
			return fmt.Errorf("%w: runs[%d]: missing tool.driver.name", ErrInvalidFormat, i)
		}
		for j, result := range run.Results {
			if err := validateResult(result); err != nil {
				return fmt.Errorf("%w: runs[%d].results[%d]: %v", ErrInvalidFormat, i, j, err)
			}
		}
	}
	return nil
}

func validateResult(result Result) error {
	switch result.Level {
	case "", LevelError, LevelWarning, LevelNote, LevelNone:
	default:
		return fmt.Errorf("unknown level %q", result.Level)
	}
	for k, loc := range result.Locations {
		if err := validateLocation(loc); err != nil {
			return fmt.Errorf("locations[%d]: %w", k, err)
		}
	}
	return nil
}

func validateLocation(loc Location) error {
	if loc.PhysicalLocation == nil && len(loc.LogicalLocations) == 0 {
		return errors.New("location has neither physicalLocation nor logicalLocations")
	}
	phys := loc.PhysicalLocation
	if phys == nil {
		return nil
	}
	if phys.ArtifactLocation == nil || phys.ArtifactLocation.URI == "" {
		return errors.New("physicalLocation.artifactLocation.uri is required")
	}
	if r := phys.Region; r != nil {
		if r.StartLine < 0 || r.EndLine < 0 || r.StartColumn < 0 || r.EndColumn < 0 {
			return errors.New("region values must not be negative")
		}
		if r.StartLine > 0 && r.EndLine > 0 && r.EndLine < r.StartLine {
			return fmt.Errorf("region endLine %d is before startLine %d", r.EndLine, r.StartLine)
		}
	}
	return nil
}
