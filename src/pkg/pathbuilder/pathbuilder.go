package pathbuilder

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// PathBuilder expands a SARIF artifact path template into one path per combination of variable values
type PathBuilder struct {
	Template  string              // e.g., "[RESULTS_DIR]/[CATALOG]/[CATALOG].sarif"
	Variables map[string][]string // e.g., {"CATALOG": ["osps-baseline", "osps-level2"]}
}

// Artifact is one expanded SARIF path
type Artifact struct {
	Path   string            // expanded path
	Values map[string]string // variable values used
	Key    string            // key for reports and the default upload category, e.g. "osps-baseline"
}

// Category returns the upload category for the artifact: the key with path separators flattened
func (a Artifact) Category() string {
	return strings.ReplaceAll(a.Key, "/", "-")
}

// variablePattern matches [VARIABLE_NAME]; brackets survive shell and YAML quoting where $VAR does not
var variablePattern = regexp.MustCompile(`\[([A-Za-z_][A-Za-z0-9_]*)\]`)

// NewPathBuilder creates a PathBuilder from a template and a "KEY=v1,v2;KEY2=v3" values string
func NewPathBuilder(template, valuesStr string) (*PathBuilder, error) {
	variables, err := ParseValues(valuesStr)
	if err != nil {
		return nil, err
	}
	return &PathBuilder{
		Template:  template,
		Variables: variables,
	}, nil
}

// ParseTemplate returns the variable names of template in order of first appearance
func ParseTemplate(template string) []string {
	matches := variablePattern.FindAllStringSubmatch(template, -1)
	seen := make(map[string]bool)
	var vars []string
	for _, match := range matches {
		if !seen[match[1]] {
			seen[match[1]] = true
			vars = append(vars, match[1])
		}
	}
	return vars
}

// ParseValues parses "KEY=v1,v2;KEY2=v3" into a map
func ParseValues(valuesStr string) (map[string][]string, error) {
	result := make(map[string][]string)
	for _, token := range strings.Split(valuesStr, ";") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		key, rawValues, ok := strings.Cut(token, "=")
		if !ok {
			return nil, fmt.Errorf("invalid token format: %q, expected KEY=value1,value2", token)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("empty key in token: %q", token)
		}
		rawValues = strings.TrimSpace(rawValues)
		if rawValues == "" {
			return nil, fmt.Errorf("empty value for key: %q", key)
		}

		var values []string
		for _, v := range strings.Split(rawValues, ",") {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("empty value for key: %q", key)
		}
		result[key] = values
	}
	return result, nil
}

// Validate checks that every [VAR] in the template has values
func (pb *PathBuilder) Validate() error {
	if strings.TrimSpace(pb.Template) == "" {
		return fmt.Errorf("SARIF path template cannot be empty")
	}
	for _, name := range ParseTemplate(pb.Template) {
		if len(pb.Variables[name]) == 0 {
			return fmt.Errorf("variable [%s] in SARIF path template has no values", name)
		}
	}
	return nil
}

// Interpolate replaces the template variables with values
func (pb *PathBuilder) Interpolate(values map[string]string) (string, error) {
	result := pb.Template
	for name, value := range values {
		result = strings.ReplaceAll(result, "["+name+"]", value)
	}
	if unresolved := variablePattern.FindAllString(result, -1); len(unresolved) > 0 {
		return "", fmt.Errorf("unresolved variables in path: %v", unresolved)
	}
	return result, nil
}

// Artifacts returns the Cartesian product of the variable values, in template order.
// A template without variables yields a single artifact keyed by its file name.
func (pb *PathBuilder) Artifacts() ([]Artifact, error) {
	if err := pb.Validate(); err != nil {
		return nil, err
	}

	names := ParseTemplate(pb.Template)
	if len(names) == 0 {
		return []Artifact{{
			Path:   pb.Template,
			Values: map[string]string{},
			Key:    strings.TrimSuffix(filepath.Base(pb.Template), filepath.Ext(pb.Template)),
		}}, nil
	}

	var artifacts []Artifact
	for _, combo := range pb.combinations(names) {
		path, err := pb.Interpolate(combo)
		if err != nil {
			return nil, err
		}
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, combo[name])
		}
		artifacts = append(artifacts, Artifact{
			Path:   path,
			Values: combo,
			Key:    strings.Join(parts, "/"),
		})
	}
	return artifacts, nil
}

func (pb *PathBuilder) combinations(names []string) []map[string]string {
	combos := []map[string]string{{}}
	for _, name := range names {
		var next []map[string]string
		for _, combo := range combos {
			for _, value := range pb.Variables[name] {
				c := make(map[string]string, len(combo)+1)
				for k, v := range combo {
					c[k] = v
				}
				c[name] = value
				next = append(next, c)
			}
		}
		combos = next
	}
	return combos
}

// Paths returns the expanded paths, resolved against baseDir when they are relative
func (pb *PathBuilder) Paths(baseDir string) ([]string, error) {
	artifacts, err := pb.Artifacts()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(artifacts))
	for i, a := range artifacts {
		paths[i] = Resolve(baseDir, a.Path)
	}
	return paths, nil
}

// Resolve joins path onto baseDir unless it is absolute or baseDir is empty
func Resolve(baseDir, path string) string {
	if baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
