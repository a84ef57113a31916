package assessment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gh-nvat/osps-sarifgate/src/pkg/trace"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "assessment")

var (
	// ErrNoCommand indicates that no assessment command was configured
	ErrNoCommand = errors.New("assessment command is empty")
	// ErrUnsupportedFormat indicates an output format the assessment cannot produce
	ErrUnsupportedFormat = errors.New("unsupported output format")
)

const (
	FormatYAML  = "yaml"
	FormatJSON  = "json"
	FormatSARIF = "sarif"

	DefaultCatalog = "osps-baseline"
)

var SupportedFormats = []string{FormatYAML, FormatJSON, FormatSARIF}

// Params is what the assessment process receives through its environment
type Params struct {
	Owner        string
	Repo         string
	Token        string
	Catalog      string
	OutputFormat string
	ResultsDir   string
}

// Environ returns the variables the assessment image reads
func (p Params) Environ() []string {
	return []string{
		"OWNER=" + p.Owner,
		"REPO=" + p.Repo,
		"GITHUB_TOKEN=" + p.Token,
		"CATALOG=" + p.Catalog,
		"OUTPUT_FORMAT=" + p.OutputFormat,
		"RESULTS_DIR=" + p.ResultsDir,
	}
}

// ValidateFormat checks format against SupportedFormats
func ValidateFormat(format string) error {
	for _, f := range SupportedFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("%w: %q, expected one of %s", ErrUnsupportedFormat, format, strings.Join(SupportedFormats, ", "))
}

// Assessor runs the external assessment
type Assessor interface {
	Run(ctx context.Context, params Params) error
}

// Runner runs the assessment as a child process
type Runner struct {
	Command []string
	Stdout  io.Writer
	Stderr  io.Writer
}

// Ensure Runner implements Assessor
var _ Assessor = (*Runner)(nil)

// NewRunner splits command on whitespace into argv
func NewRunner(command string) (*Runner, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, ErrNoCommand
	}
	return &Runner{
		Command: argv,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}, nil
}

// Run executes the assessment and waits for it. A non-zero exit is returned as an error.
func (r *Runner) Run(ctx context.Context, params Params) error {
	ctx, span := trace.StartSpan(ctx, "Assessment.Run")
	defer span.End()

	if len(r.Command) == 0 {
		return ErrNoCommand
	}
	if err := ValidateFormat(params.OutputFormat); err != nil {
		return err
	}
	if params.ResultsDir != "" {
		if err := os.MkdirAll(params.ResultsDir, 0755); err != nil {
			return fmt.Errorf("failed to create results directory: %w", err)
		}
	}

	lg := logger.WithField("command", r.Command[0]).
		WithField("owner", params.Owner).
		WithField("repo", params.Repo).
		WithField("catalog", params.Catalog).
		WithField("outputFormat", params.OutputFormat)
	lg.Info("Running assessment...")

	cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...)
	cmd.Env = append(os.Environ(), params.Environ()...)
	cmd.Stdout = r.Stdout
	var stderr strings.Builder
	if r.Stderr != nil {
		cmd.Stderr = io.MultiWriter(r.Stderr, &stderr)
	} else {
		cmd.Stderr = &stderr
	}

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("assessment failed with exit code %d: %w\nStderr: %s", exitErr.ExitCode(), err, strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("assessment failed: %w", err)
	}
	lg.Info("Assessment finished")
	return nil
}

// FixPermissions makes everything under dir readable: directories 0755, files 0644.
// The assessment container writes its results as root.
func FixPermissions(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		mode := fs.FileMode(0644)
		if d.IsDir() {
			mode = 0755
		}
		if err := os.Chmod(path, mode); err != nil {
			logger.WithField("path", path).WithField("error", err).Warn("Could not fix permissions")
		}
		return nil
	})
}

// FindOutputs lists the files with the extension of format under dir, sorted
func FindOutputs(dir, format string) ([]string, error) {
	if err := ValidateFormat(format); err != nil {
		return nil, err
	}
	exts := map[string]bool{"." + format: true}
	if format == FormatYAML {
		exts[".yml"] = true
	}

	var outputs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && exts[strings.ToLower(filepath.Ext(path))] {
			outputs = append(outputs, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list assessment outputs in %s: %w", dir, err)
	}
	sort.Strings(outputs)
	return outputs, nil
}

// CompanionYAML returns the YAML output next to a SARIF file, or "" when there is none
func CompanionYAML(sarifPath string) string {
	base := strings.TrimSuffix(sarifPath, filepath.Ext(sarifPath))
	for _, ext := range []string{".yaml", ".yml"} {
		if _, err := os.Stat(base + ext); err == nil {
			return base + ext
		}
	}
	return ""
}
