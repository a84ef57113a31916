package assessment

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunner(t *testing.T) {
	_, err := NewRunner("   ")
	assert.ErrorIs(t, err, ErrNoCommand)

	r, err := NewRunner("docker run --rm pvtr-github-repo")
	require.NoError(t, err)
	assert.Equal(t, []string{"docker", "run", "--rm", "pvtr-github-repo"}, r.Command)
}

func TestValidateFormat(t *testing.T) {
	for _, f := range []string{"yaml", "json", "sarif"} {
		assert.NoError(t, ValidateFormat(f), f)
	}
	assert.ErrorIs(t, ValidateFormat("xml"), ErrUnsupportedFormat)
	assert.ErrorIs(t, ValidateFormat(""), ErrUnsupportedFormat)
}

func TestRunner_Run(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}

	dir := filepath.Join(t.TempDir(), "results")
	var stdout bytes.Buffer
	r := &Runner{
		Command: []string{"sh", "-c", `echo "$OWNER/$REPO $CATALOG $OUTPUT_FORMAT" && echo '{}' > "$RESULTS_DIR/$CATALOG.sarif"`},
		Stdout:  &stdout,
	}

	err := r.Run(context.Background(), Params{
		Owner:        "octo",
		Repo:         "hello",
		Token:        "ghs_secret",
		Catalog:      DefaultCatalog,
		OutputFormat: FormatSARIF,
		ResultsDir:   dir,
	})
	require.NoError(t, err)
	assert.Equal(t, "octo/hello osps-baseline sarif\n", stdout.String())
	assert.FileExists(t, filepath.Join(dir, "osps-baseline.sarif"))
}

func TestRunner_Run_Failure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}

	r := &Runner{Command: []string{"sh", "-c", "echo 'catalog not found' >&2; exit 3"}}
	err := r.Run(context.Background(), Params{OutputFormat: FormatYAML})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit code 3")
	assert.Contains(t, err.Error(), "catalog not found")
}

func TestRunner_Run_InvalidFormat(t *testing.T) {
	r := &Runner{Command: []string{"true"}}
	err := r.Run(context.Background(), Params{OutputFormat: "html"})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFixPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX permissions")
	}

	dir := t.TempDir()
	sub := filepath.Join(dir, "osps")
	require.NoError(t, os.Mkdir(sub, 0700))
	file := filepath.Join(sub, "osps.sarif")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0600))

	require.NoError(t, FixPermissions(dir))

	info, err := os.Stat(sub)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
	info, err = os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestFindOutputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.sarif", "a.sarif", "a.yaml", "c.yml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	sarifs, err := FindOutputs(dir, FormatSARIF)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.sarif"), filepath.Join(dir, "b.sarif")}, sarifs)

	yamls, err := FindOutputs(dir, FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yaml"), filepath.Join(dir, "c.yml")}, yamls)

	assert.Equal(t, filepath.Join(dir, "a.yaml"), CompanionYAML(filepath.Join(dir, "a.sarif")))
	assert.Equal(t, "", CompanionYAML(filepath.Join(dir, "b.sarif")))
}
