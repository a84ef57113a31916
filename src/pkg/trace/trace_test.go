package trace

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

type exportedSpan struct {
	Name        string
	SpanContext struct{ SpanID string }
	Parent      struct{ SpanID string }
}

// readReport decodes the spans written to a performance report, in export order
func readReport(t *testing.T, path string) []exportedSpan {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var spans []exportedSpan
	dec := json.NewDecoder(f)
	for {
		var span exportedSpan
		err := dec.Decode(&span)
		if errors.Is(err, io.EOF) {
			return spans
		}
		require.NoError(t, err)
		spans = append(spans, span)
	}
}

func restoreGlobals(t *testing.T) {
	provider := otel.GetTracerProvider()
	name := tracerName
	t.Cleanup(func() {
		otel.SetTracerProvider(provider)
		tracerName = name
	})
}

func TestInitTracer_Export(t *testing.T) {
	restoreGlobals(t)
	dir := filepath.Join(t.TempDir(), "output")

	shutdown, err := InitTracer("osps-sarifgate-test", true, dir)
	require.NoError(t, err)

	ctx, parent := StartSpan(context.Background(), "Process")
	_, child := StartSpan(ctx, "GateArtifacts")
	child.End()
	parent.End()
	shutdown()

	spans := readReport(t, filepath.Join(dir, PerformanceReportFileName))
	require.Len(t, spans, 2)
	assert.Equal(t, "GateArtifacts", spans[0].Name)
	assert.Equal(t, "Process", spans[1].Name)
	assert.Equal(t, spans[1].SpanContext.SpanID, spans[0].Parent.SpanID)
}

func TestInitTracer_Disabled(t *testing.T) {
	restoreGlobals(t)
	dir := t.TempDir()

	shutdown, err := InitTracer("osps-sarifgate-test", false, dir)
	require.NoError(t, err)
	_, span := StartSpan(context.Background(), "Process")
	span.End()
	shutdown()

	_, err = os.Stat(filepath.Join(dir, PerformanceReportFileName))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestInitTracer_UnwritableOutputDir(t *testing.T) {
	restoreGlobals(t)
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	_, err := InitTracer("osps-sarifgate-test", true, filepath.Join(file, "output"))
	assert.Error(t, err)
}
