package trace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var logger = log.WithField("package", "trace")

const (
	PerformanceReportFileName = "performance-report.json"
	defaultTracerName         = "osps-sarifgate"
)

var tracerName = defaultTracerName

// InitTracer installs a global tracer provider.
// When export is disabled the global no-op provider stays in place and spans cost nothing.
// When enabled, finished spans are written as JSON to <outputDir>/performance-report.json.
func InitTracer(serviceName string, enableExport bool, outputDir string) (func(), error) {
	if serviceName != "" {
		tracerName = serviceName
	}
	if !enableExport {
		return func() {}, nil
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	reportPath := filepath.Join(outputDir, PerformanceReportFileName)
	f, err := os.Create(reportPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create performance report file: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(f), stdouttrace.WithPrettyPrint())
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", tracerName))),
	)
	otel.SetTracerProvider(tp)
	logger.WithField("filePath", reportPath).Info("Performance report enabled")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.WithField("error", err).Warn("Failed to shut down tracer provider")
		}
		if err := f.Close(); err != nil {
			logger.WithField("error", err).Warn("Failed to close performance report file")
		}
	}, nil
}

// StartSpan starts a span named name as a child of any span in ctx
func StartSpan(ctx context.Context, name string) (context.Context, oteltrace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name)
}
