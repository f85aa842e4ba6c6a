package telemetry

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/polisai/streamguard/pkg/policy/dlp"
)

// Config describes the telemetry bootstrap options.
type Config struct {
	ServiceName  string
	Endpoint     string
	Environment  string
	Insecure     bool
	Headers      map[string]string
	ResourceTags map[string]string
}

// SetupProvider initialises the process-wide OpenTelemetry tracer provider using
// the supplied configuration and returns a shutdown function that callers must
// invoke during graceful termination to flush buffered spans.
func SetupProvider(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		// No endpoint configured, return no-op shutdown
		return func(context.Context) error { return nil }, nil
	}

	clientOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
	} else {
		clientOpts = append(clientOpts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	if len(cfg.Headers) > 0 {
		clientOpts = append(clientOpts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	clientOpts = append(clientOpts, otlptracegrpc.WithDialOption(
		grpc.WithReturnConnectionError(), //nolint:staticcheck // Requested alternative to grpc.WithBlock for connection errors.
	))

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exporter, err := otlptrace.New(dialCtx, otlptracegrpc.NewClient(clientOpts...))
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", cfg.Environment))
	}
	for k, v := range cfg.ResourceTags {
		attrs = append(attrs, attribute.String(k, v))
	}

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(attrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithMaxExportBatchSize(100), sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return provider.Shutdown, nil
}

// maxMaskedSamples bounds the masked PII samples attached to a span.
const maxMaskedSamples = 5

// FindingAttributes summarizes the findings of result as span attributes.
// Phrase names and PII kinds are reported as is; matched PII text only ever
// appears masked.
func FindingAttributes(result dlp.Result) []attribute.KeyValue {
	if len(result.BannedPhrases) == 0 && len(result.PIIPatterns) == 0 {
		return nil
	}

	phrases := make([]string, 0, len(result.BannedPhrases))
	for _, m := range result.BannedPhrases {
		phrases = append(phrases, m.Phrase)
	}
	slices.Sort(phrases)
	phrases = slices.Compact(phrases)

	kinds := make([]string, 0, len(result.PIIPatterns))
	samples := make([]string, 0, min(len(result.PIIPatterns), maxMaskedSamples))
	for _, m := range result.PIIPatterns {
		kinds = append(kinds, string(m.Kind))
		if len(samples) < maxMaskedSamples {
			samples = append(samples, maskValue(m.Text))
		}
	}
	slices.Sort(kinds)
	kinds = slices.Compact(kinds)

	return []attribute.KeyValue{
		attribute.StringSlice("dlp.findings.phrases", phrases),
		attribute.StringSlice("dlp.findings.pii_kinds", kinds),
		attribute.StringSlice("dlp.findings.pii_samples", samples),
	}
}

// maskValue shows partial data for debugging while protecting sensitive portions.
// Shows first 4 and last 4 characters with *** in between (e.g., "1234***6789").
func maskValue(s string) string {
	if len(s) <= 8 {
		return "***" // Too short to mask meaningfully
	}
	return s[:4] + "***" + s[len(s)-4:]
}
