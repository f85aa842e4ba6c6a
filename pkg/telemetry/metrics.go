package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/polisai/streamguard/pkg/policy/dlp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce        sync.Once
	metricsInitErr     error
	analysisCounter    metric.Int64Counter
	bytesCounter       metric.Int64Counter
	findingsCounter    metric.Int64Counter
	riskScoreHistogram metric.Float64Histogram
	durationHistogram  metric.Float64Histogram
)

// AnalysisMetrics captures the fields needed to record one finalized analysis.
type AnalysisMetrics struct {
	Profile  string
	Source   string
	Result   dlp.Result
	Stats    dlp.Stats
	Duration time.Duration
}

// RecordAnalysis emits counters and histograms that describe a finalized
// analysis. Matched text is never attached as an attribute.
func RecordAnalysis(ctx context.Context, m AnalysisMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("dlp.profile", m.Profile),
		attribute.String("dlp.source", m.Source),
		attribute.String("dlp.decision", string(m.Result.Decision)),
		attribute.Bool("dlp.obfuscated", m.Result.IsObfuscated),
	)

	analysisCounter.Add(ctx, 1, attrs)
	bytesCounter.Add(ctx, int64(m.Stats.TotalBytesProcessed), metric.WithAttributes(attribute.String("dlp.profile", m.Profile)))
	riskScoreHistogram.Record(ctx, m.Result.RiskScore, attrs)

	if m.Duration > 0 {
		durationHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
	}

	if n := len(m.Result.BannedPhrases); n > 0 {
		findingsCounter.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("dlp.profile", m.Profile),
			attribute.String("dlp.finding", "banned_phrase"),
		))
	}
	perKind := make(map[dlp.PIIKind]int64)
	for _, p := range m.Result.PIIPatterns {
		perKind[p.Kind]++
	}
	for kind, n := range perKind {
		findingsCounter.Add(ctx, n, metric.WithAttributes(
			attribute.String("dlp.profile", m.Profile),
			attribute.String("dlp.finding", string(kind)),
		))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("streamguard.dlp")

		analysisCounter, metricsInitErr = meter.Int64Counter(
			"streamguard.analysis.total",
			metric.WithDescription("Finalized analyses partitioned by decision"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		bytesCounter, metricsInitErr = meter.Int64Counter(
			"streamguard.analysis.bytes_total",
			metric.WithDescription("Bytes covered by finalized analyses"),
			metric.WithUnit("By"),
		)
		if metricsInitErr != nil {
			return
		}

		findingsCounter, metricsInitErr = meter.Int64Counter(
			"streamguard.analysis.findings_total",
			metric.WithDescription("Banned phrase and PII findings by kind"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		riskScoreHistogram, metricsInitErr = meter.Float64Histogram(
			"streamguard.analysis.risk_score",
			metric.WithDescription("Risk score of finalized analyses"),
			metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1),
		)
		if metricsInitErr != nil {
			return
		}

		durationHistogram, metricsInitErr = meter.Float64Histogram(
			"streamguard.analysis.duration_ms",
			metric.WithDescription("Wall time from first chunk to verdict"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

// RecordSecurityEvent attaches a coarse-grained security event to the provided span without leaking sensitive data.
func RecordSecurityEvent(span trace.Span, blocked bool, reason string, findings int, violations int) {
	if span == nil || !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("security.blocked", blocked),
		attribute.Int("security.findings.count", findings),
		attribute.Int("security.violations.count", violations),
	}

	if reason != "" {
		attrs = append(attrs, attribute.String("security.block_reason", reason))
	}

	span.AddEvent("security.event", trace.WithAttributes(attrs...))
}

// RecordResult annotates span with the verdict of a finalized analysis and
// emits a security event summarizing its findings.
func RecordResult(span trace.Span, result dlp.Result) {
	if span == nil || !span.IsRecording() {
		return
	}

	span.SetAttributes(
		attribute.String("dlp.decision", string(result.Decision)),
		attribute.Float64("dlp.risk_score", result.RiskScore),
		attribute.Float64("dlp.entropy", result.Entropy),
	)
	span.SetAttributes(FindingAttributes(result)...)

	findings := len(result.BannedPhrases) + len(result.PIIPatterns)
	violations := len(result.BannedPhrases)
	blocked := result.Decision == dlp.DecisionBlock
	reason := ""
	if blocked {
		reason = result.Reason
	}
	RecordSecurityEvent(span, blocked, reason, findings, violations)
}
