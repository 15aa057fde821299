package report

import (
	"fmt"
	"os"
	"strings"
	"time"

	"serving-probe/internal/benchmark"
	"serving-probe/internal/config"
	"serving-probe/internal/types"
)

// MarkdownReporter generates markdown reports
type MarkdownReporter struct {
	config *config.Config
	now    func() time.Time
}

// NewMarkdownReporter creates a new markdown reporter
func NewMarkdownReporter(cfg *config.Config) *MarkdownReporter {
	return &MarkdownReporter{
		config: cfg,
		now:    time.Now,
	}
}

// Generate generates the full markdown report
func (m *MarkdownReporter) Generate(result *benchmark.Result) string {
	var sb strings.Builder

	sb.WriteString("# Serving Endpoint Probe Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", m.now().Format("2006-01-02 15:04:05")))
	if result.Summary.RunID != "" {
		sb.WriteString(fmt.Sprintf("Run ID: `%s`\n\n", result.Summary.RunID))
	}

	m.writeConfiguration(&sb)
	m.writeSummary(&sb, result)
	m.writeLatency(&sb, result.Summary)
	m.writeVerdict(&sb, result)
	m.writeErrors(&sb, result.Summary)

	return sb.String()
}

// writeConfiguration writes the session configuration section
func (m *MarkdownReporter) writeConfiguration(sb *strings.Builder) {
	cfg := m.config

	sb.WriteString("## Session Configuration\n\n")
	sb.WriteString("| Parameter | Value |\n")
	sb.WriteString("|-----------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Target | %s |\n", targetName(cfg)))
	sb.WriteString(fmt.Sprintf("| Mode | %s |\n", cfg.Session.Mode))
	sb.WriteString(fmt.Sprintf("| Bound | %s |\n", bound(cfg)))
	sb.WriteString(fmt.Sprintf("| Target Rate | %.2f req/s |\n", cfg.Session.TargetRateRPS))
	sb.WriteString(fmt.Sprintf("| Concurrency | %d |\n", cfg.Session.Concurrency))
	sb.WriteString(fmt.Sprintf("| Timeout | %s |\n", cfg.Session.Timeout()))
	sb.WriteString(fmt.Sprintf("| Metric Sink | %s |\n", cfg.Metrics.Sink))
	sb.WriteString(fmt.Sprintf("| Live Metrics | %t |\n", cfg.Metrics.Live))
	if len(cfg.Metrics.Dimensions) > 0 {
		sb.WriteString(fmt.Sprintf("| Dimensions | %s |\n", strings.Join(cfg.Metrics.Dimensions, ", ")))
	}
	sb.WriteString("\n")
}

// writeSummary writes the request counters
func (m *MarkdownReporter) writeSummary(sb *strings.Builder, result *benchmark.Result) {
	s := result.Summary

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Total Requests | %d |\n", s.Total))
	sb.WriteString(fmt.Sprintf("| Successful Requests | %d |\n", s.OK))
	sb.WriteString(fmt.Sprintf("| Failed Requests | %d (%.2f%%) |\n", s.Errors, s.ErrorRatePct))
	sb.WriteString(fmt.Sprintf("| Timeouts | %d |\n", result.Run.Timeouts))
	sb.WriteString(fmt.Sprintf("| Duration | %s |\n", s.Duration.Round(time.Millisecond)))
	sb.WriteString(fmt.Sprintf("| Achieved Rate | %.2f req/s |\n", s.AchievedRPS))
	if result.Run.Interrupted {
		sb.WriteString("| Interrupted | yes |\n")
	}
	if result.Metrics.Enqueued > 0 {
		sb.WriteString(fmt.Sprintf("| Datapoints Sent | %d of %d (%d dropped) |\n",
			result.Metrics.Sent, result.Metrics.Enqueued, result.Metrics.Dropped))
	}
	sb.WriteString("\n")
}

// writeLatency writes the latency distribution
func (m *MarkdownReporter) writeLatency(sb *strings.Builder, s *types.SessionSummary) {
	sb.WriteString("## Latency\n\n")

	if !s.HasLatency() {
		sb.WriteString("No latency was recorded.\n\n")
		return
	}

	sb.WriteString("| Min (ms) | Avg (ms) | Max (ms) | P50 (ms) | P95 (ms) | P99 (ms) |\n")
	sb.WriteString("|----------|----------|----------|----------|----------|----------|\n")
	sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s |\n\n",
		ms(s.MinMs),
		ms(s.MeanMs),
		ms(s.MaxMs),
		ms(s.Percentile(types.P50)),
		ms(s.Percentile(types.P95)),
		ms(s.Percentile(types.P99)),
	))
}

// writeVerdict writes the SLO section
func (m *MarkdownReporter) writeVerdict(sb *strings.Builder, result *benchmark.Result) {
	sb.WriteString("## SLO\n\n")

	if len(m.config.SLO.Thresholds) > 0 {
		sb.WriteString("| Threshold |\n")
		sb.WriteString("|-----------|\n")
		for _, t := range m.config.SLO.Thresholds {
			sb.WriteString(fmt.Sprintf("| `%s` |\n", t))
		}
		sb.WriteString("\n")
	}

	if result.Verdict.Passed {
		sb.WriteString("**PASSED**\n\n")
		return
	}

	sb.WriteString("**FAILED**\n\n")
	for _, v := range result.Verdict.Violations {
		sb.WriteString(fmt.Sprintf("- %s\n", v))
	}
	sb.WriteString("\n")
}

// writeErrors writes the first failure detail
func (m *MarkdownReporter) writeErrors(sb *strings.Builder, s *types.SessionSummary) {
	sb.WriteString("## Error Analysis\n\n")

	if s.Errors == 0 {
		sb.WriteString("No errors occurred during the session.\n\n")
		return
	}

	sb.WriteString(fmt.Sprintf("%d of %d requests failed. First failure:\n\n", s.Errors, s.Total))
	sb.WriteString("```\n")
	sb.WriteString(s.FirstError)
	sb.WriteString("\n```\n\n")
}

// SaveToFile saves the report to a file
func (m *MarkdownReporter) SaveToFile(content string, filename string) error {
	return os.WriteFile(filename, []byte(content), 0644)
}
