package report

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/fatih/color"

	"serving-probe/internal/config"
	"serving-probe/internal/metrics"
	"serving-probe/internal/slo"
	"serving-probe/internal/types"
)

// ConsoleReporter prints the session header, summary and verdict
type ConsoleReporter struct {
	w    io.Writer
	pass *color.Color
	fail *color.Color
	dim  *color.Color
}

// NewConsoleReporter creates a new console reporter
func NewConsoleReporter(w io.Writer) *ConsoleReporter {
	return &ConsoleReporter{
		w:    w,
		pass: color.New(color.FgGreen, color.Bold),
		fail: color.New(color.FgRed, color.Bold),
		dim:  color.New(color.Faint),
	}
}

// PrintHeader prints the session header
func (c *ConsoleReporter) PrintHeader(cfg *config.Config, runID string) {
	fmt.Fprintln(c.w, strings.Repeat("=", 80))
	fmt.Fprintln(c.w, "Serving Endpoint Probe")
	fmt.Fprintln(c.w, strings.Repeat("=", 80))
	fmt.Fprintf(c.w, "Run ID: %s\n", runID)
	fmt.Fprintf(c.w, "Target: %s\n", targetName(cfg))
	fmt.Fprintf(c.w, "Mode: %s\n", cfg.Session.Mode)
	fmt.Fprintf(c.w, "Bound: %s\n", bound(cfg))
	fmt.Fprintf(c.w, "Target Rate: %.2f req/s (concurrency %d)\n", cfg.Session.TargetRateRPS, cfg.Session.Concurrency)
	fmt.Fprintf(c.w, "Timeout: %s\n", cfg.Session.Timeout())
	fmt.Fprintf(c.w, "Metric Sink: %s\n", cfg.Metrics.Sink)
	fmt.Fprintln(c.w, strings.Repeat("=", 80))
	fmt.Fprintln(c.w)
}

// PrintSummary prints detailed statistics for a completed session
func (c *ConsoleReporter) PrintSummary(s *types.SessionSummary) {
	fmt.Fprintln(c.w, "\nResults:")
	fmt.Fprintln(c.w, strings.Repeat("─", 80))

	fmt.Fprintf(c.w, "  Total Requests:     %d\n", s.Total)
	fmt.Fprintf(c.w, "  Successful:         %d\n", s.OK)
	fmt.Fprintf(c.w, "  Failed:             %d (%.2f%%)\n", s.Errors, s.ErrorRatePct)
	fmt.Fprintf(c.w, "  Duration:           %s\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(c.w, "  Achieved Req/s:     %.2f\n", s.AchievedRPS)

	if s.HasLatency() {
		fmt.Fprintln(c.w, "\n  Latency (ms):")
		fmt.Fprintf(c.w, "    Average:          %s\n", ms(s.MeanMs))
		fmt.Fprintf(c.w, "    Min:              %s\n", ms(s.MinMs))
		fmt.Fprintf(c.w, "    Max:              %s\n", ms(s.MaxMs))
		fmt.Fprintf(c.w, "    P50:              %s\n", ms(s.Percentile(types.P50)))
		fmt.Fprintf(c.w, "    P95:              %s\n", ms(s.Percentile(types.P95)))
		fmt.Fprintf(c.w, "    P99:              %s\n", ms(s.Percentile(types.P99)))
	}

	if s.FirstError != "" {
		fmt.Fprintln(c.w, "\n  First Error:")
		fmt.Fprintf(c.w, "    %s\n", s.FirstError)
	}

	fmt.Fprintln(c.w, strings.Repeat("─", 80))
}

// PrintMetrics prints what happened to emitted datapoints
func (c *ConsoleReporter) PrintMetrics(m metrics.BatcherStats) {
	if m.Enqueued == 0 {
		return
	}
	c.dim.Fprintf(c.w, "  Datapoints: %d enqueued, %d sent in %d calls, %d dropped\n",
		m.Enqueued, m.Sent, m.Calls, m.Dropped)
}

// PrintVerdict prints the SLO verdict; asserted reports whether it decides the exit status
func (c *ConsoleReporter) PrintVerdict(v slo.Verdict, asserted bool) {
	fmt.Fprintln(c.w)
	if v.Passed {
		c.pass.Fprintln(c.w, "SLO PASSED")
		return
	}

	c.fail.Fprintln(c.w, v.Message())
	if !asserted {
		c.dim.Fprintln(c.w, "(not asserted, exit status unaffected)")
	}
}

// PrintReportSaved prints a message indicating the report was saved
func (c *ConsoleReporter) PrintReportSaved(filename string) {
	fmt.Fprintln(c.w)
	fmt.Fprintln(c.w, strings.Repeat("=", 80))
	fmt.Fprintf(c.w, "Report saved to: %s\n", filename)
	fmt.Fprintln(c.w, strings.Repeat("=", 80))
}

func targetName(cfg *config.Config) string {
	if cfg.Target.Kind == config.TargetBedrock {
		return fmt.Sprintf("bedrock %s (%s)", cfg.Target.ModelID, cfg.AWS.Region)
	}
	u, err := cfg.TargetURL()
	if err != nil {
		return "-"
	}
	return u
}

func bound(cfg *config.Config) string {
	if cfg.Session.SampleCount > 0 {
		return fmt.Sprintf("%d samples", cfg.Session.SampleCount)
	}
	return cfg.Session.Duration().String()
}

func ms(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v)
}
