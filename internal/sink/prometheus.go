package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"serving-probe/internal/metrics"
)

const metricPrefix = "serving_probe_"

// GroupingRunID is the grouping label carrying the run id on every push
const GroupingRunID = "run_id"

// ReservedLabel reports whether a dimension name maps onto the job label or
// the run id grouping label
func ReservedLabel(name string) bool {
	l := snakeCase(name)
	return l == "job" || l == GroupingRunID
}

// Pushgateway keeps the latest value of every datapoint name in a gauge and
// pushes the whole registry on each batch
type Pushgateway struct {
	mu       sync.Mutex
	registry *prometheus.Registry
	factory  promauto.Factory
	gauges   map[string]*prometheus.GaugeVec
	pusher   *push.Pusher
	grouping map[string]struct{}
}

// NewPushgateway creates a sink pushing to url under job. Grouping labels
// are added to the push path in order.
func NewPushgateway(url, job string, grouping ...string) (*Pushgateway, error) {
	if url == "" {
		return nil, fmt.Errorf("pushgateway url is required")
	}
	if job == "" {
		return nil, fmt.Errorf("pushgateway job is required")
	}
	if len(grouping)%2 != 0 {
		return nil, fmt.Errorf("grouping must be name/value pairs")
	}

	reg := prometheus.NewRegistry()
	pusher := push.New(url, job).Gatherer(reg)
	labels := map[string]struct{}{"job": {}}
	for i := 0; i < len(grouping); i += 2 {
		pusher = pusher.Grouping(grouping[i], grouping[i+1])
		labels[grouping[i]] = struct{}{}
	}

	return &Pushgateway{
		registry: reg,
		factory:  promauto.With(reg),
		gauges:   make(map[string]*prometheus.GaugeVec),
		pusher:   pusher,
		grouping: labels,
	}, nil
}

// Send updates the gauges for the batch and pushes them
func (p *Pushgateway) Send(ctx context.Context, batch []metrics.Datapoint) error {
	if len(batch) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, dp := range batch {
		labels := make([]string, len(dp.Dimensions))
		values := make([]string, len(dp.Dimensions))
		for i, d := range dp.Dimensions {
			labels[i] = snakeCase(d.Name)
			values[i] = d.Value
			if _, ok := p.grouping[labels[i]]; ok {
				return fmt.Errorf("dimension %s collides with grouping label %s", d.Name, labels[i])
			}
		}

		g, ok := p.gauges[dp.Name]
		if !ok {
			g = p.factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: metricPrefix + snakeCase(dp.Name),
				Help: fmt.Sprintf("Last reported %s (%s)", dp.Name, dp.Unit),
			}, labels)
			p.gauges[dp.Name] = g
		}

		gauge, err := g.GetMetricWithLabelValues(values...)
		if err != nil {
			return fmt.Errorf("gauge %s: %w", dp.Name, err)
		}
		gauge.Set(dp.Value)
	}

	if err := p.pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push to gateway: %w", err)
	}

	return nil
}

// snakeCase turns LatencyP95Ms into latency_p95_ms
func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])) {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			r = '_'
		}
		b.WriteRune(r)
	}
	return b.String()
}
