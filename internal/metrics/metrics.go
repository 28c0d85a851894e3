// Package metrics holds the Prometheus collectors for a composition run and
// writes them out in the node-exporter textfile format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "montage"

// Metrics holds Prometheus counters and gauges for composition batches.
type Metrics struct {
	registry         *prometheus.Registry
	tasksTotal       *prometheus.CounterVec
	clipsNormalized  prometheus.Counter
	ledgerResets     prometheus.Counter
	underfilledTotal prometheus.Counter
	taskDuration     prometheus.Histogram
	outputSeconds    prometheus.Counter
	ledgerSize       prometheus.Gauge
	lastBatch        prometheus.Gauge
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	tasksTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_total",
		Help:      "Composition tasks processed, by terminal state",
	}, []string{"state"})
	clipsNormalized := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "clips_normalized_total",
		Help:      "Clips transcoded to the normalization profile",
	})
	ledgerResets := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_resets_total",
		Help:      "Exhaustion resets applied while selecting playlists",
	})
	underfilledTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "playlists_underfilled_total",
		Help:      "Playlists that could not reach their target length",
	})
	taskDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Wall time spent per composition task",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
	})
	outputSeconds := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "output_media_seconds_total",
		Help:      "Seconds of composed media written",
	})
	ledgerSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ledger_entries",
		Help:      "Clip ids recorded in the usage ledger after the last commit",
	})
	lastBatch := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_batch_timestamp_seconds",
		Help:      "Unix time the last batch finished",
	})

	registry.MustRegister(
		tasksTotal,
		clipsNormalized,
		ledgerResets,
		underfilledTotal,
		taskDuration,
		outputSeconds,
		ledgerSize,
		lastBatch,
	)

	return &Metrics{
		registry:         registry,
		tasksTotal:       tasksTotal,
		clipsNormalized:  clipsNormalized,
		ledgerResets:     ledgerResets,
		underfilledTotal: underfilledTotal,
		taskDuration:     taskDuration,
		outputSeconds:    outputSeconds,
		ledgerSize:       ledgerSize,
		lastBatch:        lastBatch,
	}
}

// ObserveTask records one finished task.
func (m *Metrics) ObserveTask(state string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tasksTotal.WithLabelValues(state).Inc()
	m.taskDuration.Observe(elapsed.Seconds())
}

// AddClipsNormalized increments the normalized clip counter.
func (m *Metrics) AddClipsNormalized(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.clipsNormalized.Add(float64(n))
}

// AddResets counts exhaustion resets.
func (m *Metrics) AddResets(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ledgerResets.Add(float64(n))
}

// IncUnderfilled counts a playlist that fell short of its target.
func (m *Metrics) IncUnderfilled() {
	if m == nil {
		return
	}
	m.underfilledTotal.Inc()
}

// AddOutputSeconds accumulates composed media length.
func (m *Metrics) AddOutputSeconds(seconds float64) {
	if m == nil || seconds <= 0 {
		return
	}
	m.outputSeconds.Add(seconds)
}

// SetLedgerSize sets the ledger entries gauge.
func (m *Metrics) SetLedgerSize(n int) {
	if m == nil {
		return
	}
	m.ledgerSize.Set(float64(n))
}

// MarkBatchFinished stamps the last batch gauge.
func (m *Metrics) MarkBatchFinished(at time.Time) {
	if m == nil {
		return
	}
	m.lastBatch.Set(float64(at.Unix()))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the current values in exposition format to path,
// creating its directory. An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// TaskCounts returns the tasks_total counter by state.
func (m *Metrics) TaskCounts() (map[string]int, error) {
	counts := map[string]int{}
	if m == nil {
		return counts, nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	for _, family := range families {
		if family.GetName() != namespace+"_tasks_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			counts[labelValue(metric, "state")] = int(metric.GetCounter().GetValue())
		}
	}
	return counts, nil
}

// Names lists the registered metric family names, sorted.
func (m *Metrics) Names() ([]string, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	names := make([]string, 0, len(families))
	for _, family := range families {
		names = append(names, family.GetName())
	}
	sort.Strings(names)
	return names, nil
}

func labelValue(metric *dto.Metric, name string) string {
	for _, pair := range metric.GetLabel() {
		if pair.GetName() == name {
			return pair.GetValue()
		}
	}
	return ""
}
