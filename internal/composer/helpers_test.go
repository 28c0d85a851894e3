package composer_test

import "montage/internal/metrics"

func newMetrics() *metrics.Metrics {
	return metrics.New()
}
