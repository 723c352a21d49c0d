package stats

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func MilisecondsElapsed(from time.Time) float64 {
	return float64(time.Since(from)) / float64(time.Millisecond)
}

var (
	prometheusMetricsFactory promauto.Factory                     = promauto.With(prometheus.DefaultRegisterer)
	counterVecs              map[string]*prometheus.CounterVec   = map[string]*prometheus.CounterVec{
		"recordsAppended": prometheusMetricsFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "recstore_records_appended_total",
			Help: "The number of records appended to a storage.",
		}, []string{"backend"}),
		"recordsRead": prometheusMetricsFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "recstore_records_read_total",
			Help: "The number of records read from a storage.",
		}, []string{"backend"}),
	}
	histogramVecs map[string]*prometheus.HistogramVec = map[string]*prometheus.HistogramVec{
		"appendDuration": prometheusMetricsFactory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recstore_append_duration_milliseconds",
			Help:    "The time elapsed appending a batch of records.",
			Buckets: []float64{0.1, 0.5, 1, 5, 50, 100},
		}, []string{"backend"}),
	}
)

func HistogramVec(name string) *prometheus.HistogramVec {
	return histogramVecs[name]
}

func CounterVec(name string) *prometheus.CounterVec {
	return counterVecs[name]
}

// RecordsAppended accounts for a batch of n records appended to backend in the time elapsed since start.
func RecordsAppended(backend string, n int, start time.Time) {
	counterVecs["recordsAppended"].WithLabelValues(backend).Add(float64(n))
	histogramVecs["appendDuration"].WithLabelValues(backend).Observe(MilisecondsElapsed(start))
}

func RecordsRead(backend string, n int) {
	if n > 0 {
		counterVecs["recordsRead"].WithLabelValues(backend).Add(float64(n))
	}
}

func ListenAndServe(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(fmt.Sprintf("0.0.0.0:%d", port), mux)
}
