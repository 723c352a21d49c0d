package stats

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	t.Run("should count appended records per backend", func(t *testing.T) {
		before := testutil.ToFloat64(CounterVec("recordsAppended").WithLabelValues("stats-test"))
		RecordsAppended("stats-test", 3, time.Now())
		require.Equal(t, before+3, testutil.ToFloat64(CounterVec("recordsAppended").WithLabelValues("stats-test")))
	})
	t.Run("should ignore empty reads", func(t *testing.T) {
		RecordsRead("stats-test", 0)
		RecordsRead("stats-test", 2)
		require.Equal(t, float64(2), testutil.ToFloat64(CounterVec("recordsRead").WithLabelValues("stats-test")))
	})
}
