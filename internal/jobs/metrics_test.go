package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	require.NoError(t, m.Track("allocation:execute").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("allocation:execute").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("allocation:execute", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("allocation:execute", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("allocation:execute")))
}

func TestImbalancesAndNotifications(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddImbalances("posted", 2)
	m.AddImbalances("posted", 0)
	m.NotificationSent("posted")

	require.Equal(t, 2.0, testutil.ToFloat64(m.imbalances.WithLabelValues("posted")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("posted")))

	var nilMetrics *Metrics
	nilMetrics.AddImbalances("draft", 1)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
