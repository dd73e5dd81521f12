package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.Registration(OutcomeAdmitted)
		m.SetTemplates(3)
		m.SetPendingSpawns(2)
		m.SetReady(true)
		m.Exchange("weather")
		m.Divergence("weather")
		m.DroppedFrame()
		m.FallbackSelection()
	})
	require.Nil(t, m.Registry())

	snap, err := m.Snapshot()
	require.NoError(t, err)
	require.Empty(t, snap)
}

func TestMetrics_Counters(t *testing.T) {
	m := New("host")

	m.Registration(OutcomeAdmitted)
	m.Registration(OutcomeAdmitted)
	m.Registration(OutcomeRedirected)
	m.Divergence("weather")

	require.Equal(t, 2.0, testutil.ToFloat64(m.registrations.WithLabelValues(OutcomeAdmitted)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.registrations.WithLabelValues(OutcomeRedirected)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.divergences.WithLabelValues("weather")))
}

func TestMetrics_ReadyGauge(t *testing.T) {
	m := New("client-1")

	m.SetReady(true)
	require.Equal(t, 1.0, testutil.ToFloat64(m.ready))

	m.SetReady(false)
	require.Equal(t, 0.0, testutil.ToFloat64(m.ready))
}

func TestMetrics_Snapshot(t *testing.T) {
	m := New("host")
	m.SetTemplates(7)
	m.Exchange("flow")

	snap, err := m.Snapshot()
	require.NoError(t, err)
	require.Equal(t, 7.0, snap["levelsync_registry_templates"])
	require.Equal(t, 1.0, snap["levelsync_sync_exchanges_total{kind=flow}"])
}

func TestMetrics_SeparateRegistriesPerPeer(t *testing.T) {
	require.NotPanics(t, func() {
		New("host")
		New("host")
	}, "each participant owns its own registry")
}
