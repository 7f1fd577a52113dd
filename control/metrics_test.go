//go:build linux

package control_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-sock/control"
)

func TestMetricsRegistry_AddAndSnapshot(t *testing.T) {
	mr := control.NewMetricsRegistry()
	assert.True(t, mr.Updated().IsZero())

	mr.Add(control.MetricAccepts, 1)
	mr.Add(control.MetricAccepts, 2)
	mr.Set(control.MetricRegistrations, 5)

	assert.Equal(t, 3.0, mr.Get(control.MetricAccepts))
	assert.Equal(t, map[string]float64{
		control.MetricAccepts:       3,
		control.MetricRegistrations: 5,
	}, mr.GetSnapshot())
	assert.False(t, mr.Updated().IsZero())

	var nilRegistry *control.MetricsRegistry
	assert.NotPanics(t, func() { nilRegistry.Add(control.MetricEvents, 1) })
}

func TestCollector_ExportsGauges(t *testing.T) {
	mr := control.NewMetricsRegistry()
	mr.Add(control.MetricWakeups, 4)
	mr.Add(control.MetricEvents, 7)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(control.NewCollector("hioload_sock", mr)))

	families, err := reg.Gather()
	require.NoError(t, err)
	got := make(map[string]float64)
	for _, mf := range families {
		require.Len(t, mf.GetMetric(), 1)
		got[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
	}
	assert.Equal(t, map[string]float64{
		"hioload_sock_reactor_wakeups": 4,
		"hioload_sock_reactor_events":  7,
	}, got)
}

func TestDebugProbes_DumpState(t *testing.T) {
	dp := control.NewDebugProbes()
	control.RegisterPlatformProbes(dp)
	dp.RegisterProbe("custom", func() any { return 42 })

	state := dp.DumpState()
	assert.Equal(t, 42, state["custom"])
	assert.Contains(t, state, "platform.cpus")
	assert.Contains(t, state, "platform.nofile")
}
