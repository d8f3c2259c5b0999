package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// findMetric はレジストリから指定名・ラベルのメトリクスを取得する。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			return m
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func TestRecordDecision_CountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDecision(DecisionApproved)
	c.RecordDecision(DecisionApproved)
	c.RecordDecision(DecisionInvalidState)

	approved := findMetric(t, reg, "mandapadmin_approval_decisions_total", map[string]string{"outcome": "approved"})
	assert.Equal(t, 2.0, approved.GetCounter().GetValue())

	invalid := findMetric(t, reg, "mandapadmin_approval_decisions_total", map[string]string{"outcome": "invalid_state"})
	assert.Equal(t, 1.0, invalid.GetCounter().GetValue())
}

func TestRecordPush_CountsByEventAndResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPush("approvalStatusUpdate", PushQueued)
	c.RecordPush("approvalStatusUpdate", PushDropped)
	c.RecordPush("approvalStatusUpdate", PushDropped)

	dropped := findMetric(t, reg, "mandapadmin_push_events_total",
		map[string]string{"event": "approvalStatusUpdate", "result": "dropped"})
	assert.Equal(t, 2.0, dropped.GetCounter().GetValue())
}

func TestGauges_Set(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetPushConnections(3)
	c.SetActiveSessions(7)

	assert.Equal(t, 3.0, findMetric(t, reg, "mandapadmin_push_connections", nil).GetGauge().GetValue())
	assert.Equal(t, 7.0, findMetric(t, reg, "mandapadmin_active_sessions", nil).GetGauge().GetValue())
}

func TestRecordHTTP(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(409)
	c.RecordRequestLatency(120 * time.Millisecond)

	status := findMetric(t, reg, "mandapadmin_http_status_total", map[string]string{"status_code": "409"})
	assert.Equal(t, 1.0, status.GetCounter().GetValue())

	latency := findMetric(t, reg, "mandapadmin_http_request_duration_seconds", nil)
	assert.Equal(t, uint64(1), latency.GetHistogram().GetSampleCount())
}

func TestNewCollector_PanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)
	assert.Panics(t, func() { NewCollector(reg) })
}
