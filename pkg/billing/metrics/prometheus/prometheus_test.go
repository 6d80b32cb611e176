package prommetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gorole/pkg/billing"
)

var _ billing.Metrics = (*Metrics)(nil)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
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
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestMetrics_WebhookCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	m.RecordWebhookEvent("stripe", "invoice.paid", "assigned")
	m.RecordWebhookEvent("stripe", "invoice.paid", "assigned")
	m.RecordWebhookError("stripe", "signature_mismatch")
	m.RecordWebhookProcessingDuration("stripe", "invoice.paid", 20*time.Millisecond)

	assert.Equal(t, float64(2), counterValue(t, reg, "test_billing_webhook_events_total",
		map[string]string{"event_type": "invoice.paid", "status": "assigned"}))
	assert.Equal(t, float64(1), counterValue(t, reg, "test_billing_webhook_errors_total",
		map[string]string{"error_type": "signature_mismatch"}))
}

func TestMetrics_RoleChangesAndGaps(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	m.RecordRoleChange("stripe", "none", "2")
	m.RecordResolutionGap("stripe", "no_user")
	m.RecordResolutionGap("stripe", "no_user")
	m.RecordAPICall("stripe", "subscriptions.retrieve", "ok")
	m.RecordAPICallDuration("stripe", "subscriptions.retrieve", time.Millisecond)

	assert.Equal(t, float64(1), counterValue(t, reg, "test_billing_role_changes_total",
		map[string]string{"from_role": "none", "to_role": "2"}))
	assert.Equal(t, float64(2), counterValue(t, reg, "test_billing_resolution_gaps_total",
		map[string]string{"reason": "no_user"}))
	assert.Equal(t, float64(1), counterValue(t, reg, "test_billing_api_calls_total",
		map[string]string{"endpoint": "subscriptions.retrieve"}))
}
