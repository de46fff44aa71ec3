package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncUnit("DETAIL", "SUCCEEDED")
	m.IncUnit("DETAIL", "SUCCEEDED")
	m.IncError("trademax", "CaptchaEncountered")
	m.IncProxyBurn("trademax")
	m.IncRecord("details")
	m.ObserveNavigation("browser", 2*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.UnitsTotal.WithLabelValues("DETAIL", "SUCCEEDED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("trademax", "CaptchaEncountered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProxyBurnsTotal.WithLabelValues("trademax")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.NavigationDuration))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncUnit("DETAIL", "FAILED_TERMINAL")
		m.IncError("x", "y")
		m.IncProxyBurn("x")
		m.IncRecord("listing")
		m.ObserveNavigation("document", time.Second)
	})
}
