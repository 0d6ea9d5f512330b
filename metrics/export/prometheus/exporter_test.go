package prometheus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thisjowi/keyward"
)

type fakeSource struct {
	snapshot keyward.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() keyward.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                     { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := New(fakeSource{snapshot: keyward.MetricsSnapshot{
		Counters:   map[keyward.MetricID]uint64{},
		Histograms: map[keyward.MetricID][]uint64{},
	}})
	assert.Empty(t, exp.Render())
	assert.Empty(t, (*Exporter)(nil).Render())
}

func TestRenderCountersAndHistogram(t *testing.T) {
	exp := New(fakeSource{
		snapshot: keyward.MetricsSnapshot{
			Counters: map[keyward.MetricID]uint64{
				keyward.MetricLoginSuccess:    7,
				keyward.MetricDecryptFallback: 3,
			},
			Histograms: map[keyward.MetricID][]uint64{
				keyward.MetricVerifyLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	assert.Contains(t, out, "# TYPE keyward_login_success_total counter\nkeyward_login_success_total 7\n")
	assert.Contains(t, out, "keyward_decrypt_fallback_total 3\n")
	assert.Contains(t, out, "keyward_rate_limit_hit_total 0\n")
	assert.Contains(t, out, `keyward_verify_latency_seconds_bucket{le="0.005"} 1`)
	assert.Contains(t, out, `keyward_verify_latency_seconds_bucket{le="+Inf"} 36`)
	assert.Contains(t, out, "keyward_verify_latency_seconds_count 36\n")
	assert.Contains(t, out, "keyward_audit_dropped_total 2\n")
}

func TestHandlerServesEngineMetrics(t *testing.T) {
	cfg := keyward.DefaultConfig()
	cfg.Token.Secret = "0123456789abcdef0123456789abcdef"
	cfg.Envelope.Secret = "envelope-secret-for-prometheus-000"
	cfg.RateLimit.SweepInterval = 0
	engine, err := keyward.New().WithConfig(cfg).Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	_, err = engine.IssueToken(1, "a@example.com")
	require.NoError(t, err)
	_, _ = engine.CheckRate(context.Background(), "192.0.2.1", keyward.RateClassLogin)

	rec := httptest.NewRecorder()
	New(engine).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "keyward_token_issued_total 1\n")
}

func BenchmarkRender(b *testing.B) {
	exp := New(fakeSource{snapshot: keyward.MetricsSnapshot{
		Counters: map[keyward.MetricID]uint64{
			keyward.MetricLoginSuccess:          1000,
			keyward.MetricLoginFailure:          40,
			keyward.MetricTokenIssued:           1000,
			keyward.MetricPasswordChangeSuccess: 12,
		},
		Histograms: map[keyward.MetricID][]uint64{
			keyward.MetricVerifyLatency: {10, 20, 30, 40, 50, 60, 70, 80},
		},
	}})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
