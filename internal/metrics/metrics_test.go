package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestIncConcurrent(t *testing.T) {
	m := New(Config{Enabled: true})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(MetricLoginSuccess)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricLoginSuccess); got != 8000 {
		t.Fatalf("expected 8000, got %d", got)
	}
	if got := m.Snapshot().Counters[MetricLoginSuccess]; got != 8000 {
		t.Fatalf("snapshot: expected 8000, got %d", got)
	}
}

func TestDisabledAndNilIgnoreWrites(t *testing.T) {
	m := New(Config{})
	m.Inc(MetricTokenIssued)
	m.Observe(MetricVerifyLatency, time.Millisecond)
	if m.Value(MetricTokenIssued) != 0 {
		t.Fatal("disabled metrics counted")
	}
	if len(m.Snapshot().Counters) != 0 {
		t.Fatal("disabled snapshot must be empty")
	}

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricTokenIssued)
	nilMetrics.Observe(MetricVerifyLatency, time.Millisecond)
	if nilMetrics.Value(MetricTokenIssued) != 0 || nilMetrics.Enabled() || nilMetrics.LatencyEnabled() {
		t.Fatal("nil metrics must be inert")
	}
	m.Inc(MetricIDCount)
}

func TestLatencyHistogram(t *testing.T) {
	m := New(Config{Enabled: true, EnableLatency: true})
	m.Observe(MetricVerifyLatency, 3*time.Millisecond)
	m.Observe(MetricVerifyLatency, 40*time.Millisecond)
	m.Observe(MetricVerifyLatency, time.Second)
	m.Observe(MetricLoginSuccess, time.Millisecond)

	h := m.Snapshot().Histograms[MetricVerifyLatency]
	if len(h) != histBucketCount {
		t.Fatalf("expected %d buckets, got %d", histBucketCount, len(h))
	}
	if h[0] != 1 || h[3] != 1 || h[7] != 1 {
		t.Fatalf("unexpected buckets %v", h)
	}
	if _, ok := m.Snapshot().Histograms[MetricLoginSuccess]; ok {
		t.Fatal("only verify latency has a histogram")
	}
}

func TestLatencyRequiresEnabled(t *testing.T) {
	m := New(Config{EnableLatency: true})
	if m.LatencyEnabled() {
		t.Fatal("latency must not be enabled without metrics")
	}
}
