package syncmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCollectorDescribeEmitsOneDescPerMetric(t *testing.T) {
	c := NewCollector(prometheus.Labels{"role": "follower"})
	descs := make(chan *prometheus.Desc, 32)
	c.Describe(descs)
	close(descs)

	count := 0
	for range descs {
		count++
	}
	if count != 11 {
		t.Fatalf("expected 11 descriptors, got %d", count)
	}
}

func TestCollectorCollectReflectsLastUpdate(t *testing.T) {
	c := NewCollector(nil)
	c.Update(Snapshot{
		Mode:            "follower",
		SyncReady:       true,
		CorrectionState: "correcting",
		OffsetUs:        120,
		LagUs:           -5,
		FrameCount:      900,
		WindowLength:    42,
		WindowSlope:     0.002,
		BeaconsReceived: 30,
	})

	metrics := make(chan prometheus.Metric, 32)
	c.Collect(metrics)
	close(metrics)

	var dtoCount int
	for m := range metrics {
		var out dto.Metric
		if err := m.Write(&out); err != nil {
			t.Fatalf("Write: %v", err)
		}
		dtoCount++
	}
	if dtoCount != 11 {
		t.Fatalf("expected 11 metric samples, got %d", dtoCount)
	}
}

func TestCollectorUpdateIsConcurrencySafe(t *testing.T) {
	c := NewCollector(nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			c.Update(Snapshot{FrameCount: uint64(i)})
		}
		close(done)
	}()
	for i := 0; i < 100; i++ {
		metrics := make(chan prometheus.Metric, 32)
		c.Collect(metrics)
		close(metrics)
		for range metrics {
		}
	}
	<-done
}
