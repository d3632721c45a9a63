package logger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	batches [][]AggregatedLogEntry
	done    chan struct{}
}

func (p *capturePublisher) PublishMessage(_ context.Context, _ string, payload interface{}) error {
	p.mu.Lock()
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	p.mu.Unlock()
	p.done <- struct{}{}
	return nil
}

func TestCollectorAggregatesRepeats(t *testing.T) {
	pub := &capturePublisher{done: make(chan struct{}, 1)}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Topic: "logs", Publisher: pub})
	defer c.Close()

	fields := map[string]interface{}{"route_id": "MNL-CEB"}
	c.AddLog("error", "training failed", fields, "a.go:1")
	c.AddLog("error", "training failed", fields, "a.go:1")
	assert.Equal(t, 1, c.Pending())

	c.AddLog("warn", "stale model", fields, "b.go:2")

	select {
	case <-pub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("flush not triggered")
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 1)
	require.Len(t, pub.batches[0], 2)
	counts := map[string]int{}
	for _, e := range pub.batches[0] {
		counts[e.Message] = e.Count
	}
	assert.Equal(t, 2, counts["training failed"])
	assert.Equal(t, 1, counts["stale model"])
}

func TestLoggerWithNop(t *testing.T) {
	l := NewNop().With(Route("MNL-CEB"))
	l.Info("ok", Float64("score", 0.1), Time("at", time.Now()))
	l.Error("failed", Error(nil))
}
