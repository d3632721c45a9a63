package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FareCast/internal/domain/models"
	"FareCast/internal/service/ratelimit"
)

type countingMetrics struct {
	mu     sync.Mutex
	errors map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{errors: map[string]int{}}
}

func (m *countingMetrics) RecordIngested(string, string) {}
func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}
func (m *countingMetrics) RecordTraining(string, string)     {}
func (m *countingMetrics) RecordForecast(string, bool)       {}
func (m *countingMetrics) RecordActiveVersion(string, int64) {}
func (m *countingMetrics) RecordLatency(string, float64)     {}
func (m *countingMetrics) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

type flakyProcessor struct {
	mu       sync.Mutex
	failures int
	calls    int
	ok       int
}

func (f *flakyProcessor) Ingest(_ context.Context, b *models.IngestBatch) (models.IngestReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return models.IngestReport{}, errors.New("store unavailable")
	}
	f.ok++
	return models.IngestReport{SourceID: b.SourceID, Accepted: len(b.Records)}, nil
}

func (f *flakyProcessor) succeeded() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ok
}

func batch(source string, n int) *models.IngestBatch {
	recs := make([]models.RawRecord, n)
	for i := range recs {
		recs[i] = models.RawRecord{"route_id": "MNL-CEB"}
	}
	return &models.IngestBatch{SourceID: source, Records: recs}
}

func TestProcessValidation(t *testing.T) {
	testData := map[string]struct {
		batch *models.IngestBatch
	}{
		"nil batch":      {batch: nil},
		"missing source": {batch: batch("", 1)},
		"no records":     {batch: batch("cebpac", 0)},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			m := newCountingMetrics()
			proc := &flakyProcessor{}
			p := NewIngestPipeline(proc, m)

			assert.Error(t, p.Process(context.Background(), td.batch))
			assert.Equal(t, 0, proc.calls)
			assert.Equal(t, 1, m.count("pipeline_validate"))
		})
	}
}

func TestProcessThrottlesPerSource(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	lim := ratelimit.NewWithClock(func() time.Time { return now })
	m := newCountingMetrics()
	proc := &flakyProcessor{}
	p := NewIngestPipeline(proc, m, WithMaxRPS(2), WithLimiter(lim))
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, batch("cebpac", 1)))
	require.NoError(t, p.Process(ctx, batch("cebpac", 1)))
	assert.ErrorIs(t, p.Process(ctx, batch("cebpac", 1)), ErrThrottled)
	require.NoError(t, p.Process(ctx, batch("pal", 1)))

	now = now.Add(time.Second)
	require.NoError(t, p.Process(ctx, batch("cebpac", 1)))
	assert.Equal(t, 4, proc.succeeded())
	assert.Equal(t, 1, m.count("pipeline_throttle"))
}

func TestProcessBuffersAndRetries(t *testing.T) {
	m := newCountingMetrics()
	proc := &flakyProcessor{failures: 2}
	p := NewIngestPipeline(proc, m, WithMaxRPS(1000), WithRetryBackoff(time.Millisecond, 5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := p.Process(ctx, batch("cebpac", 3))
	require.Error(t, err)
	assert.Equal(t, 1, p.Buffered())

	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool { return proc.succeeded() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, p.Buffered())
	assert.Equal(t, 1, m.count("pipeline_flush"))
}

func TestTransformRunsBeforeValidation(t *testing.T) {
	proc := &flakyProcessor{}
	p := NewIngestPipeline(proc, newCountingMetrics(), WithTransform(func(b *models.IngestBatch) *models.IngestBatch {
		if b.SourceID == "" {
			b.SourceID = "default"
		}
		return b
	}))

	require.NoError(t, p.Process(context.Background(), batch("", 2)))
	assert.Equal(t, 1, proc.succeeded())
}
