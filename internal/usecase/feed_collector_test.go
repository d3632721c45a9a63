package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FareCast/internal/domain/models"
	mid "FareCast/internal/middleware"
)

type fakeStream struct {
	mu         sync.Mutex
	reads      []chan *models.IngestBatch
	errs       []chan error
	reconnects int
	closed     bool
}

func (s *fakeStream) Connect(context.Context) error   { return nil }
func (s *fakeStream) Subscribe(context.Context) error { return nil }

func (s *fakeStream) Read(context.Context) (<-chan *models.IngestBatch, <-chan error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, e := make(chan *models.IngestBatch, 1), make(chan error, 1)
	s.reads = append(s.reads, b)
	s.errs = append(s.errs, e)
	return b, e
}

func (s *fakeStream) Reconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	n := len(s.reads)
	close(s.reads[n-1])
	close(s.errs[n-1])
	return nil
}

func (s *fakeStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *fakeStream) current() (chan *models.IngestBatch, chan error, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.reads)
	return s.reads[n-1], s.errs[n-1], n
}

type collectingIngester struct {
	mu      sync.Mutex
	batches []*models.IngestBatch
}

func (c *collectingIngester) Ingest(_ context.Context, b *models.IngestBatch) (models.IngestReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
	return models.IngestReport{Accepted: len(b.Records)}, nil
}

func (c *collectingIngester) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func TestFeedCollector_PumpsAndReconnects(t *testing.T) {
	stream := &fakeStream{}
	ing := &collectingIngester{}
	metrics := newRecMetrics()
	pipe := mid.NewIngestPipeline(ing, metrics, mid.WithMaxRPS(0))
	c := NewFeedCollector(stream, pipe, metrics, nil)

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.IsConnected())

	batch := &models.IngestBatch{SourceID: "cebpac", Records: []models.RawRecord{{"route_id": "MNL-CEB"}}}
	reads, errCh, _ := stream.current()
	reads <- batch
	require.Eventually(t, func() bool { return ing.count() == 1 }, time.Second, 5*time.Millisecond)

	errCh <- errors.New("connection reset")
	require.Eventually(t, func() bool {
		_, _, n := stream.current()
		return n == 2
	}, time.Second, 5*time.Millisecond)

	reads, _, _ = stream.current()
	reads <- batch
	require.Eventually(t, func() bool { return ing.count() == 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	assert.False(t, c.IsConnected())

	stream.mu.Lock()
	defer stream.mu.Unlock()
	assert.Equal(t, 1, stream.reconnects)
	assert.Equal(t, 1, metrics.errors["feed"])
}
