package usecase

import (
	"context"
	"errors"
	"sync/atomic"

	"FareCast/internal/domain/models"
	drepo "FareCast/internal/domain/repository"
	mid "FareCast/internal/middleware"
	applogger "FareCast/pkg/logger"
)

// FeedCollector pumps the live fare feed through the ingest pipeline.
type FeedCollector struct {
	stream  drepo.FareStream
	pipe    *mid.IngestPipeline
	metrics drepo.Metrics
	log     *applogger.Logger
	done    chan struct{}
	closing atomic.Bool
}

func NewFeedCollector(stream drepo.FareStream, pipe *mid.IngestPipeline, metrics drepo.Metrics, l *applogger.Logger) *FeedCollector {
	if l == nil {
		l = applogger.NewNop()
	}
	return &FeedCollector{stream: stream, pipe: pipe, metrics: metrics, log: l}
}

// IsConnected returns true if the feed is connected.
func (c *FeedCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *FeedCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	c.pipe.Start(ctx)
	batches, errCh := c.stream.Read(ctx)
	c.done = make(chan struct{})
	go c.consume(ctx, batches, errCh)
	return nil
}

func (c *FeedCollector) consume(ctx context.Context, batches <-chan *models.IngestBatch, errCh <-chan error) {
	defer close(c.done)
	for batches != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err == nil {
				continue
			}
			if c.closing.Load() {
				return
			}
			c.metrics.RecordError("feed")
			c.log.Warn("fare feed error, reconnecting", applogger.Error(err))
			if !c.reconnect(ctx) {
				return
			}
			batches, errCh = c.stream.Read(ctx)
		case b, ok := <-batches:
			if !ok {
				batches = nil
				continue
			}
			if b == nil {
				continue
			}
			if err := c.pipe.Process(ctx, b); err != nil && !errors.Is(err, mid.ErrThrottled) {
				c.log.Debug("feed batch not ingested",
					applogger.String("source_id", b.SourceID),
					applogger.Error(err))
			}
		}
	}
}

// reconnect retries until the feed is back or ctx ends.
func (c *FeedCollector) reconnect(ctx context.Context) bool {
	for {
		err := c.stream.Reconnect(ctx)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.metrics.RecordError("feed_reconnect")
		c.log.Error("fare feed reconnect", applogger.Error(err))
	}
}

// Shutdown stops the pipeline and closes the feed.
func (c *FeedCollector) Shutdown(ctx context.Context) error {
	c.closing.Store(true)
	err := c.stream.Close()
	if c.done != nil {
		select {
		case <-c.done:
		case <-ctx.Done():
		}
	}
	c.pipe.Stop()
	return err
}
