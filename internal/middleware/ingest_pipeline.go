package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"FareCast/internal/domain/models"
	domrepo "FareCast/internal/domain/repository"
	"FareCast/internal/service/ratelimit"
	applogger "FareCast/pkg/logger"
)

// ErrThrottled is returned when a source exceeds its batch rate.
var ErrThrottled = errors.New("source throttled")

// BatchProcessor is the minimal downstream the pipeline needs.
type BatchProcessor interface {
	Ingest(ctx context.Context, batch *models.IngestBatch) (models.IngestReport, error)
}

// IngestPipeline sits between the live fare feed and the ingestor.
// It validates, throttles per source, optionally transforms, and buffers
// batches while the downstream store is failing.
type IngestPipeline struct {
	proc       BatchProcessor
	metrics    domrepo.Metrics
	log        *applogger.Logger
	limiter    *ratelimit.Limiter
	maxRPS     int
	bufSize    int
	bufCh      chan *models.IngestBatch
	stopCh     chan struct{}
	done       chan struct{}
	started    bool
	mu         sync.Mutex
	transform  func(*models.IngestBatch) *models.IngestBatch
	backoffMin time.Duration
	backoffMax time.Duration
}

type PipelineOption func(*IngestPipeline)

// WithMaxRPS sets the max batches per second per source.
func WithMaxRPS(n int) PipelineOption {
	return func(p *IngestPipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the retry buffer size used when downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *IngestPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithTransform sets a hook that rewrites batches before validation.
func WithTransform(fn func(*models.IngestBatch) *models.IngestBatch) PipelineOption {
	return func(p *IngestPipeline) { p.transform = fn }
}

// WithRetryBackoff bounds the pause between failed buffer flushes.
func WithRetryBackoff(min, max time.Duration) PipelineOption {
	return func(p *IngestPipeline) {
		if min > 0 {
			p.backoffMin = min
		}
		if max >= p.backoffMin {
			p.backoffMax = max
		}
	}
}

func WithLimiter(l *ratelimit.Limiter) PipelineOption {
	return func(p *IngestPipeline) {
		if l != nil {
			p.limiter = l
		}
	}
}

func WithPipelineLogger(l *applogger.Logger) PipelineOption {
	return func(p *IngestPipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// NewIngestPipeline creates a new pipeline.
func NewIngestPipeline(proc BatchProcessor, metrics domrepo.Metrics, opts ...PipelineOption) *IngestPipeline {
	p := &IngestPipeline{
		proc:       proc,
		metrics:    metrics,
		log:        applogger.NewNop(),
		limiter:    ratelimit.New(),
		maxRPS:     20,
		bufSize:    1000,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		backoffMin: 50 * time.Millisecond,
		backoffMax: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.IngestBatch, p.bufSize)
	return p
}

// Start launches background flushing of buffered batches.
func (p *IngestPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.flush(ctx)
}

func (p *IngestPipeline) flush(ctx context.Context) {
	defer close(p.done)
	backoff := p.backoffMin
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case b := <-p.bufCh:
			if _, err := p.proc.Ingest(ctx, b); err != nil {
				p.metrics.RecordError("pipeline_flush")
				p.log.Warn("buffered batch still failing",
					applogger.String("source_id", b.SourceID),
					applogger.Duration("backoff", backoff),
					applogger.Error(err))
				select {
				case <-time.After(backoff):
				case <-p.stopCh:
					return
				}
				backoff = min(backoff*2, p.backoffMax)
				// requeue if space; drop otherwise
				select {
				case p.bufCh <- b:
				default:
					p.metrics.RecordError("pipeline_buffer_drop")
				}
				continue
			}
			backoff = p.backoffMin
		}
	}
}

// Stop stops the background flushing and waits for it to exit.
func (p *IngestPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	<-p.done
}

// Buffered returns the number of batches waiting for a retry.
func (p *IngestPipeline) Buffered() int { return len(p.bufCh) }

// Process validates, throttles and forwards a batch, buffering it when
// the downstream fails. Re-ingesting a buffered batch is idempotent.
func (p *IngestPipeline) Process(ctx context.Context, b *models.IngestBatch) error {
	start := time.Now()
	if p.transform != nil && b != nil {
		b = p.transform(b)
	}
	if err := validateBatch(b); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.maxRPS > 0 && !p.limiter.Allow("feed:"+b.SourceID, float64(p.maxRPS), float64(p.maxRPS)) {
		p.metrics.RecordError("pipeline_throttle")
		return fmt.Errorf("%w: %s", ErrThrottled, b.SourceID)
	}

	report, err := p.proc.Ingest(ctx, b)
	if err != nil {
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- b:
			p.metrics.RecordLatency("pipeline_buffer_depth", float64(len(p.bufCh)))
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	if report.Rejected > 0 {
		p.log.Debug("feed batch had rejections",
			applogger.String("source_id", b.SourceID),
			applogger.Int("rejected", report.Rejected))
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func validateBatch(b *models.IngestBatch) error {
	if b == nil {
		return fmt.Errorf("batch nil")
	}
	if b.SourceID == "" {
		return fmt.Errorf("source_id empty")
	}
	if len(b.Records) == 0 {
		return fmt.Errorf("batch has no records")
	}
	return nil
}
