package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"FareCast/internal/domain/errs"
	domrepo "FareCast/internal/domain/repository"
	applogger "FareCast/pkg/logger"
)

// RouteLister lists the routes the scheduler walks.
type RouteLister interface {
	RouteIDs() []string
}

type SchedulerOptions struct {
	Interval  time.Duration
	Workers   int
	Retention time.Duration
}

// Scheduler periodically evaluates staleness for every route and retrains
// the stale ones on a bounded pool, then prunes expired observations.
type Scheduler struct {
	routes    RouteLister
	evaluator *StalenessEvaluator
	retrainer *Retrainer
	store     domrepo.SeriesStore
	metrics   domrepo.Metrics
	log       *applogger.Logger
	opts      SchedulerOptions

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewScheduler(routes RouteLister, evaluator *StalenessEvaluator, retrainer *Retrainer, store domrepo.SeriesStore, metrics domrepo.Metrics, l *applogger.Logger, opts SchedulerOptions) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Minute
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if l == nil {
		l = applogger.NewNop()
	}
	return &Scheduler{
		routes:    routes,
		evaluator: evaluator,
		retrainer: retrainer,
		store:     store,
		metrics:   metrics,
		log:       l,
		opts:      opts,
	}
}

// Start runs a cycle immediately and then on every interval until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.stopped = make(chan struct{})

	go func() {
		defer close(s.stopped)
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()
		for {
			s.RunOnce(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	s.log.Info("scheduler started",
		applogger.Duration("interval", s.opts.Interval),
		applogger.Int("workers", s.opts.Workers))
}

// Stop cancels the loop and waits for the running cycle to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CycleReport counts what one scheduler cycle did.
type CycleReport struct {
	Evaluated int
	Stale     int
	Activated int
	Failed    int
	Pruned    int
}

// RunOnce evaluates every route, retrains stale ones with at most Workers
// in flight, and prunes. A failing route never stops the others.
func (s *Scheduler) RunOnce(ctx context.Context) CycleReport {
	start := time.Now()
	var (
		mu  sync.Mutex
		rep CycleReport
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, routeID := range s.routes.RouteIDs() {
		if gctx.Err() != nil {
			break
		}
		v := s.evaluator.Evaluate(routeID)
		rep.Evaluated++
		if !v.NeedsRetrain {
			continue
		}
		rep.Stale++
		g.Go(func() error {
			res, err := s.retrainer.Retrain(gctx, routeID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				if res.Activated {
					rep.Activated++
				}
			case errors.Is(err, errs.ErrInsufficientData), errors.Is(err, ErrRetrainInProgress):
			default:
				rep.Failed++
				s.log.Warn("scheduled retrain failed",
					applogger.Route(routeID),
					applogger.String("trigger", string(v.Reason)),
					applogger.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	if s.opts.Retention > 0 {
		n, err := s.store.Prune(ctx, s.opts.Retention)
		if err != nil {
			s.metrics.RecordError("prune")
			s.log.Warn("prune failed", applogger.Error(err))
		}
		rep.Pruned = n
	}

	s.metrics.RecordLatency("scheduler_cycle", time.Since(start).Seconds())
	s.log.Info("scheduler cycle done",
		applogger.Int("evaluated", rep.Evaluated),
		applogger.Int("stale", rep.Stale),
		applogger.Int("activated", rep.Activated),
		applogger.Int("failed", rep.Failed),
		applogger.Int("pruned", rep.Pruned))
	return rep
}
