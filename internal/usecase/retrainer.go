package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"FareCast/internal/domain/errs"
	"FareCast/internal/domain/models"
	domrepo "FareCast/internal/domain/repository"
	"FareCast/internal/domain/service"
	applogger "FareCast/pkg/logger"
)

// ErrRetrainInProgress is returned when another instance holds the route's
// retrain lock.
var ErrRetrainInProgress = errors.New("retrain already in progress")

// Training outcomes as recorded in metrics.
const (
	outcomeActivated        = "activated"
	outcomeRejected         = "rejected"
	outcomeFailed           = "failed"
	outcomeInsufficientData = "insufficient_data"
)

type RetrainOptions struct {
	Timeout             time.Duration
	RegressionTolerance float64
	LockTTL             time.Duration
}

// Retrainer trains, validates and activates route models. At most one
// retrain per route runs in this process; concurrent callers share its
// result. An optional Locker extends that across instances.
type Retrainer struct {
	store    domrepo.SeriesStore
	registry domrepo.ModelRegistry
	trainer  service.Trainer
	locker   domrepo.Locker
	tracker  *PredictionTracker
	metrics  domrepo.Metrics
	log      *applogger.Logger
	opts     RetrainOptions
	now      func() time.Time
	hooks    []func(ctx context.Context, routeID string)
	group    singleflight.Group
}

type RetrainerOption func(*Retrainer)

// WithLocker guards retrains with a distributed lock.
func WithLocker(l domrepo.Locker) RetrainerOption {
	return func(r *Retrainer) { r.locker = l }
}

func WithRetrainTracker(t *PredictionTracker) RetrainerOption {
	return func(r *Retrainer) { r.tracker = t }
}

func WithRetrainLogger(l *applogger.Logger) RetrainerOption {
	return func(r *Retrainer) {
		if l != nil {
			r.log = l
		}
	}
}

func WithRetrainClock(now func() time.Time) RetrainerOption {
	return func(r *Retrainer) { r.now = now }
}

// OnActivation registers a hook run after a route's active model changes.
func OnActivation(fn func(ctx context.Context, routeID string)) RetrainerOption {
	return func(r *Retrainer) { r.hooks = append(r.hooks, fn) }
}

func NewRetrainer(store domrepo.SeriesStore, registry domrepo.ModelRegistry, trainer service.Trainer, metrics domrepo.Metrics, opts RetrainOptions, o ...RetrainerOption) *Retrainer {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = opts.Timeout + time.Minute
	}
	r := &Retrainer{
		store:    store,
		registry: registry,
		trainer:  trainer,
		metrics:  metrics,
		log:      applogger.NewNop(),
		opts:     opts,
		now:      time.Now,
	}
	for _, fn := range o {
		fn(r)
	}
	return r
}

// Retrain runs or joins the route's retrain. The run is detached from the
// caller's cancellation; it is bounded by the training timeout instead.
func (r *Retrainer) Retrain(ctx context.Context, routeID string) (models.RetrainResult, error) {
	v, err, shared := r.group.Do(routeID, func() (interface{}, error) {
		return r.run(context.WithoutCancel(ctx), routeID)
	})
	if shared {
		r.log.Debug("joined in-flight retrain", applogger.Route(routeID))
	}
	if err != nil {
		return models.RetrainResult{}, err
	}
	return v.(models.RetrainResult), nil
}

func (r *Retrainer) run(ctx context.Context, routeID string) (models.RetrainResult, error) {
	start := r.now()
	if r.locker != nil {
		key := "retrain:" + routeID
		ok, err := r.locker.TryLock(ctx, key, r.opts.LockTTL)
		switch {
		case err != nil:
			r.log.Warn("retrain lock unavailable, continuing locally", applogger.Route(routeID), applogger.Error(err))
		case !ok:
			return models.RetrainResult{}, fmt.Errorf("%s: %w", routeID, ErrRetrainInProgress)
		default:
			defer func() {
				uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := r.locker.Unlock(uctx, key); err != nil {
					r.log.Warn("release retrain lock", applogger.Route(routeID), applogger.Error(err))
				}
			}()
		}
	}

	candidate, err := r.train(ctx, routeID)
	if err != nil {
		return models.RetrainResult{}, r.fail(ctx, routeID, err)
	}

	candidate, err = r.registry.Register(ctx, candidate)
	if err != nil {
		r.metrics.RecordError("registry")
		return models.RetrainResult{}, fmt.Errorf("register candidate %s: %w", routeID, err)
	}

	res := models.RetrainResult{Version: candidate}
	if active, ok := r.registry.GetActive(routeID); ok &&
		candidate.ValidationScore > active.ValidationScore+r.opts.RegressionTolerance {
		res.Reason = fmt.Sprintf("score %.4f regresses on active v%d (%.4f) beyond tolerance %.4f",
			candidate.ValidationScore, active.VersionID, active.ValidationScore, r.opts.RegressionTolerance)
		if err := r.registry.Retire(ctx, routeID, candidate.VersionID, res.Reason); err != nil {
			return models.RetrainResult{}, fmt.Errorf("retire candidate %s v%d: %w", routeID, candidate.VersionID, err)
		}
		res.Version.Status = models.StatusRetired
		r.metrics.RecordTraining(routeID, outcomeRejected)
		r.log.Info("candidate not activated",
			applogger.Route(routeID),
			applogger.Int64("version_id", candidate.VersionID),
			applogger.String("reason", res.Reason))
		return res, nil
	}

	activated, err := r.registry.Activate(ctx, routeID, candidate.VersionID)
	if err != nil {
		r.metrics.RecordError("registry")
		return models.RetrainResult{}, fmt.Errorf("activate %s v%d: %w", routeID, candidate.VersionID, err)
	}
	res.Version, res.Activated = activated, true
	r.afterActivation(ctx, routeID)
	r.metrics.RecordTraining(routeID, outcomeActivated)
	r.metrics.RecordLatency("retrain", r.now().Sub(start).Seconds())
	return res, nil
}

// train runs the trainer on a goroutine so a timeout returns promptly even
// if the fit ignores its context. A late result is discarded.
func (r *Retrainer) train(ctx context.Context, routeID string) (models.ModelVersion, error) {
	series := r.store.Snapshot(routeID)

	tctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	type result struct {
		mv  models.ModelVersion
		err error
	}
	done := make(chan result, 1)
	go func() {
		mv, err := r.trainer.Train(tctx, routeID, series)
		done <- result{mv, err}
	}()

	select {
	case res := <-done:
		return res.mv, res.err
	case <-tctx.Done():
		return models.ModelVersion{}, errs.Wrap(errs.KindTrainingFailed, routeID, "training timed out", tctx.Err())
	}
}

// fail records a failed training as a failed version; insufficient data is
// expected for young routes and only reported.
func (r *Retrainer) fail(ctx context.Context, routeID string, err error) error {
	kind, ok := errs.KindOf(err)
	if ok && kind == errs.KindInsufficientData {
		r.metrics.RecordTraining(routeID, outcomeInsufficientData)
		r.log.Info("not enough data to train", applogger.Route(routeID), applogger.String("reason", errs.ReasonOf(err)))
		return err
	}
	if !ok || kind != errs.KindTrainingFailed {
		err = errs.Wrap(errs.KindTrainingFailed, routeID, "trainer error", err)
	}

	r.metrics.RecordTraining(routeID, outcomeFailed)
	r.log.Error("training failed", applogger.Route(routeID), applogger.String("reason", errs.ReasonOf(err)), applogger.Error(err))

	failed := models.ModelVersion{
		RouteID:       routeID,
		TrainedAt:     r.now().UTC(),
		Status:        models.StatusFailed,
		FailureReason: err.Error(),
	}
	if _, rerr := r.registry.Register(ctx, failed); rerr != nil {
		r.log.Warn("record failed version", applogger.Route(routeID), applogger.Error(rerr))
	}
	return err
}

// Rollback reactivates a retained version and runs the activation hooks.
func (r *Retrainer) Rollback(ctx context.Context, routeID string, versionID int64) (models.ModelVersion, error) {
	mv, err := r.registry.Rollback(ctx, routeID, versionID)
	if err != nil {
		return models.ModelVersion{}, err
	}
	r.afterActivation(ctx, routeID)
	return mv, nil
}

func (r *Retrainer) afterActivation(ctx context.Context, routeID string) {
	if r.tracker != nil {
		r.tracker.Reset(routeID)
	}
	for _, fn := range r.hooks {
		fn(ctx, routeID)
	}
}
