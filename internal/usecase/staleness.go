package usecase

import (
	"time"

	"FareCast/internal/domain/models"
	domrepo "FareCast/internal/domain/repository"
)

// DefaultStalenessPriority is the order age, volume and error drift are
// checked in when none is configured.
var DefaultStalenessPriority = []models.StalenessReason{
	models.ReasonAge,
	models.ReasonVolume,
	models.ReasonErrorDrift,
}

type StalenessOptions struct {
	MaxAge          time.Duration
	VolumeThreshold int
	ErrorThreshold  float64
	ErrorMinSamples int
	Priority        []models.StalenessReason
}

// StalenessEvaluator decides per route whether the active model must be
// retrained.
type StalenessEvaluator struct {
	registry domrepo.ModelRegistry
	store    domrepo.SeriesStore
	tracker  *PredictionTracker
	opts     StalenessOptions
	now      func() time.Time
}

type StalenessOption func(*StalenessEvaluator)

func WithStalenessClock(now func() time.Time) StalenessOption {
	return func(e *StalenessEvaluator) { e.now = now }
}

func NewStalenessEvaluator(registry domrepo.ModelRegistry, store domrepo.SeriesStore, tracker *PredictionTracker, opts StalenessOptions, o ...StalenessOption) *StalenessEvaluator {
	if len(opts.Priority) == 0 {
		opts.Priority = DefaultStalenessPriority
	}
	e := &StalenessEvaluator{
		registry: registry,
		store:    store,
		tracker:  tracker,
		opts:     opts,
		now:      time.Now,
	}
	for _, fn := range o {
		fn(e)
	}
	return e
}

// Evaluate reports the first matching reason. A missing model is always
// checked first since the other conditions are relative to it.
func (e *StalenessEvaluator) Evaluate(routeID string) models.StalenessVerdict {
	now := e.now()
	v := models.StalenessVerdict{RouteID: routeID, Reason: models.ReasonFresh, EvaluatedAt: now}

	active, ok := e.registry.GetActive(routeID)
	if !ok {
		v.NeedsRetrain, v.Reason = true, models.ReasonNoModel
		return v
	}
	for _, reason := range e.opts.Priority {
		if e.holds(reason, active, now) {
			v.NeedsRetrain, v.Reason = true, reason
			return v
		}
	}
	return v
}

func (e *StalenessEvaluator) holds(reason models.StalenessReason, active models.ModelVersion, now time.Time) bool {
	switch reason {
	case models.ReasonAge:
		return e.opts.MaxAge > 0 && now.Sub(active.TrainedAt) > e.opts.MaxAge
	case models.ReasonVolume:
		return e.opts.VolumeThreshold > 0 &&
			e.store.CountIngestedSince(active.RouteID, active.TrainedAt) >= e.opts.VolumeThreshold
	case models.ReasonErrorDrift:
		if e.tracker == nil || e.opts.ErrorThreshold <= 0 {
			return false
		}
		mape, n := e.tracker.RollingError(active.RouteID, active.VersionID)
		return n >= max(e.opts.ErrorMinSamples, 1) && mape > e.opts.ErrorThreshold
	}
	return false
}
