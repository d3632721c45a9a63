package usecase

import (
	"math"
	"slices"
	"sync"
	"time"

	"FareCast/internal/domain/models"
	"FareCast/pkg/util"
)

type servedEstimate struct {
	versionID int64
	estimate  float64
	servedAt  time.Time
}

type errorSample struct {
	versionID int64
	ape       float64
}

type routeTrack struct {
	pending map[time.Time]servedEstimate // departure day -> last served estimate
	samples []errorSample                // ring of the most recent errors
	next    int
	full    bool
}

// PredictionTracker compares served point estimates with prices observed
// later for the same departure day and keeps a rolling window of absolute
// percentage errors per route. Forecast dates are departure days, so a fare
// seen on a forecast date for some other flight is never scored.
type PredictionTracker struct {
	mu         sync.Mutex
	window     int
	maxPending int
	routes     map[string]*routeTrack
	now        func() time.Time
}

type TrackerOption func(*PredictionTracker)

func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *PredictionTracker) { t.now = now }
}

// WithMaxPending caps the served estimates remembered per route.
func WithMaxPending(n int) TrackerOption {
	return func(t *PredictionTracker) {
		if n > 0 {
			t.maxPending = n
		}
	}
}

func NewPredictionTracker(window int, opts ...TrackerOption) *PredictionTracker {
	if window <= 0 {
		window = 50
	}
	t := &PredictionTracker{
		window:     window,
		maxPending: 1000,
		routes:     make(map[string]*routeTrack),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *PredictionTracker) track(routeID string) *routeTrack {
	rt, ok := t.routes[routeID]
	if !ok {
		rt = &routeTrack{
			pending: make(map[time.Time]servedEstimate),
			samples: make([]errorSample, t.window),
		}
		t.routes[routeID] = rt
	}
	return rt
}

// RecordPrediction remembers the estimates a model version served.
func (t *PredictionTracker) RecordPrediction(routeID string, versionID int64, points []models.ForecastPoint) {
	now := t.now()
	today := util.DayStart(now)

	t.mu.Lock()
	defer t.mu.Unlock()
	rt := t.track(routeID)
	for _, p := range points {
		day := util.DayStart(p.Date)
		if day.Before(today) || p.PointEstimate <= 0 {
			continue
		}
		rt.pending[day] = servedEstimate{versionID: versionID, estimate: p.PointEstimate, servedAt: now}
	}
	if len(rt.pending) > t.maxPending {
		rt.expire(today, t.maxPending)
	}
}

// expire drops estimates for days that have departed, then the farthest
// days if the route is still over its cap.
func (rt *routeTrack) expire(today time.Time, limit int) {
	days := make([]time.Time, 0, len(rt.pending))
	for day := range rt.pending {
		if day.Before(today) {
			delete(rt.pending, day)
			continue
		}
		days = append(days, day)
	}
	if len(days) <= limit {
		return
	}
	slices.SortFunc(days, func(a, b time.Time) int { return a.Compare(b) })
	for _, day := range days[limit:] {
		delete(rt.pending, day)
	}
}

// Observe scores a newly stored observation against the estimate served
// for its departure day before it was observed.
func (t *PredictionTracker) Observe(obs models.FareObservation) {
	if obs.Price <= 0 {
		return
	}
	day := util.DayStart(obs.DepartureDate)

	t.mu.Lock()
	defer t.mu.Unlock()
	rt, ok := t.routes[obs.RouteID]
	if !ok {
		return
	}
	est, ok := rt.pending[day]
	if !ok || obs.ObservedAt.Before(est.servedAt) {
		return
	}
	rt.samples[rt.next] = errorSample{
		versionID: est.versionID,
		ape:       math.Abs(est.estimate-obs.Price) / obs.Price,
	}
	rt.next = (rt.next + 1) % len(rt.samples)
	if rt.next == 0 {
		rt.full = true
	}
}

// RollingError returns the mean absolute percentage error of the recent
// samples scored against versionID, and how many there were.
func (t *PredictionTracker) RollingError(routeID string, versionID int64) (float64, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rt, ok := t.routes[routeID]
	if !ok {
		return 0, 0
	}
	size := rt.next
	if rt.full {
		size = len(rt.samples)
	}
	var sum float64
	var n int
	for _, s := range rt.samples[:size] {
		if s.versionID != versionID {
			continue
		}
		sum += s.ape
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

// Reset forgets everything tracked for a route, e.g. after a new activation.
func (t *PredictionTracker) Reset(routeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.routes, routeID)
}
