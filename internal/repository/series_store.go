package repository

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"FareCast/internal/domain/models"
	domrepo "FareCast/internal/domain/repository"
	applogger "FareCast/pkg/logger"
)

// routeSeries is one route's ordered observations. Writers serialize on mu
// and publish a new slice header; readers load the pointer without locking.
type routeSeries struct {
	mu   sync.Mutex
	snap atomic.Pointer[[]models.FareObservation]
	keys map[models.ObservationKey]struct{}
}

func newRouteSeries() *routeSeries {
	rs := &routeSeries{keys: make(map[models.ObservationKey]struct{})}
	empty := []models.FareObservation{}
	rs.snap.Store(&empty)
	return rs
}

func (rs *routeSeries) load() []models.FareObservation {
	s := *rs.snap.Load()
	// clip capacity so callers appending to a snapshot never touch shared storage
	return s[:len(s):len(s)]
}

// insertLocked places obs after every observation with the same or an
// earlier observed_at. Appends at the tail reuse spare capacity; readers
// hold shorter headers and never see the new element.
func (rs *routeSeries) insertLocked(obs models.FareObservation) {
	cur := *rs.snap.Load()
	i := sort.Search(len(cur), func(i int) bool { return cur[i].ObservedAt.After(obs.ObservedAt) })

	var next []models.FareObservation
	if i == len(cur) {
		next = append(cur, obs)
	} else {
		next = make([]models.FareObservation, 0, len(cur)+1+len(cur)/4)
		next = append(next, cur[:i]...)
		next = append(next, obs)
		next = append(next, cur[i:]...)
	}
	rs.keys[obs.Key()] = struct{}{}
	rs.snap.Store(&next)
}

// SeriesStore is the in-memory per-route observation store with an optional
// durable log written before the in-memory insert.
type SeriesStore struct {
	mu     sync.RWMutex
	routes map[string]*routeSeries

	obsLog domrepo.ObservationLog
	now    func() time.Time
	l      *applogger.Logger
}

var _ domrepo.SeriesStore = (*SeriesStore)(nil)

// SeriesOption configures SeriesStore.
type SeriesOption func(*SeriesStore)

func WithObservationLog(log domrepo.ObservationLog) SeriesOption {
	return func(s *SeriesStore) {
		s.obsLog = log
	}
}

func WithSeriesClock(now func() time.Time) SeriesOption {
	return func(s *SeriesStore) {
		s.now = now
	}
}

func WithSeriesLogger(l *applogger.Logger) SeriesOption {
	return func(s *SeriesStore) {
		s.l = l
	}
}

func NewSeriesStore(opts ...SeriesOption) *SeriesStore {
	s := &SeriesStore{
		routes: make(map[string]*routeSeries),
		now:    time.Now,
		l:      applogger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SeriesStore) get(routeID string) (*routeSeries, bool) {
	s.mu.RLock()
	rs, ok := s.routes[routeID]
	s.mu.RUnlock()
	return rs, ok
}

func (s *SeriesStore) getOrCreate(routeID string) *routeSeries {
	if rs, ok := s.get(routeID); ok {
		return rs
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.routes[routeID]
	if !ok {
		rs = newRouteSeries()
		s.routes[routeID] = rs
	}
	return rs
}

// Append stores obs unless its identity key is already present.
func (s *SeriesStore) Append(ctx context.Context, obs models.FareObservation) (bool, error) {
	res, err := s.AppendBatch(ctx, []models.FareObservation{obs})
	if err != nil {
		return false, err
	}
	return res[0], nil
}

// AppendBatch groups observations by route; each route writes its new
// observations to the log once and then publishes them.
func (s *SeriesStore) AppendBatch(ctx context.Context, obs []models.FareObservation) ([]bool, error) {
	inserted := make([]bool, len(obs))
	byRoute := make(map[string][]int)
	order := make([]string, 0)
	for i, o := range obs {
		if _, ok := byRoute[o.RouteID]; !ok {
			order = append(order, o.RouteID)
		}
		byRoute[o.RouteID] = append(byRoute[o.RouteID], i)
	}

	for _, routeID := range order {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}
		if err := s.appendRoute(ctx, s.getOrCreate(routeID), obs, byRoute[routeID], inserted); err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

func (s *SeriesStore) appendRoute(ctx context.Context, rs *routeSeries, obs []models.FareObservation, idx []int, inserted []bool) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	fresh := make([]int, 0, len(idx))
	seen := make(map[models.ObservationKey]struct{}, len(idx))
	for _, i := range idx {
		k := obs[i].Key()
		if _, dup := rs.keys[k]; dup {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		fresh = append(fresh, i)
	}
	if len(fresh) == 0 {
		return nil
	}

	if s.obsLog != nil {
		rows := make([]models.FareObservation, len(fresh))
		for j, i := range fresh {
			rows[j] = obs[i]
		}
		if err := s.obsLog.Write(ctx, rows); err != nil {
			return fmt.Errorf("observation log: %w", err)
		}
	}

	for _, i := range fresh {
		rs.insertLocked(obs[i])
		inserted[i] = true
	}
	return nil
}

func (s *SeriesStore) LatestObservedAt(routeID string) (time.Time, bool) {
	o, ok := s.Latest(routeID)
	if !ok {
		return time.Time{}, false
	}
	return o.ObservedAt, true
}

func (s *SeriesStore) Latest(routeID string) (models.FareObservation, bool) {
	snap := s.Snapshot(routeID)
	if len(snap) == 0 {
		return models.FareObservation{}, false
	}
	return snap[len(snap)-1], true
}

// Range yields observations with from <= observed_at <= to. A zero bound is
// open. Each iteration walks the snapshot taken when Range was called.
func (s *SeriesStore) Range(routeID string, from, to time.Time) iter.Seq[models.FareObservation] {
	snap := s.Snapshot(routeID)
	return func(yield func(models.FareObservation) bool) {
		start := 0
		if !from.IsZero() {
			start = sort.Search(len(snap), func(i int) bool { return !snap[i].ObservedAt.Before(from) })
		}
		for _, o := range snap[start:] {
			if !to.IsZero() && o.ObservedAt.After(to) {
				return
			}
			if !yield(o) {
				return
			}
		}
	}
}

func (s *SeriesStore) Snapshot(routeID string) []models.FareObservation {
	rs, ok := s.get(routeID)
	if !ok {
		return nil
	}
	return rs.load()
}

// CountIngestedSince counts observations ingested strictly after since.
func (s *SeriesStore) CountIngestedSince(routeID string, since time.Time) int {
	n := 0
	for _, o := range s.Snapshot(routeID) {
		if o.IngestedAt.After(since) {
			n++
		}
	}
	return n
}

// Prune drops observations older than now-retention. Readers holding an
// earlier snapshot keep seeing it unchanged.
func (s *SeriesStore) Prune(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-retention)

	s.mu.RLock()
	routes := make([]*routeSeries, 0, len(s.routes))
	for _, rs := range s.routes {
		routes = append(routes, rs)
	}
	s.mu.RUnlock()

	removed := 0
	for _, rs := range routes {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		removed += rs.prune(cutoff)
	}
	if removed > 0 {
		s.l.Info("series pruned", applogger.Int("removed", removed), applogger.Time("cutoff", cutoff))
	}
	return removed, nil
}

func (rs *routeSeries) prune(cutoff time.Time) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	cur := *rs.snap.Load()
	i := sort.Search(len(cur), func(i int) bool { return !cur[i].ObservedAt.Before(cutoff) })
	if i == 0 {
		return 0
	}
	for _, o := range cur[:i] {
		delete(rs.keys, o.Key())
	}
	next := make([]models.FareObservation, len(cur)-i)
	copy(next, cur[i:])
	rs.snap.Store(&next)
	return i
}

func (s *SeriesStore) Routes() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.routes))
	for id, rs := range s.routes {
		if len(*rs.snap.Load()) > 0 {
			out = append(out, id)
		}
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Restore replays the durable log into memory without writing it back.
func (s *SeriesStore) Restore(ctx context.Context, since time.Time) (int, error) {
	if s.obsLog == nil {
		return 0, nil
	}
	obs, err := s.obsLog.Load(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("load observation log: %w", err)
	}
	n := 0
	for _, o := range obs {
		rs := s.getOrCreate(o.RouteID)
		rs.mu.Lock()
		if _, dup := rs.keys[o.Key()]; !dup {
			rs.insertLocked(o)
			n++
		}
		rs.mu.Unlock()
	}
	s.l.Info("series restored", applogger.Int("observations", n))
	return n, nil
}
