package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"FareCast/internal/domain/errs"
	"FareCast/internal/domain/models"
	domrepo "FareCast/internal/domain/repository"
	applogger "FareCast/pkg/logger"
)

type routeModels struct {
	mu       sync.Mutex
	versions []*models.ModelVersion // ascending version id
	nextID   int64
}

func (rm *routeModels) find(versionID int64) *models.ModelVersion {
	i := sort.Search(len(rm.versions), func(i int) bool { return rm.versions[i].VersionID >= versionID })
	if i < len(rm.versions) && rm.versions[i].VersionID == versionID {
		return rm.versions[i]
	}
	return nil
}

func (rm *routeModels) active() *models.ModelVersion {
	for i := len(rm.versions) - 1; i >= 0; i-- {
		if rm.versions[i].Status == models.StatusActive {
			return rm.versions[i]
		}
	}
	return nil
}

// ModelRegistry keeps per-route model versions in memory with write-through
// persistence. All transitions of one route are serialized, so at most one
// version is active and the last activation wins.
type ModelRegistry struct {
	mu     sync.RWMutex
	routes map[string]*routeModels

	keep    int
	store   domrepo.ModelStore
	events  domrepo.EventPublisher
	metrics domrepo.Metrics
	now     func() time.Time
	l       *applogger.Logger
}

var _ domrepo.ModelRegistry = (*ModelRegistry)(nil)

// RegistryOption configures ModelRegistry.
type RegistryOption func(*ModelRegistry)

func WithModelStore(store domrepo.ModelStore) RegistryOption {
	return func(r *ModelRegistry) {
		r.store = store
	}
}

func WithEventPublisher(p domrepo.EventPublisher) RegistryOption {
	return func(r *ModelRegistry) {
		r.events = p
	}
}

func WithRegistryMetrics(m domrepo.Metrics) RegistryOption {
	return func(r *ModelRegistry) {
		r.metrics = m
	}
}

func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *ModelRegistry) {
		r.now = now
	}
}

func WithRegistryLogger(l *applogger.Logger) RegistryOption {
	return func(r *ModelRegistry) {
		r.l = l
	}
}

// NewModelRegistry keeps the newest keepVersions per route; the active one is never dropped.
func NewModelRegistry(keepVersions int, opts ...RegistryOption) *ModelRegistry {
	if keepVersions < 1 {
		keepVersions = 1
	}
	r := &ModelRegistry{
		routes: make(map[string]*routeModels),
		keep:   keepVersions,
		now:    time.Now,
		l:      applogger.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *ModelRegistry) get(routeID string) (*routeModels, bool) {
	r.mu.RLock()
	rm, ok := r.routes[routeID]
	r.mu.RUnlock()
	return rm, ok
}

func (r *ModelRegistry) getOrCreate(routeID string) *routeModels {
	if rm, ok := r.get(routeID); ok {
		return rm
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.routes[routeID]
	if !ok {
		rm = &routeModels{}
		r.routes[routeID] = rm
	}
	return rm
}

// Register assigns the next version id to a candidate or failed version.
func (r *ModelRegistry) Register(ctx context.Context, mv models.ModelVersion) (models.ModelVersion, error) {
	if mv.Status != models.StatusCandidate && mv.Status != models.StatusFailed {
		return models.ModelVersion{}, fmt.Errorf("register %s: status %q: %w", mv.RouteID, mv.Status, domrepo.ErrNotCandidate)
	}
	rm := r.getOrCreate(mv.RouteID)
	rm.mu.Lock()
	defer rm.mu.Unlock()

	mv.VersionID = rm.nextID + 1
	mv.ActivatedAt = nil
	mv.UpdatedAt = r.now().UTC()
	if err := r.save(ctx, mv); err != nil {
		return models.ModelVersion{}, err
	}
	rm.nextID = mv.VersionID
	stored := mv.Clone()
	rm.versions = append(rm.versions, &stored)
	r.enforceRetention(rm)

	if mv.Status == models.StatusFailed {
		r.publish(ctx, models.EventFailed, &mv, mv.FailureReason)
	}
	r.l.Info("model registered",
		applogger.Route(mv.RouteID),
		applogger.Int64("version_id", mv.VersionID),
		applogger.String("status", string(mv.Status)),
		applogger.Float64("score", mv.ValidationScore))
	return mv, nil
}

// Activate promotes a candidate and retires the previously active version.
func (r *ModelRegistry) Activate(ctx context.Context, routeID string, versionID int64) (models.ModelVersion, error) {
	rm, ok := r.get(routeID)
	if !ok {
		return models.ModelVersion{}, versionNotFound(routeID, versionID)
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	target := rm.find(versionID)
	if target == nil {
		return models.ModelVersion{}, versionNotFound(routeID, versionID)
	}
	if target.Status != models.StatusCandidate {
		return models.ModelVersion{}, fmt.Errorf("activate %s v%d (%s): %w", routeID, versionID, target.Status, domrepo.ErrNotCandidate)
	}
	out, err := r.promoteLocked(ctx, rm, target)
	if err != nil {
		return models.ModelVersion{}, err
	}
	r.publish(ctx, models.EventActivated, &out, "")
	return out, nil
}

// Rollback reactivates a retained, non-failed version. Rolling back to the
// active version is a no-op.
func (r *ModelRegistry) Rollback(ctx context.Context, routeID string, versionID int64) (models.ModelVersion, error) {
	rm, ok := r.get(routeID)
	if !ok {
		return models.ModelVersion{}, versionNotFound(routeID, versionID)
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	target := rm.find(versionID)
	if target == nil || target.Status == models.StatusFailed {
		return models.ModelVersion{}, versionNotFound(routeID, versionID)
	}
	if target.Status == models.StatusActive {
		return target.Clone(), nil
	}
	out, err := r.promoteLocked(ctx, rm, target)
	if err != nil {
		return models.ModelVersion{}, err
	}
	r.publish(ctx, models.EventRolledBack, &out, "")
	return out, nil
}

func (r *ModelRegistry) promoteLocked(ctx context.Context, rm *routeModels, target *models.ModelVersion) (models.ModelVersion, error) {
	now := r.now().UTC()
	prev := rm.active()

	var demoted models.ModelVersion
	if prev != nil {
		demoted = prev.Clone()
		demoted.Status = models.StatusRetired
		demoted.UpdatedAt = now
		if err := r.save(ctx, demoted); err != nil {
			return models.ModelVersion{}, err
		}
	}

	promoted := target.Clone()
	promoted.Status = models.StatusActive
	promoted.ActivatedAt = &now
	promoted.UpdatedAt = now
	if err := r.save(ctx, promoted); err != nil {
		return models.ModelVersion{}, err
	}

	if prev != nil {
		*prev = demoted
	}
	*target = promoted
	r.enforceRetention(rm)

	if r.metrics != nil {
		r.metrics.RecordActiveVersion(promoted.RouteID, promoted.VersionID)
	}
	fields := []applogger.Field{
		applogger.Route(promoted.RouteID),
		applogger.Int64("version_id", promoted.VersionID),
	}
	if prev != nil {
		fields = append(fields, applogger.Int64("retired_version_id", demoted.VersionID))
	}
	r.l.Info("model activated", fields...)
	return promoted.Clone(), nil
}

// Retire moves a candidate out of contention. Retiring a retired version is a no-op.
func (r *ModelRegistry) Retire(ctx context.Context, routeID string, versionID int64, reason string) error {
	return r.transition(ctx, routeID, versionID, models.StatusRetired, reason, models.EventRetired)
}

// MarkFailed records a candidate as failed; it can never become active.
func (r *ModelRegistry) MarkFailed(ctx context.Context, routeID string, versionID int64, reason string) error {
	return r.transition(ctx, routeID, versionID, models.StatusFailed, reason, models.EventFailed)
}

func (r *ModelRegistry) transition(ctx context.Context, routeID string, versionID int64, to models.ModelStatus, reason, event string) error {
	rm, ok := r.get(routeID)
	if !ok {
		return versionNotFound(routeID, versionID)
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	target := rm.find(versionID)
	if target == nil {
		return versionNotFound(routeID, versionID)
	}
	if target.Status == to {
		return nil
	}
	if target.Status != models.StatusCandidate {
		return fmt.Errorf("%s %s v%d (%s): %w", to, routeID, versionID, target.Status, domrepo.ErrNotCandidate)
	}

	next := target.Clone()
	next.Status = to
	next.UpdatedAt = r.now().UTC()
	if to == models.StatusFailed {
		next.FailureReason = reason
	}
	if err := r.save(ctx, next); err != nil {
		return err
	}
	*target = next
	r.enforceRetention(rm)
	r.publish(ctx, event, &next, reason)
	return nil
}

func (r *ModelRegistry) GetActive(routeID string) (models.ModelVersion, bool) {
	rm, ok := r.get(routeID)
	if !ok {
		return models.ModelVersion{}, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if a := rm.active(); a != nil {
		return a.Clone(), true
	}
	return models.ModelVersion{}, false
}

func (r *ModelRegistry) Get(routeID string, versionID int64) (models.ModelVersion, error) {
	rm, ok := r.get(routeID)
	if !ok {
		return models.ModelVersion{}, versionNotFound(routeID, versionID)
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if v := rm.find(versionID); v != nil {
		return v.Clone(), nil
	}
	return models.ModelVersion{}, versionNotFound(routeID, versionID)
}

// History returns the retained versions, oldest first.
func (r *ModelRegistry) History(routeID string) []models.ModelVersion {
	rm, ok := r.get(routeID)
	if !ok {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]models.ModelVersion, len(rm.versions))
	for i, v := range rm.versions {
		out[i] = v.Clone()
	}
	return out
}

// Restore loads persisted versions. Version ids continue after the highest
// loaded one; if several versions claim to be active the newest activation wins.
func (r *ModelRegistry) Restore(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	all, err := r.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load model versions: %w", err)
	}

	grouped := make(map[string][]models.ModelVersion)
	for _, mv := range all {
		grouped[mv.RouteID] = append(grouped[mv.RouteID], mv)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for routeID, versions := range grouped {
		sort.Slice(versions, func(i, j int) bool { return versions[i].VersionID < versions[j].VersionID })
		rm := &routeModels{}
		var winner *models.ModelVersion
		for i := range versions {
			v := versions[i].Clone()
			rm.versions = append(rm.versions, &v)
			rm.nextID = max(rm.nextID, v.VersionID)
			if v.Status != models.StatusActive {
				continue
			}
			if winner != nil && activatedAt(winner).After(activatedAt(&v)) {
				v.Status = models.StatusRetired
				continue
			}
			if winner != nil {
				winner.Status = models.StatusRetired
			}
			winner = &v
		}
		r.enforceRetention(rm)
		r.routes[routeID] = rm
		if winner != nil && r.metrics != nil {
			r.metrics.RecordActiveVersion(routeID, winner.VersionID)
		}
	}
	r.l.Info("model registry restored",
		applogger.Int("versions", len(all)),
		applogger.Int("routes", len(grouped)))
	return len(all), nil
}

func activatedAt(mv *models.ModelVersion) time.Time {
	if mv.ActivatedAt != nil {
		return *mv.ActivatedAt
	}
	return mv.UpdatedAt
}

// enforceRetention drops the oldest non-active versions beyond keep.
func (r *ModelRegistry) enforceRetention(rm *routeModels) {
	excess := len(rm.versions) - r.keep
	if excess <= 0 {
		return
	}
	kept := rm.versions[:0:0]
	for _, v := range rm.versions {
		if excess > 0 && v.Status != models.StatusActive {
			excess--
			continue
		}
		kept = append(kept, v)
	}
	rm.versions = kept
}

func (r *ModelRegistry) save(ctx context.Context, mv models.ModelVersion) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.Save(ctx, mv); err != nil {
		return fmt.Errorf("save model %s v%d: %w", mv.RouteID, mv.VersionID, err)
	}
	return nil
}

func (r *ModelRegistry) publish(ctx context.Context, eventType string, mv *models.ModelVersion, reason string) {
	if r.events == nil {
		return
	}
	ev := models.ModelEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		RouteID:   mv.RouteID,
		VersionID: mv.VersionID,
		Score:     mv.ValidationScore,
		Reason:    reason,
		At:        r.now().UTC(),
	}
	if err := r.events.PublishModelEvent(ctx, ev); err != nil {
		r.l.Warn("publish model event",
			applogger.Route(mv.RouteID),
			applogger.String("event", eventType),
			applogger.Error(err))
	}
}

func versionNotFound(routeID string, versionID int64) error {
	return errs.Newf(errs.KindVersionNotFound, routeID, "version %d", versionID)
}
