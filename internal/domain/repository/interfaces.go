package repository

import (
	"context"
	"errors"
	"iter"
	"time"

	"FareCast/internal/domain/models"
)

// SeriesStore holds the append-only per-route observation series.
type SeriesStore interface {
	// Append inserts in observed_at order; returns false for a duplicate key.
	Append(ctx context.Context, obs models.FareObservation) (bool, error)
	// AppendBatch is Append for many observations; inserted is aligned with obs.
	AppendBatch(ctx context.Context, obs []models.FareObservation) (inserted []bool, err error)
	LatestObservedAt(routeID string) (time.Time, bool)
	Latest(routeID string) (models.FareObservation, bool)
	// Range yields observations with from <= observed_at <= to over a snapshot.
	Range(routeID string, from, to time.Time) iter.Seq[models.FareObservation]
	// Snapshot returns an immutable view; callers must not modify it.
	Snapshot(routeID string) []models.FareObservation
	CountIngestedSince(routeID string, since time.Time) int
	Prune(ctx context.Context, retention time.Duration) (int, error)
	Routes() []string
}

// ObservationLog is the durable append-only log behind the series store.
type ObservationLog interface {
	Write(ctx context.Context, obs []models.FareObservation) error
	Load(ctx context.Context, since time.Time) ([]models.FareObservation, error)
}

// ErrNotCandidate is returned when a transition needs a candidate version.
var ErrNotCandidate = errors.New("model version is not a candidate")

// ModelRegistry owns model version status transitions.
type ModelRegistry interface {
	// Register stores a candidate or failed version and assigns its version id.
	Register(ctx context.Context, mv models.ModelVersion) (models.ModelVersion, error)
	Activate(ctx context.Context, routeID string, versionID int64) (models.ModelVersion, error)
	Retire(ctx context.Context, routeID string, versionID int64, reason string) error
	// MarkFailed moves a candidate to failed; it can never become active.
	MarkFailed(ctx context.Context, routeID string, versionID int64, reason string) error
	GetActive(routeID string) (models.ModelVersion, bool)
	Get(routeID string, versionID int64) (models.ModelVersion, error)
	History(routeID string) []models.ModelVersion
	Rollback(ctx context.Context, routeID string, versionID int64) (models.ModelVersion, error)
}

// ModelStore persists model version history.
type ModelStore interface {
	Save(ctx context.Context, mv models.ModelVersion) error
	LoadAll(ctx context.Context) ([]models.ModelVersion, error)
}

// EventPublisher announces model lifecycle changes.
type EventPublisher interface {
	PublishModelEvent(ctx context.Context, ev models.ModelEvent) error
}

// RouteCatalog knows the recognized routes and their classes.
type RouteCatalog interface {
	Route(id string) (models.Route, bool)
	Routes() []models.Route
	RoutesInClass(class string) []models.Route
	Class(name string) (models.RouteClass, bool)
}

// SourceRegistry resolves scraper source schemas.
type SourceRegistry interface {
	Schema(sourceID string) (models.SourceSchema, bool)
}

// FareStream is a live feed of scraped fare batches.
type FareStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.IngestBatch, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Locker is a cross-instance mutual exclusion primitive.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Metrics records pipeline telemetry.
type Metrics interface {
	RecordIngested(source, result string)
	RecordError(kind string)
	RecordTraining(route, outcome string)
	RecordForecast(route string, degraded bool)
	RecordActiveVersion(route string, version int64)
	RecordLatency(op string, seconds float64)
}
