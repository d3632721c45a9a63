package usecase

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FareCast/internal/domain/models"
	"FareCast/internal/repository"
	"FareCast/internal/services/forecasting"
	"FareCast/pkg/util"
)

type stalenessEnv struct {
	clk      *clock
	store    *repository.SeriesStore
	registry *repository.ModelRegistry
	tracker  *PredictionTracker
	version  int64
}

func newStalenessEnv(t *testing.T, withModel bool) *stalenessEnv {
	t.Helper()
	clk := newClock(t0)
	e := &stalenessEnv{
		clk:      clk,
		store:    repository.NewSeriesStore(repository.WithSeriesClock(clk.Now)),
		registry: repository.NewModelRegistry(5, repository.WithRegistryClock(clk.Now)),
		tracker:  NewPredictionTracker(10, WithTrackerClock(clk.Now)),
	}
	if withModel {
		ctx := context.Background()
		mv, err := e.registry.Register(ctx, models.ModelVersion{RouteID: "MNL-CEB", TrainedAt: t0, Status: models.StatusCandidate})
		require.NoError(t, err)
		_, err = e.registry.Activate(ctx, "MNL-CEB", mv.VersionID)
		require.NoError(t, err)
		e.version = mv.VersionID
	}
	return e
}

// ingest appends n observations ingested after the model was trained.
func (e *stalenessEnv) ingest(t *testing.T, n int) {
	t.Helper()
	for i := range n {
		at := t0.Add(time.Duration(i+1) * time.Minute)
		_, err := e.store.Append(context.Background(), models.FareObservation{
			RouteID:       "MNL-CEB",
			DepartureDate: t0.AddDate(0, 0, 20),
			ObservedAt:    at,
			Price:         2000,
			Currency:      "PHP",
			SourceID:      "cebpac",
			IngestedAt:    at,
		})
		require.NoError(t, err)
	}
}

// drift scores n served estimates that missed by 50%.
func (e *stalenessEnv) drift(n int) {
	for i := range n {
		day := t0.AddDate(0, 0, 10+i)
		e.tracker.RecordPrediction("MNL-CEB", e.version, []models.ForecastPoint{{Date: day, PointEstimate: 3000}})
		e.tracker.Observe(models.FareObservation{RouteID: "MNL-CEB", DepartureDate: day, ObservedAt: e.clk.Now(), Price: 2000})
	}
}

func TestStalenessEvaluator_Evaluate(t *testing.T) {
	opts := StalenessOptions{
		MaxAge:          24 * time.Hour,
		VolumeThreshold: 5,
		ErrorThreshold:  0.25,
		ErrorMinSamples: 3,
	}
	testData := map[string]struct {
		noModel  bool
		age      time.Duration
		ingested int
		drifted  int
		priority []models.StalenessReason
		stale    bool
		reason   models.StalenessReason
	}{
		"no model": {
			noModel: true,
			stale:   true,
			reason:  models.ReasonNoModel,
		},
		"fresh model": {
			age:    time.Hour,
			reason: models.ReasonFresh,
		},
		"exactly max age is fresh": {
			age:    24 * time.Hour,
			reason: models.ReasonFresh,
		},
		"older than max age": {
			age:    25 * time.Hour,
			stale:  true,
			reason: models.ReasonAge,
		},
		"volume below threshold": {
			age:      time.Hour,
			ingested: 4,
			reason:   models.ReasonFresh,
		},
		"volume at threshold": {
			age:      time.Hour,
			ingested: 5,
			stale:    true,
			reason:   models.ReasonVolume,
		},
		"error drift with too few samples": {
			age:     time.Hour,
			drifted: 2,
			reason:  models.ReasonFresh,
		},
		"error drift": {
			age:     time.Hour,
			drifted: 3,
			stale:   true,
			reason:  models.ReasonErrorDrift,
		},
		"age wins by default": {
			age:      25 * time.Hour,
			ingested: 5,
			drifted:  3,
			stale:    true,
			reason:   models.ReasonAge,
		},
		"configured priority": {
			age:      25 * time.Hour,
			ingested: 5,
			drifted:  3,
			priority: []models.StalenessReason{models.ReasonErrorDrift, models.ReasonVolume, models.ReasonAge},
			stale:    true,
			reason:   models.ReasonErrorDrift,
		},
	}

	for name, tc := range testData {
		t.Run(name, func(t *testing.T) {
			e := newStalenessEnv(t, !tc.noModel)
			e.ingest(t, tc.ingested)
			e.clk.Advance(tc.age)
			e.drift(tc.drifted)

			o := opts
			o.Priority = tc.priority
			ev := NewStalenessEvaluator(e.registry, e.store, e.tracker, o, WithStalenessClock(e.clk.Now))

			v := ev.Evaluate("MNL-CEB")
			assert.Equal(t, "MNL-CEB", v.RouteID)
			assert.Equal(t, tc.stale, v.NeedsRetrain)
			assert.Equal(t, tc.reason, v.Reason)
			assert.Equal(t, e.clk.Now(), v.EvaluatedAt)
		})
	}
}

func TestStalenessEvaluator_DriftOfOtherVersionIgnored(t *testing.T) {
	e := newStalenessEnv(t, true)
	e.version = 99
	e.drift(5)

	ev := NewStalenessEvaluator(e.registry, e.store, e.tracker,
		StalenessOptions{ErrorThreshold: 0.1, ErrorMinSamples: 1}, WithStalenessClock(e.clk.Now))
	v := ev.Evaluate("MNL-CEB")
	assert.False(t, v.NeedsRetrain)
	assert.Equal(t, models.ReasonFresh, v.Reason)
}

// leadPrice is a fare that depends only on how far ahead it is quoted.
func leadPrice(departure, at time.Time) float64 {
	lead := departure.Sub(at).Hours() / 24
	return math.Round(math.Exp(7+0.02*lead)*100) / 100
}

func TestStalenessEvaluator_AccurateModelStaysFresh(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	clk := newClock(start.AddDate(0, 0, 20))
	store := repository.NewSeriesStore(repository.WithSeriesClock(clk.Now))
	registry := repository.NewModelRegistry(5, repository.WithRegistryClock(clk.Now))
	tracker := NewPredictionTracker(20, WithTrackerClock(clk.Now))
	metrics := newRecMetrics()

	for i := range 40 {
		at := start.Add(time.Duration(i) * 12 * time.Hour)
		departure := util.DayStart(at).AddDate(0, 0, 3+i%10)
		_, err := store.Append(ctx, models.FareObservation{
			RouteID:       "MNL-CEB",
			DepartureDate: departure,
			ObservedAt:    at,
			Price:         leadPrice(departure, at),
			Currency:      "PHP",
			SourceID:      "cebpac",
			IngestedAt:    at,
		})
		require.NoError(t, err)
	}

	trainer := forecasting.NewTrainer(forecasting.DefaultOptions(), forecasting.WithClock(clk.Now))
	r := NewRetrainer(store, registry, trainer, metrics,
		RetrainOptions{Timeout: 30 * time.Second, RegressionTolerance: 0.05},
		WithRetrainClock(clk.Now), WithRetrainTracker(tracker))
	res, err := r.Retrain(ctx, "MNL-CEB")
	require.NoError(t, err)
	require.True(t, res.Activated)
	require.Less(t, res.Version.ValidationScore, 0.01)

	fs := NewForecastServer(testCatalog(t), registry, store, forecasting.NewDecoder(nil), metrics,
		ForecastOptions{HardCeiling: 7 * 24 * time.Hour, DegradedBand: 0.15},
		WithForecastClock(clk.Now), WithForecastTracker(tracker))
	today := util.DayStart(clk.Now())
	var dates []time.Time
	for d := 3; d <= 8; d++ {
		dates = append(dates, today.AddDate(0, 0, d))
	}
	out, err := fs.Predict(ctx, "MNL-CEB", dates)
	require.NoError(t, err)
	require.False(t, out.Degraded)

	clk.Advance(time.Hour)
	observedAt := clk.Now()
	records := make([]models.RawRecord, 0, len(dates))
	for _, d := range dates {
		records = append(records, models.RawRecord{
			"route_id":       "MNL-CEB",
			"departure_date": d.Format(models.DateLayout),
			"observed_at":    observedAt.Format(time.RFC3339),
			"price":          leadPrice(d, observedAt),
			"currency":       "PHP",
		})
	}
	ingestor := NewIngestor(testNormalizer(t, clk), store, tracker, metrics, nil)
	rep, err := ingestor.Ingest(ctx, &models.IngestBatch{SourceID: "cebpac", Records: records})
	require.NoError(t, err)
	require.Equal(t, len(dates), rep.Accepted)

	mape, n := tracker.RollingError("MNL-CEB", res.Version.VersionID)
	assert.Equal(t, len(dates), n)
	assert.Less(t, mape, 0.01)

	ev := NewStalenessEvaluator(registry, store, tracker, StalenessOptions{
		MaxAge:          24 * time.Hour,
		VolumeThreshold: 100,
		ErrorThreshold:  0.05,
		ErrorMinSamples: 3,
	}, WithStalenessClock(clk.Now))
	v := ev.Evaluate("MNL-CEB")
	assert.False(t, v.NeedsRetrain)
	assert.Equal(t, models.ReasonFresh, v.Reason)
}
