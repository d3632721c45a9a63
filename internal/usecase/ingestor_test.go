package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FareCast/internal/domain/models"
	"FareCast/internal/repository"
)

type failingLog struct{ err error }

func (l failingLog) Write(context.Context, []models.FareObservation) error { return l.err }

func (l failingLog) Load(context.Context, time.Time) ([]models.FareObservation, error) {
	return nil, nil
}

func cebpacRecord(route string, observed time.Time, price interface{}) models.RawRecord {
	return models.RawRecord{
		"route_id":       route,
		"departure_date": observed.AddDate(0, 0, 14).Format(models.DateLayout),
		"observed_at":    observed.Format(time.RFC3339),
		"price":          price,
	}
}

func TestIngestor_Ingest(t *testing.T) {
	at := t0.Add(2 * time.Hour)
	testData := map[string]struct {
		batch      *models.IngestBatch
		accepted   int
		duplicates int
		rejected   int
		rejectIdx  []int
	}{
		"all valid": {
			batch: &models.IngestBatch{SourceID: "cebpac", Records: []models.RawRecord{
				cebpacRecord("MNL-CEB", at, 2499.0),
				cebpacRecord("MNL-DVO", at, "3,100.50"),
			}},
			accepted: 2,
		},
		"invalid records are reported by index": {
			batch: &models.IngestBatch{SourceID: "cebpac", Records: []models.RawRecord{
				cebpacRecord("MNL-CEB", at, 2499.0),
				cebpacRecord("MNL-CEB", at.Add(time.Minute), -5.0),
				cebpacRecord("XXX-YYY", at, 1000.0),
			}},
			accepted:  1,
			rejected:  2,
			rejectIdx: []int{1, 2},
		},
		"duplicates inside one batch": {
			batch: &models.IngestBatch{SourceID: "cebpac", Records: []models.RawRecord{
				cebpacRecord("MNL-CEB", at, 2499.0),
				cebpacRecord("MNL-CEB", at, 2499.0),
			}},
			accepted:   1,
			duplicates: 1,
		},
		"unknown source rejects the batch": {
			batch: &models.IngestBatch{SourceID: "nope", Records: []models.RawRecord{
				cebpacRecord("MNL-CEB", at, 2499.0),
			}},
			rejected:  1,
			rejectIdx: []int{-1},
		},
		"disabled source rejects the batch": {
			batch: &models.IngestBatch{SourceID: "legacy", Records: []models.RawRecord{
				cebpacRecord("MNL-CEB", at, 2499.0),
				cebpacRecord("MNL-DVO", at, 2499.0),
			}},
			rejected:  2,
			rejectIdx: []int{-1},
		},
	}

	for name, tc := range testData {
		t.Run(name, func(t *testing.T) {
			clk := newClock(t0.Add(6 * time.Hour))
			store := repository.NewSeriesStore(repository.WithSeriesClock(clk.Now))
			metrics := newRecMetrics()
			ing := NewIngestor(testNormalizer(t, clk), store, nil, metrics, nil)

			rep, err := ing.Ingest(context.Background(), tc.batch)
			require.NoError(t, err)
			assert.NotEmpty(t, rep.BatchID)
			assert.Equal(t, tc.batch.SourceID, rep.SourceID)
			assert.Equal(t, tc.accepted, rep.Accepted)
			assert.Equal(t, tc.duplicates, rep.Duplicates)
			assert.Equal(t, tc.rejected, rep.Rejected)
			require.Len(t, rep.Rejections, len(tc.rejectIdx))
			for i, idx := range tc.rejectIdx {
				assert.Equal(t, idx, rep.Rejections[i].Index)
				assert.NotEmpty(t, rep.Rejections[i].Reason)
			}
			assert.Equal(t, tc.accepted, metrics.ingested[resultAccepted])
		})
	}
}

func TestIngestor_ReingestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	clk := newClock(t0.AddDate(0, 0, 1))
	store := repository.NewSeriesStore(repository.WithSeriesClock(clk.Now))
	ing := NewIngestor(testNormalizer(t, clk), store, nil, newRecMetrics(), nil)

	batch := &models.IngestBatch{SourceID: "cebpac", Records: []models.RawRecord{
		cebpacRecord("MNL-CEB", t0.Add(time.Hour), 2100.0),
		cebpacRecord("MNL-CEB", t0.Add(2*time.Hour), 2150.0),
		cebpacRecord("MNL-CEB", t0.Add(3*time.Hour), 2200.0),
	}}
	first, err := ing.Ingest(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, 3, first.Accepted)
	before := store.Snapshot("MNL-CEB")

	second, err := ing.Ingest(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Accepted)
	assert.Equal(t, 3, second.Duplicates)
	assert.NotEqual(t, first.BatchID, second.BatchID)
	assert.Equal(t, before, store.Snapshot("MNL-CEB"))
}

func TestIngestor_StoreFailure(t *testing.T) {
	clk := newClock(t0.AddDate(0, 0, 1))
	boom := errors.New("clickhouse down")
	store := repository.NewSeriesStore(repository.WithSeriesClock(clk.Now), repository.WithObservationLog(failingLog{err: boom}))
	metrics := newRecMetrics()
	ing := NewIngestor(testNormalizer(t, clk), store, nil, metrics, nil)

	_, err := ing.Ingest(context.Background(), &models.IngestBatch{SourceID: "cebpac", Records: []models.RawRecord{
		cebpacRecord("MNL-CEB", t0.Add(time.Hour), 2100.0),
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, metrics.errors["series_append"])
	_, ok := store.Latest("MNL-CEB")
	assert.False(t, ok)
}

func TestIngestor_ScoresServedEstimates(t *testing.T) {
	clk := newClock(t0)
	store := repository.NewSeriesStore(repository.WithSeriesClock(clk.Now))
	tracker := NewPredictionTracker(10, WithTrackerClock(clk.Now))
	ing := NewIngestor(testNormalizer(t, clk), store, tracker, newRecMetrics(), nil)

	departure := t0.AddDate(0, 0, 14)
	tracker.RecordPrediction("MNL-CEB", 3, []models.ForecastPoint{{Date: departure, PointEstimate: 2000}})

	clk.Advance(4 * time.Hour)
	batch := &models.IngestBatch{SourceID: "cebpac", Records: []models.RawRecord{
		cebpacRecord("MNL-CEB", t0.Add(time.Hour), 2500.0),
	}}
	_, err := ing.Ingest(context.Background(), batch)
	require.NoError(t, err)

	mape, n := tracker.RollingError("MNL-CEB", 3)
	assert.Equal(t, 1, n)
	assert.InDelta(t, 0.2, mape, 1e-9)

	// a duplicate must not be scored twice
	_, err = ing.Ingest(context.Background(), batch)
	require.NoError(t, err)
	_, n = tracker.RollingError("MNL-CEB", 3)
	assert.Equal(t, 1, n)
}
