package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FareCast/internal/domain/errs"
	"FareCast/internal/domain/models"
	"FareCast/internal/domain/service"
	"FareCast/internal/repository"
	"FareCast/pkg/cache"
)

// priceFunc is a PriceModel that counts its predictions.
type priceFunc struct {
	fn    func(time.Time) float64
	calls *atomic.Int32
}

func (p priceFunc) Predict(date, _ time.Time) models.ForecastPoint {
	p.calls.Add(1)
	v := p.fn(date)
	return models.ForecastPoint{Date: date, PointEstimate: v, LowerBound: v * 0.9, UpperBound: v * 1.1}
}

type fakeDecoder struct {
	model   service.PriceModel
	err     error
	decodes atomic.Int32
}

func (d *fakeDecoder) Decode(artifact []byte) (service.PriceModel, error) {
	d.decodes.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	return d.model, nil
}

type forecastEnv struct {
	clk      *clock
	store    *repository.SeriesStore
	registry *repository.ModelRegistry
	decoder  *fakeDecoder
	predicts *atomic.Int32
	metrics  *recMetrics
}

func newForecastEnv(price func(time.Time) float64) *forecastEnv {
	clk := newClock(t0.AddDate(0, 0, 14))
	predicts := &atomic.Int32{}
	return &forecastEnv{
		clk:      clk,
		store:    repository.NewSeriesStore(repository.WithSeriesClock(clk.Now)),
		registry: repository.NewModelRegistry(5, repository.WithRegistryClock(clk.Now)),
		decoder:  &fakeDecoder{model: priceFunc{fn: price, calls: predicts}},
		predicts: predicts,
		metrics:  newRecMetrics(),
	}
}

func (e *forecastEnv) server(t *testing.T, o ...ForecastOption) *ForecastServer {
	t.Helper()
	o = append([]ForecastOption{WithForecastClock(e.clk.Now)}, o...)
	return NewForecastServer(testCatalog(t), e.registry, e.store, e.decoder, e.metrics, ForecastOptions{
		HardCeiling:     7 * 24 * time.Hour,
		DegradedBand:    0.15,
		MaxHorizonDates: 100,
		CacheTTL:        time.Minute,
		ModelCacheTTL:   time.Hour,
	}, o...)
}

func (e *forecastEnv) activate(t *testing.T, routeID string, trainedAt time.Time) int64 {
	t.Helper()
	ctx := context.Background()
	mv, err := e.registry.Register(ctx, models.ModelVersion{
		RouteID:   routeID,
		TrainedAt: trainedAt,
		Artifact:  []byte("artifact"),
		Status:    models.StatusCandidate,
	})
	require.NoError(t, err)
	_, err = e.registry.Activate(ctx, routeID, mv.VersionID)
	require.NoError(t, err)
	return mv.VersionID
}

func (e *forecastEnv) observe(t *testing.T, routeID string, price float64) {
	t.Helper()
	at := e.clk.Now().Add(-time.Hour)
	_, err := e.store.Append(context.Background(), models.FareObservation{
		RouteID:       routeID,
		DepartureDate: at.AddDate(0, 0, 10).Truncate(24 * time.Hour),
		ObservedAt:    at,
		Price:         price,
		Currency:      "PHP",
		SourceID:      "cebpac",
		IngestedAt:    at,
	})
	require.NoError(t, err)
}

func flat(v float64) func(time.Time) float64 {
	return func(time.Time) float64 { return v }
}

func (e *forecastEnv) days(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = e.clk.Now().AddDate(0, 0, i+1)
	}
	return out
}

func TestForecastServer_Degraded(t *testing.T) {
	testData := map[string]struct {
		route    string
		setup    func(t *testing.T, e *forecastEnv)
		reason   string
		fallback string
		price    float64
	}{
		"latest price of the route": {
			route:    "MNL-CEB",
			setup:    func(t *testing.T, e *forecastEnv) { e.observe(t, "MNL-CEB", 2000) },
			reason:   models.DegradedNoModel,
			fallback: models.FallbackLatestPrice,
			price:    2000,
		},
		"class average without route data": {
			route:    "MNL-CEB",
			setup:    func(t *testing.T, e *forecastEnv) { e.observe(t, "MNL-DVO", 3000) },
			reason:   models.DegradedNoModel,
			fallback: models.FallbackClassAvg,
			price:    3000,
		},
		"class baseline with no data at all": {
			route:    "CEB-TAG",
			setup:    func(*testing.T, *forecastEnv) {},
			reason:   models.DegradedNoModel,
			fallback: models.FallbackBaseline,
			price:    1800,
		},
		"expired model": {
			route: "MNL-CEB",
			setup: func(t *testing.T, e *forecastEnv) {
				e.observe(t, "MNL-CEB", 2000)
				e.activate(t, "MNL-CEB", e.clk.Now().Add(-8*24*time.Hour))
			},
			reason:   models.DegradedExpired,
			fallback: models.FallbackLatestPrice,
			price:    2000,
		},
		"unreadable model": {
			route: "MNL-CEB",
			setup: func(t *testing.T, e *forecastEnv) {
				e.decoder.err = errors.New("corrupt artifact")
				e.activate(t, "MNL-CEB", e.clk.Now())
			},
			reason:   models.DegradedUnreadable,
			fallback: models.FallbackBaseline,
			price:    2500,
		},
	}

	for name, tc := range testData {
		t.Run(name, func(t *testing.T) {
			e := newForecastEnv(flat(1000))
			tc.setup(t, e)
			fs := e.server(t)

			res, err := fs.Predict(context.Background(), tc.route, e.days(3))
			require.NoError(t, err)
			assert.True(t, res.Degraded)
			assert.Nil(t, res.ModelVersionID)
			assert.Equal(t, tc.reason, res.Reason)
			assert.Equal(t, tc.fallback, res.Fallback)
			require.Len(t, res.Points, 3)
			for _, p := range res.Points {
				assert.Equal(t, tc.price, p.PointEstimate)
				assert.InDelta(t, tc.price*0.85, p.LowerBound, 0.01)
				assert.InDelta(t, tc.price*1.15, p.UpperBound, 0.01)
			}
			assert.Equal(t, 1, e.metrics.forecasts[true])
		})
	}
}

// classlessCatalog hides route classes, as a catalog from another backend might.
type classlessCatalog struct {
	*repository.ConfigCatalog
}

func (classlessCatalog) Class(string) (models.RouteClass, bool) {
	return models.RouteClass{}, false
}

func TestForecastServer_NoFallbackPrice(t *testing.T) {
	testData := map[string]struct {
		route    string
		observe  string
		price    float64
		fallback string
		missing  int
	}{
		"no data and no class": {
			route:    "CEB-TAG",
			fallback: models.FallbackBaseline,
			missing:  1,
		},
		"class average needs no class entry": {
			route:    "MNL-CEB",
			observe:  "MNL-DVO",
			price:    3000,
			fallback: models.FallbackClassAvg,
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			e := newForecastEnv(flat(1000))
			if td.observe != "" {
				e.observe(t, td.observe, td.price)
			}
			fs := NewForecastServer(classlessCatalog{testCatalog(t)}, e.registry, e.store, e.decoder, e.metrics,
				ForecastOptions{DegradedBand: 0.15}, WithForecastClock(e.clk.Now))

			res, err := fs.Predict(context.Background(), td.route, e.days(2))
			require.NoError(t, err)
			assert.True(t, res.Degraded)
			assert.Equal(t, td.fallback, res.Fallback)
			for _, p := range res.Points {
				assert.Equal(t, td.price, p.PointEstimate)
			}
			assert.Equal(t, td.missing, e.metrics.errors["no_fallback_price"])
		})
	}
}

func TestForecastServer_Validation(t *testing.T) {
	e := newForecastEnv(flat(1000))
	fs := e.server(t)
	ctx := context.Background()

	_, err := fs.Predict(ctx, "XXX-YYY", e.days(1))
	assert.True(t, errors.Is(err, errs.ErrUnknownRoute))

	_, err = fs.Predict(ctx, "MNL-CEB", nil)
	assert.ErrorIs(t, err, ErrInvalidHorizon)

	_, err = fs.Predict(ctx, "MNL-CEB", e.days(101))
	assert.ErrorIs(t, err, ErrInvalidHorizon)

	_, err = fs.MonthlyOutlook(ctx, "MNL-CEB", 0)
	assert.ErrorIs(t, err, ErrInvalidHorizon)
}

func TestForecastServer_FromActiveModel(t *testing.T) {
	e := newForecastEnv(func(d time.Time) float64 { return 1000 + float64(d.Day()%3)*100 })
	vid := e.activate(t, "MNL-CEB", e.clk.Now())
	fs := e.server(t)

	dates := e.days(3)
	res, err := fs.Predict(context.Background(), "MNL-CEB", dates)
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	require.NotNil(t, res.ModelVersionID)
	assert.Equal(t, vid, *res.ModelVersionID)
	require.Len(t, res.Points, 3)

	best := res.Points[0]
	for i, p := range res.Points {
		assert.Equal(t, dates[i].Truncate(24*time.Hour), p.Date)
		if p.PointEstimate < best.PointEstimate {
			best = p
		}
	}
	require.NotNil(t, res.CheapestDate)
	assert.Equal(t, best.Date, *res.CheapestDate)
}

func TestForecastServer_CachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	e := newForecastEnv(flat(1000))
	e.activate(t, "MNL-CEB", e.clk.Now())
	results := cache.NewMemoryCache()
	t.Cleanup(func() { _ = results.Close() })
	fs := e.server(t, WithResultCache(results))

	dates := e.days(4)
	first, err := fs.Predict(ctx, "MNL-CEB", dates)
	require.NoError(t, err)
	second, err := fs.Predict(ctx, "MNL-CEB", dates)
	require.NoError(t, err)
	assert.Equal(t, first.Points, second.Points)
	assert.Equal(t, int32(4), e.predicts.Load())
	assert.Equal(t, int32(1), e.decoder.decodes.Load())

	fs.Invalidate(ctx, "MNL-CEB")
	_, err = fs.Predict(ctx, "MNL-CEB", dates)
	require.NoError(t, err)
	assert.Equal(t, int32(8), e.predicts.Load())
	assert.Equal(t, int32(2), e.decoder.decodes.Load())
}

func TestForecastServer_RecordsServedEstimates(t *testing.T) {
	e := newForecastEnv(flat(1000))
	vid := e.activate(t, "MNL-CEB", e.clk.Now())
	tracker := NewPredictionTracker(10, WithTrackerClock(e.clk.Now))
	fs := e.server(t, WithForecastTracker(tracker))

	dates := e.days(1)
	_, err := fs.Predict(context.Background(), "MNL-CEB", dates)
	require.NoError(t, err)

	e.clk.Advance(time.Hour)
	tracker.Observe(models.FareObservation{
		RouteID:       "MNL-CEB",
		DepartureDate: dates[0].Truncate(24 * time.Hour),
		ObservedAt:    e.clk.Now(),
		Price:         1250,
	})
	mape, n := tracker.RollingError("MNL-CEB", vid)
	assert.Equal(t, 1, n)
	assert.InDelta(t, 0.2, mape, 1e-9)
}

func TestForecastServer_MonthlyOutlook(t *testing.T) {
	e := newForecastEnv(func(d time.Time) float64 {
		if d.Month() == time.April {
			return 900
		}
		return 1500
	})
	e.activate(t, "MNL-CEB", e.clk.Now())
	fs := e.server(t)

	out, err := fs.MonthlyOutlook(context.Background(), "MNL-CEB", 2)
	require.NoError(t, err)
	assert.False(t, out.Degraded)
	require.NotNil(t, out.ModelVersionID)

	// tomorrow is 2026-03-16, two months run through 2026-05-15
	require.Len(t, out.Months, 3)
	want := []struct {
		month    string
		days     int
		avg      float64
		cheapest bool
	}{
		{"2026-03", 16, 1500, false},
		{"2026-04", 30, 900, true},
		{"2026-05", 15, 1500, false},
	}
	for i, w := range want {
		m := out.Months[i]
		assert.Equal(t, w.month, m.Month)
		assert.Equal(t, w.days, m.Days)
		assert.Equal(t, w.avg, m.AvgPrice)
		assert.Equal(t, w.avg, m.MinPrice)
		assert.Equal(t, w.cheapest, m.Cheapest)
	}
}
