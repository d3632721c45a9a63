package usecase

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"FareCast/internal/repository"
	"FareCast/internal/services/fx"
	"FareCast/pkg/config"
)

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testCatalog(t *testing.T) *repository.ConfigCatalog {
	t.Helper()
	cfg := &config.Config{}
	cfg.RouteClasses = []config.RouteClassConfig{
		{Name: "trunk", BaselineFare: 2500},
		{Name: "regional", BaselineFare: 1800},
	}
	cfg.Routes = []config.RouteConfig{
		{ID: "MNL-CEB", Class: "trunk"},
		{ID: "MNL-DVO", Class: "trunk"},
		{ID: "CEB-TAG", Class: "regional"},
	}
	cfg.Sources = []config.SourceConfig{
		{ID: "cebpac", PriceUnit: "major", DefaultCurrency: "PHP", Timezone: "Asia/Manila"},
		{
			ID:              "skyscan",
			PriceUnit:       "minor",
			DefaultCurrency: "USD",
			Timezone:        "UTC",
			Fields: map[string]string{
				"origin":         "leg.from",
				"destination":    "leg.to",
				"departure_date": "leg.date",
				"observed_at":    "scraped",
				"price":          "fare.amount",
				"currency":       "fare.ccy",
			},
			TimeLayouts: []string{"02/01/2006"},
		},
		{ID: "legacy", Disabled: true, PriceUnit: "major", DefaultCurrency: "PHP", Timezone: "UTC"},
	}
	c, err := repository.NewConfigCatalog(cfg)
	require.NoError(t, err)
	return c
}

func testConverter(t *testing.T) *fx.Converter {
	t.Helper()
	c, err := fx.NewConverter("PHP", map[string]string{"USD": "56.00", "SGD": "42.50"})
	require.NoError(t, err)
	return c
}

func testNormalizer(t *testing.T, clk *clock) *Normalizer {
	t.Helper()
	cat := testCatalog(t)
	n, err := NewNormalizer(cat, cat, testConverter(t), WithNormalizerClock(clk.Now))
	require.NoError(t, err)
	return n
}

type recMetrics struct {
	mu        sync.Mutex
	ingested  map[string]int
	errors    map[string]int
	trainings map[string]int
	forecasts map[bool]int
	active    map[string]int64
}

func newRecMetrics() *recMetrics {
	return &recMetrics{
		ingested:  map[string]int{},
		errors:    map[string]int{},
		trainings: map[string]int{},
		forecasts: map[bool]int{},
		active:    map[string]int64{},
	}
}

func (m *recMetrics) RecordIngested(_, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ingested[result]++
}

func (m *recMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}

func (m *recMetrics) RecordTraining(_, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trainings[outcome]++
}

func (m *recMetrics) RecordForecast(_ string, degraded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forecasts[degraded]++
}

func (m *recMetrics) RecordActiveVersion(route string, version int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[route] = version
}

func (m *recMetrics) RecordLatency(string, float64) {}

func (m *recMetrics) training(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trainings[outcome]
}
