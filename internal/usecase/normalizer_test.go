package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FareCast/internal/domain/errs"
	"FareCast/internal/domain/models"
)

func TestNormalizeAcceptsSourceLayouts(t *testing.T) {
	clk := newClock(t0.Add(12 * time.Hour))
	n := testNormalizer(t, clk)
	seats := 4

	testData := map[string]struct {
		source   string
		raw      models.RawRecord
		expected models.FareObservation
	}{
		"canonical fields in manila time": {
			source: "cebpac",
			raw: models.RawRecord{
				"route_id":        "mnl-ceb",
				"departure_date":  "2026-03-10",
				"observed_at":     "2026-03-01T08:30:00",
				"price":           "2,499.50",
				"airline":         "5J",
				"cabin_class":     "Economy",
				"seats_remaining": float64(4),
			},
			expected: models.FareObservation{
				RouteID:        "MNL-CEB",
				DepartureDate:  time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
				ObservedAt:     time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC),
				Price:          2499.5,
				Currency:       "PHP",
				SourceID:       "cebpac",
				Airline:        "5J",
				CabinClass:     "economy",
				SeatsRemaining: &seats,
			},
		},
		"nested fields minor units and fx": {
			source: "skyscan",
			raw: models.RawRecord{
				"leg":     map[string]interface{}{"from": "MNL", "to": "DVO", "date": "15/03/2026"},
				"scraped": float64(t0.Add(6 * time.Hour).UnixMilli()),
				"fare":    map[string]interface{}{"amount": float64(4550), "ccy": "usd"},
			},
			expected: models.FareObservation{
				RouteID:       "MNL-DVO",
				DepartureDate: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
				ObservedAt:    t0.Add(6 * time.Hour),
				Price:         2548,
				Currency:      "PHP",
				SourceID:      "skyscan",
			},
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			schema, err := n.Schema(td.source)
			require.NoError(t, err)

			got, err := n.Normalize(td.raw, schema)
			require.NoError(t, err)

			td.expected.IngestedAt = clk.Now()
			assert.Equal(t, td.expected, got)
		})
	}
}

func TestNormalizeRejects(t *testing.T) {
	clk := newClock(t0.Add(12 * time.Hour))
	n := testNormalizer(t, clk)
	schema, err := n.Schema("cebpac")
	require.NoError(t, err)

	valid := func() models.RawRecord {
		return models.RawRecord{
			"route_id":       "MNL-CEB",
			"departure_date": "2026-03-10",
			"observed_at":    "2026-03-01T08:00:00+08:00",
			"price":          float64(1999),
		}
	}

	testData := map[string]struct {
		mutate func(models.RawRecord)
	}{
		"unknown route":         {mutate: func(r models.RawRecord) { r["route_id"] = "MNL-XXX" }},
		"missing route":         {mutate: func(r models.RawRecord) { delete(r, "route_id") }},
		"zero price":            {mutate: func(r models.RawRecord) { r["price"] = float64(0) }},
		"negative price":        {mutate: func(r models.RawRecord) { r["price"] = "-10" }},
		"malformed price":       {mutate: func(r models.RawRecord) { r["price"] = "cheap" }},
		"ill-typed price":       {mutate: func(r models.RawRecord) { r["price"] = true }},
		"unknown currency":      {mutate: func(r models.RawRecord) { r["currency"] = "JPY" }},
		"observed in future":    {mutate: func(r models.RawRecord) { r["observed_at"] = "2026-03-02T00:00:00Z" }},
		"departure same day":    {mutate: func(r models.RawRecord) { r["departure_date"] = "2026-03-01" }},
		"departure in the past": {mutate: func(r models.RawRecord) { r["departure_date"] = "2026-02-20" }},
		"malformed departure":   {mutate: func(r models.RawRecord) { r["departure_date"] = "next friday" }},
		"missing observed_at":   {mutate: func(r models.RawRecord) { delete(r, "observed_at") }},
		"bad cabin class":       {mutate: func(r models.RawRecord) { r["cabin_class"] = "cargo" }},
		"negative seats":        {mutate: func(r models.RawRecord) { r["seats_remaining"] = float64(-1) }},
		"fractional seats":      {mutate: func(r models.RawRecord) { r["seats_remaining"] = 1.5 }},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			raw := valid()
			td.mutate(raw)

			_, err := n.Normalize(raw, schema)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrInvalidObservation)
		})
	}

	_, err = n.Normalize(valid(), schema)
	assert.NoError(t, err)
}

func TestSchemaRejectsUnknownAndInactiveSources(t *testing.T) {
	n := testNormalizer(t, newClock(t0))

	for _, id := range []string{"nope", "legacy"} {
		_, err := n.Schema(id)
		assert.ErrorIs(t, err, errs.ErrInvalidObservation, id)
	}
}

func TestNormalizeDepartureUsesSourceTimezone(t *testing.T) {
	clk := newClock(t0.Add(20 * time.Hour))
	n := testNormalizer(t, clk)
	schema, err := n.Schema("cebpac")
	require.NoError(t, err)

	// 2026-03-01 17:00 UTC is already 2 March in Manila, so a 2 March departure is same-day
	_, err = n.Normalize(models.RawRecord{
		"route_id":       "MNL-CEB",
		"departure_date": "2026-03-02",
		"observed_at":    "2026-03-01T17:00:00Z",
		"price":          float64(1500),
	}, schema)
	assert.ErrorIs(t, err, errs.ErrInvalidObservation)
}
