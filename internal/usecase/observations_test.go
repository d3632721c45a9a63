package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FareCast/internal/domain/errs"
	"FareCast/internal/domain/models"
	"FareCast/internal/repository"
)

func TestObservationsUseCase_GetObservations(t *testing.T) {
	store := repository.NewSeriesStore()
	for i := range 10 {
		at := t0.Add(time.Duration(i) * time.Hour)
		_, err := store.Append(context.Background(), models.FareObservation{
			RouteID:       "MNL-CEB",
			DepartureDate: t0.AddDate(0, 0, 30),
			ObservedAt:    at,
			Price:         float64(2000 + i),
			Currency:      "PHP",
			SourceID:      "cebpac",
			IngestedAt:    at,
		})
		require.NoError(t, err)
	}
	uc := NewObservationsUseCase(testCatalog(t), store)

	testData := map[string]struct {
		params    GetObservationsParams
		count     int
		first     float64
		truncated bool
		err       error
	}{
		"all": {
			params: GetObservationsParams{RouteID: "MNL-CEB"},
			count:  10,
			first:  2000,
		},
		"bounded range": {
			params: GetObservationsParams{RouteID: "MNL-CEB", From: t0.Add(3 * time.Hour), To: t0.Add(5 * time.Hour)},
			count:  3,
			first:  2003,
		},
		"limited": {
			params:    GetObservationsParams{RouteID: "MNL-CEB", Limit: 4},
			count:     4,
			first:     2000,
			truncated: true,
		},
		"known route without data": {
			params: GetObservationsParams{RouteID: "CEB-TAG"},
		},
		"unknown route": {
			params: GetObservationsParams{RouteID: "XXX-YYY"},
			err:    errs.ErrUnknownRoute,
		},
	}

	for name, tc := range testData {
		t.Run(name, func(t *testing.T) {
			res, err := uc.GetObservations(context.Background(), tc.params)
			if tc.err != nil {
				assert.True(t, errors.Is(err, tc.err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.count, res.Count)
			assert.Len(t, res.Observations, tc.count)
			assert.Equal(t, tc.truncated, res.Truncated)
			if tc.count > 0 {
				assert.Equal(t, tc.first, res.Observations[0].Price)
			}
		})
	}

	_, err := uc.GetObservations(context.Background(), GetObservationsParams{RouteID: "MNL-CEB", From: t0.Add(time.Hour), To: t0})
	assert.Error(t, err)
}
