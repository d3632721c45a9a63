package forecasting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestFitOLS(t *testing.T) {
	testData := map[string]struct {
		x        []float64
		cols     int
		y        []float64
		wantCoef []float64
		wantUsed int
		wantErr  error
	}{
		"exact line": {
			x:        []float64{1, 0, 1, 1, 1, 2, 1, 3},
			cols:     2,
			y:        []float64{1, 3, 5, 7},
			wantCoef: []float64{1, 2},
			wantUsed: 2,
		},
		"duplicated column is dropped": {
			x:        []float64{1, 0, 0, 1, 1, 2, 1, 2, 4, 1, 3, 6},
			cols:     3,
			y:        []float64{1, 3, 5, 7},
			wantCoef: []float64{1, 2, 0},
			wantUsed: 2,
		},
		"too few rows": {
			x:       []float64{1, 0, 1, 1},
			cols:    2,
			y:       []float64{1, 2},
			wantErr: ErrUnderdetermined,
		},
		"all zero": {
			x:       []float64{0, 0, 0},
			cols:    1,
			y:       []float64{1, 2, 3},
			wantErr: ErrDegenerate,
		},
		"length mismatch": {
			x:       []float64{1, 1, 1},
			cols:    1,
			y:       []float64{1, 2},
			wantErr: ErrTargetLenMismatch,
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			x := mat.NewDense(len(td.x)/td.cols, td.cols, td.x)
			res, err := fitOLS(x, td.y)
			if td.wantErr != nil {
				assert.ErrorIs(t, err, td.wantErr)
				return
			}
			require.NoError(t, err)
			assert.InDeltaSlice(t, td.wantCoef, res.coef, 1e-9)
			assert.Equal(t, td.wantUsed, res.used)
		})
	}
}

func TestMAPE(t *testing.T) {
	got, err := MAPE([]float64{110, 90, 5}, []float64{100, 100, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, got, 1e-12)

	_, err = MAPE([]float64{1}, []float64{1, 2})
	assert.ErrorIs(t, err, ErrResLenMismatch)
}
