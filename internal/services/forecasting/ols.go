package forecasting

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrTargetLenMismatch = errors.New("target length does not match design rows")
	ErrUnderdetermined   = errors.New("fewer rows than columns")
	ErrDegenerate        = errors.New("degenerate design matrix")
	ErrNonFinite         = errors.New("non-finite coefficient")
)

// collinearTol is the R diagonal magnitude, relative to the largest one,
// below which a column is treated as a linear combination of earlier ones.
const collinearTol = 1e-8

// fitResult holds OLS coefficients aligned with the design columns.
// Dropped columns have a zero coefficient.
type fitResult struct {
	coef []float64
	used int
}

// fitOLS solves min ||x*c - y|| with a QR factorization. Columns that are
// collinear with earlier ones are removed and the fit repeated.
func fitOLS(x *mat.Dense, y []float64) (fitResult, error) {
	m, n := x.Dims()
	if len(y) != m {
		return fitResult{}, fmt.Errorf("design has %d rows and target has %d, %w", m, len(y), ErrTargetLenMismatch)
	}

	keep := make([]int, n)
	for j := range keep {
		keep[j] = j
	}
	target := mat.NewVecDense(m, y)

	for len(keep) > 0 {
		if m <= len(keep) {
			return fitResult{}, fmt.Errorf("%d rows for %d columns, %w", m, len(keep), ErrUnderdetermined)
		}
		sub := selectColumns(x, keep)

		qr := new(mat.QR)
		qr.Factorize(sub)
		r := new(mat.Dense)
		qr.RTo(r)

		drop := collinearColumn(r, len(keep))
		if drop == -2 {
			return fitResult{}, ErrDegenerate
		}
		if drop >= 0 {
			keep = append(keep[:drop:drop], keep[drop+1:]...)
			continue
		}

		var c mat.VecDense
		if err := qr.SolveVecTo(&c, false, target); err != nil {
			return fitResult{}, fmt.Errorf("%w: %v", ErrDegenerate, err)
		}

		coef := make([]float64, n)
		for i, j := range keep {
			v := c.AtVec(i)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fitResult{}, ErrNonFinite
			}
			coef[j] = v
		}
		return fitResult{coef: coef, used: len(keep)}, nil
	}
	return fitResult{}, ErrDegenerate
}

// collinearColumn returns the index of the first negligible R diagonal,
// -1 when there is none and -2 when every diagonal is zero.
func collinearColumn(r *mat.Dense, k int) int {
	maxDiag := 0.0
	for i := 0; i < k; i++ {
		maxDiag = math.Max(maxDiag, math.Abs(r.At(i, i)))
	}
	if maxDiag == 0 || math.IsNaN(maxDiag) {
		return -2
	}
	for i := 0; i < k; i++ {
		if math.Abs(r.At(i, i)) < collinearTol*maxDiag {
			return i
		}
	}
	return -1
}

func selectColumns(x *mat.Dense, cols []int) *mat.Dense {
	m, _ := x.Dims()
	out := mat.NewDense(m, len(cols), nil)
	for i := 0; i < m; i++ {
		for k, j := range cols {
			out.Set(i, k, x.At(i, j))
		}
	}
	return out
}

// predictRows evaluates x*coef for every row.
func predictRows(x *mat.Dense, coef []float64) []float64 {
	var out mat.VecDense
	out.MulVec(x, mat.NewVecDense(len(coef), coef))
	res := make([]float64, out.Len())
	for i := range res {
		res[i] = out.AtVec(i)
	}
	return res
}
