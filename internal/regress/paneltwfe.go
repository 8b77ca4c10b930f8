package regress

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// PanelTWFE estimates a two-way fixed-effects regression of y on the given
// regressors, absorbing entity and period effects via the within transform,
// with standard errors clustered by entity.
//
// The within transform alternates entity- and period-demeaning until it
// converges; for a balanced panel this finishes in one pass, unbalanced
// panels need a few. The clustered covariance uses CR1 small-sample
// scaling: G/(G-1) * (N-1)/(N-K).
func PanelTWFE(y []float64, x [][]float64, entities []string, periods []int64, names []string) (*Fit, error) {
	n := len(y)
	if n == 0 {
		return nil, fmt.Errorf("regress: empty panel")
	}
	if len(x) != n || len(entities) != n || len(periods) != n {
		return nil, fmt.Errorf("regress: panel inputs misaligned (y=%d x=%d entities=%d periods=%d)",
			n, len(x), len(entities), len(periods))
	}
	p := len(names)
	for i, row := range x {
		if len(row) != p {
			return nil, fmt.Errorf("regress: row %d has %d regressors, want %d", i, len(row), p)
		}
	}

	// Column-wise copies so the caller's slices stay untouched.
	cols := make([][]float64, p+1)
	cols[0] = append([]float64(nil), y...)
	for j := 0; j < p; j++ {
		c := make([]float64, n)
		for i := 0; i < n; i++ {
			c[i] = x[i][j]
		}
		cols[j+1] = c
	}

	withinTransform(cols, entities, periods)

	xd := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			xd.Set(i, j, cols[j+1][i])
		}
	}
	yd := cols[0]

	beta, bread, err := solveWLS(xd, yd, nil)
	if err != nil {
		return nil, err
	}

	// Residuals of the within regression.
	resid := make([]float64, n)
	for i := 0; i < n; i++ {
		pred := 0.0
		for j := 0; j < p; j++ {
			pred += xd.At(i, j) * beta[j]
		}
		resid[i] = yd[i] - pred
	}

	// Meat: sum over clusters of (X_g' u_g)(X_g' u_g)'.
	scores := make(map[string][]float64)
	for i := 0; i < n; i++ {
		s := scores[entities[i]]
		if s == nil {
			s = make([]float64, p)
			scores[entities[i]] = s
		}
		for j := 0; j < p; j++ {
			s[j] += xd.At(i, j) * resid[i]
		}
	}
	g := len(scores)
	if g < 2 {
		return nil, fmt.Errorf("regress: need at least 2 clusters, got %d", g)
	}
	meat := mat.NewDense(p, p, nil)
	for _, s := range scores {
		for j := 0; j < p; j++ {
			for k := 0; k < p; k++ {
				meat.Set(j, k, meat.At(j, k)+s[j]*s[k])
			}
		}
	}

	scale := float64(g) / float64(g-1) * float64(n-1) / float64(n-p)
	var cov mat.Dense
	cov.Product(bread, meat, bread)
	cov.Scale(scale, &cov)

	fit := &Fit{N: n, Converged: true}
	for j := 0; j < p; j++ {
		fit.Coefs = append(fit.Coefs, waldCoef(names[j], beta[j], math.Sqrt(math.Max(0, cov.At(j, j)))))
	}
	return fit, nil
}

// withinTransform demeans every column by entity and by period in
// alternation until the residual group means vanish.
func withinTransform(cols [][]float64, entities []string, periods []int64) {
	const (
		maxSweeps = 200
		tol       = 1e-11
	)
	n := len(entities)

	for sweep := 0; sweep < maxSweeps; sweep++ {
		maxShift := 0.0
		maxShift = math.Max(maxShift, demeanBy(cols, n, func(i int) string { return entities[i] }))
		maxShift = math.Max(maxShift, demeanBy(cols, n, func(i int) string { return fmt.Sprintf("%d", periods[i]) }))
		if maxShift < tol {
			return
		}
	}
}

func demeanBy(cols [][]float64, n int, key func(int) string) float64 {
	counts := make(map[string]int)
	for i := 0; i < n; i++ {
		counts[key(i)]++
	}
	maxShift := 0.0
	for _, c := range cols {
		sums := make(map[string]float64, len(counts))
		for i := 0; i < n; i++ {
			sums[key(i)] += c[i]
		}
		for k, s := range sums {
			m := s / float64(counts[k])
			if a := math.Abs(m); a > maxShift {
				maxShift = a
			}
		}
		for i := 0; i < n; i++ {
			c[i] -= sums[key(i)] / float64(counts[key(i)])
		}
	}
	return maxShift
}
