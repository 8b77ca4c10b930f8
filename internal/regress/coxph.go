package regress

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// CoxPH fits a Cox proportional hazards model by Newton-Raphson on the
// partial likelihood, with Breslow handling of tied durations. Every
// observation is an observed event: the duration pipeline upstream only
// emits intervals bounded by two failures, so there is no censoring
// indicator here.
func CoxPH(durations []float64, x [][]float64, names []string) (*Fit, error) {
	n := len(durations)
	if n == 0 {
		return nil, fmt.Errorf("regress: no durations")
	}
	p := len(names)
	if len(x) != n {
		return nil, fmt.Errorf("regress: %d design rows for %d durations", len(x), n)
	}
	for i, row := range x {
		if len(row) != p {
			return nil, fmt.Errorf("regress: row %d has %d covariates, want %d", i, len(row), p)
		}
		if durations[i] < 0 {
			return nil, fmt.Errorf("regress: negative duration at row %d", i)
		}
	}

	// Ascending by duration; risk sets accumulate from the longest down.
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return durations[order[a]] < durations[order[b]] })

	beta := make([]float64, p)
	const (
		maxIter = 60
		tol     = 1e-9
	)

	ll, grad, info, err := coxScore(durations, x, order, beta)
	if err != nil {
		return nil, err
	}

	iter := 0
	converged := false
	var infoInv *mat.Dense
	for ; iter < maxIter; iter++ {
		infoInv = mat.NewDense(p, p, nil)
		if err := infoInv.Inverse(info); err != nil {
			return nil, fmt.Errorf("regress: singular information matrix (insufficient variation): %w", err)
		}

		step := make([]float64, p)
		for j := 0; j < p; j++ {
			for k := 0; k < p; k++ {
				step[j] += infoInv.At(j, k) * grad[k]
			}
		}

		// Step-halving keeps the partial likelihood non-decreasing.
		improved := false
		for half := 0; half < 30; half++ {
			trial := make([]float64, p)
			scale := math.Pow(0.5, float64(half))
			for j := 0; j < p; j++ {
				trial[j] = beta[j] + scale*step[j]
			}
			tll, tgrad, tinfo, terr := coxScore(durations, x, order, trial)
			if terr != nil || math.IsNaN(tll) {
				continue
			}
			if tll >= ll-1e-12 {
				delta := math.Abs(tll - ll)
				beta, ll, grad, info = trial, tll, tgrad, tinfo
				improved = true
				if delta < tol {
					converged = true
				}
				break
			}
		}
		if !improved {
			return nil, fmt.Errorf("regress: cox step-halving failed to improve the partial likelihood")
		}
		if converged {
			break
		}
	}
	if !converged {
		return nil, fmt.Errorf("regress: cox fit did not converge in %d iterations", maxIter)
	}

	if err := infoInv.Inverse(info); err != nil {
		return nil, fmt.Errorf("regress: singular information matrix at optimum: %w", err)
	}

	fit := &Fit{N: n, LogLik: ll, Iterations: iter + 1, Converged: true}
	for j := 0; j < p; j++ {
		fit.Coefs = append(fit.Coefs, waldCoef(names[j], beta[j], math.Sqrt(math.Max(0, infoInv.At(j, j)))))
	}
	return fit, nil
}

// coxScore evaluates the Breslow partial log-likelihood, its gradient, and
// the observed information at beta. order must sort durations ascending.
func coxScore(durations []float64, x [][]float64, order []int, beta []float64) (float64, []float64, *mat.Dense, error) {
	n := len(order)
	p := len(beta)

	ll := 0.0
	grad := make([]float64, p)
	info := mat.NewDense(p, p, nil)

	// Risk-set accumulators, built from the longest duration downward.
	s0 := 0.0
	s1 := make([]float64, p)
	s2 := mat.NewDense(p, p, nil)

	i := n - 1
	for i >= 0 {
		// Extend the risk set with every row whose duration is >= the
		// current one (ties enter together).
		t := durations[order[i]]
		j := i
		for j >= 0 && durations[order[j]] == t {
			idx := order[j]
			lin := 0.0
			for k := 0; k < p; k++ {
				lin += x[idx][k] * beta[k]
			}
			e := math.Exp(lin)
			if math.IsInf(e, 0) {
				return 0, nil, nil, fmt.Errorf("regress: cox risk weight overflow")
			}
			s0 += e
			for k := 0; k < p; k++ {
				s1[k] += e * x[idx][k]
				for l := 0; l < p; l++ {
					s2.Set(k, l, s2.At(k, l)+e*x[idx][k]*x[idx][l])
				}
			}
			j--
		}

		// All rows tied at t are events sharing the Breslow denominator.
		d := float64(i - j)
		for m := j + 1; m <= i; m++ {
			idx := order[m]
			for k := 0; k < p; k++ {
				ll += x[idx][k] * beta[k]
				grad[k] += x[idx][k]
			}
		}
		ll -= d * math.Log(s0)
		for k := 0; k < p; k++ {
			mean := s1[k] / s0
			grad[k] -= d * mean
			for l := 0; l < p; l++ {
				info.Set(k, l, info.At(k, l)+d*(s2.At(k, l)/s0-mean*s1[l]/s0))
			}
		}

		i = j
	}

	return ll, grad, info, nil
}
