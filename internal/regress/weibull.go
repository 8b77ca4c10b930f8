package regress

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DurationFloor is the smallest duration admitted to the AFT fit; shorter
// (zero) durations are clamped up so the log transform stays finite.
const DurationFloor = 0.1

// WeibullAFT fits an accelerated failure time model with Weibull baseline
// to fully observed durations:
//
//	log T = x'beta + sigma * eps,  eps ~ standard Gumbel (minimum)
//
// exp(beta_j) is the acceleration factor for covariate j: values above one
// stretch lifetimes. Fitting maximizes the log likelihood over (beta,
// log sigma) by Newton ascent with a finite-difference Hessian over the
// analytic gradient.
func WeibullAFT(durations []float64, x [][]float64, names []string) (*Fit, error) {
	n := len(durations)
	if n == 0 {
		return nil, fmt.Errorf("regress: no durations")
	}
	p := len(names)
	if len(x) != n {
		return nil, fmt.Errorf("regress: %d design rows for %d durations", len(x), n)
	}

	logT := make([]float64, n)
	for i, d := range durations {
		if len(x[i]) != p {
			return nil, fmt.Errorf("regress: row %d has %d covariates, want %d", i, len(x[i]), p)
		}
		if d < DurationFloor {
			d = DurationFloor
		}
		logT[i] = math.Log(d)
	}

	// Parameter vector theta = (beta..., log sigma). Start beta at the OLS
	// solution on log durations and sigma at the residual spread.
	xd := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			xd.Set(i, j, x[i][j])
		}
	}
	beta0, _, err := solveWLS(xd, logT, nil)
	if err != nil {
		return nil, err
	}
	var rss float64
	for i := 0; i < n; i++ {
		pred := 0.0
		for j := 0; j < p; j++ {
			pred += x[i][j] * beta0[j]
		}
		r := logT[i] - pred
		rss += r * r
	}
	sigma0 := math.Sqrt(rss/float64(n)) + 1e-3

	theta := append(append([]float64(nil), beta0...), math.Log(sigma0))
	dim := p + 1

	logLik := func(th []float64) float64 {
		s := math.Exp(th[p])
		ll := 0.0
		for i := 0; i < n; i++ {
			pred := 0.0
			for j := 0; j < p; j++ {
				pred += x[i][j] * th[j]
			}
			z := (logT[i] - pred) / s
			ll += z - math.Exp(z) - th[p]
		}
		return ll
	}
	gradient := func(th []float64) []float64 {
		s := math.Exp(th[p])
		g := make([]float64, dim)
		for i := 0; i < n; i++ {
			pred := 0.0
			for j := 0; j < p; j++ {
				pred += x[i][j] * th[j]
			}
			z := (logT[i] - pred) / s
			ez := math.Exp(z)
			for j := 0; j < p; j++ {
				g[j] += (ez - 1) / s * x[i][j]
			}
			g[p] += (ez-1)*z - 1
		}
		return g
	}

	const (
		maxIter = 200
		tol     = 1e-10
		hStep   = 1e-6
	)

	ll := logLik(theta)
	iter := 0
	converged := false
	var hessInv *mat.Dense
	for ; iter < maxIter; iter++ {
		g := gradient(theta)

		// Finite-difference Hessian of the log likelihood.
		hess := mat.NewDense(dim, dim, nil)
		for j := 0; j < dim; j++ {
			bump := append([]float64(nil), theta...)
			bump[j] += hStep
			gb := gradient(bump)
			for k := 0; k < dim; k++ {
				hess.Set(k, j, (gb[k]-g[k])/hStep)
			}
		}
		// Symmetrize and negate into the information matrix.
		info := mat.NewDense(dim, dim, nil)
		for j := 0; j < dim; j++ {
			for k := 0; k < dim; k++ {
				info.Set(j, k, -0.5*(hess.At(j, k)+hess.At(k, j)))
			}
		}

		hessInv = mat.NewDense(dim, dim, nil)
		if err := hessInv.Inverse(info); err != nil {
			return nil, fmt.Errorf("regress: singular AFT information matrix: %w", err)
		}

		step := make([]float64, dim)
		for j := 0; j < dim; j++ {
			for k := 0; k < dim; k++ {
				step[j] += hessInv.At(j, k) * g[k]
			}
		}

		improved := false
		for half := 0; half < 40; half++ {
			scale := math.Pow(0.5, float64(half))
			trial := make([]float64, dim)
			for j := 0; j < dim; j++ {
				trial[j] = theta[j] + scale*step[j]
			}
			tll := logLik(trial)
			if math.IsNaN(tll) || math.IsInf(tll, 0) {
				continue
			}
			if tll >= ll-1e-12 {
				delta := math.Abs(tll - ll)
				theta, ll = trial, tll
				improved = true
				if delta < tol {
					converged = true
				}
				break
			}
		}
		if !improved {
			return nil, fmt.Errorf("regress: AFT step-halving failed to improve the likelihood")
		}
		if converged {
			break
		}
	}
	if !converged {
		return nil, fmt.Errorf("regress: AFT fit did not converge in %d iterations", maxIter)
	}

	fit := &Fit{N: n, LogLik: ll, Iterations: iter + 1, Converged: true}
	for j := 0; j < p; j++ {
		fit.Coefs = append(fit.Coefs, waldCoef(names[j], theta[j], math.Sqrt(math.Max(0, hessInv.At(j, j)))))
	}
	fit.Coefs = append(fit.Coefs, waldCoef("log_sigma", theta[p], math.Sqrt(math.Max(0, hessInv.At(p, p)))))
	return fit, nil
}
