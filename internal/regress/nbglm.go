package regress

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// NegBinOptions configures the negative binomial GLM.
type NegBinOptions struct {
	// Alpha is the NB2 dispersion parameter, held fixed during the fit.
	Alpha float64
	// MaxIter bounds the IRLS iterations.
	MaxIter int
	// Tol is the convergence threshold on the max coefficient change.
	Tol float64
}

// DefaultNegBinOptions matches the conventional fixed-dispersion setup
// (alpha = 1).
func DefaultNegBinOptions() NegBinOptions {
	return NegBinOptions{Alpha: 1.0, MaxIter: 100, Tol: 1e-9}
}

// NegBinGLM fits a negative binomial count regression with log link and a
// fixed offset via iteratively reweighted least squares:
//
//	E[y_i] = exp(x_i'beta + offset_i),  Var[y_i] = mu_i + alpha*mu_i^2
//
// The offset is what turns the count model into a rate model: it enters the
// linear predictor with a fixed unit coefficient. offset may be nil.
func NegBinGLM(y []float64, x [][]float64, offset []float64, names []string, opts NegBinOptions) (*Fit, error) {
	n := len(y)
	if n == 0 {
		return nil, fmt.Errorf("regress: no observations")
	}
	p := len(names)
	if len(x) != n {
		return nil, fmt.Errorf("regress: %d design rows for %d responses", len(x), n)
	}
	if offset != nil && len(offset) != n {
		return nil, fmt.Errorf("regress: offset length %d, want %d", len(offset), n)
	}
	for i, row := range x {
		if len(row) != p {
			return nil, fmt.Errorf("regress: row %d has %d regressors, want %d", i, len(row), p)
		}
		if y[i] < 0 {
			return nil, fmt.Errorf("regress: negative count at row %d", i)
		}
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = 100
	}
	if opts.Tol <= 0 {
		opts.Tol = 1e-9
	}
	if opts.Alpha < 0 {
		return nil, fmt.Errorf("regress: dispersion alpha must be non-negative, got %g", opts.Alpha)
	}

	xd := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			xd.Set(i, j, x[i][j])
		}
	}
	off := func(i int) float64 {
		if offset == nil {
			return 0
		}
		return offset[i]
	}

	// Start from mu = y + 0.5 so the initial working response is defined
	// even for zero counts.
	mu := make([]float64, n)
	eta := make([]float64, n)
	for i := 0; i < n; i++ {
		mu[i] = y[i] + 0.5
		eta[i] = math.Log(mu[i])
	}

	beta := make([]float64, p)
	var bread *mat.Dense
	z := make([]float64, n)
	w := make([]float64, n)

	iter := 0
	converged := false
	for ; iter < opts.MaxIter; iter++ {
		for i := 0; i < n; i++ {
			// Log link: dEta/dMu = 1/mu, working weight mu^2/Var.
			z[i] = eta[i] - off(i) + (y[i]-mu[i])/mu[i]
			w[i] = mu[i] / (1 + opts.Alpha*mu[i])
		}

		next, br, err := solveWLS(xd, z, w)
		if err != nil {
			return nil, err
		}
		bread = br

		maxDelta := 0.0
		for j := 0; j < p; j++ {
			if d := math.Abs(next[j] - beta[j]); d > maxDelta {
				maxDelta = d
			}
		}
		beta = next

		for i := 0; i < n; i++ {
			lin := off(i)
			for j := 0; j < p; j++ {
				lin += xd.At(i, j) * beta[j]
			}
			eta[i] = lin
			mu[i] = math.Exp(lin)
			if math.IsInf(mu[i], 0) || mu[i] == 0 {
				return nil, fmt.Errorf("regress: mean diverged at row %d (eta=%.3f)", i, lin)
			}
		}

		if maxDelta < opts.Tol {
			converged = true
			break
		}
	}
	if !converged {
		return nil, fmt.Errorf("regress: negative binomial IRLS did not converge in %d iterations", opts.MaxIter)
	}

	fit := &Fit{N: n, Iterations: iter + 1, Converged: true, LogLik: nbLogLik(y, mu, opts.Alpha)}
	for j := 0; j < p; j++ {
		fit.Coefs = append(fit.Coefs, waldCoef(names[j], beta[j], math.Sqrt(math.Max(0, bread.At(j, j)))))
	}
	return fit, nil
}

// nbLogLik is the NB2 log likelihood at fixed dispersion.
func nbLogLik(y, mu []float64, alpha float64) float64 {
	if alpha == 0 {
		// Poisson limit.
		ll := 0.0
		for i := range y {
			lg, _ := math.Lgamma(y[i] + 1)
			ll += y[i]*math.Log(mu[i]) - mu[i] - lg
		}
		return ll
	}
	inv := 1 / alpha
	ll := 0.0
	for i := range y {
		lgNum, _ := math.Lgamma(y[i] + inv)
		lgInv, _ := math.Lgamma(inv)
		lgY, _ := math.Lgamma(y[i] + 1)
		am := alpha * mu[i]
		ll += lgNum - lgInv - lgY + y[i]*math.Log(am/(1+am)) - inv*math.Log(1+am)
	}
	return ll
}
