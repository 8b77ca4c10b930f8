// Package regress holds the estimation back ends the causal adapters
// delegate to: a weighted least-squares core, a two-way fixed-effects panel
// estimator with entity-clustered errors, a negative binomial count GLM
// with offset, Cox proportional hazards, Weibull AFT, and Kaplan-Meier.
//
// Everything is built on gonum matrices. The solvers know nothing about
// panels, adoption dates, or event time; they consume plain vectors and
// design matrices and report coefficient tables.
package regress

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Coef is one estimated coefficient with Wald inference.
type Coef struct {
	Name     string  `json:"name"`
	Estimate float64 `json:"estimate"`
	SE       float64 `json:"se"`
	Z        float64 `json:"z"`
	P        float64 `json:"p"`
	CILower  float64 `json:"ci_lower"`
	CIUpper  float64 `json:"ci_upper"`
}

// Fit is a fitted model: the coefficient table plus fit diagnostics.
type Fit struct {
	Coefs      []Coef  `json:"coefs"`
	N          int     `json:"n"`
	LogLik     float64 `json:"loglik,omitempty"`
	Iterations int     `json:"iterations,omitempty"`
	Converged  bool    `json:"converged"`
}

// Coef returns the named coefficient, if present.
func (f *Fit) Coef(name string) (Coef, bool) {
	for _, c := range f.Coefs {
		if c.Name == name {
			return c, true
		}
	}
	return Coef{}, false
}

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// waldCoef fills in z, p and the 95% CI from an estimate and its SE.
func waldCoef(name string, est, se float64) Coef {
	c := Coef{Name: name, Estimate: est, SE: se}
	if se > 0 {
		c.Z = est / se
		c.P = 2 * stdNormal.Survival(math.Abs(c.Z))
		c.CILower = est - 1.96*se
		c.CIUpper = est + 1.96*se
	} else {
		c.P = math.NaN()
		c.CILower = est
		c.CIUpper = est
	}
	return c
}

// solveWLS solves the weighted least squares problem and returns the
// coefficient vector together with (X'WX)^-1, the bread of every
// covariance estimate downstream. w may be nil for unit weights.
func solveWLS(x *mat.Dense, y, w []float64) (beta []float64, bread *mat.Dense, err error) {
	n, p := x.Dims()
	if len(y) != n {
		return nil, nil, fmt.Errorf("regress: %d rows in X but %d responses", n, len(y))
	}
	if n < p {
		return nil, nil, fmt.Errorf("regress: underdetermined system (%d rows, %d coefficients)", n, p)
	}

	a := mat.NewDense(p, p, nil) // X'WX
	b := mat.NewVecDense(p, nil) // X'Wy
	rowW := 1.0
	for i := 0; i < n; i++ {
		if w != nil {
			rowW = w[i]
		}
		for j := 0; j < p; j++ {
			xij := x.At(i, j)
			b.SetVec(j, b.AtVec(j)+rowW*xij*y[i])
			for k := j; k < p; k++ {
				v := a.At(j, k) + rowW*xij*x.At(i, k)
				a.Set(j, k, v)
				if k != j {
					a.Set(k, j, v)
				}
			}
		}
	}

	bread = mat.NewDense(p, p, nil)
	if err := bread.Inverse(a); err != nil {
		return nil, nil, fmt.Errorf("regress: singular design (insufficient variation): %w", err)
	}

	bv := mat.NewVecDense(p, nil)
	bv.MulVec(bread, b)
	beta = make([]float64, p)
	for j := 0; j < p; j++ {
		beta[j] = bv.AtVec(j)
	}
	return beta, bread, nil
}
