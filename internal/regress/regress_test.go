package regress

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestSolveWLS_ExactLinearData(t *testing.T) {
	// y = 2 + 3*x, no noise: OLS must recover the line exactly.
	n := 10
	x := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		xi := float64(i)
		x.Set(i, 0, 1)
		x.Set(i, 1, xi)
		y[i] = 2 + 3*xi
	}

	beta, _, err := solveWLS(x, y, nil)
	if err != nil {
		t.Fatalf("solveWLS: %v", err)
	}
	if math.Abs(beta[0]-2) > 1e-9 || math.Abs(beta[1]-3) > 1e-9 {
		t.Errorf("beta = %v, want [2 3]", beta)
	}
}

func TestSolveWLS_SingularDesign(t *testing.T) {
	// Two identical columns.
	n := 6
	x := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x.Set(i, 0, float64(i))
		x.Set(i, 1, float64(i))
		y[i] = float64(i)
	}
	if _, _, err := solveWLS(x, y, nil); err == nil {
		t.Fatal("expected singular-design error")
	}
}

func TestWaldCoef(t *testing.T) {
	c := waldCoef("b", 1.0, 0.5)
	if math.Abs(c.Z-2.0) > 1e-12 {
		t.Errorf("z = %v, want 2", c.Z)
	}
	if math.Abs(c.P-0.0455) > 0.001 {
		t.Errorf("p = %v, want ~0.0455", c.P)
	}
	if math.Abs(c.CILower-0.02) > 1e-9 || math.Abs(c.CIUpper-1.98) > 1e-9 {
		t.Errorf("CI = [%v, %v], want [0.02, 1.98]", c.CILower, c.CIUpper)
	}
}

func TestPanelTWFE_ExactRecovery(t *testing.T) {
	// y = entity effect + period effect + 2*D, zero noise, staggered D.
	entities := []string{"A", "B", "C", "D"}
	entityFE := map[string]float64{"A": 1, "B": -2, "C": 0.5, "D": 3}
	periodFE := []float64{0, 1, -1, 2, 0.5, -0.5}
	adoptAt := map[string]int{"A": 2, "B": 4} // C, D never treated

	var y []float64
	var x [][]float64
	var ent []string
	var per []int64
	for _, e := range entities {
		for p := 0; p < 6; p++ {
			d := 0.0
			if ap, ok := adoptAt[e]; ok && p >= ap {
				d = 1
			}
			y = append(y, entityFE[e]+periodFE[p]+2*d)
			x = append(x, []float64{d})
			ent = append(ent, e)
			per = append(per, int64(p))
		}
	}

	fit, err := PanelTWFE(y, x, ent, per, []string{"treated_post"})
	if err != nil {
		t.Fatalf("PanelTWFE: %v", err)
	}
	c, ok := fit.Coef("treated_post")
	if !ok {
		t.Fatal("coefficient missing")
	}
	if math.Abs(c.Estimate-2) > 1e-8 {
		t.Errorf("estimate = %v, want 2", c.Estimate)
	}
	// Exact fit leaves zero residuals, so the clustered SE collapses.
	if c.SE > 1e-8 {
		t.Errorf("SE = %v, want ~0", c.SE)
	}
}

func TestPanelTWFE_CollinearWithEffectsRejected(t *testing.T) {
	// A regressor constant within entities is absorbed by the entity
	// effects; the within regression must report a singular design.
	var y []float64
	var x [][]float64
	var ent []string
	var per []int64
	for i, e := range []string{"A", "B", "C"} {
		for p := 0; p < 4; p++ {
			y = append(y, float64(i+p))
			x = append(x, []float64{float64(i)})
			ent = append(ent, e)
			per = append(per, int64(p))
		}
	}
	if _, err := PanelTWFE(y, x, ent, per, []string{"absorbed"}); err == nil {
		t.Fatal("expected singular-design error for absorbed regressor")
	}
}

func TestNegBinGLM_SaturatedTwoGroups(t *testing.T) {
	// With a group dummy the fitted group means equal the sample means, so
	// the dummy coefficient is log(mean1/mean0) exactly.
	y := []float64{2, 4, 6, 1, 3, 8, 10, 12, 6, 14} // group0 mean 3.2, group1 mean 10
	var x [][]float64
	names := []string{"intercept", "group"}
	for i := range y {
		g := 0.0
		if i >= 5 {
			g = 1
		}
		x = append(x, []float64{1, g})
	}

	fit, err := NegBinGLM(y, x, nil, names, DefaultNegBinOptions())
	if err != nil {
		t.Fatalf("NegBinGLM: %v", err)
	}
	ic, _ := fit.Coef("intercept")
	gc, _ := fit.Coef("group")
	if math.Abs(ic.Estimate-math.Log(3.2)) > 1e-6 {
		t.Errorf("intercept = %v, want log(3.2)=%v", ic.Estimate, math.Log(3.2))
	}
	if math.Abs(gc.Estimate-math.Log(10.0/3.2)) > 1e-6 {
		t.Errorf("group = %v, want %v", gc.Estimate, math.Log(10.0/3.2))
	}
	if !fit.Converged {
		t.Error("fit not marked converged")
	}
}

func TestNegBinGLM_OffsetShiftsIntercept(t *testing.T) {
	// Intercept-only model with constant offset o: beta = log(mean) - o.
	y := []float64{3, 5, 7, 9}
	x := [][]float64{{1}, {1}, {1}, {1}}
	offset := []float64{2, 2, 2, 2}

	fit, err := NegBinGLM(y, x, offset, []string{"intercept"}, DefaultNegBinOptions())
	if err != nil {
		t.Fatalf("NegBinGLM: %v", err)
	}
	c, _ := fit.Coef("intercept")
	want := math.Log(6) - 2
	if math.Abs(c.Estimate-want) > 1e-6 {
		t.Errorf("intercept = %v, want %v", c.Estimate, want)
	}
}

func TestNegBinGLM_RejectsNegativeCounts(t *testing.T) {
	_, err := NegBinGLM([]float64{1, -2}, [][]float64{{1}, {1}}, nil, []string{"intercept"}, DefaultNegBinOptions())
	if err == nil {
		t.Fatal("expected error for negative count")
	}
}

func TestCoxPH_SymmetricGroupsGiveZero(t *testing.T) {
	// Identical duration multisets in both groups: the score is zero at
	// beta=0, so the hazard ratio is exactly 1.
	var durations []float64
	var x [][]float64
	for _, d := range []float64{1, 2, 3, 4, 5} {
		durations = append(durations, d, d)
		x = append(x, []float64{0}, []float64{1})
	}

	fit, err := CoxPH(durations, x, []string{"group"})
	if err != nil {
		t.Fatalf("CoxPH: %v", err)
	}
	c, _ := fit.Coef("group")
	if math.Abs(c.Estimate) > 1e-6 {
		t.Errorf("beta = %v, want 0", c.Estimate)
	}
}

func TestCoxPH_LongerDurationsLowerHazard(t *testing.T) {
	durations := []float64{1, 2, 3, 4, 10, 12, 14, 16}
	var x [][]float64
	for i := range durations {
		g := 0.0
		if i >= 4 {
			g = 1
		}
		x = append(x, []float64{g})
	}

	fit, err := CoxPH(durations, x, []string{"group"})
	if err != nil {
		t.Fatalf("CoxPH: %v", err)
	}
	c, _ := fit.Coef("group")
	if c.Estimate >= 0 {
		t.Errorf("beta = %v, want negative (group 1 fails later)", c.Estimate)
	}
	if math.Exp(c.Estimate) >= 1 {
		t.Errorf("hazard ratio = %v, want < 1", math.Exp(c.Estimate))
	}
}

func TestCoxPH_ConstantCovariateRejected(t *testing.T) {
	durations := []float64{1, 2, 3, 4}
	x := [][]float64{{1}, {1}, {1}, {1}}
	if _, err := CoxPH(durations, x, []string{"flat"}); err == nil {
		t.Fatal("expected singular-information error")
	}
}

func TestWeibullAFT_ExactShiftRecovery(t *testing.T) {
	// Group 1 durations are exactly 3x group 0: the acceleration
	// coefficient is log(3) at the MLE.
	base := []float64{1, 2, 3, 5, 8}
	var durations []float64
	var x [][]float64
	for _, d := range base {
		durations = append(durations, d)
		x = append(x, []float64{1, 0})
	}
	for _, d := range base {
		durations = append(durations, 3*d)
		x = append(x, []float64{1, 1})
	}

	fit, err := WeibullAFT(durations, x, []string{"intercept", "group"})
	if err != nil {
		t.Fatalf("WeibullAFT: %v", err)
	}
	c, _ := fit.Coef("group")
	if math.Abs(c.Estimate-math.Log(3)) > 1e-3 {
		t.Errorf("group = %v, want log(3)=%v", c.Estimate, math.Log(3))
	}
	if af := math.Exp(c.Estimate); af < 2.9 || af > 3.1 {
		t.Errorf("acceleration factor = %v, want ~3", af)
	}
}

func TestKaplanMeier_SimpleCurve(t *testing.T) {
	curves, err := KaplanMeier([]float64{1, 2, 3, 4}, []string{"g", "g", "g", "g"})
	if err != nil {
		t.Fatalf("KaplanMeier: %v", err)
	}
	curve := curves["g"]
	want := []float64{0.75, 0.5, 0.25, 0}
	if len(curve) != len(want) {
		t.Fatalf("got %d points, want %d", len(curve), len(want))
	}
	for i, p := range curve {
		if math.Abs(p.Survival-want[i]) > 1e-12 {
			t.Errorf("S(%v) = %v, want %v", p.Time, p.Survival, want[i])
		}
	}
}

func TestKaplanMeier_TiesShareAStep(t *testing.T) {
	curves, err := KaplanMeier([]float64{2, 2, 5}, []string{"g", "g", "g"})
	if err != nil {
		t.Fatalf("KaplanMeier: %v", err)
	}
	curve := curves["g"]
	if len(curve) != 2 {
		t.Fatalf("got %d points, want 2", len(curve))
	}
	if curve[0].Events != 2 || math.Abs(curve[0].Survival-1.0/3) > 1e-12 {
		t.Errorf("tied step = %+v, want 2 events and survival 1/3", curve[0])
	}
}
