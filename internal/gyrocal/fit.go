package gyrocal

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// LinearFitter produces a closed-form model estimate from a measurement
// subset. Implementations must not retain the measurement slice.
type LinearFitter interface {
	FitLinear(meas []Measurement, pred KinematicsPredictor, bias [3]float64, commonAxis bool) (mg, gg *mat.Dense, err error)
}

// NonLinearFitter refines an initial model estimate over a measurement set
// and reports the parameter covariance, mean squared error and chi-square
// of the fit.
type NonLinearFitter interface {
	FitNonLinear(meas []Measurement, pred KinematicsPredictor, bias [3]float64, commonAxis bool,
		initMg, initGg *mat.Dense) (mg, gg, cov *mat.Dense, mse, chiSq float64, err error)
}

// LeastSquaresFitter implements both fitter interfaces on gonum. The model
// is linear in its parameters, so the linear path is a single weighted QR
// solve and the non-linear path is Levenberg–Marquardt with the analytic
// (constant) Jacobian.
type LeastSquaresFitter struct{}

// paramRef addresses one free model parameter: element (Row, Col) of Mg
// when Mg is true, of Gg otherwise.
type paramRef struct {
	Row, Col int
	Mg       bool
}

// modelParams lists the free parameters in packing order: Mg row-major
// (skipping the lower triangle under the common-axis constraint), then Gg
// row-major.
func modelParams(commonAxis bool) []paramRef {
	params := make([]paramRef, 0, 18)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if commonAxis && i > j {
				continue
			}
			params = append(params, paramRef{Row: i, Col: j, Mg: true})
		}
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			params = append(params, paramRef{Row: i, Col: j, Mg: false})
		}
	}
	return params
}

// designSystem is the linearized measurement system A·θ = y with one row
// weight per equation (1/σ for the row's axis, 1 where σ is zero).
type designSystem struct {
	a      *mat.Dense
	y      *mat.VecDense
	w      []float64
	params []paramRef
}

// buildSystem evaluates the kinematics predictor for every measurement and
// assembles the design matrix. A predictor failure aborts the build: a
// subset containing a malformed frame pair cannot produce a candidate.
func buildSystem(meas []Measurement, pred KinematicsPredictor, bias [3]float64, commonAxis bool) (*designSystem, error) {
	params := modelParams(commonAxis)
	rows := 3 * len(meas)
	if rows < len(params) {
		return nil, fmt.Errorf("underdetermined system: %d equations for %d parameters", rows, len(params))
	}

	a := mat.NewDense(rows, len(params), nil)
	y := mat.NewVecDense(rows, nil)
	w := make([]float64, rows)

	for k, m := range meas {
		rate, force, err := pred.Predict(m.Frame, m.PrevFrame, m.DT)
		if err != nil {
			return nil, fmt.Errorf("kinematics prediction for measurement %d: %w", k, err)
		}
		for i := 0; i < 3; i++ {
			row := 3*k + i
			y.SetVec(row, m.AngularRate[i]-bias[i]-rate[i])
			if s := m.RateStdDev[i]; s > 0 {
				w[row] = 1 / s
			} else {
				w[row] = 1
			}
			for p, ref := range params {
				if ref.Row != i {
					continue
				}
				if ref.Mg {
					a.Set(row, p, rate[ref.Col])
				} else {
					a.Set(row, p, force[ref.Col])
				}
			}
		}
	}
	return &designSystem{a: a, y: y, w: w, params: params}, nil
}

// weighted returns diag(w)·A and diag(w)·y.
func (d *designSystem) weighted() (*mat.Dense, *mat.VecDense) {
	rows, cols := d.a.Dims()
	aw := mat.NewDense(rows, cols, nil)
	yw := mat.NewVecDense(rows, nil)
	for r := 0; r < rows; r++ {
		yw.SetVec(r, d.w[r]*d.y.AtVec(r))
		for c := 0; c < cols; c++ {
			aw.Set(r, c, d.w[r]*d.a.At(r, c))
		}
	}
	return aw, yw
}

// unpack expands a parameter vector into Mg and Gg; constrained entries
// stay zero.
func (d *designSystem) unpack(theta *mat.VecDense) (mg, gg *mat.Dense) {
	mg = mat.NewDense(3, 3, nil)
	gg = mat.NewDense(3, 3, nil)
	for p, ref := range d.params {
		if ref.Mg {
			mg.Set(ref.Row, ref.Col, theta.AtVec(p))
		} else {
			gg.Set(ref.Row, ref.Col, theta.AtVec(p))
		}
	}
	return mg, gg
}

// pack reads the free parameters out of Mg and Gg; nil matrices read as
// zero.
func (d *designSystem) pack(mg, gg *mat.Dense) *mat.VecDense {
	theta := mat.NewVecDense(len(d.params), nil)
	for p, ref := range d.params {
		src := gg
		if ref.Mg {
			src = mg
		}
		if src != nil {
			theta.SetVec(p, src.At(ref.Row, ref.Col))
		}
	}
	return theta
}

// stats computes the unweighted MSE, the chi-square and (optionally) the
// parameter covariance mse·(AᵀWᵀWA)⁻¹ at θ. A singular normal matrix
// yields a nil covariance rather than an error.
func (d *designSystem) stats(theta *mat.VecDense, withCov bool) (cov *mat.Dense, mse, chiSq float64) {
	rows, cols := d.a.Dims()
	var r mat.VecDense
	r.MulVec(d.a, theta)
	r.SubVec(&r, d.y)

	var sumSq float64
	for i := 0; i < rows; i++ {
		ri := r.AtVec(i)
		sumSq += ri * ri
		wr := d.w[i] * ri
		chiSq += wr * wr
	}
	dof := rows - cols
	if dof < 1 {
		dof = 1
	}
	mse = sumSq / float64(dof)

	if withCov {
		aw, _ := d.weighted()
		var normal mat.Dense
		normal.Mul(aw.T(), aw)
		var inv mat.Dense
		if err := inv.Inverse(&normal); err == nil {
			inv.Scale(mse, &inv)
			cov = &inv
		}
	}
	return cov, mse, chiSq
}

// FitLinear solves the weighted system with a single QR least-squares
// solve. A degenerate subset surfaces as an error.
func (LeastSquaresFitter) FitLinear(meas []Measurement, pred KinematicsPredictor, bias [3]float64, commonAxis bool) (*mat.Dense, *mat.Dense, error) {
	sys, err := buildSystem(meas, pred, bias, commonAxis)
	if err != nil {
		return nil, nil, err
	}
	aw, yw := sys.weighted()
	theta := mat.NewVecDense(len(sys.params), nil)
	if err := theta.SolveVec(aw, yw); err != nil {
		return nil, nil, fmt.Errorf("linear solve: %w", err)
	}
	mg, gg := sys.unpack(theta)
	return mg, gg, nil
}

// FitNonLinear runs damped Gauss–Newton (Levenberg–Marquardt) from the
// given initial model. The Jacobian is constant, so convergence is fast;
// the damping still guards against ill-conditioned subsets.
func (LeastSquaresFitter) FitNonLinear(meas []Measurement, pred KinematicsPredictor, bias [3]float64, commonAxis bool,
	initMg, initGg *mat.Dense) (*mat.Dense, *mat.Dense, *mat.Dense, float64, float64, error) {

	const (
		maxSteps = 50
		costTol  = 1e-14
		stepTol  = 1e-12
	)

	sys, err := buildSystem(meas, pred, bias, commonAxis)
	if err != nil {
		return nil, nil, nil, 0, 0, err
	}
	aw, yw := sys.weighted()
	p := len(sys.params)

	var jtj mat.Dense
	jtj.Mul(aw.T(), aw)

	theta := sys.pack(initMg, initGg)
	cost := weightedCost(aw, yw, theta)
	lambda := 1e-3
	solved := false

	for step := 0; step < maxSteps; step++ {
		// Gradient g = Awᵀ·(Aw·θ − yw).
		var r mat.VecDense
		r.MulVec(aw, theta)
		r.SubVec(&r, yw)
		var g mat.VecDense
		g.MulVec(aw.T(), &r)
		g.ScaleVec(-1, &g)

		// Damped normal equations (JᵀJ + λ·diag(JᵀJ))·δ = −g.
		lhs := mat.DenseCopyOf(&jtj)
		for i := 0; i < p; i++ {
			d := jtj.At(i, i)
			if d == 0 {
				d = 1
			}
			lhs.Set(i, i, jtj.At(i, i)+lambda*d)
		}
		var delta mat.VecDense
		if err := delta.SolveVec(lhs, &g); err != nil {
			lambda *= 10
			if lambda > 1e12 {
				return nil, nil, nil, 0, 0, fmt.Errorf("non-linear solve: %w", err)
			}
			continue
		}

		var trial mat.VecDense
		trial.AddVec(theta, &delta)
		trialCost := weightedCost(aw, yw, &trial)
		if trialCost <= cost {
			improvement := cost - trialCost
			theta.CopyVec(&trial)
			cost = trialCost
			lambda = math.Max(lambda/10, 1e-12)
			solved = true
			if improvement < costTol || mat.Norm(&delta, 2) < stepTol {
				break
			}
		} else {
			lambda *= 10
			if lambda > 1e12 {
				break
			}
		}
	}
	if !solved {
		return nil, nil, nil, 0, 0, fmt.Errorf("non-linear fit did not converge")
	}

	mg, gg := sys.unpack(theta)
	cov, mse, chiSq := sys.stats(theta, true)
	return mg, gg, cov, mse, chiSq, nil
}

func weightedCost(aw *mat.Dense, yw, theta *mat.VecDense) float64 {
	var r mat.VecDense
	r.MulVec(aw, theta)
	r.SubVec(&r, yw)
	return mat.Dot(&r, &r)
}
