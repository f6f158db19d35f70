package gyrocal

import "gonum.org/v1/gonum/mat"

// Model is a candidate or final gyroscope error model. Mg holds scale
// factors (diagonal) and cross-axis couplings (off-diagonal); Gg holds the
// g-dependent biases. Covariance, when present, is the parameter covariance
// in the fitter's packing order (18×18 for the full model, 15×15 with the
// common-axis constraint); it is nil unless refinement ran with covariance
// retention enabled.
type Model struct {
	Mg         *mat.Dense
	Gg         *mat.Dense
	Covariance *mat.Dense
	MSE        float64
	ChiSq      float64
}

// NewModel returns a model with zeroed 3×3 Mg and Gg.
func NewModel() *Model {
	return &Model{
		Mg: mat.NewDense(3, 3, nil),
		Gg: mat.NewDense(3, 3, nil),
	}
}

// Clone deep-copies the model including covariance.
func (m *Model) Clone() *Model {
	out := &Model{MSE: m.MSE, ChiSq: m.ChiSq}
	if m.Mg != nil {
		out.Mg = mat.DenseCopyOf(m.Mg)
	}
	if m.Gg != nil {
		out.Gg = mat.DenseCopyOf(m.Gg)
	}
	if m.Covariance != nil {
		out.Covariance = mat.DenseCopyOf(m.Covariance)
	}
	return out
}
