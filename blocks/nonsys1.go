package blocks

import (
	"math"

	"github.com/dynrun/dynrun/plant"
	"gonum.org/v1/gonum/mat"
)

// NonSys1 is the two-state single-input benchmark from
// Kamalapurkar et al., Reinforcement Learning for Optimal Feedback Control,
// p. 55. Its dynamics split as dx = f(x) + g(x) u, which is the form the
// adaptive neural identifier expects; Gain exposes g.
type NonSys1 struct{}

// NewNonSys1 returns the benchmark system.
func NewNonSys1() *NonSys1 { return &NonSys1{} }

func (ns *NonSys1) Name() string                 { return "Nonlinear system 1" }
func (ns *NonSys1) StateDimension() int          { return 2 }
func (ns *NonSys1) InputDimension() int          { return 1 }
func (ns *NonSys1) OutputDimension() int         { return 2 }
func (ns *NonSys1) TimeDomain() plant.TimeDomain { return plant.Continuous }
func (ns *NonSys1) Solver() plant.Solver         { return plant.Euler }
func (ns *NonSys1) InitialState() mat.Vector {
	return mat.NewVecDense(2, []float64{3, -1})
}

// Drift returns the unknown drift term f(x).
func (ns *NonSys1) Drift(x mat.Vector) *mat.VecDense {
	f := mat.NewVecDense(2, nil)
	f.SetVec(0, -x.AtVec(0)+x.AtVec(1))
	c := 2 + math.Cos(2*x.AtVec(0))
	f.SetVec(1, -0.5*x.AtVec(0)-0.5*x.AtVec(1)*(1-c*c))
	return f
}

// Gain returns the known input-gain term g(x).
func (ns *NonSys1) Gain(x mat.Vector) mat.Matrix {
	g := mat.NewDense(2, 1, nil)
	g.Set(1, 0, math.Cos(2*x.AtVec(0))+2)
	return g
}

func (ns *NonSys1) Dynamics(x, u mat.Matrix, k int, dt, t float64) mat.Vector {
	xk := mat.NewVecDense(2, []float64{x.At(0, k), x.At(1, k)})
	dx := ns.Drift(xk)
	var gu mat.VecDense
	gu.MulVec(ns.Gain(xk), mat.NewVecDense(1, []float64{u.At(0, k)}))
	dx.AddVec(dx, &gu)
	return dx
}

func (ns *NonSys1) Measurement(x, u mat.Matrix, k int, dt, t float64) mat.Vector {
	y := mat.NewVecDense(2, nil)
	y.SetVec(0, x.At(0, k))
	y.SetVec(1, x.At(1, k))
	return y
}

func (ns *NonSys1) Limit(x *mat.Dense, phase plant.Phase) *mat.Dense {
	return x
}

// Jacobians falls back to finite differences; the drift derivative has no
// tidy closed form worth maintaining here.
func (ns *NonSys1) Jacobians(x, u mat.Matrix, k int, dt, t float64) plant.Jacobians {
	return plant.NumericJacobians(ns, x, u, k, dt, t)
}
