package blocks

import (
	"fmt"

	"github.com/dynrun/dynrun/matx"
	"github.com/dynrun/dynrun/plant"
	"gonum.org/v1/gonum/mat"
)

// Linear wraps an (A, B, C, D) quadruple as a plant-contract model. Its
// Jacobians are exact, which makes it the reference model for checking the
// nonlinear estimators against the closed-form linear Kalman filter.
type Linear struct {
	A, B, C, D *mat.Dense
	// Domain tags the quadruple as a discrete-time difference equation
	// (the default) or a continuous-time differential equation.
	Domain plant.TimeDomain
	// Initial is the state at the first sample instant; nil means zero.
	Initial mat.Vector
	// Integrator used when Domain is continuous.
	Integrator plant.Solver

	nx, nu, ny int
}

// NewLinear validates the quadruple's shapes and returns the model. A nil D
// becomes a zero matrix of the right shape.
func NewLinear(A, B, C, D mat.Matrix, domain plant.TimeDomain) (*Linear, error) {
	nx, cA := A.Dims()
	if nx != cA {
		return nil, fmt.Errorf("blocks: A is %dx%d, want square", nx, cA)
	}
	rB, nu := B.Dims()
	if rB != nx {
		return nil, fmt.Errorf("blocks: B has %d rows, want %d", rB, nx)
	}
	ny, cC := C.Dims()
	if cC != nx {
		return nil, fmt.Errorf("blocks: C has %d columns, want %d", cC, nx)
	}
	d := mat.NewDense(ny, nu, nil)
	if D != nil {
		rD, cD := D.Dims()
		if rD != ny || cD != nu {
			return nil, fmt.Errorf("blocks: D is %dx%d, want %dx%d", rD, cD, ny, nu)
		}
		d.Copy(D)
	}
	return &Linear{
		A: mat.DenseCopyOf(A), B: mat.DenseCopyOf(B),
		C: mat.DenseCopyOf(C), D: d,
		Domain: domain, Integrator: plant.Euler,
		nx: nx, nu: nu, ny: ny,
	}, nil
}

func (ln *Linear) Name() string                 { return "Linear model" }
func (ln *Linear) StateDimension() int          { return ln.nx }
func (ln *Linear) InputDimension() int          { return ln.nu }
func (ln *Linear) OutputDimension() int         { return ln.ny }
func (ln *Linear) TimeDomain() plant.TimeDomain { return ln.Domain }
func (ln *Linear) Solver() plant.Solver         { return ln.Integrator }

func (ln *Linear) InitialState() mat.Vector {
	if ln.Initial == nil {
		return mat.NewVecDense(ln.nx, nil)
	}
	return ln.Initial
}

// Dynamics returns A x + B u: the next state in the discrete domain, the
// state derivative in the continuous one.
func (ln *Linear) Dynamics(x, u mat.Matrix, k int, dt, t float64) mat.Vector {
	xk := columnOf(x, k, ln.nx)
	uk := columnOf(u, k, ln.nu)
	res := mat.NewVecDense(ln.nx, nil)
	res.MulVec(ln.A, xk)
	var bu mat.VecDense
	bu.MulVec(ln.B, uk)
	res.AddVec(res, &bu)
	return res
}

func (ln *Linear) Measurement(x, u mat.Matrix, k int, dt, t float64) mat.Vector {
	xk := columnOf(x, k, ln.nx)
	uk := columnOf(u, k, ln.nu)
	res := mat.NewVecDense(ln.ny, nil)
	res.MulVec(ln.C, xk)
	var du mat.VecDense
	du.MulVec(ln.D, uk)
	res.AddVec(res, &du)
	return res
}

func (ln *Linear) Limit(x *mat.Dense, phase plant.Phase) *mat.Dense {
	return x
}

func (ln *Linear) Jacobians(x, u mat.Matrix, k int, dt, t float64) plant.Jacobians {
	return plant.Jacobians{
		A: ln.A, B: ln.B, H: ln.C, D: ln.D,
		L: matx.Eye(ln.nx), M: matx.Eye(ln.ny),
	}
}

func columnOf(m mat.Matrix, k, rows int) *mat.VecDense {
	res := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		res.SetVec(i, m.At(i, k))
	}
	return res
}
