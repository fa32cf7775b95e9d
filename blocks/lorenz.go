package blocks

import (
	"github.com/dynrun/dynrun/matx"
	"github.com/dynrun/dynrun/plant"
	"gonum.org/v1/gonum/mat"
)

// Lorenz is the Lorenz chaotic attractor with an additive control input on
// the first state and the first two states measured.
type Lorenz struct {
	Sigma, Rho, Beta float64
}

// NewLorenz returns the attractor with the classical chaotic parameters.
func NewLorenz() *Lorenz {
	return &Lorenz{Sigma: 10, Rho: 28, Beta: 8. / 3.}
}

func (lz *Lorenz) Name() string                 { return "Lorenz chaos" }
func (lz *Lorenz) StateDimension() int          { return 3 }
func (lz *Lorenz) InputDimension() int          { return 1 }
func (lz *Lorenz) OutputDimension() int         { return 2 }
func (lz *Lorenz) TimeDomain() plant.TimeDomain { return plant.Continuous }
func (lz *Lorenz) Solver() plant.Solver         { return plant.RK4 }
func (lz *Lorenz) InitialState() mat.Vector {
	return mat.NewVecDense(3, []float64{1, 1, 1})
}

func (lz *Lorenz) Dynamics(x, u mat.Matrix, k int, dt, t float64) mat.Vector {
	dx := mat.NewVecDense(3, nil)
	dx.SetVec(0, lz.Sigma*x.At(1, k)-lz.Sigma*x.At(0, k)+u.At(0, k))
	dx.SetVec(1, lz.Rho*x.At(0, k)-x.At(0, k)*x.At(2, k)-x.At(1, k))
	dx.SetVec(2, x.At(0, k)*x.At(1, k)-lz.Beta*x.At(2, k))
	return dx
}

func (lz *Lorenz) Measurement(x, u mat.Matrix, k int, dt, t float64) mat.Vector {
	y := mat.NewVecDense(2, nil)
	y.SetVec(0, x.At(0, k))
	y.SetVec(1, x.At(1, k))
	return y
}

func (lz *Lorenz) Limit(x *mat.Dense, phase plant.Phase) *mat.Dense {
	return x
}

func (lz *Lorenz) Jacobians(x, u mat.Matrix, k int, dt, t float64) plant.Jacobians {
	A := mat.NewDense(3, 3, []float64{
		-lz.Sigma, lz.Sigma, 0,
		lz.Rho - x.At(2, k), -1, -x.At(0, k),
		x.At(1, k), x.At(0, k), -lz.Beta,
	})
	B := mat.NewDense(3, 1, []float64{1, 0, 0})
	H := mat.NewDense(2, 3, []float64{
		1, 0, 0,
		0, 1, 0,
	})
	D := mat.NewDense(2, 1, nil)
	L := matx.Eye(3)
	M := matx.Eye(2)
	return plant.Jacobians{A: A, B: B, H: H, D: D, L: L, M: M}
}
