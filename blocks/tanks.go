// Package blocks contains example plant models implementing the plant
// contract: two water-tank processes, the Lorenz attractor, a two-state
// nonlinear benchmark and a generic linear model. They double as the test
// collaborators for the estimation engine.
package blocks

import (
	"math"

	"github.com/dynrun/dynrun/matx"
	"github.com/dynrun/dynrun/plant"
	"gonum.org/v1/gonum/mat"
)

// TwoTanks is a pair of coupled water tanks. States are the two levels,
// inputs the two pump voltages, outputs a linear combination of the levels.
type TwoTanks struct {
	// Outflow and coupling orifice areas, cm^2
	A1o, A2o, A21, A12 float64
	// Tank cross sections, cm^2
	Area1, Area2 float64
	// Gravity, cm/s^2
	G float64
	// Pump gains
	Gamma1, Gamma2 float64
	// Measurement matrix
	C *mat.Dense
}

// NewTwoTanks returns the two-tank process with the reference parameters.
func NewTwoTanks() *TwoTanks {
	return &TwoTanks{
		A1o: 0.071, A2o: 0.057, A21: 0.06, A12: 0.04,
		Area1: 28, Area2: 32,
		G:      981,
		Gamma1: 0.43, Gamma2: 0.34,
		C: mat.NewDense(2, 2, []float64{1, 0, 2, 1}),
	}
}

func (tt *TwoTanks) Name() string                 { return "Two-tank process" }
func (tt *TwoTanks) StateDimension() int          { return 2 }
func (tt *TwoTanks) InputDimension() int          { return 2 }
func (tt *TwoTanks) OutputDimension() int         { return 2 }
func (tt *TwoTanks) TimeDomain() plant.TimeDomain { return plant.Continuous }
func (tt *TwoTanks) Solver() plant.Solver         { return plant.Euler }
func (tt *TwoTanks) InitialState() mat.Vector     { return mat.NewVecDense(2, nil) }

func (tt *TwoTanks) Dynamics(x, u mat.Matrix, k int, dt, t float64) mat.Vector {
	dx := mat.NewVecDense(2, nil)
	dx.SetVec(0, -tt.A1o/tt.Area1*math.Sqrt(2*tt.G*x.At(0, k))+
		tt.A21/tt.Area1*math.Sqrt(2*tt.G*x.At(1, k))+
		tt.Gamma1/tt.Area1*u.At(0, k))
	dx.SetVec(1, -tt.A2o/tt.Area2*math.Sqrt(2*tt.G*x.At(1, k))+
		tt.A12/tt.Area2*math.Sqrt(2*tt.G*x.At(0, k))+
		tt.Gamma2/tt.Area2*u.At(1, k))
	return dx
}

func (tt *TwoTanks) Measurement(x, u mat.Matrix, k int, dt, t float64) mat.Vector {
	xk := mat.NewVecDense(2, []float64{x.At(0, k), x.At(1, k)})
	y := mat.NewVecDense(2, nil)
	y.MulVec(tt.C, xk)
	return y
}

// Limit keeps the levels physical: tanks cannot hold negative water.
func (tt *TwoTanks) Limit(x *mat.Dense, phase plant.Phase) *mat.Dense {
	if phase == plant.PostUpdate {
		clampNonNegative(x)
	}
	return x
}

func (tt *TwoTanks) Jacobians(x, u mat.Matrix, k int, dt, t float64) plant.Jacobians {
	// Keep the linearization away from the sqrt singularity at zero level.
	const eps = 1e-3
	x0 := math.Max(x.At(0, k), eps)
	x1 := math.Max(x.At(1, k), eps)

	root := math.Sqrt(2 * tt.G)
	A := mat.NewDense(2, 2, []float64{
		-(tt.A1o / tt.Area1) * root / (2 * math.Sqrt(x0)), (tt.A21 / tt.Area1) * root / (2 * math.Sqrt(x1)),
		(tt.A12 / tt.Area2) * root / (2 * math.Sqrt(x0)), -(tt.A2o / tt.Area2) * root / (2 * math.Sqrt(x1)),
	})
	B := mat.NewDense(2, 2, []float64{
		tt.Gamma1 / tt.Area1, 0,
		0, tt.Gamma2 / tt.Area2,
	})
	H := mat.DenseCopyOf(tt.C)
	D := mat.NewDense(2, 2, nil)
	L := matx.Eye(2)
	M := matx.Eye(2)
	return plant.Jacobians{A: A, B: B, H: H, D: D, L: L, M: M}
}

// QuadrupleTank is the four-tank laboratory process from
// K. H. Johansson, "The quadruple-tank process: a multivariable laboratory
// process with an adjustable zero," IEEE Trans. Control Syst. Technol. 8(3),
// 2000, doi: 10.1109/87.845876.
type QuadrupleTank struct {
	// Orifice areas, cm^2
	A1o, A2o, A3o, A4o float64
	// Tank cross sections, cm^2
	Area1, Area2, Area3, Area4 float64
	// Gravity, cm/s^2
	G float64
	// Pump constants, cm^3/Vs
	K1, K2 float64
	// Valve splits
	Gamma1, Gamma2 float64
	// Level sensor gain, V/cm
	Kc float64
}

// NewQuadrupleTank returns the quadruple-tank process with the published
// parameters.
func NewQuadrupleTank() *QuadrupleTank {
	return &QuadrupleTank{
		A1o: 0.071, A2o: 0.057, A3o: 0.071, A4o: 0.057,
		Area1: 28, Area2: 32, Area3: 28, Area4: 32,
		G:  981,
		K1: 3.33, K2: 3.35,
		Gamma1: 0.43, Gamma2: 0.34,
		Kc: 0.5,
	}
}

func (qt *QuadrupleTank) Name() string                 { return "Quadruple-tank process" }
func (qt *QuadrupleTank) StateDimension() int          { return 4 }
func (qt *QuadrupleTank) InputDimension() int          { return 2 }
func (qt *QuadrupleTank) OutputDimension() int         { return 2 }
func (qt *QuadrupleTank) TimeDomain() plant.TimeDomain { return plant.Continuous }
func (qt *QuadrupleTank) Solver() plant.Solver         { return plant.Euler }
func (qt *QuadrupleTank) InitialState() mat.Vector     { return mat.NewVecDense(4, nil) }

func (qt *QuadrupleTank) Dynamics(x, u mat.Matrix, k int, dt, t float64) mat.Vector {
	dx := mat.NewVecDense(4, nil)
	dx.SetVec(0, -qt.A1o/qt.Area1*math.Sqrt(2*qt.G*x.At(0, k))+
		qt.A3o/qt.Area1*math.Sqrt(2*qt.G*x.At(2, k))+
		qt.Gamma1*qt.K1/qt.Area1*u.At(0, k))
	dx.SetVec(1, -qt.A2o/qt.Area2*math.Sqrt(2*qt.G*x.At(1, k))+
		qt.A4o/qt.Area2*math.Sqrt(2*qt.G*x.At(3, k))+
		qt.Gamma2*qt.K2/qt.Area2*u.At(1, k))
	dx.SetVec(2, -qt.A3o/qt.Area3*math.Sqrt(2*qt.G*x.At(2, k))+
		(1-qt.Gamma2)*qt.K2/qt.Area3*u.At(1, k))
	dx.SetVec(3, -qt.A4o/qt.Area4*math.Sqrt(2*qt.G*x.At(3, k))+
		(1-qt.Gamma1)*qt.K1/qt.Area4*u.At(0, k))
	return dx
}

func (qt *QuadrupleTank) Measurement(x, u mat.Matrix, k int, dt, t float64) mat.Vector {
	y := mat.NewVecDense(2, nil)
	y.SetVec(0, qt.Kc*x.At(0, k))
	y.SetVec(1, qt.Kc*x.At(1, k))
	return y
}

func (qt *QuadrupleTank) Limit(x *mat.Dense, phase plant.Phase) *mat.Dense {
	if phase == plant.PostUpdate {
		clampNonNegative(x)
	}
	return x
}

func (qt *QuadrupleTank) Jacobians(x, u mat.Matrix, k int, dt, t float64) plant.Jacobians {
	const eps = 1e-3
	level := make([]float64, 4)
	for i := range level {
		level[i] = math.Max(x.At(i, k), eps)
	}

	root := math.Sqrt(2 * qt.G)
	A := mat.NewDense(4, 4, nil)
	A.Set(0, 0, -(qt.A1o/qt.Area1)*root/(2*math.Sqrt(level[0])))
	A.Set(0, 2, (qt.A3o/qt.Area1)*root/(2*math.Sqrt(level[2])))
	A.Set(1, 1, -(qt.A2o/qt.Area2)*root/(2*math.Sqrt(level[1])))
	A.Set(1, 3, (qt.A4o/qt.Area2)*root/(2*math.Sqrt(level[3])))
	A.Set(2, 2, -(qt.A3o/qt.Area3)*root/(2*math.Sqrt(level[2])))
	A.Set(3, 3, -(qt.A4o/qt.Area4)*root/(2*math.Sqrt(level[3])))

	B := mat.NewDense(4, 2, nil)
	B.Set(0, 0, qt.Gamma1*qt.K1/qt.Area1)
	B.Set(1, 1, qt.Gamma2*qt.K2/qt.Area2)
	B.Set(2, 1, (1-qt.Gamma2)*qt.K2/qt.Area3)
	B.Set(3, 0, (1-qt.Gamma1)*qt.K1/qt.Area4)

	H := mat.NewDense(2, 4, nil)
	H.Set(0, 0, qt.Kc)
	H.Set(1, 1, qt.Kc)
	D := mat.NewDense(2, 2, nil)
	L := matx.Eye(4)
	M := matx.Eye(2)
	return plant.Jacobians{A: A, B: B, H: H, D: D, L: L, M: M}
}

func clampNonNegative(x *mat.Dense) {
	m, n := x.Dims()
	for row := 0; row < m; row++ {
		for col := 0; col < n; col++ {
			if x.At(row, col) < 0 {
				x.Set(row, col, 0)
			}
		}
	}
}
