package plant

import (
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// NumericJacobians linearizes a model at step k by central finite
// differences. It is a drop-in body for the Jacobians method of models
// without analytic derivatives. The noise maps L and M come out as
// identities (purely additive noise).
func NumericJacobians(m Model, x, u mat.Matrix, k int, dt, t float64) Jacobians {
	nx := m.StateDimension()
	nu := m.InputDimension()
	ny := m.OutputDimension()

	var xs, us mat.Dense
	xs.CloneFrom(x)
	us.CloneFrom(u)

	x0 := make([]float64, nx)
	mat.Col(x0, k, &xs)
	u0 := make([]float64, nu)
	mat.Col(u0, k, &us)

	settings := &fd.JacobianSettings{Formula: fd.Central}

	// Probe functions replace column k of a scratch history with the probe
	// point and read the model's response.
	dynAtState := func(y, probe []float64) {
		xs.SetCol(k, probe)
		copyVec(y, m.Dynamics(&xs, &us, k, dt, t))
		xs.SetCol(k, x0)
	}
	dynAtInput := func(y, probe []float64) {
		us.SetCol(k, probe)
		copyVec(y, m.Dynamics(&xs, &us, k, dt, t))
		us.SetCol(k, u0)
	}
	measAtState := func(y, probe []float64) {
		xs.SetCol(k, probe)
		copyVec(y, m.Measurement(&xs, &us, k, dt, t))
		xs.SetCol(k, x0)
	}
	measAtInput := func(y, probe []float64) {
		us.SetCol(k, probe)
		copyVec(y, m.Measurement(&xs, &us, k, dt, t))
		us.SetCol(k, u0)
	}

	A := mat.NewDense(nx, nx, nil)
	fd.Jacobian(A, dynAtState, x0, settings)
	B := mat.NewDense(nx, nu, nil)
	fd.Jacobian(B, dynAtInput, u0, settings)
	H := mat.NewDense(ny, nx, nil)
	fd.Jacobian(H, measAtState, x0, settings)
	D := mat.NewDense(ny, nu, nil)
	fd.Jacobian(D, measAtInput, u0, settings)

	L := mat.NewDense(nx, nx, nil)
	for i := 0; i < nx; i++ {
		L.Set(i, i, 1)
	}
	M := mat.NewDense(ny, ny, nil)
	for i := 0; i < ny; i++ {
		M.Set(i, i, 1)
	}
	return Jacobians{A: A, B: B, H: H, D: D, L: L, M: M}
}

func copyVec(dst []float64, v mat.Vector) {
	for i := range dst {
		dst[i] = v.AtVec(i)
	}
}
