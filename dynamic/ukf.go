package dynamic

import (
	"fmt"
	"math"

	"github.com/dynrun/dynrun/matx"
	"gonum.org/v1/gonum/mat"
)

// stepUKF runs one unscented-Kalman tick. 2n+1 sigma points sampled from
// the posterior travel independently through the full simulation pipeline;
// means and covariances are reassembled from the weighted columns. The
// Jacobians contribute only the noise maps L and M.
func (s *System) stepUKF(u, y mat.Vector) error {
	if s.k >= s.nSteps {
		return fmt.Errorf("dynamic: %q stepped past the end of the time line", s.name)
	}
	t := s.timeLine[s.k]
	s.setColumn(s.inputs, s.k, u, "input")
	s.setColumn(s.outputs, s.k, y, "output")

	nx := s.model.StateDimension()
	ny := s.model.OutputDimension()
	jac := s.model.Jacobians(s.states, s.inputs, s.k, s.sampleTime, t)
	if err := jac.Validate(nx, ny); err != nil {
		panic(err)
	}

	xm := s.State(s.k)

	// Sigma points x, x ± √(n+λ) column_i(chol(P)).
	var chol mat.Cholesky
	if !chol.Factorize(matx.SymFrom(s.covariance)) {
		return fmt.Errorf("dynamic: %q covariance lost positive definiteness at step %d", s.name, s.k)
	}
	var lower mat.TriDense
	chol.LTo(&lower)
	scale := math.Sqrt(float64(nx) + s.ukf.lambda)

	nPoints := 2*nx + 1
	sigma := mat.NewDense(nx, nPoints, nil)
	for row := 0; row < nx; row++ {
		sigma.Set(row, 0, xm.AtVec(row))
		for col := 0; col < nx; col++ {
			dev := scale * lower.At(row, col)
			sigma.Set(row, 1+col, xm.AtVec(row)+dev)
			sigma.Set(row, 1+nx+col, xm.AtVec(row)-dev)
		}
	}

	// Propagate every column through one step of the dynamics and form the
	// predicted mean.
	propagated := mat.NewDense(nx, nPoints, nil)
	xp := mat.NewVecDense(nx, nil)
	for col := 0; col < nPoints; col++ {
		next := s.advance(colVec(sigma, col), xm, t)
		propagated.SetCol(col, rawVec(next))
		xp.AddScaledVec(xp, s.ukf.wm[col], next)
	}

	// Predicted covariance dXp diag(wc) dXpᵀ + L Q Lᵀ.
	dxp := deviations(propagated, xp)
	pp := weightedOuter(dxp, dxp, s.ukf.wc)
	var lq mat.Dense
	lq.Product(jac.L, s.q, jac.L.T())
	pp.Add(pp, &lq)

	xPost := xp
	pPost := pp
	if !matx.HasNaN(y) {
		// Predicted outputs from the propagated sigma points.
		outputs := mat.NewDense(ny, nPoints, nil)
		zb := mat.NewVecDense(ny, nil)
		hist := mat.DenseCopyOf(s.states)
		for col := 0; col < nPoints; col++ {
			hist.SetCol(s.k, rawCol(propagated, col))
			z := s.model.Measurement(hist, s.inputs, s.k, s.sampleTime, t)
			if z.Len() != ny {
				panic(fmt.Errorf("dynamic: %q measurement returned %d entries, want %d", s.name, z.Len(), ny))
			}
			outputs.SetCol(col, rawVec(z))
			zb.AddScaledVec(zb, s.ukf.wm[col], z)
		}

		dz := deviations(outputs, zb)
		innov := weightedOuter(dz, dz, s.ukf.wc)
		var mr mat.Dense
		mr.Product(jac.M, s.r, jac.M.T())
		innov.Add(innov, &mr)

		cross := weightedOuter(dxp, dz, s.ukf.wc)

		var innovInv mat.Dense
		if err := innovInv.Inverse(innov); err != nil {
			return fmt.Errorf("dynamic: %q innovation covariance at step %d: %w", s.name, s.k, err)
		}
		var gain mat.Dense
		gain.Mul(cross, &innovInv)

		res := mat.NewVecDense(ny, nil)
		res.SubVec(y, zb)
		var corr mat.VecDense
		corr.MulVec(&gain, res)
		xPost = mat.NewVecDense(nx, nil)
		xPost.AddVec(xp, &corr)

		var kcross mat.Dense
		kcross.Mul(&gain, cross.T())
		pPost = mat.NewDense(nx, nx, nil)
		pPost.Sub(pp, &kcross)
	}

	s.states.SetCol(s.k+1, rawVec(xPost))
	s.covariance.Copy(pPost)
	s.k++
	return nil
}

// deviations subtracts the mean from every column.
func deviations(points *mat.Dense, mean mat.Vector) *mat.Dense {
	rows, cols := points.Dims()
	res := mat.NewDense(rows, cols, nil)
	for col := 0; col < cols; col++ {
		for row := 0; row < rows; row++ {
			res.Set(row, col, points.At(row, col)-mean.AtVec(row))
		}
	}
	return res
}

// weightedOuter computes a diag(w) bᵀ.
func weightedOuter(a, b *mat.Dense, w []float64) *mat.Dense {
	rowsA, cols := a.Dims()
	rowsB, _ := b.Dims()
	scaled := mat.NewDense(rowsB, cols, nil)
	for col := 0; col < cols; col++ {
		for row := 0; row < rowsB; row++ {
			scaled.Set(row, col, w[col]*b.At(row, col))
		}
	}
	res := mat.NewDense(rowsA, rowsB, nil)
	res.Mul(a, scaled.T())
	return res
}

func rawCol(m *mat.Dense, col int) []float64 {
	rows, _ := m.Dims()
	res := make([]float64, rows)
	mat.Col(res, col, m)
	return res
}
