package dynamic

import (
	"fmt"

	"github.com/dynrun/dynrun/matx"
	"gonum.org/v1/gonum/mat"
)

// stepEKF runs one extended-Kalman tick. The state prediction travels
// through the same limitation and integration pipeline as a simulator tick;
// the covariance travels through the Jacobians linearized at the prior
// estimate.
func (s *System) stepEKF(u, y mat.Vector) error {
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

	// Prediction: the state through the nonlinear dynamics, the
	// covariance through A P Aᵀ + L Q Lᵀ.
	xp := s.advance(nil, s.State(s.k), t)

	var pp mat.Dense
	pp.Product(jac.A, s.covariance, jac.A.T())
	var lq mat.Dense
	lq.Product(jac.L, s.q, jac.L.T())
	pp.Add(&pp, &lq)

	xm := xp
	pm := &pp
	if !matx.HasNaN(y) {
		// Innovation covariance and gain.
		var innov mat.Dense
		innov.Product(jac.H, &pp, jac.H.T())
		var mr mat.Dense
		mr.Product(jac.M, s.r, jac.M.T())
		innov.Add(&innov, &mr)

		var innovInv mat.Dense
		if err := innovInv.Inverse(&innov); err != nil {
			return fmt.Errorf("dynamic: %q innovation covariance at step %d: %w", s.name, s.k, err)
		}
		var gain mat.Dense
		gain.Product(&pp, jac.H.T(), &innovInv)

		// Posterior state from the residual against the linearized output.
		var hx mat.VecDense
		hx.MulVec(jac.H, xp)
		res := mat.NewVecDense(ny, nil)
		res.SubVec(y, &hx)
		var corr mat.VecDense
		corr.MulVec(&gain, res)
		xm = mat.NewVecDense(nx, nil)
		xm.AddVec(xp, &corr)

		// Posterior covariance (I - K H) Pp.
		var kh mat.Dense
		kh.Mul(&gain, jac.H)
		ikh := matx.Eye(nx)
		ikh.Sub(ikh, &kh)
		pm = mat.NewDense(nx, nx, nil)
		pm.Mul(ikh, &pp)
	}

	s.states.SetCol(s.k+1, rawVec(xm))
	s.covariance.Copy(pm)
	s.k++
	return nil
}
