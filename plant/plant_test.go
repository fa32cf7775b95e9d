package plant

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestSolverMethods(t *testing.T) {
	cases := []struct {
		solver Solver
		stages int
	}{
		{Euler, 1},
		{RK4, 4},
		{Fehlberg45, 6},
	}
	for _, tc := range cases {
		if got := tc.solver.Method().Stages(); got != tc.stages {
			t.Errorf("solver %d: expected %d stages, got %d", tc.solver, tc.stages, got)
		}
	}
}

func TestSolverMethodPanicsOnUnknown(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected a panic")
		}
	}()
	Solver(42).Method()
}

func validJacobians() Jacobians {
	return Jacobians{
		A: mat.NewDense(2, 2, nil),
		B: mat.NewDense(2, 1, nil),
		H: mat.NewDense(1, 2, nil),
		D: mat.NewDense(1, 1, nil),
		L: mat.NewDense(2, 2, nil),
		M: mat.NewDense(1, 1, nil),
	}
}

func TestJacobiansValidate(t *testing.T) {
	if err := validJacobians().Validate(2, 1); err != nil {
		t.Errorf("valid jacobians rejected: %v", err)
	}

	wrongA := validJacobians()
	wrongA.A = mat.NewDense(2, 3, nil)
	if wrongA.Validate(2, 1) == nil {
		t.Error("rectangular A accepted")
	}

	wrongH := validJacobians()
	wrongH.H = mat.NewDense(2, 2, nil)
	if wrongH.Validate(2, 1) == nil {
		t.Error("tall H accepted")
	}

	wrongL := validJacobians()
	wrongL.L = mat.NewDense(1, 2, nil)
	if wrongL.Validate(2, 1) == nil {
		t.Error("short L accepted")
	}

	wrongM := validJacobians()
	wrongM.M = mat.NewDense(2, 1, nil)
	if wrongM.Validate(2, 1) == nil {
		t.Error("tall M accepted")
	}
}
