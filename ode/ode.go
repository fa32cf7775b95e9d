// Package ode implements fixed-step Runge-Kutta methods
// https://en.wikipedia.org/wiki/Runge–Kutta_methods described by their
// Butcher tableaus. A step advances a state vector (or matrix) by one sample
// period given a derivative function.
//
// Step takes two base points: the derivative is evaluated around xEval while
// the update is accumulated onto xBase. The distinction lets callers evaluate
// dynamics at a pre-limited state without corrupting the integration base.
package ode

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// RungeKutta holds the butcherTableau which describes the Runge-Kutta method.
type RungeKutta struct {
	Description butcherTableau
}

// butcherTableau describes the approximate solution, see
// https://en.wikipedia.org/wiki/Runge–Kutta_methods.
type butcherTableau struct {
	stages           int
	weights          [][]float64
	nodes            []float64
	rungeKuttaMatrix [][]float64
}

// Stages returns the number of derivative evaluations per step.
func (rk RungeKutta) Stages() int {
	return rk.Description.stages
}

// Step advances one state vector by one period h.
//
// The derivative points are built around xEval,
//
//	K[0] = f(xEval), K[i] = f(xEval + h Σ_j a[i][j] K[j]),
//
// and the update is accumulated onto xBase,
//
//	xNext = xBase + h Σ_i b[i] K[i].
func (rk RungeKutta) Step(f func(mat.Vector) mat.Vector, xEval, xBase mat.Vector, h float64) *mat.VecDense {
	m := xEval.Len()
	if xBase.Len() != m {
		panic(errors.New("ode: evaluation and base states differ in length"))
	}

	// The precomputed derivative points
	K := make([]*mat.VecDense, rk.Description.stages)
	var tmp mat.VecDense
	for index := range K {
		tmp.CloneFromVec(xEval)
		// Combine previously computed derivative points according to the
		// Butcher tableau.
		for index2, a := range rk.Description.rungeKuttaMatrix[index] {
			if a != 0 {
				tmp.AddScaledVec(&tmp, h*a, K[index2])
			}
		}
		k := f(&tmp)
		if k.Len() != m {
			panic(errors.New("ode: derivative length doesn't match state length"))
		}
		K[index] = mat.NewVecDense(m, nil)
		K[index].CopyVec(k)
	}

	// Sum up the contributions with the relevant weights.
	res := mat.NewVecDense(m, nil)
	res.CopyVec(xBase)
	for index, k := range K {
		res.AddScaledVec(res, h*rk.Description.weights[0][index], k)
	}
	return res
}

// StepDense is Step for matrix-valued states, used by adaptation laws whose
// state is a weight matrix rather than a vector.
func (rk RungeKutta) StepDense(f func(mat.Matrix) mat.Matrix, xEval, xBase mat.Matrix, h float64) *mat.Dense {
	m, n := xEval.Dims()
	if mb, nb := xBase.Dims(); mb != m || nb != n {
		panic(errors.New("ode: evaluation and base states differ in shape"))
	}

	K := make([]*mat.Dense, rk.Description.stages)
	var tmp, scaled mat.Dense
	for index := range K {
		tmp.CloneFrom(xEval)
		for index2, a := range rk.Description.rungeKuttaMatrix[index] {
			if a != 0 {
				scaled.Scale(h*a, K[index2])
				tmp.Add(&tmp, &scaled)
			}
		}
		k := f(&tmp)
		if mk, nk := k.Dims(); mk != m || nk != n {
			panic(errors.New("ode: derivative shape doesn't match state shape"))
		}
		K[index] = mat.NewDense(m, n, nil)
		K[index].Copy(k)
	}

	res := mat.NewDense(m, n, nil)
	res.Copy(xBase)
	for index, k := range K {
		scaled.Scale(h*rk.Description.weights[0][index], k)
		res.Add(res, &scaled)
	}
	return res
}

// NewRK4 function returns a fourth order Runge-Kutta object.
func NewRK4() *RungeKutta {
	var temp butcherTableau
	temp.stages = 4
	temp.nodes = []float64{0, 1. / 2., 1. / 2., 1}
	temp.weights = [][]float64{{1. / 6., 1. / 3., 1. / 3., 1. / 6.}}
	temp.rungeKuttaMatrix = [][]float64{
		nil,
		{1. / 2.},
		{0, 1. / 2.},
		{0, 0, 1.},
	}
	return &RungeKutta{temp}
}

// NewEulerMethod returns a pointer to a Runge-Kutta that does the explicit
// Euler method.
func NewEulerMethod() *RungeKutta {
	var temp butcherTableau
	temp.stages = 1
	temp.nodes = []float64{0}
	temp.weights = [][]float64{{1}}
	temp.rungeKuttaMatrix = [][]float64{nil}
	return &RungeKutta{temp}
}

// NewFehlberg45 implements the Runge-Kutta-Fehlberg pair
// https://en.wikipedia.org/wiki/Runge%E2%80%93Kutta%E2%80%93Fehlberg_method.
// Step uses the fifth order weight row.
func NewFehlberg45() *RungeKutta {
	var temp butcherTableau
	temp.stages = 6
	temp.nodes = []float64{0, 1. / 4., 3. / 8., 12. / 13., 1., 1. / 2.}
	temp.weights = [][]float64{
		{16. / 135., 0, 6656. / 12825., 28561. / 56430., -9. / 50., 2. / 55.},
		{25. / 216., 0, 1408. / 2565., 2197. / 4104., -1. / 5., 0},
	}
	temp.rungeKuttaMatrix = [][]float64{
		nil,
		{1. / 4.},
		{3. / 32., 9. / 32.},
		{1932. / 2197., -7200. / 2197., 7296. / 2197.},
		{439. / 216., -8., 3680. / 513., -845. / 4104.},
		{-8. / 27., 2, -3544. / 2565., 1859. / 4104., -11. / 40.},
	}
	return &RungeKutta{temp}
}
