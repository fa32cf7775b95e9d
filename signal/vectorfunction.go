// Package signal provides scalar-function-times-vector input generators.
// Drivers and tests use them to synthesize the input sequences fed to the
// simulation engine one tick at a time.
package signal

import (
	"gonum.org/v1/gonum/mat"
)

// VectorFunction decomposes a vector valued input Bu(t) into a scalar
// function U(t) and a constant direction B. In the state space model
//
//	x'(t) = A x(t) + B U(t)
//
// Bu(t) is the input vector field.
type VectorFunction struct {
	U func(float64) float64
	B mat.Vector
}

// NewInput returns a VectorFunction initialized with u(t) and B.
func NewInput(u func(float64) float64, B mat.Vector) VectorFunction {
	return VectorFunction{u, B}
}

// Value returns the vectorial function value at time t.
func (vf VectorFunction) Value(t float64) *mat.VecDense {
	var res mat.VecDense
	res.CloneFromVec(vf.B)
	res.ScaleVec(vf.U(t), &res)
	return &res
}

// Bu is an alias for Value, reading as the Bu(t) term of a state space model.
func (vf VectorFunction) Bu(t float64) *mat.VecDense {
	return vf.Value(t)
}

// Sample evaluates the function on a whole time line, one column per sample.
func (vf VectorFunction) Sample(timeLine []float64) *mat.Dense {
	m := vf.B.Len()
	res := mat.NewDense(m, len(timeLine), nil)
	for index, t := range timeLine {
		res.SetCol(index, vf.Value(t).RawVector().Data)
	}
	return res
}

// Superpose sums several vector functions on a shared time line.
func Superpose(timeLine []float64, fns ...VectorFunction) *mat.Dense {
	if len(fns) == 0 {
		panic("signal: no functions to superpose")
	}
	res := fns[0].Sample(timeLine)
	var tmp mat.Dense
	for _, fn := range fns[1:] {
		tmp.CloneFrom(fn.Sample(timeLine))
		res.Add(res, &tmp)
	}
	return res
}
