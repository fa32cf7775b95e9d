package neuro

import "math"

// Activation is the neuron nonlinearity and its derivative.
type Activation interface {
	Value(x float64) float64
	Derivative(x float64) float64
}

// Sigmoid is the logistic function 1/(1+e^-x), the default activation.
type Sigmoid struct{}

func (Sigmoid) Value(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func (Sigmoid) Derivative(x float64) float64 {
	s := 1 / (1 + math.Exp(-x))
	return s * (1 - s)
}

// Tanh is the hyperbolic tangent activation.
type Tanh struct{}

func (Tanh) Value(x float64) float64 {
	return math.Tanh(x)
}

func (Tanh) Derivative(x float64) float64 {
	t := math.Tanh(x)
	return 1 - t*t
}
