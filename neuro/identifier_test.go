package neuro

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/dynrun/dynrun/blocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNewIdentifierValidatesConfig(t *testing.T) {
	model := blocks.NewNonSys1()

	_, err := NewIdentifier(model, 0, Config{})
	assert.Error(t, err, "non-positive sample time")

	_, err = NewIdentifier(model, 1e-3, Config{PiW: mat.NewDense(2, 2, nil)})
	assert.Error(t, err, "output gain shape")

	_, err = NewIdentifier(model, 1e-3, Config{InitialW: mat.NewDense(3, 3, nil)})
	assert.Error(t, err, "initial W shape")

	_, err = NewIdentifier(model, 1e-3, Config{Initial: mat.NewVecDense(3, nil)})
	assert.Error(t, err, "initial state length")
}

func TestWeightsAreSeeded(t *testing.T) {
	model := blocks.NewNonSys1()
	first, err := NewIdentifier(model, 1e-3, Config{Src: rand.NewPCG(1, 2)})
	require.NoError(t, err)
	second, err := NewIdentifier(model, 1e-3, Config{Src: rand.NewPCG(1, 2)})
	require.NoError(t, err)
	other, err := NewIdentifier(model, 1e-3, Config{Src: rand.NewPCG(3, 4)})
	require.NoError(t, err)

	wFirst, vFirst := first.Weights()
	wSecond, vSecond := second.Weights()
	wOther, _ := other.Weights()
	assert.True(t, mat.Equal(wFirst, wSecond))
	assert.True(t, mat.Equal(vFirst, vSecond))
	assert.False(t, mat.Equal(wFirst, wOther))
}

// With zero output weights, a perfect initial estimate and a resting input
// the identifier has nothing to correct: the whole state is stationary.
func TestUpdateAtRestIsStationary(t *testing.T) {
	model := blocks.NewNonSys1()
	id, err := NewIdentifier(model, 1e-3, Config{
		InitialW: mat.NewDense(6, 2, nil),
		InitialV: mat.NewDense(2, 5, nil),
	})
	require.NoError(t, err)

	u := mat.NewVecDense(1, nil)
	x := mat.VecDenseCopyOf(model.InitialState())
	for step := 0; step < 50; step++ {
		id.Update(u, x)
	}

	for row := 0; row < 2; row++ {
		assert.Equal(t, x.AtVec(row), id.State().AtVec(row), "estimate drifted")
		assert.Equal(t, 0.0, id.Derivative().AtVec(row))
	}
	w, v := id.Weights()
	assert.True(t, mat.Equal(mat.NewDense(6, 2, nil), w), "output weights drifted")
	assert.True(t, mat.Equal(mat.NewDense(2, 5, nil), v), "input weights drifted")
}

func TestUpdatePanicsOnShapeViolation(t *testing.T) {
	id, err := NewIdentifier(blocks.NewNonSys1(), 1e-3, Config{})
	require.NoError(t, err)
	assert.Panics(t, func() {
		id.Update(mat.NewVecDense(2, nil), mat.NewVecDense(2, nil))
	})
	assert.Panics(t, func() {
		id.Update(mat.NewVecDense(1, nil), mat.NewVecDense(1, nil))
	})
}

// The identifier rides a bounded state trajectory: the tracking feedback
// keeps the estimate close even while the weights are still learning.
func TestIdentifierTracksBoundedTrajectory(t *testing.T) {
	model := blocks.NewNonSys1()
	const h = 1e-3
	id, err := NewIdentifier(model, h, Config{Src: rand.NewPCG(7, 8)})
	require.NoError(t, err)

	// The trajectory starts on the model's initial state so the estimate
	// begins with zero tracking error.
	u := mat.NewVecDense(1, []float64{0.5})
	x := mat.NewVecDense(2, nil)
	for step := 0; step < 2000; step++ {
		tNow := float64(step) * h
		x.SetVec(0, 3*math.Cos(tNow))
		x.SetVec(1, -math.Cos(tNow))
		id.Update(u, x)
	}

	for row := 0; row < 2; row++ {
		assert.InDelta(t, x.AtVec(row), id.State().AtVec(row), 5e-2,
			"state %d tracking error too large", row)
	}
}

func TestResetRestoresWeightsAndEstimate(t *testing.T) {
	model := blocks.NewNonSys1()
	id, err := NewIdentifier(model, 1e-3, Config{Src: rand.NewPCG(9, 10)})
	require.NoError(t, err)

	w0, v0 := id.Weights()
	w0, v0 = mat.DenseCopyOf(w0), mat.DenseCopyOf(v0)
	x0 := mat.VecDenseCopyOf(id.State())

	u := mat.NewVecDense(1, []float64{1})
	x := mat.NewVecDense(2, []float64{1, 1})
	for step := 0; step < 10; step++ {
		id.Update(u, x)
	}
	require.False(t, mat.Equal(x0, id.State()))

	id.Reset()
	w, v := id.Weights()
	assert.True(t, mat.Equal(w0, w))
	assert.True(t, mat.Equal(v0, v))
	assert.True(t, mat.Equal(x0, id.State()))
	assert.True(t, mat.Equal(mat.NewVecDense(2, nil), id.Derivative()))
}

func TestProjectionOperator(t *testing.T) {
	id, err := NewIdentifier(blocks.NewNonSys1(), 1e-3, Config{
		Projection:    true,
		WeightNormMax: 1,
		Epsilon:       0.2,
	})
	require.NoError(t, err)

	update := mat.NewDense(1, 2, []float64{1, 0})

	// Inside the ball the update passes through untouched.
	inside := mat.NewDense(1, 2, []float64{0.5, 0})
	assert.True(t, mat.Equal(update, id.project(update, inside)))

	// Inward updates pass through even on the boundary.
	boundary := mat.NewDense(1, 2, []float64{-2, 0})
	assert.True(t, mat.Equal(update, id.project(update, boundary)))

	// At full overshoot an exactly radial update is cancelled.
	overshoot := math.Sqrt(1.2) // norm² = (1+epsilon) bound²
	radial := mat.NewDense(1, 2, []float64{overshoot, 0})
	projected := id.project(radial, radial)
	assert.InDelta(t, 0, projected.At(0, 0), 1e-12)
	assert.InDelta(t, 0, projected.At(0, 1), 1e-12)

	// A mixed update keeps its tangential component.
	mixed := mat.NewDense(1, 2, []float64{overshoot, 3})
	projected = id.project(mixed, radial)
	assert.InDelta(t, 0, projected.At(0, 0), 1e-12)
	assert.InDelta(t, 3, projected.At(0, 1), 1e-12)
}

func TestActivations(t *testing.T) {
	var sg Sigmoid
	assert.InDelta(t, 0.5, sg.Value(0), 1e-12)
	assert.InDelta(t, 0.25, sg.Derivative(0), 1e-12)
	assert.InDelta(t, sg.Value(2)*(1-sg.Value(2)), sg.Derivative(2), 1e-12)

	var th Tanh
	assert.InDelta(t, 0, th.Value(0), 1e-12)
	assert.InDelta(t, 1, th.Derivative(0), 1e-12)
	assert.InDelta(t, 1-th.Value(1)*th.Value(1), th.Derivative(1), 1e-12)
}
