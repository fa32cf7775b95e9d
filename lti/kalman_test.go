package lti

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func scalarFilter(t *testing.T, q, r float64) *KalmanFilter {
	t.Helper()
	f, err := NewKalmanFilter(
		mat.NewDense(1, 1, []float64{0.9}),
		mat.NewDense(1, 1, []float64{1}),
		mat.NewDense(1, 1, []float64{1}),
		nil,
		FilterConfig{
			ProcessNoise:     mat.NewDense(1, 1, []float64{q}),
			MeasurementNoise: mat.NewDense(1, 1, []float64{r}),
		})
	require.NoError(t, err)
	return f
}

func TestNewKalmanFilterValidatesShapes(t *testing.T) {
	A := mat.NewDense(2, 2, nil)
	B := mat.NewDense(2, 1, nil)
	C := mat.NewDense(1, 2, nil)

	_, err := NewKalmanFilter(mat.NewDense(2, 1, nil), B, C, nil, FilterConfig{})
	assert.Error(t, err)
	_, err = NewKalmanFilter(A, B, C, mat.NewDense(2, 1, nil), FilterConfig{})
	assert.Error(t, err)
	_, err = NewKalmanFilter(A, B, C, nil, FilterConfig{X0: mat.NewVecDense(1, nil)})
	assert.Error(t, err)
	_, err = NewKalmanFilter(A, B, C, nil, FilterConfig{ProcessNoise: mat.NewDense(1, 1, nil)})
	assert.Error(t, err)
}

func TestUpdateScalarStep(t *testing.T) {
	f := scalarFilter(t, 0.01, 0.1)
	// Shrink the huge default initial covariance to hand-checkable numbers.
	f.pPs = mat.NewDense(1, 1, []float64{1})

	u := mat.NewVecDense(1, []float64{1})
	y := mat.NewVecDense(1, []float64{2})
	require.NoError(t, f.Update(u, y))

	// Predict: x = 0.9*0 + 1 = 1, P = 0.81 + 0.01 = 0.82.
	assert.InDelta(t, 1.0, f.Prior().AtVec(0), 1e-12)
	assert.InDelta(t, 0.82, f.PriorCovariance().At(0, 0), 1e-12)

	// Correct: K = 0.82/0.92, res = 1, x = 1 + K.
	gain := 0.82 / 0.92
	assert.InDelta(t, gain, f.Gain().At(0, 0), 1e-12)
	assert.InDelta(t, 1.0, f.Residual().AtVec(0), 1e-12)
	assert.InDelta(t, 1+gain, f.Posterior().AtVec(0), 1e-12)
	assert.InDelta(t, (1-gain)*0.82, f.PosteriorCovariance().At(0, 0), 1e-12)
}

func TestUpdateTracksNoiselessSystem(t *testing.T) {
	A := mat.NewDense(2, 2, []float64{0.9, 0.1, 0, 0.8})
	B := mat.NewDense(2, 1, []float64{1, 0.5})
	C := mat.NewDense(1, 2, []float64{1, 1})

	sys, err := NewSystem(A, B, C, nil, Config{Newest: true})
	require.NoError(t, err)
	f, err := NewFilterForSystem(sys, FilterConfig{})
	require.NoError(t, err)

	// With identical initial states and no noise the residual is zero all
	// the way and the posterior rides the true state exactly.
	for step := 0; step < 25; step++ {
		u := mat.NewVecDense(1, []float64{float64(step % 3)})
		sys.Step(u, nil, nil)
		y := mat.NewVecDense(1, nil)
		y.CopyVec(sys.Output())
		require.NoError(t, f.Update(u, y))

		assert.InDelta(t, 0, f.Residual().AtVec(0), 1e-9, "step %d", step)
		for row := 0; row < 2; row++ {
			assert.InDelta(t, sys.State().AtVec(row), f.Posterior().AtVec(row), 1e-9,
				"state %d at step %d", row, step)
		}
	}
}

func TestUpdateSingularInnovationFails(t *testing.T) {
	f, err := NewKalmanFilter(
		mat.NewDense(1, 1, []float64{1}),
		mat.NewDense(1, 1, []float64{1}),
		mat.NewDense(1, 1, []float64{0}),
		nil,
		FilterConfig{MeasurementNoise: mat.NewDense(1, 1, nil)})
	require.NoError(t, err)

	before := f.Posterior().AtVec(0)
	err = f.Update(mat.NewVecDense(1, []float64{1}), mat.NewVecDense(1, []float64{1}))
	require.Error(t, err)
	assert.Equal(t, before, f.Posterior().AtVec(0), "a failed tick must not move the state")
}

func TestSteadyStateSolvesDARE(t *testing.T) {
	const q, r = 0.01, 0.1
	f := scalarFilter(t, q, r)

	pPr, s, k, err := f.SteadyState(Recursion{})
	require.NoError(t, err)

	// Plug the fixed point back into
	// P = a² P - a² P² / (P + r) + q.
	p := pPr.At(0, 0)
	const a = 0.9
	residual := a*a*p - a*a*p*p/(p+r) + q - p
	assert.InDelta(t, 0, residual, 1e-9)

	assert.InDelta(t, p+r, s.At(0, 0), 1e-12)
	assert.InDelta(t, p/(p+r), k.At(0, 0), 1e-12)
}

func TestUpdateConvergesToSteadyState(t *testing.T) {
	f := scalarFilter(t, 0.01, 0.1)
	pPr, _, _, err := f.SteadyState(Recursion{})
	require.NoError(t, err)

	u := mat.NewVecDense(1, []float64{0})
	y := mat.NewVecDense(1, []float64{0})
	last := math.Inf(1)
	for step := 0; step < 200; step++ {
		require.NoError(t, f.Update(u, y))
		distance := math.Abs(f.PriorCovariance().At(0, 0) - pPr.At(0, 0))
		assert.LessOrEqual(t, distance, last+1e-12, "diverged at step %d", step)
		last = distance
	}
	assert.InDelta(t, pPr.At(0, 0), f.PriorCovariance().At(0, 0), 1e-8)
}

func TestSteadyStateRespectsIterationCap(t *testing.T) {
	f := scalarFilter(t, 0.01, 0.1)
	_, _, _, err := f.SteadyState(Recursion{Precision: 1e-15, MaxIterations: 2})
	assert.Error(t, err)
}

func TestFilterResetRestoresInitialState(t *testing.T) {
	f := scalarFilter(t, 0.01, 0.1)
	initialP := f.PosteriorCovariance().At(0, 0)

	u := mat.NewVecDense(1, []float64{1})
	y := mat.NewVecDense(1, []float64{1})
	require.NoError(t, f.Update(u, y))
	require.NotEqual(t, initialP, f.PosteriorCovariance().At(0, 0))

	f.Reset()
	assert.Equal(t, 0.0, f.Posterior().AtVec(0))
	assert.Equal(t, initialP, f.PosteriorCovariance().At(0, 0))
}
