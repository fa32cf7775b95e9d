package lti

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNewSystemValidatesShapes(t *testing.T) {
	A := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	B := mat.NewDense(2, 1, []float64{1, 0})
	C := mat.NewDense(1, 2, []float64{1, 0})

	cases := []struct {
		name string
		cfg  Config
		a    mat.Matrix
		b    mat.Matrix
		c    mat.Matrix
		d    mat.Matrix
	}{
		{"rectangular A", Config{}, mat.NewDense(2, 3, nil), B, C, nil},
		{"short B", Config{}, A, mat.NewDense(1, 1, nil), C, nil},
		{"wide C", Config{}, A, B, mat.NewDense(1, 3, nil), nil},
		{"wrong D", Config{}, A, B, C, mat.NewDense(2, 2, nil)},
		{"negative delay", Config{Delay: -1}, A, B, C, nil},
		{"bad initial", Config{Initial: mat.NewVecDense(3, nil)}, A, B, C, nil},
		{"indefinite noise", Config{ProcessNoise: mat.NewDense(2, 2, []float64{1, 2, 2, 1})}, A, B, C, nil},
	}
	for _, tc := range cases {
		_, err := NewSystem(tc.a, tc.b, tc.c, tc.d, tc.cfg)
		assert.Error(t, err, tc.name)
	}
}

func TestStepInputDelay(t *testing.T) {
	A := mat.NewDense(1, 1, []float64{1})
	B := mat.NewDense(1, 1, []float64{1})
	C := mat.NewDense(1, 1, []float64{1})
	sys, err := NewSystem(A, B, C, nil, Config{Delay: 2})
	require.NoError(t, err)

	u := mat.NewVecDense(1, []float64{1})
	// An input entering the ring at step one drives the state only at step
	// three, so the accumulator lags the step count by the delay.
	want := []float64{0, 0, 1, 2, 3}
	for step, expect := range want {
		sys.Step(u, nil, nil)
		assert.Equal(t, expect, sys.State().AtVec(0), "step %d", step)
	}
}

func TestStepNewestSelectsFreshState(t *testing.T) {
	A := mat.NewDense(1, 1, []float64{0.5})
	B := mat.NewDense(1, 1, []float64{1})
	C := mat.NewDense(1, 1, []float64{2})

	stale, err := NewSystem(A, B, C, nil, Config{})
	require.NoError(t, err)
	fresh, err := NewSystem(A, B, C, nil, Config{Newest: true})
	require.NoError(t, err)

	u := mat.NewVecDense(1, []float64{1})
	stale.Step(u, nil, nil)
	fresh.Step(u, nil, nil)

	assert.Equal(t, 0.0, stale.Output().AtVec(0), "stale output reads the prior state")
	assert.Equal(t, 2.0, fresh.Output().AtVec(0), "fresh output reads the predicted state")
}

func TestStepExplicitNoise(t *testing.T) {
	A := mat.NewDense(1, 1, []float64{1})
	B := mat.NewDense(1, 1, []float64{0})
	C := mat.NewDense(1, 1, []float64{1})
	sys, err := NewSystem(A, B, C, nil, Config{})
	require.NoError(t, err)

	u := mat.NewVecDense(1, nil)
	sys.Step(u, mat.NewVecDense(1, []float64{0.25}), mat.NewVecDense(1, []float64{-1}))
	assert.Equal(t, 0.25, sys.State().AtVec(0))
	assert.Equal(t, -1.0, sys.Output().AtVec(0))
}

func TestAutoNoiseIsSeededAndReproducible(t *testing.T) {
	A := mat.NewDense(1, 1, []float64{0.9})
	B := mat.NewDense(1, 1, []float64{1})
	C := mat.NewDense(1, 1, []float64{1})
	Q := mat.NewDense(1, 1, []float64{0.04})

	build := func() *System {
		sys, err := NewSystem(A, B, C, nil, Config{
			AutoNoise:    true,
			ProcessNoise: Q,
			Src:          rand.NewPCG(5, 6),
		})
		require.NoError(t, err)
		return sys
	}
	first, second := build(), build()

	u := mat.NewVecDense(1, []float64{1})
	var driven bool
	for step := 0; step < 20; step++ {
		first.Step(u, nil, nil)
		second.Step(u, nil, nil)
		require.Equal(t, first.State().AtVec(0), second.State().AtVec(0), "step %d", step)
		if first.State().AtVec(0) != noiselessUnitStep(0.9, step) {
			driven = true
		}
	}
	assert.True(t, driven, "auto-noise never perturbed the run")
}

// noiselessUnitStep is the deterministic scalar response x_{k+1} = a x_k + 1
// to a constant unit input.
func noiselessUnitStep(a float64, step int) float64 {
	x := 0.0
	for k := 0; k <= step; k++ {
		x = a*x + 1
	}
	return x
}

func TestZeroCovarianceMeansNoNoise(t *testing.T) {
	A := mat.NewDense(1, 1, []float64{0.9})
	B := mat.NewDense(1, 1, []float64{1})
	C := mat.NewDense(1, 1, []float64{1})
	sys, err := NewSystem(A, B, C, nil, Config{
		AutoNoise:        true,
		ProcessNoise:     mat.NewDense(1, 1, nil),
		MeasurementNoise: mat.NewDense(1, 1, nil),
	})
	require.NoError(t, err)

	u := mat.NewVecDense(1, []float64{1})
	sys.Step(u, nil, nil)
	assert.Equal(t, 1.0, sys.State().AtVec(0))
	assert.Equal(t, 0.0, sys.Output().AtVec(0))
}

func TestResetClearsStateAndRing(t *testing.T) {
	A := mat.NewDense(1, 1, []float64{1})
	B := mat.NewDense(1, 1, []float64{1})
	C := mat.NewDense(1, 1, []float64{1})
	sys, err := NewSystem(A, B, C, nil, Config{
		Delay:   1,
		Initial: mat.NewVecDense(1, []float64{7}),
	})
	require.NoError(t, err)

	u := mat.NewVecDense(1, []float64{3})
	sys.Step(u, nil, nil)
	sys.Step(u, nil, nil)
	require.NotEqual(t, 7.0, sys.State().AtVec(0))

	sys.Reset()
	assert.Equal(t, 7.0, sys.State().AtVec(0))
	assert.Equal(t, 0.0, sys.Output().AtVec(0))

	// The ring is empty again, so the first post-reset step sees no input.
	sys.Step(u, nil, nil)
	assert.Equal(t, 7.0, sys.State().AtVec(0))
}

func TestC2DScalarClosedForm(t *testing.T) {
	const a, b, ts = -2.0, 3.0, 0.1
	Ad, Bd, err := C2D(mat.NewDense(1, 1, []float64{a}), mat.NewDense(1, 1, []float64{b}), ts)
	require.NoError(t, err)

	ead := math.Exp(a * ts)
	assert.InDelta(t, ead, Ad.At(0, 0), 1e-12)
	assert.InDelta(t, (ead-1)/a*b, Bd.At(0, 0), 1e-12)
}

func TestC2DDoubleIntegrator(t *testing.T) {
	A := mat.NewDense(2, 2, []float64{0, 1, 0, 0})
	B := mat.NewDense(2, 1, []float64{0, 1})
	const ts = 0.5
	Ad, Bd, err := C2D(A, B, ts)
	require.NoError(t, err)

	assert.InDelta(t, 1, Ad.At(0, 0), 1e-12)
	assert.InDelta(t, ts, Ad.At(0, 1), 1e-12)
	assert.InDelta(t, 1, Ad.At(1, 1), 1e-12)
	assert.InDelta(t, ts*ts/2, Bd.At(0, 0), 1e-12)
	assert.InDelta(t, ts, Bd.At(1, 0), 1e-12)
}

func TestC2DRejectsBadArguments(t *testing.T) {
	A := mat.NewDense(1, 1, []float64{1})
	B := mat.NewDense(1, 1, []float64{1})
	_, _, err := C2D(mat.NewDense(1, 2, nil), B, 0.1)
	assert.Error(t, err)
	_, _, err = C2D(A, mat.NewDense(2, 1, nil), 0.1)
	assert.Error(t, err)
	_, _, err = C2D(A, B, 0)
	assert.Error(t, err)
}

func TestFromTransferFunctionFirstOrderLag(t *testing.T) {
	const ts = 0.2
	A, B, C, D, err := FromTransferFunction([]float64{1}, []float64{1, 1}, ts)
	require.NoError(t, err)

	ead := math.Exp(-ts)
	assert.InDelta(t, ead, A.At(0, 0), 1e-12)
	assert.InDelta(t, 1-ead, B.At(0, 0), 1e-12)
	assert.Equal(t, 1.0, C.At(0, 0))
	assert.Equal(t, 0.0, D.At(0, 0))
}

func TestFromTransferFunctionBiproper(t *testing.T) {
	// (2s + 1) / (s + 1) has the direct feedthrough 2.
	_, _, C, D, err := FromTransferFunction([]float64{2, 1}, []float64{1, 1}, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 2.0, D.At(0, 0))
	assert.Equal(t, -1.0, C.At(0, 0))
}

func TestFromTransferFunctionRejectsImproper(t *testing.T) {
	_, _, _, _, err := FromTransferFunction([]float64{1, 0, 0}, []float64{1, 1}, 0.1)
	assert.Error(t, err)
	_, _, _, _, err = FromTransferFunction([]float64{1}, []float64{1}, 0.1)
	assert.Error(t, err)
	_, _, _, _, err = FromTransferFunction([]float64{1}, []float64{0, 1}, 0.1)
	assert.Error(t, err)
}
