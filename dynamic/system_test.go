package dynamic_test

import (
	"math"
	"testing"

	"github.com/dynrun/dynrun"
	"github.com/dynrun/dynrun/blocks"
	"github.com/dynrun/dynrun/dynamic"
	"github.com/dynrun/dynrun/plant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNewSystemValidatesDimensions(t *testing.T) {
	timeLine := dynrun.Span(0, 1, 0.1)

	_, err := dynamic.NewSystem(blocks.NewTwoTanks(), timeLine, dynamic.Config{
		Initial: mat.NewVecDense(3, nil),
	})
	require.Error(t, err)

	_, err = dynamic.NewSystem(blocks.NewTwoTanks(), []float64{0}, dynamic.Config{})
	require.Error(t, err)

	_, err = dynamic.NewSystem(blocks.NewTwoTanks(), timeLine, dynamic.Config{
		Approach:     dynamic.EKF,
		ProcessNoise: mat.NewDense(3, 3, nil),
	})
	require.Error(t, err)
}

func TestSimulatorRecordsHistories(t *testing.T) {
	timeLine := dynrun.Span(0, 2, 0.1)
	sys, err := dynamic.NewSystem(blocks.NewTwoTanks(), timeLine, dynamic.Config{
		Initial: mat.NewVecDense(2, []float64{10, 5}),
	})
	require.NoError(t, err)

	u := mat.NewVecDense(2, []float64{3, 3})
	for step := 0; step < len(timeLine); step++ {
		require.NoError(t, sys.Step(u, nil, nil))
	}

	assert.Equal(t, len(timeLine), sys.CurrentStep())
	assert.InDelta(t, 0.1, sys.SampleTime(), 1e-12)

	// Levels never go negative thanks to the limitation.
	states := sys.States()
	rows, cols := states.Dims()
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			assert.GreaterOrEqual(t, states.At(row, col), 0.0)
		}
	}

	// Inputs were recorded verbatim.
	assert.Equal(t, 3.0, sys.Inputs().At(0, 0))
	assert.Equal(t, 3.0, sys.Inputs().At(1, len(timeLine)-1))

	require.Error(t, sys.Step(u, nil, nil), "stepping past the end must fail")
}

func TestSimulatorModeGuards(t *testing.T) {
	timeLine := dynrun.Span(0, 1, 0.1)
	sim, err := dynamic.NewSystem(blocks.NewTwoTanks(), timeLine, dynamic.Config{})
	require.NoError(t, err)
	require.Error(t, sim.Estimate(mat.NewVecDense(2, nil), mat.NewVecDense(2, nil)))

	est, err := dynamic.NewSystem(blocks.NewTwoTanks(), timeLine, dynamic.Config{Approach: dynamic.EKF})
	require.NoError(t, err)
	require.Error(t, est.Step(mat.NewVecDense(2, nil), nil, nil))
}

func TestLorenzSimulationStaysFinite(t *testing.T) {
	timeLine := dynrun.Span(0, 5, 0.01)
	sys, err := dynamic.NewSystem(blocks.NewLorenz(), timeLine, dynamic.Config{})
	require.NoError(t, err)

	u := mat.NewVecDense(1, []float64{0})
	for step := 0; step < len(timeLine); step++ {
		require.NoError(t, sys.Step(u, nil, nil))
	}

	states := sys.States()
	rows, cols := states.Dims()
	moved := false
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			v := states.At(row, col)
			require.False(t, math.IsNaN(v) || math.IsInf(v, 0), "state blew up at [%d,%d]", row, col)
			if col > 0 && v != states.At(row, 0) {
				moved = true
			}
		}
	}
	assert.True(t, moved, "the attractor should leave its initial state")
}

func TestSimulatorResetReproducesRun(t *testing.T) {
	timeLine := dynrun.Span(0, 1, 0.01)
	sys, err := dynamic.NewSystem(blocks.NewLorenz(), timeLine, dynamic.Config{})
	require.NoError(t, err)

	u := mat.NewVecDense(1, []float64{0.5})
	for step := 0; step < len(timeLine); step++ {
		require.NoError(t, sys.Step(u, nil, nil))
	}
	first := mat.DenseCopyOf(sys.States())

	sys.Reset()
	require.Equal(t, 0, sys.CurrentStep())
	for step := 0; step < len(timeLine); step++ {
		require.NoError(t, sys.Step(u, nil, nil))
	}

	assert.True(t, mat.Equal(first, sys.States()), "reset run diverged from the first run")
}

func TestStateScopeExportsHistory(t *testing.T) {
	timeLine := dynrun.Span(0, 1, 0.1)
	sys, err := dynamic.NewSystem(blocks.NewTwoTanks(), timeLine, dynamic.Config{
		Initial: mat.NewVecDense(2, []float64{4, 2}),
	})
	require.NoError(t, err)

	u := mat.NewVecDense(2, []float64{1, 1})
	for step := 0; step < len(timeLine); step++ {
		require.NoError(t, sys.Step(u, nil, nil))
	}

	sc, err := sys.StateScope()
	require.NoError(t, err)
	assert.Equal(t, 2, sc.Count())
	assert.Equal(t, len(timeLine), sc.Steps())
	assert.Equal(t, 4.0, sc.Signals().At(0, 0))

	outputs, err := sys.OutputScope()
	require.NoError(t, err)
	assert.Equal(t, sys.Outputs().At(0, 3), outputs.Signals().At(0, 3))
}

// A solver override must change the trajectory of a stiff-ish continuous
// plant relative to plain Euler.
func TestSolverOverride(t *testing.T) {
	timeLine := dynrun.Span(0, 1, 0.05)
	rk4 := plant.RK4

	euler, err := dynamic.NewSystem(blocks.NewLorenz(), timeLine, dynamic.Config{Solver: solverPtr(plant.Euler)})
	require.NoError(t, err)
	refined, err := dynamic.NewSystem(blocks.NewLorenz(), timeLine, dynamic.Config{Solver: &rk4})
	require.NoError(t, err)

	u := mat.NewVecDense(1, []float64{0})
	for step := 0; step < len(timeLine); step++ {
		require.NoError(t, euler.Step(u, nil, nil))
		require.NoError(t, refined.Step(u, nil, nil))
	}
	assert.False(t, mat.Equal(euler.States(), refined.States()))
}

func solverPtr(s plant.Solver) *plant.Solver { return &s }
