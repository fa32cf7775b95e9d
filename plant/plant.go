// Package plant defines the contract every dynamical model must satisfy to
// be driven by the simulation/estimation engine: declared dimensions, time
// domain, solver selection, and the dynamics, measurement, limitation and
// Jacobian functions.
package plant

import (
	"fmt"

	"github.com/dynrun/dynrun/ode"
	"gonum.org/v1/gonum/mat"
)

// TimeDomain tags a model as continuous or discrete time.
type TimeDomain int

const (
	// Continuous models return state derivatives and are integrated.
	Continuous TimeDomain = iota
	// Discrete models return the next state directly.
	Discrete
)

// Phase selects when a limitation function is applied.
type Phase int

const (
	// PreUpdate runs before the dynamics are evaluated.
	PreUpdate Phase = iota
	// PostUpdate runs on the freshly computed state.
	PostUpdate
)

// Solver selects the integration method for continuous models.
type Solver int

const (
	Euler Solver = iota
	RK4
	Fehlberg45
)

// Method returns the Runge-Kutta description for the solver.
func (s Solver) Method() *ode.RungeKutta {
	switch s {
	case Euler:
		return ode.NewEulerMethod()
	case RK4:
		return ode.NewRK4()
	case Fehlberg45:
		return ode.NewFehlberg45()
	}
	panic(fmt.Errorf("plant: unknown solver %d", s))
}

// Jacobians bundles the linearization of a model at one step,
//
//	dx = A x + L w        (w is the process noise)
//	y  = H x + M v        (v is the measurement noise)
//
// B and D are the input maps of the state and output equations. L and M are
// required only when the model is used by an estimator.
type Jacobians struct {
	A, B, H, D, L, M *mat.Dense
}

// Model is the plant contract. The x and u arguments of the state functions
// are the engine's full history buffers, one column per step, indexed by k;
// a model reads column k (and earlier columns when it needs them).
//
// Dimensions declared by the model must match the shapes returned by every
// function. Violated shapes are a fatal contract violation, not a silently
// broadcast operation.
type Model interface {
	// Name appears in logs and plot titles.
	Name() string
	// StateDimension is the number of states.
	StateDimension() int
	// InputDimension is the number of inputs.
	InputDimension() int
	// OutputDimension is the number of measurements.
	OutputDimension() int
	// TimeDomain tags the state equations as continuous or discrete.
	TimeDomain() TimeDomain
	// Solver selects the integration method (continuous models only).
	Solver() Solver
	// InitialState is the state at the first sample instant.
	InitialState() mat.Vector
	// Dynamics returns dx (continuous) or the next state (discrete) at
	// step k, sample time dt and time t.
	Dynamics(x, u mat.Matrix, k int, dt, t float64) mat.Vector
	// Measurement returns y at step k.
	Measurement(x, u mat.Matrix, k int, dt, t float64) mat.Vector
	// Limit enforces physical constraints on the state history. It is
	// applied both before the dynamics evaluation and to the freshly
	// computed state, must be idempotent, and must have no side effects
	// beyond the returned matrix.
	Limit(x *mat.Dense, phase Phase) *mat.Dense
	// Jacobians linearizes the model at step k.
	Jacobians(x, u mat.Matrix, k int, dt, t float64) Jacobians
}

// GainModel is the slice of the contract the adaptive neural identifier
// needs: the known input-gain term g(x) of dynamics of the form
// dx = f(x) + g(x) u, with f unknown.
type GainModel interface {
	StateDimension() int
	InputDimension() int
	InitialState() mat.Vector
	// Gain returns g(x), shaped states by inputs.
	Gain(x mat.Vector) mat.Matrix
}

// Validate checks the jacobian shapes against declared dimensions. A, L must
// be nx by nx (L square in the additive-noise convention), H ny by nx and M
// ny by ny.
func (j Jacobians) Validate(nx, ny int) error {
	if r, c := j.A.Dims(); r != nx || c != nx {
		return fmt.Errorf("plant: jacobian A is %dx%d, want %dx%d", r, c, nx, nx)
	}
	if r, c := j.H.Dims(); r != ny || c != nx {
		return fmt.Errorf("plant: jacobian H is %dx%d, want %dx%d", r, c, ny, nx)
	}
	if r, _ := j.L.Dims(); r != nx {
		return fmt.Errorf("plant: noise map L has %d rows, want %d", r, nx)
	}
	if r, _ := j.M.Dims(); r != ny {
		return fmt.Errorf("plant: noise map M has %d rows, want %d", r, ny)
	}
	return nil
}
