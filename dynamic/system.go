// Package dynamic drives a plant through time. A System runs in one of
// three modes fixed at construction: plain forward simulation, extended
// Kalman filtering or unscented Kalman filtering. Each tick is one call,
// one bounded sequence of dense linear-algebra operations; the caller owns
// the clock and the stopping condition.
package dynamic

import (
	"errors"
	"fmt"

	"github.com/dynrun/dynrun/matx"
	"github.com/dynrun/dynrun/ode"
	"github.com/dynrun/dynrun/plant"
	"github.com/dynrun/dynrun/scope"
	"gonum.org/v1/gonum/mat"
)

// Approach selects the estimation recursion of an estimator instance.
type Approach int

const (
	// Simulator runs the plant forward with no estimation.
	Simulator Approach = iota
	// EKF linearizes through the plant's Jacobians.
	EKF
	// UKF propagates sigma points through the full nonlinearity.
	UKF
)

// Config carries the optional construction knobs of a System. Zero-valued
// fields take the documented defaults.
type Config struct {
	// Name appears in error messages and exported scopes. Defaults to the
	// plant's name.
	Name string
	// Initial overrides the plant's initial state.
	Initial mat.Vector
	// Solver overrides the plant's integration method. Nil keeps it.
	Solver *plant.Solver
	// Approach selects simulator or estimator mode.
	Approach Approach

	// Estimator-only knobs.

	// InitialCovariance is P at step zero. Nil means 1e3 times identity.
	InitialCovariance mat.Matrix
	// ProcessNoise is Q. Nil means identity.
	ProcessNoise mat.Matrix
	// MeasurementNoise is R. Nil means identity.
	MeasurementNoise mat.Matrix
	// Alpha is the UKF spread parameter in (0, 1]. Zero means 0.2.
	Alpha float64
	// Kappa is the UKF secondary scaling parameter. Zero means 80.
	Kappa float64
	// Beta folds prior distribution knowledge into the covariance weights.
	// Zero means 2, the Gaussian-optimal choice.
	Beta float64
}

// System steps one plant over one time line. History buffers hold every
// input, output and state of the run, one column per step; states carry one
// extra column because step k writes state k+1.
type System struct {
	model      plant.Model
	name       string
	approach   Approach
	timeLine   []float64
	sampleTime float64
	nSteps     int
	k          int
	solver     *ode.RungeKutta
	continuous bool

	inputs  *mat.Dense // n_u by N
	outputs *mat.Dense // n_y by N
	states  *mat.Dense // n_x by N+1

	// Estimator state.
	covariance *mat.Dense
	q, r       *mat.Dense
	ukf        *ukfSet

	snapshot snapshot
}

// ukfSet is the read-only unscented working set derived at construction.
type ukfSet struct {
	lambda float64
	wm     []float64
	wc     []float64
}

// snapshot captures the constructor-time values Reset restores.
type snapshot struct {
	initial    []float64
	covariance *mat.Dense
}

// NewSystem validates the configuration against the plant's declared
// dimensions and returns a ready system. Estimator instances additionally
// require covariance shapes to match.
func NewSystem(model plant.Model, timeLine []float64, cfg Config) (*System, error) {
	if len(timeLine) < 2 {
		return nil, errors.New("dynamic: time line needs at least two instants")
	}
	nx := model.StateDimension()
	nu := model.InputDimension()
	ny := model.OutputDimension()
	if nx < 1 || nu < 1 || ny < 1 {
		return nil, fmt.Errorf("dynamic: plant %q declares dimensions %d, %d, %d", model.Name(), nx, nu, ny)
	}

	name := cfg.Name
	if name == "" {
		name = model.Name()
	}

	n := len(timeLine)
	s := &System{
		model:      model,
		name:       name,
		approach:   cfg.Approach,
		timeLine:   append([]float64(nil), timeLine...),
		sampleTime: meanSampleTime(timeLine),
		nSteps:     n,
		continuous: model.TimeDomain() == plant.Continuous,
		inputs:     mat.NewDense(nu, n, nil),
		outputs:    mat.NewDense(ny, n, nil),
		states:     mat.NewDense(nx, n+1, nil),
	}

	solver := model.Solver()
	if cfg.Solver != nil {
		solver = *cfg.Solver
	}
	s.solver = solver.Method()

	initial := model.InitialState()
	if cfg.Initial != nil {
		initial = cfg.Initial
	}
	if initial.Len() != nx {
		return nil, fmt.Errorf("dynamic: %q initial state has %d entries, want %d", name, initial.Len(), nx)
	}
	x0 := make([]float64, nx)
	for index := range x0 {
		x0[index] = initial.AtVec(index)
	}
	s.states.SetCol(0, x0)

	if cfg.Approach != Simulator {
		if err := s.initEstimator(cfg, nx, ny); err != nil {
			return nil, err
		}
	}

	s.snapshot = snapshot{initial: x0}
	if s.covariance != nil {
		s.snapshot.covariance = mat.DenseCopyOf(s.covariance)
	}
	return s, nil
}

func (s *System) initEstimator(cfg Config, nx, ny int) error {
	s.covariance = matx.Scaled(nx, 1e3)
	if cfg.InitialCovariance != nil {
		if err := checkSquare(cfg.InitialCovariance, nx, s.name, "initial covariance"); err != nil {
			return err
		}
		s.covariance = mat.DenseCopyOf(cfg.InitialCovariance)
	}
	s.q = matx.Eye(nx)
	if cfg.ProcessNoise != nil {
		if err := checkSquare(cfg.ProcessNoise, nx, s.name, "process noise"); err != nil {
			return err
		}
		s.q = mat.DenseCopyOf(cfg.ProcessNoise)
	}
	s.r = matx.Eye(ny)
	if cfg.MeasurementNoise != nil {
		if err := checkSquare(cfg.MeasurementNoise, ny, s.name, "measurement noise"); err != nil {
			return err
		}
		s.r = mat.DenseCopyOf(cfg.MeasurementNoise)
	}

	if s.approach == UKF {
		alpha := cfg.Alpha
		if alpha == 0 {
			alpha = 0.2
		}
		if alpha < 0 || alpha > 1 {
			return fmt.Errorf("dynamic: %q alpha %v outside (0, 1]", s.name, alpha)
		}
		kappa := cfg.Kappa
		if kappa == 0 {
			kappa = 80
		}
		if kappa < 0 {
			return fmt.Errorf("dynamic: %q kappa %v is negative", s.name, kappa)
		}
		beta := cfg.Beta
		if beta == 0 {
			beta = 2
		}
		s.ukf = newUKFSet(nx, alpha, kappa, beta)
	}
	return nil
}

// newUKFSet derives the scaling parameter and the mean and covariance
// weight vectors. The two vectors are distinct slices: only the covariance
// weight of the center point carries the extra skew term.
func newUKFSet(n int, alpha, kappa, beta float64) *ukfSet {
	lambda := alpha*alpha*(float64(n)+kappa) - float64(n)
	wm := make([]float64, 2*n+1)
	for index := range wm {
		wm[index] = 1 / (2 * (float64(n) + lambda))
	}
	wm[0] = lambda / (float64(n) + lambda)
	wc := append([]float64(nil), wm...)
	wc[0] += 1 - alpha*alpha + beta
	return &ukfSet{lambda: lambda, wm: wm, wc: wc}
}

// Name returns the system's name.
func (s *System) Name() string { return s.name }

// CurrentStep returns the step counter k.
func (s *System) CurrentStep() int { return s.k }

// SampleTime returns the mean sample period of the time line.
func (s *System) SampleTime() float64 { return s.sampleTime }

// TimeLine returns the sample instants backing the run.
func (s *System) TimeLine() []float64 { return s.timeLine }

// States returns the state history, one extra column past the time line.
func (s *System) States() mat.Matrix { return s.states }

// Outputs returns the output history.
func (s *System) Outputs() mat.Matrix { return s.outputs }

// Inputs returns the input history.
func (s *System) Inputs() mat.Matrix { return s.inputs }

// State returns state column k as a fresh vector.
func (s *System) State(k int) *mat.VecDense {
	return colVec(s.states, k)
}

// Covariance returns the current posterior covariance of an estimator, nil
// for a simulator.
func (s *System) Covariance() mat.Matrix { return s.covariance }

// Step runs one simulator tick: record the input, limit, integrate or
// evaluate the dynamics, limit again, measure from the pre-update history,
// then store state k+1 and output k with the externally supplied additive
// noise. Nil noise vectors mean none.
func (s *System) Step(u, xNoise, yNoise mat.Vector) error {
	if s.approach != Simulator {
		return fmt.Errorf("dynamic: %q is an estimator, use Estimate", s.name)
	}
	if s.k >= s.nSteps {
		return fmt.Errorf("dynamic: %q stepped past the end of the time line", s.name)
	}
	t := s.timeLine[s.k]
	s.setColumn(s.inputs, s.k, u, "input")

	x := s.advance(nil, s.State(s.k), t)

	y := s.model.Measurement(s.states, s.inputs, s.k, s.sampleTime, t)
	if y.Len() != s.model.OutputDimension() {
		panic(fmt.Errorf("dynamic: %q measurement returned %d entries, want %d",
			s.name, y.Len(), s.model.OutputDimension()))
	}

	addInPlace(x, xNoise)
	yNoisy := mat.NewVecDense(y.Len(), nil)
	yNoisy.CopyVec(y)
	addInPlace(yNoisy, yNoise)

	s.states.SetCol(s.k+1, rawVec(x))
	s.outputs.SetCol(s.k, rawVec(yNoisy))
	s.k++
	return nil
}

// Estimate runs one estimator tick with the plant's true input and measured
// output. An output containing NaN marks a missing measurement: the
// posterior equals the prediction on such ticks. Numerical failures in the
// covariance factorization or gain computation surface as errors.
func (s *System) Estimate(u, y mat.Vector) error {
	switch s.approach {
	case EKF:
		return s.stepEKF(u, y)
	case UKF:
		return s.stepUKF(u, y)
	}
	return fmt.Errorf("dynamic: %q is a simulator, use Step", s.name)
}

// advance computes the next state from the history at step k: pre-update
// limitation over the full history, one integrator step (continuous) or a
// direct evaluation (discrete), post-update limitation on the result. A
// non-nil xCol replaces state column k before limiting, which is how sigma
// points travel through the same pipeline. xBase is the integration base.
func (s *System) advance(xCol, xBase mat.Vector, t float64) *mat.VecDense {
	nx := s.model.StateDimension()
	hist := mat.DenseCopyOf(s.states)
	if xCol != nil {
		hist.SetCol(s.k, rawVec(xCol))
	}
	limited := s.model.Limit(hist, plant.PreUpdate)

	var next *mat.VecDense
	if s.continuous {
		scratch := mat.DenseCopyOf(limited)
		eval := func(x mat.Vector) mat.Vector {
			scratch.SetCol(s.k, rawVec(x))
			dx := s.model.Dynamics(scratch, s.inputs, s.k, s.sampleTime, t)
			if dx.Len() != nx {
				panic(fmt.Errorf("dynamic: %q dynamics returned %d entries, want %d", s.name, dx.Len(), nx))
			}
			return dx
		}
		next = s.solver.Step(eval, colVec(limited, s.k), xBase, s.sampleTime)
	} else {
		x := s.model.Dynamics(limited, s.inputs, s.k, s.sampleTime, t)
		if x.Len() != nx {
			panic(fmt.Errorf("dynamic: %q dynamics returned %d entries, want %d", s.name, x.Len(), nx))
		}
		next = mat.NewVecDense(nx, nil)
		next.CopyVec(x)
	}

	column := mat.NewDense(nx, 1, rawVec(next))
	column = s.model.Limit(column, plant.PostUpdate)
	return colVec(column, 0)
}

// StateScope exports the state history over the time line (the extra
// trailing column is dropped).
func (s *System) StateScope() (*scope.Scope, error) {
	nx := s.model.StateDimension()
	return scope.FromSignals(s.timeLine, s.states.Slice(0, nx, 0, s.nSteps), scope.Config{Name: s.name + " states"})
}

// OutputScope exports the output history over the time line.
func (s *System) OutputScope() (*scope.Scope, error) {
	return scope.FromSignals(s.timeLine, s.outputs, scope.Config{Name: s.name + " outputs"})
}

// InputScope exports the input history over the time line.
func (s *System) InputScope() (*scope.Scope, error) {
	return scope.FromSignals(s.timeLine, s.inputs, scope.Config{Name: s.name + " inputs"})
}

// Reset rewinds the step counter and restores the initial state and
// covariance. The history buffers are kept and overwritten by the next run.
func (s *System) Reset() {
	s.k = 0
	s.states.SetCol(0, s.snapshot.initial)
	if s.snapshot.covariance != nil {
		s.covariance.Copy(s.snapshot.covariance)
	}
}

// setColumn writes a caller-supplied vector into a history buffer. Shape
// violations on the live data path are contract violations.
func (s *System) setColumn(buffer *mat.Dense, k int, v mat.Vector, what string) {
	rows, _ := buffer.Dims()
	if v.Len() != rows {
		panic(fmt.Errorf("dynamic: %q %s has %d entries, want %d", s.name, what, v.Len(), rows))
	}
	buffer.SetCol(k, rawVec(v))
}

func meanSampleTime(timeLine []float64) float64 {
	sum := 0.0
	for index := 1; index < len(timeLine); index++ {
		sum += timeLine[index] - timeLine[index-1]
	}
	return sum / float64(len(timeLine)-1)
}

func checkSquare(m mat.Matrix, n int, name, what string) error {
	rows, cols := m.Dims()
	if rows != n || cols != n {
		return fmt.Errorf("dynamic: %q %s is %dx%d, want %dx%d", name, what, rows, cols, n, n)
	}
	return nil
}

func colVec(m mat.Matrix, col int) *mat.VecDense {
	rows, _ := m.Dims()
	res := mat.NewVecDense(rows, nil)
	for index := 0; index < rows; index++ {
		res.SetVec(index, m.At(index, col))
	}
	return res
}

func rawVec(v mat.Vector) []float64 {
	res := make([]float64, v.Len())
	for index := range res {
		res[index] = v.AtVec(index)
	}
	return res
}

func addInPlace(dst *mat.VecDense, v mat.Vector) {
	if v == nil {
		return
	}
	if v.Len() != dst.Len() {
		panic(fmt.Errorf("dynamic: noise vector has %d entries, want %d", v.Len(), dst.Len()))
	}
	dst.AddVec(dst, v)
}
