// Package lti simulates discrete-time linear systems and estimates their
// states with a linear Kalman filter. Systems are plain (A, B, C, D)
// quadruples; continuous descriptions enter through C2D or
// FromTransferFunction before construction.
package lti

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/dynrun/dynrun/matx"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Config carries the optional construction knobs of a System.
type Config struct {
	// Name appears in error messages.
	Name string
	// SampleTime of the discrete recursion. Zero means 1.
	SampleTime float64
	// Initial state; nil means zero.
	Initial mat.Vector
	// Delay is the input delay in whole steps.
	Delay int
	// Newest computes the output from the freshly predicted state instead
	// of the prior one.
	Newest bool
	// AutoNoise draws process and measurement noise from the configured
	// covariances on every step.
	AutoNoise bool
	// ProcessNoise is Q; nil means none.
	ProcessNoise mat.Matrix
	// MeasurementNoise is R; nil means none.
	MeasurementNoise mat.Matrix
	// Src seeds the auto-noise draws. Nil falls back to a package-shared
	// deterministic source.
	Src rand.Source
}

var defaultSrc = rand.NewPCG(11, 12)

// System is one discrete-time linear state-space system,
//
//	x_{k+1} = A x_k + B u_{k-delay}
//	y_k     = C x_k + D u_{k-delay}
//
// with optional synthesized Gaussian process and measurement noise.
type System struct {
	name       string
	a, b, c, d *mat.Dense
	nx, nu, ny int
	sampleTime float64
	delay      int
	newest     bool
	autoNoise  bool
	q, r       *mat.Dense
	qChol      *mat.TriDense
	rChol      *mat.TriDense
	normal     distuv.Normal

	// ring holds the last delay+1 inputs, oldest in column 0.
	ring   *mat.Dense
	state  *mat.VecDense
	output *mat.VecDense

	initial []float64
}

// NewSystem validates the quadruple and the configuration and returns a
// ready system. A nil D becomes a zero matrix of the right shape. Non
// positive-definite noise covariances are a construction error.
func NewSystem(A, B, C, D mat.Matrix, cfg Config) (*System, error) {
	name := cfg.Name
	if name == "" {
		name = "LTI system"
	}
	nx, cA := A.Dims()
	if nx != cA {
		return nil, fmt.Errorf("lti: %q A is %dx%d, want square", name, nx, cA)
	}
	rB, nu := B.Dims()
	if rB != nx {
		return nil, fmt.Errorf("lti: %q B has %d rows, want %d", name, rB, nx)
	}
	ny, cC := C.Dims()
	if cC != nx {
		return nil, fmt.Errorf("lti: %q C has %d columns, want %d", name, cC, nx)
	}
	d := mat.NewDense(ny, nu, nil)
	if D != nil {
		rD, cD := D.Dims()
		if rD != ny || cD != nu {
			return nil, fmt.Errorf("lti: %q D is %dx%d, want %dx%d", name, rD, cD, ny, nu)
		}
		d.Copy(D)
	}
	if cfg.Delay < 0 {
		return nil, fmt.Errorf("lti: %q negative delay %d", name, cfg.Delay)
	}

	sampleTime := cfg.SampleTime
	if sampleTime == 0 {
		sampleTime = 1
	}

	s := &System{
		name:       name,
		a:          mat.DenseCopyOf(A),
		b:          mat.DenseCopyOf(B),
		c:          mat.DenseCopyOf(C),
		d:          d,
		nx:         nx,
		nu:         nu,
		ny:         ny,
		sampleTime: sampleTime,
		delay:      cfg.Delay,
		newest:     cfg.Newest,
		autoNoise:  cfg.AutoNoise,
		ring:       mat.NewDense(nu, cfg.Delay+1, nil),
		state:      mat.NewVecDense(nx, nil),
		output:     mat.NewVecDense(ny, nil),
	}

	src := cfg.Src
	if src == nil {
		src = defaultSrc
	}
	s.normal = distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	var err error
	if cfg.ProcessNoise != nil {
		if s.q, s.qChol, err = noiseFactor(cfg.ProcessNoise, nx, name, "process noise"); err != nil {
			return nil, err
		}
	}
	if cfg.MeasurementNoise != nil {
		if s.r, s.rChol, err = noiseFactor(cfg.MeasurementNoise, ny, name, "measurement noise"); err != nil {
			return nil, err
		}
	}

	if cfg.Initial != nil {
		if cfg.Initial.Len() != nx {
			return nil, fmt.Errorf("lti: %q initial state has %d entries, want %d", name, cfg.Initial.Len(), nx)
		}
		s.state.CopyVec(cfg.Initial)
	}
	s.initial = make([]float64, nx)
	for index := range s.initial {
		s.initial[index] = s.state.AtVec(index)
	}
	return s, nil
}

// noiseFactor validates a covariance and returns it together with its lower
// Cholesky factor. An all-zero covariance means no noise and factors to nil.
func noiseFactor(cov mat.Matrix, n int, name, what string) (*mat.Dense, *mat.TriDense, error) {
	rows, cols := cov.Dims()
	if rows != n || cols != n {
		return nil, nil, fmt.Errorf("lti: %q %s is %dx%d, want %dx%d", name, what, rows, cols, n, n)
	}
	dense := mat.DenseCopyOf(cov)
	if isZero(dense) {
		return dense, nil, nil
	}
	var chol mat.Cholesky
	if !chol.Factorize(matx.SymFrom(dense)) {
		return nil, nil, fmt.Errorf("lti: %q %s is not positive definite", name, what)
	}
	var lower mat.TriDense
	chol.LTo(&lower)
	return dense, &lower, nil
}

func isZero(m *mat.Dense) bool {
	rows, cols := m.Dims()
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			if m.At(row, col) != 0 {
				return false
			}
		}
	}
	return true
}

// Name returns the system's name.
func (s *System) Name() string { return s.name }

// StateDimension returns the number of states.
func (s *System) StateDimension() int { return s.nx }

// InputDimension returns the number of inputs.
func (s *System) InputDimension() int { return s.nu }

// OutputDimension returns the number of outputs.
func (s *System) OutputDimension() int { return s.ny }

// SampleTime returns the sample period of the recursion.
func (s *System) SampleTime() float64 { return s.sampleTime }

// State returns the current state.
func (s *System) State() mat.Vector { return s.state }

// Output returns the last computed output.
func (s *System) Output() mat.Vector { return s.output }

// Matrices returns the (A, B, C, D) quadruple backing the system.
func (s *System) Matrices() (A, B, C, D mat.Matrix) {
	return s.a, s.b, s.c, s.d
}

// NoiseCovariances returns Q and R; nil means none configured.
func (s *System) NoiseCovariances() (Q, R mat.Matrix) {
	if s.q == nil && s.r == nil {
		return nil, nil
	}
	var q, r mat.Matrix
	if s.q != nil {
		q = s.q
	}
	if s.r != nil {
		r = s.r
	}
	return q, r
}

// Step advances the system one tick: the delay ring shifts and takes u, the
// stale end of the ring drives the update, the output comes from the prior
// or fresh state per the Newest flag. With auto-noise on, the configured
// covariances synthesize the disturbances and the explicit noise vectors
// are ignored; otherwise non-nil xNoise and yNoise add directly.
func (s *System) Step(u, xNoise, yNoise mat.Vector) {
	if u.Len() != s.nu {
		panic(fmt.Errorf("lti: %q input has %d entries, want %d", s.name, u.Len(), s.nu))
	}

	// Shift the ring one column toward the past and append u.
	for col := 0; col < s.delay; col++ {
		for row := 0; row < s.nu; row++ {
			s.ring.Set(row, col, s.ring.At(row, col+1))
		}
	}
	for row := 0; row < s.nu; row++ {
		s.ring.Set(row, s.delay, u.AtVec(row))
	}
	delayed := mat.NewVecDense(s.nu, nil)
	for row := 0; row < s.nu; row++ {
		delayed.SetVec(row, s.ring.At(row, 0))
	}

	next := mat.NewVecDense(s.nx, nil)
	next.MulVec(s.a, s.state)
	var bu mat.VecDense
	bu.MulVec(s.b, delayed)
	next.AddVec(next, &bu)

	if s.autoNoise && s.qChol != nil {
		next.AddVec(next, s.draw(s.qChol, s.nx))
	} else if xNoise != nil {
		next.AddVec(next, xNoise)
	}

	base := s.state
	if s.newest {
		base = next
	}
	y := mat.NewVecDense(s.ny, nil)
	y.MulVec(s.c, base)
	var du mat.VecDense
	du.MulVec(s.d, delayed)
	y.AddVec(y, &du)

	if s.autoNoise && s.rChol != nil {
		y.AddVec(y, s.draw(s.rChol, s.ny))
	} else if yNoise != nil {
		y.AddVec(y, yNoise)
	}

	s.state = next
	s.output = y
}

// draw samples factor times a standard normal vector.
func (s *System) draw(factor *mat.TriDense, n int) *mat.VecDense {
	xi := mat.NewVecDense(n, nil)
	for index := 0; index < n; index++ {
		xi.SetVec(index, s.normal.Rand())
	}
	res := mat.NewVecDense(n, nil)
	res.MulVec(factor, xi)
	return res
}

// Reset restores the initial state and clears the delay ring and output.
func (s *System) Reset() {
	s.state = mat.NewVecDense(s.nx, append([]float64(nil), s.initial...))
	s.output = mat.NewVecDense(s.ny, nil)
	s.ring.Zero()
}

// C2D discretizes a continuous pair (A, B) with a zero-order hold over the
// sample period ts using the augmented matrix exponential
//
//	exp([A B; 0 0] ts) = [Ad Bd; 0 I].
func C2D(A, B mat.Matrix, ts float64) (Ad, Bd *mat.Dense, err error) {
	nx, cA := A.Dims()
	if nx != cA {
		return nil, nil, fmt.Errorf("lti: discretizing a %dx%d A, want square", nx, cA)
	}
	rB, nu := B.Dims()
	if rB != nx {
		return nil, nil, fmt.Errorf("lti: discretizing a B with %d rows, want %d", rB, nx)
	}
	if ts <= 0 {
		return nil, nil, fmt.Errorf("lti: non-positive sample period %v", ts)
	}

	n := nx + nu
	aug := mat.NewDense(n, n, nil)
	for row := 0; row < nx; row++ {
		for col := 0; col < nx; col++ {
			aug.Set(row, col, ts*A.At(row, col))
		}
		for col := 0; col < nu; col++ {
			aug.Set(row, nx+col, ts*B.At(row, col))
		}
	}
	var expm mat.Dense
	expm.Exp(aug)

	Ad = mat.NewDense(nx, nx, nil)
	Ad.Copy(expm.Slice(0, nx, 0, nx))
	Bd = mat.NewDense(nx, nu, nil)
	Bd.Copy(expm.Slice(0, nx, nx, n))
	return Ad, Bd, nil
}

// FromTransferFunction realizes the single-input single-output transfer
// function num(s)/den(s) in controllable canonical form and discretizes it
// over ts. Coefficients are ordered from the highest power of s down.
func FromTransferFunction(num, den []float64, ts float64) (A, B, C, D *mat.Dense, err error) {
	if len(den) < 2 {
		return nil, nil, nil, nil, errors.New("lti: denominator needs at least first order")
	}
	if len(num) > len(den) {
		return nil, nil, nil, nil, errors.New("lti: improper transfer function")
	}
	if den[0] == 0 {
		return nil, nil, nil, nil, errors.New("lti: zero leading denominator coefficient")
	}

	n := len(den) - 1
	// Normalize so the denominator is monic and pad the numerator to the
	// denominator's length.
	a := make([]float64, n)
	for index := 0; index < n; index++ {
		a[index] = den[index+1] / den[0]
	}
	b := make([]float64, n+1)
	offset := len(den) - len(num)
	for index, coeff := range num {
		b[offset+index] = coeff / den[0]
	}

	cont := mat.NewDense(n, n, nil)
	for row := 0; row < n-1; row++ {
		cont.Set(row, row+1, 1)
	}
	for col := 0; col < n; col++ {
		cont.Set(n-1, col, -a[n-1-col])
	}
	contB := mat.NewDense(n, 1, nil)
	contB.Set(n-1, 0, 1)

	C = mat.NewDense(1, n, nil)
	for col := 0; col < n; col++ {
		C.Set(0, col, b[n-col]-b[0]*a[n-1-col])
	}
	D = mat.NewDense(1, 1, []float64{b[0]})

	A, B, err = C2D(cont, contB, ts)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return A, B, C, D, nil
}
