// Package neuro implements an adaptive neural identifier: a single hidden
// layer network that learns the unknown drift term of a nonlinear system
// online while tracking its state. The estimator follows Kamalapurkar et
// al., Reinforcement Learning for Optimal Feedback Control, section 3.2.
// Only the input-gain map g(x) of the plant needs to be known.
package neuro

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/dynrun/dynrun/ode"
	"github.com/dynrun/dynrun/plant"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Config carries the tuning knobs of an Identifier. Zero-valued numeric
// fields take the documented defaults.
type Config struct {
	// Name appears in error messages.
	Name string
	// Solver integrates the four update laws. Defaults to Euler.
	Solver plant.Solver
	// Initial overrides the plant's initial state as the estimate at t=0.
	Initial mat.Vector
	// Neurons is the hidden layer width L. Zero means 5.
	Neurons int
	// WeightNormMax bounds the weight norms under projection. Zero means 1e16.
	WeightNormMax float64
	// Epsilon is the projection transition width. Zero means 0.2.
	Epsilon float64
	// K is the state tracking gain. Zero means 800.
	K float64
	// Alpha scales the auxiliary feedback gain. Zero means 300.
	Alpha float64
	// Gamma adds to the auxiliary feedback gain. Zero means 5.
	Gamma float64
	// Beta scales the sign term of the auxiliary dynamics. Zero means 0.2.
	Beta float64
	// PiW is the adaptation gain of the output weights. Nil means 0.1
	// times identity.
	PiW mat.Matrix
	// PiV is the adaptation gain of the input weights. Nil means 0.1
	// times identity.
	PiV mat.Matrix
	// Activation is the neuron nonlinearity. Nil means Sigmoid.
	Activation Activation
	// DisableDisturbanceCanceller drops the constant unit term appended to
	// the activation vector.
	DisableDisturbanceCanceller bool
	// Projection bounds the weight norms with the smooth projection
	// operator. The reference behavior leaves it off.
	Projection bool
	// InitialW overrides the random initial output weights.
	InitialW mat.Matrix
	// InitialV overrides the random initial input weights.
	InitialV mat.Matrix
	// Src seeds the random weight initialization. Nil falls back to a
	// package-shared deterministic source.
	Src rand.Source
}

var defaultSrc = rand.NewPCG(21, 22)

// Identifier estimates the state of a system dx = f(x) + g(x) u whose
// drift f is unknown. Per tick it is fed the true input and the true state
// as the training signal:
//
//	dx̂ = Ŵᵀ σ(V̂ᵀ x̂) + g(x) u + k (x - x̂) - k x̃₀ + z
//	dz = (kα + γ)(x - x̂) + β sgn(x - x̂)
//
// with the weights adapting along the gradient of the tracking error.
type Identifier struct {
	name       string
	model      plant.GainModel
	sampleTime float64
	solver     *ode.RungeKutta
	activation Activation

	nx, nu  int
	neurons int
	rows    int // neurons, plus one under the disturbance canceller

	weightNormMax float64
	epsilon       float64
	k             float64
	alpha         float64
	gamma         float64
	beta          float64
	piW, piV      *mat.Dense
	canceller     bool
	projection    bool

	xHat   *mat.VecDense // state estimate
	dxHat  *mat.VecDense // estimate derivative at the last tick
	z      *mat.VecDense // auxiliary integral term
	w      *mat.Dense    // output weights, rows by nx
	v      *mat.Dense    // input weights, nx by neurons
	xTilde *mat.VecDense // initial tracking error

	initial initialSet
}

type initialSet struct {
	xHat *mat.VecDense
	w    *mat.Dense
	v    *mat.Dense
}

// NewIdentifier validates the configuration against the plant's dimensions
// and returns a ready identifier. W and V start from standard normal draws
// unless overridden.
func NewIdentifier(model plant.GainModel, sampleTime float64, cfg Config) (*Identifier, error) {
	name := cfg.Name
	if name == "" {
		name = "Neuro identifier"
	}
	nx := model.StateDimension()
	nu := model.InputDimension()
	if nx < 1 || nu < 1 {
		return nil, fmt.Errorf("neuro: %q plant declares dimensions %d, %d", name, nx, nu)
	}
	if sampleTime <= 0 {
		return nil, fmt.Errorf("neuro: %q non-positive sample time %v", name, sampleTime)
	}

	id := &Identifier{
		name:          name,
		model:         model,
		sampleTime:    sampleTime,
		solver:        cfg.Solver.Method(),
		activation:    cfg.Activation,
		nx:            nx,
		nu:            nu,
		neurons:       cfg.Neurons,
		weightNormMax: cfg.WeightNormMax,
		epsilon:       cfg.Epsilon,
		k:             cfg.K,
		alpha:         cfg.Alpha,
		gamma:         cfg.Gamma,
		beta:          cfg.Beta,
		canceller:     !cfg.DisableDisturbanceCanceller,
		projection:    cfg.Projection,
	}
	if id.activation == nil {
		id.activation = Sigmoid{}
	}
	if id.neurons == 0 {
		id.neurons = 5
	}
	if id.neurons < 1 {
		return nil, fmt.Errorf("neuro: %q needs at least one neuron", name)
	}
	if id.weightNormMax == 0 {
		id.weightNormMax = 1e16
	}
	if id.epsilon == 0 {
		id.epsilon = 0.2
	}
	if id.k == 0 {
		id.k = 800
	}
	if id.alpha == 0 {
		id.alpha = 300
	}
	if id.gamma == 0 {
		id.gamma = 5
	}
	if id.beta == 0 {
		id.beta = 0.2
	}

	id.rows = id.neurons
	if id.canceller {
		id.rows = id.neurons + 1
	}

	var err error
	if id.piW, err = gainOrDefault(cfg.PiW, id.rows, name, "output adaptation gain"); err != nil {
		return nil, err
	}
	if id.piV, err = gainOrDefault(cfg.PiV, nx, name, "input adaptation gain"); err != nil {
		return nil, err
	}

	src := cfg.Src
	if src == nil {
		src = defaultSrc
	}
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	if id.w, err = weightsOrDraw(cfg.InitialW, id.rows, nx, normal, name, "initial W"); err != nil {
		return nil, err
	}
	if id.v, err = weightsOrDraw(cfg.InitialV, nx, id.neurons, normal, name, "initial V"); err != nil {
		return nil, err
	}

	id.xHat = mat.NewVecDense(nx, nil)
	initial := model.InitialState()
	if cfg.Initial != nil {
		initial = cfg.Initial
	}
	if initial.Len() != nx {
		return nil, fmt.Errorf("neuro: %q initial state has %d entries, want %d", name, initial.Len(), nx)
	}
	id.xHat.CopyVec(initial)
	id.dxHat = mat.NewVecDense(nx, nil)
	id.z = mat.NewVecDense(nx, nil)

	id.xTilde = mat.NewVecDense(nx, nil)
	id.xTilde.SubVec(model.InitialState(), id.xHat)

	id.initial = initialSet{
		xHat: mat.VecDenseCopyOf(id.xHat),
		w:    mat.DenseCopyOf(id.w),
		v:    mat.DenseCopyOf(id.v),
	}
	return id, nil
}

func gainOrDefault(gain mat.Matrix, n int, name, what string) (*mat.Dense, error) {
	if gain == nil {
		res := mat.NewDense(n, n, nil)
		for index := 0; index < n; index++ {
			res.Set(index, index, 0.1)
		}
		return res, nil
	}
	rows, cols := gain.Dims()
	if rows != n || cols != n {
		return nil, fmt.Errorf("neuro: %q %s is %dx%d, want %dx%d", name, what, rows, cols, n, n)
	}
	return mat.DenseCopyOf(gain), nil
}

func weightsOrDraw(w mat.Matrix, rows, cols int, normal distuv.Normal, name, what string) (*mat.Dense, error) {
	if w == nil {
		data := make([]float64, rows*cols)
		for index := range data {
			data[index] = normal.Rand()
		}
		return mat.NewDense(rows, cols, data), nil
	}
	r, c := w.Dims()
	if r != rows || c != cols {
		return nil, fmt.Errorf("neuro: %q %s is %dx%d, want %dx%d", name, what, r, c, rows, cols)
	}
	return mat.DenseCopyOf(w), nil
}

// Name returns the identifier's name.
func (id *Identifier) Name() string { return id.name }

// State returns the current state estimate.
func (id *Identifier) State() mat.Vector { return id.xHat }

// Derivative returns the estimate's derivative at the last tick.
func (id *Identifier) Derivative() mat.Vector { return id.dxHat }

// Weights returns the current output and input weight matrices.
func (id *Identifier) Weights() (W, V mat.Matrix) { return id.w, id.v }

// Update runs one identification tick given the plant's true input and true
// state at the same instant. The state feeds the tracking error only; the
// estimate evolves from its own dynamics.
func (id *Identifier) Update(u, x mat.Vector) {
	if u.Len() != id.nu {
		panic(fmt.Errorf("neuro: %q input has %d entries, want %d", id.name, u.Len(), id.nu))
	}
	if x.Len() != id.nx {
		panic(fmt.Errorf("neuro: %q state has %d entries, want %d", id.name, x.Len(), id.nx))
	}

	gain := id.model.Gain(id.cloneVec(x))
	if rows, cols := gain.Dims(); rows != id.nx || cols != id.nu {
		panic(fmt.Errorf("neuro: %q gain is %dx%d, want %dx%d", id.name, rows, cols, id.nx, id.nu))
	}
	var gu mat.VecDense
	gu.MulVec(gain, u)

	xErr := mat.NewVecDense(id.nx, nil)
	xErr.SubVec(x, id.xHat)

	// New state estimate: the drift through the network plus the known
	// input term, tracking feedback and the auxiliary term.
	drift := func(xx mat.Vector) mat.Vector {
		res := mat.NewVecDense(id.nx, nil)
		res.MulVec(id.w.T(), id.sigma(xx))
		res.AddVec(res, &gu)
		var track mat.VecDense
		track.SubVec(x, xx)
		res.AddScaledVec(res, id.k, &track)
		res.AddScaledVec(res, -id.k, id.xTilde)
		res.AddVec(res, id.z)
		return res
	}
	xNext := id.solver.Step(drift, id.xHat, id.xHat, id.sampleTime)
	dxNext := mat.VecDenseCopyOf(drift(id.xHat))

	// New auxiliary term.
	aux := func(mat.Vector) mat.Vector {
		res := mat.NewVecDense(id.nx, nil)
		res.AddScaledVec(res, id.k*id.alpha+id.gamma, xErr)
		for index := 0; index < id.nx; index++ {
			res.SetVec(index, res.AtVec(index)+id.beta*sign(xErr.AtVec(index)))
		}
		return res
	}
	zNext := id.solver.Step(aux, id.z, id.z, id.sampleTime)

	// Adaptation laws. Both use the derivative estimate stored on the
	// previous tick.
	gradSigma := id.gradSigma()
	var vtdx mat.VecDense
	vtdx.MulVec(id.v.T(), id.dxHat)
	var scaled mat.VecDense
	scaled.MulVec(gradSigma, &vtdx)
	wFree := mat.NewDense(id.rows, id.nx, nil)
	wFree.Outer(1, &scaled, xErr)
	if id.projection {
		wFree = id.project(wFree, id.w)
	}
	wLaw := func(mat.Matrix) mat.Matrix {
		var res mat.Dense
		res.Mul(id.piW, wFree)
		return &res
	}
	wNext := id.solver.StepDense(wLaw, id.w, id.w, id.sampleTime)

	var wg mat.Dense
	wg.Mul(id.w.T(), gradSigma)
	var outer mat.Dense
	outer.Outer(1, id.dxHat, xErr)
	vFree := mat.NewDense(id.nx, id.neurons, nil)
	vFree.Mul(&outer, &wg)
	if id.projection {
		vFree = id.project(vFree, id.v)
	}
	vLaw := func(mat.Matrix) mat.Matrix {
		var res mat.Dense
		res.Mul(id.piV, vFree)
		return &res
	}
	vNext := id.solver.StepDense(vLaw, id.v, id.v, id.sampleTime)

	id.xHat = xNext
	id.dxHat = dxNext
	id.z = zNext
	id.w = wNext
	id.v = vNext
}

// sigma evaluates the activation vector at V̂ᵀ x̂, appending the constant
// unit term under the disturbance canceller.
func (id *Identifier) sigma(xHat mat.Vector) *mat.VecDense {
	var pre mat.VecDense
	pre.MulVec(id.v.T(), xHat)
	res := mat.NewVecDense(id.rows, nil)
	for index := 0; index < id.neurons; index++ {
		res.SetVec(index, id.activation.Value(pre.AtVec(index)))
	}
	if id.canceller {
		res.SetVec(id.rows-1, 1)
	}
	return res
}

// gradSigma evaluates the activation Jacobian at V̂ᵀ x̂: a diagonal of
// derivatives, padded with a zero row for the constant unit term.
func (id *Identifier) gradSigma() *mat.Dense {
	var pre mat.VecDense
	pre.MulVec(id.v.T(), id.xHat)
	res := mat.NewDense(id.rows, id.neurons, nil)
	for index := 0; index < id.neurons; index++ {
		res.Set(index, index, id.activation.Derivative(pre.AtVec(index)))
	}
	return res
}

// project applies the smooth projection operator bounding the Frobenius
// norm of the weights by WeightNormMax, with an Epsilon-wide transition
// band.
func (id *Identifier) project(update, weights *mat.Dense) *mat.Dense {
	norm2 := 0.0
	inner := 0.0
	rows, cols := weights.Dims()
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			norm2 += weights.At(row, col) * weights.At(row, col)
			inner += weights.At(row, col) * update.At(row, col)
		}
	}
	bound := id.weightNormMax * id.weightNormMax
	overshoot := (norm2 - bound) / (id.epsilon * bound)
	if overshoot <= 0 || inner <= 0 || norm2 == 0 {
		return update
	}
	scale := math.Min(1, overshoot) * inner / norm2
	res := mat.DenseCopyOf(update)
	var correction mat.Dense
	correction.Scale(scale, weights)
	res.Sub(res, &correction)
	return res
}

// Reset restores the constructor-time estimate, weights and auxiliary term.
func (id *Identifier) Reset() {
	id.xHat = mat.VecDenseCopyOf(id.initial.xHat)
	id.dxHat = mat.NewVecDense(id.nx, nil)
	id.z = mat.NewVecDense(id.nx, nil)
	id.w = mat.DenseCopyOf(id.initial.w)
	id.v = mat.DenseCopyOf(id.initial.v)
}

func (id *Identifier) cloneVec(v mat.Vector) *mat.VecDense {
	res := mat.NewVecDense(v.Len(), nil)
	res.CopyVec(v)
	return res
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
