package lti

import (
	"fmt"
	"math"

	"github.com/dynrun/dynrun/matx"
	"gonum.org/v1/gonum/mat"
)

// FilterConfig carries the optional construction knobs of a KalmanFilter.
type FilterConfig struct {
	// Name appears in error messages.
	Name string
	// X0 is the initial posterior state; nil means zero.
	X0 mat.Vector
	// P0 is the initial posterior covariance; nil means 1e3 times identity.
	P0 mat.Matrix
	// ProcessNoise is Q; nil means 1e-4 times identity.
	ProcessNoise mat.Matrix
	// MeasurementNoise is R; nil means 1e-4 times identity.
	MeasurementNoise mat.Matrix
}

// KalmanFilter is the closed-form linear estimator over a discrete
// (A, B, C, D) quadruple. The live recursion runs through Update; the
// offline steady-state solve lives in SteadyState.
type KalmanFilter struct {
	name       string
	a, b, c, d *mat.Dense
	nx, nu, ny int
	q, r       *mat.Dense

	xPr, xPs *mat.VecDense
	res      *mat.VecDense
	gain     *mat.Dense
	pPr, pPs *mat.Dense

	initialX *mat.VecDense
	initialP *mat.Dense
}

// NewKalmanFilter validates the quadruple against the configuration and
// returns a ready filter. A nil D becomes a zero matrix.
func NewKalmanFilter(A, B, C, D mat.Matrix, cfg FilterConfig) (*KalmanFilter, error) {
	name := cfg.Name
	if name == "" {
		name = "Kalman filter"
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

	f := &KalmanFilter{
		name: name,
		a:    mat.DenseCopyOf(A),
		b:    mat.DenseCopyOf(B),
		c:    mat.DenseCopyOf(C),
		d:    d,
		nx:   nx,
		nu:   nu,
		ny:   ny,
		xPr:  mat.NewVecDense(nx, nil),
		xPs:  mat.NewVecDense(nx, nil),
		res:  mat.NewVecDense(ny, nil),
		gain: mat.NewDense(nx, ny, nil),
		pPr:  matx.Eye(nx),
		pPs:  matx.Scaled(nx, 1e3),
		q:    matx.Scaled(nx, 1e-4),
		r:    matx.Scaled(ny, 1e-4),
	}

	if cfg.X0 != nil {
		if cfg.X0.Len() != nx {
			return nil, fmt.Errorf("lti: %q initial state has %d entries, want %d", name, cfg.X0.Len(), nx)
		}
		f.xPs.CopyVec(cfg.X0)
	}
	if cfg.P0 != nil {
		if err := checkSquare(cfg.P0, nx, name, "initial covariance"); err != nil {
			return nil, err
		}
		f.pPs = mat.DenseCopyOf(cfg.P0)
	}
	if cfg.ProcessNoise != nil {
		if err := checkSquare(cfg.ProcessNoise, nx, name, "process noise"); err != nil {
			return nil, err
		}
		f.q = mat.DenseCopyOf(cfg.ProcessNoise)
	}
	if cfg.MeasurementNoise != nil {
		if err := checkSquare(cfg.MeasurementNoise, ny, name, "measurement noise"); err != nil {
			return nil, err
		}
		f.r = mat.DenseCopyOf(cfg.MeasurementNoise)
	}

	f.initialX = mat.VecDenseCopyOf(f.xPs)
	f.initialP = mat.DenseCopyOf(f.pPs)
	return f, nil
}

// NewFilterForSystem builds a filter over an existing lti.System, inheriting
// its quadruple and, when configured, its noise covariances.
func NewFilterForSystem(sys *System, cfg FilterConfig) (*KalmanFilter, error) {
	q, r := sys.NoiseCovariances()
	if cfg.ProcessNoise == nil && q != nil {
		cfg.ProcessNoise = q
	}
	if cfg.MeasurementNoise == nil && r != nil {
		cfg.MeasurementNoise = r
	}
	if cfg.Name == "" {
		cfg.Name = sys.Name() + " filter"
	}
	A, B, C, D := sys.Matrices()
	return NewKalmanFilter(A, B, C, D, cfg)
}

// Prior returns the last predicted state.
func (f *KalmanFilter) Prior() mat.Vector { return f.xPr }

// Posterior returns the last corrected state.
func (f *KalmanFilter) Posterior() mat.Vector { return f.xPs }

// Residual returns the last innovation.
func (f *KalmanFilter) Residual() mat.Vector { return f.res }

// Gain returns the last Kalman gain.
func (f *KalmanFilter) Gain() mat.Matrix { return f.gain }

// PriorCovariance returns the last predicted covariance.
func (f *KalmanFilter) PriorCovariance() mat.Matrix { return f.pPr }

// PosteriorCovariance returns the last corrected covariance.
func (f *KalmanFilter) PosteriorCovariance() mat.Matrix { return f.pPs }

// Update runs one predict and correct cycle given the plant's input and
// measured output at the same step. A singular innovation covariance is
// fatal for the tick and surfaces as an error without touching the state.
func (f *KalmanFilter) Update(u, y mat.Vector) error {
	if u.Len() != f.nu {
		panic(fmt.Errorf("lti: %q input has %d entries, want %d", f.name, u.Len(), f.nu))
	}
	if y.Len() != f.ny {
		panic(fmt.Errorf("lti: %q output has %d entries, want %d", f.name, y.Len(), f.ny))
	}

	// Predict.
	xPr := mat.NewVecDense(f.nx, nil)
	xPr.MulVec(f.a, f.xPs)
	var bu mat.VecDense
	bu.MulVec(f.b, u)
	xPr.AddVec(xPr, &bu)

	pPr := mat.NewDense(f.nx, f.nx, nil)
	pPr.Product(f.a, f.pPs, f.a.T())
	pPr.Add(pPr, f.q)

	// Gain.
	var innov mat.Dense
	innov.Product(f.c, pPr, f.c.T())
	innov.Add(&innov, f.r)
	var innovInv mat.Dense
	if err := innovInv.Inverse(&innov); err != nil {
		return fmt.Errorf("lti: %q innovation covariance: %w", f.name, err)
	}
	gain := mat.NewDense(f.nx, f.ny, nil)
	gain.Product(pPr, f.c.T(), &innovInv)

	// Residual and correction.
	res := mat.NewVecDense(f.ny, nil)
	var cx mat.VecDense
	cx.MulVec(f.c, xPr)
	res.SubVec(y, &cx)

	xPs := mat.NewVecDense(f.nx, nil)
	var corr mat.VecDense
	corr.MulVec(gain, res)
	xPs.AddVec(xPr, &corr)

	var kc mat.Dense
	kc.Mul(gain, f.c)
	ikc := matx.Eye(f.nx)
	ikc.Sub(ikc, &kc)
	pPs := mat.NewDense(f.nx, f.nx, nil)
	pPs.Mul(ikc, pPr)

	f.xPr, f.xPs = xPr, xPs
	f.pPr, f.pPs = pPr, pPs
	f.res = res
	f.gain = gain
	return nil
}

// Recursion bounds the steady-state covariance iteration.
type Recursion struct {
	// Precision is the largest accepted entrywise change between two
	// iterates. Zero means 1e-9.
	Precision float64
	// MaxIterations caps the recursion. Zero means 10000.
	MaxIterations int
}

// SteadyState iterates the discrete algebraic Riccati equation
//
//	P = A P Aᵀ - A P Cᵀ (C P Cᵀ + R)⁻¹ C P Aᵀ + Q
//
// to convergence and returns the steady-state prior covariance, the
// residual covariance S = C P Cᵀ + R and the steady-state gain
// K = P Cᵀ S⁻¹. Non-convergence within the recursion bounds is an error.
func (f *KalmanFilter) SteadyState(opts Recursion) (pPr, s, k *mat.Dense, err error) {
	precision := opts.Precision
	if precision == 0 {
		precision = 1e-9
	}
	maxIterations := opts.MaxIterations
	if maxIterations == 0 {
		maxIterations = 10000
	}

	p := mat.DenseCopyOf(f.q)
	var next, apa, cpc, cpcInv, apc, cpa, corr mat.Dense
	for iteration := 0; iteration < maxIterations; iteration++ {
		apa.Product(f.a, p, f.a.T())
		cpc.Product(f.c, p, f.c.T())
		cpc.Add(&cpc, f.r)
		if err := cpcInv.Inverse(&cpc); err != nil {
			return nil, nil, nil, fmt.Errorf("lti: %q residual covariance in iteration %d: %w", f.name, iteration, err)
		}
		apc.Product(f.a, p, f.c.T())
		cpa.Product(f.c, p, f.a.T())
		corr.Product(&apc, &cpcInv, &cpa)

		next.Sub(&apa, &corr)
		next.Add(&next, f.q)

		if maxDelta(&next, p) < precision {
			pPr = mat.DenseCopyOf(&next)
			s = mat.NewDense(f.ny, f.ny, nil)
			s.Product(f.c, pPr, f.c.T())
			s.Add(s, f.r)
			var sInv mat.Dense
			if err := sInv.Inverse(s); err != nil {
				return nil, nil, nil, fmt.Errorf("lti: %q steady-state residual covariance: %w", f.name, err)
			}
			k = mat.NewDense(f.nx, f.ny, nil)
			k.Product(pPr, f.c.T(), &sInv)
			return pPr, s, k, nil
		}
		p.Copy(&next)
	}
	return nil, nil, nil, fmt.Errorf("lti: %q covariance recursion did not converge in %d iterations", f.name, maxIterations)
}

// Reset restores the constructor-time posterior state and covariance.
func (f *KalmanFilter) Reset() {
	f.xPs = mat.VecDenseCopyOf(f.initialX)
	f.pPs = mat.DenseCopyOf(f.initialP)
	f.xPr = mat.NewVecDense(f.nx, nil)
	f.pPr = matx.Eye(f.nx)
	f.res = mat.NewVecDense(f.ny, nil)
	f.gain = mat.NewDense(f.nx, f.ny, nil)
}

func maxDelta(a, b *mat.Dense) float64 {
	rows, cols := a.Dims()
	res := 0.0
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			res = math.Max(res, math.Abs(a.At(row, col)-b.At(row, col)))
		}
	}
	return res
}

func checkSquare(m mat.Matrix, n int, name, what string) error {
	rows, cols := m.Dims()
	if rows != n || cols != n {
		return fmt.Errorf("lti: %q %s is %dx%d, want %dx%d", name, what, rows, cols, n, n)
	}
	return nil
}
