// Package scope records time series one column per simulation step and
// offers algebra, reshaping and persistence over the recorded matrix. A
// scope is the output side of every engine in this module: histories are
// exported into scopes and post-processed from there.
package scope

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Config carries the optional knobs of a scope.
type Config struct {
	// Name appears in plot titles and error messages.
	Name string
	// Src seeds the Gaussian noise added by Record. Nil falls back to a
	// package-shared deterministic source.
	Src rand.Source
}

var defaultSrc = rand.NewPCG(1, 2)

// Scope is a signal recorder over a fixed time line. It holds one row per
// signal and one column per sample instant.
type Scope struct {
	name     string
	timeLine []float64
	signals  *mat.Dense
	k        int
	src      rand.Source
}

// New returns an empty scope for count signals over timeLine.
func New(timeLine []float64, count int, cfg Config) (*Scope, error) {
	if len(timeLine) < 1 {
		return nil, errors.New("scope: empty time line")
	}
	if count < 1 {
		return nil, fmt.Errorf("scope: %d signals, want at least one", count)
	}
	return &Scope{
		name:     nameOrDefault(cfg.Name),
		timeLine: append([]float64(nil), timeLine...),
		signals:  mat.NewDense(count, len(timeLine), nil),
		src:      srcOrDefault(cfg.Src),
	}, nil
}

// FromSignals wraps an existing signal matrix, one row per signal and one
// column per sample instant. The scope comes out fully recorded.
func FromSignals(timeLine []float64, signals mat.Matrix, cfg Config) (*Scope, error) {
	rows, cols := signals.Dims()
	if cols != len(timeLine) {
		return nil, fmt.Errorf("scope: %d signal columns over a %d step time line", cols, len(timeLine))
	}
	if rows < 1 {
		return nil, errors.New("scope: signal matrix has no rows")
	}
	return &Scope{
		name:     nameOrDefault(cfg.Name),
		timeLine: append([]float64(nil), timeLine...),
		signals:  mat.DenseCopyOf(signals),
		k:        cols,
		src:      srcOrDefault(cfg.Src),
	}, nil
}

func nameOrDefault(name string) string {
	if name == "" {
		return "Scope"
	}
	return name
}

func srcOrDefault(src rand.Source) rand.Source {
	if src == nil {
		return defaultSrc
	}
	return src
}

// Name returns the scope's name.
func (s *Scope) Name() string { return s.name }

// Count returns the number of signals.
func (s *Scope) Count() int {
	rows, _ := s.signals.Dims()
	return rows
}

// Steps returns the number of sample instants.
func (s *Scope) Steps() int { return len(s.timeLine) }

// CurrentStep returns the recording position.
func (s *Scope) CurrentStep() int { return s.k }

// TimeLine returns the sample instants backing the scope.
func (s *Scope) TimeLine() []float64 { return s.timeLine }

// Signals returns the recorded matrix.
func (s *Scope) Signals() mat.Matrix { return s.signals }

// Record stores one column at the current step and advances it. A positive
// stddev adds zero-mean Gaussian noise to every entry.
func (s *Scope) Record(v mat.Vector, stddev float64) error {
	count := s.Count()
	if v.Len() != count {
		return fmt.Errorf("scope %q: recording %d values into %d signals", s.name, v.Len(), count)
	}
	if s.k >= len(s.timeLine) {
		return fmt.Errorf("scope %q: recording past the end of the time line", s.name)
	}
	var noise distuv.Normal
	if stddev > 0 {
		noise = distuv.Normal{Mu: 0, Sigma: stddev, Src: s.src}
	}
	for row := 0; row < count; row++ {
		value := v.AtVec(row)
		if stddev > 0 {
			value += noise.Rand()
		}
		s.signals.Set(row, s.k, value)
	}
	s.k++
	return nil
}

// Skip advances the recording position by n columns without writing. The
// stride must be positive and stay within the time line.
func (s *Scope) Skip(n int) error {
	if n < 1 {
		return fmt.Errorf("scope %q: skipping %d columns, want at least 1", s.name, n)
	}
	if s.k+n > len(s.timeLine) {
		return fmt.Errorf("scope %q: skipping %d columns from step %d overruns the time line of %d instants", s.name, n, s.k, len(s.timeLine))
	}
	s.k += n
	return nil
}

// Reset rewinds the recording position and zeroes the signal matrix.
func (s *Scope) Reset() {
	s.k = 0
	s.signals.Zero()
}

// Add returns a new scope holding the elementwise sum of both signal sets.
func (s *Scope) Add(other *Scope) (*Scope, error) {
	return s.combine(other, func(a, b float64) float64 { return a + b })
}

// Subtract returns a new scope holding the elementwise difference.
func (s *Scope) Subtract(other *Scope) (*Scope, error) {
	return s.combine(other, func(a, b float64) float64 { return a - b })
}

// Multiply returns a new scope holding the elementwise product.
func (s *Scope) Multiply(other *Scope) (*Scope, error) {
	return s.combine(other, func(a, b float64) float64 { return a * b })
}

// Divide returns a new scope holding the elementwise quotient.
func (s *Scope) Divide(other *Scope) (*Scope, error) {
	return s.combine(other, func(a, b float64) float64 { return a / b })
}

func (s *Scope) combine(other *Scope, op func(a, b float64) float64) (*Scope, error) {
	rows, cols := s.signals.Dims()
	otherRows, otherCols := other.signals.Dims()
	if rows != otherRows || cols != otherCols {
		return nil, fmt.Errorf("scope %q: combining %dx%d with %dx%d signals",
			s.name, rows, cols, otherRows, otherCols)
	}
	res := mat.NewDense(rows, cols, nil)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			res.Set(row, col, op(s.signals.At(row, col), other.signals.At(row, col)))
		}
	}
	return FromSignals(s.timeLine, res, Config{Name: s.name, Src: s.src})
}

// At returns a single-signal scope holding row index.
func (s *Scope) At(index int) (*Scope, error) {
	return s.Select([]int{index})
}

// Select returns a new scope holding the given signal rows in order.
func (s *Scope) Select(rows []int) (*Scope, error) {
	count, cols := s.signals.Dims()
	if len(rows) == 0 {
		return nil, fmt.Errorf("scope %q: empty selection", s.name)
	}
	res := mat.NewDense(len(rows), cols, nil)
	for target, row := range rows {
		if row < 0 || row >= count {
			return nil, fmt.Errorf("scope %q: signal %d out of %d", s.name, row, count)
		}
		for col := 0; col < cols; col++ {
			res.Set(target, col, s.signals.At(row, col))
		}
	}
	return FromSignals(s.timeLine, res, Config{Name: s.name, Src: s.src})
}

// Remove returns a new scope without the given signal rows.
func (s *Scope) Remove(rows []int) (*Scope, error) {
	count := s.Count()
	drop := make(map[int]bool, len(rows))
	for _, row := range rows {
		if row < 0 || row >= count {
			return nil, fmt.Errorf("scope %q: signal %d out of %d", s.name, row, count)
		}
		drop[row] = true
	}
	keep := make([]int, 0, count-len(drop))
	for row := 0; row < count; row++ {
		if !drop[row] {
			keep = append(keep, row)
		}
	}
	return s.Select(keep)
}

// Append stacks the signals of the given scopes under this one, all sharing
// the same time line length. A non-nil rows selection restricts every scope
// to those signal rows first.
func (s *Scope) Append(others []*Scope, rows []int) (*Scope, error) {
	parts := make([]*Scope, 0, len(others)+1)
	parts = append(parts, s)
	parts = append(parts, others...)

	total := 0
	for _, part := range parts {
		if part.Steps() != s.Steps() {
			return nil, fmt.Errorf("scope %q: appending a %d step scope to a %d step one",
				s.name, part.Steps(), s.Steps())
		}
		if rows == nil {
			total += part.Count()
		} else {
			total += len(rows)
		}
	}

	res := mat.NewDense(total, s.Steps(), nil)
	target := 0
	for _, part := range parts {
		selected := part
		if rows != nil {
			var err error
			selected, err = part.Select(rows)
			if err != nil {
				return nil, err
			}
		}
		count := selected.Count()
		for row := 0; row < count; row++ {
			for col := 0; col < s.Steps(); col++ {
				res.Set(target+row, col, selected.signals.At(row, col))
			}
		}
		target += count
	}
	return FromSignals(s.timeLine, res, Config{Name: s.name, Src: s.src})
}

// Roll returns a new scope with every signal circularly shifted by shift
// columns; positive shifts move samples toward later instants.
func (s *Scope) Roll(shift int) *Scope {
	rows, cols := s.signals.Dims()
	res := mat.NewDense(rows, cols, nil)
	for col := 0; col < cols; col++ {
		target := ((col+shift)%cols + cols) % cols
		for row := 0; row < rows; row++ {
			res.Set(row, target, s.signals.At(row, col))
		}
	}
	rolled, _ := FromSignals(s.timeLine, res, Config{Name: s.name, Src: s.src})
	return rolled
}

// Serialize packs the scope into a single matrix with the time line as row
// zero and one signal per remaining row.
func (s *Scope) Serialize() *mat.Dense {
	rows, cols := s.signals.Dims()
	res := mat.NewDense(rows+1, cols, nil)
	res.SetRow(0, s.timeLine)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			res.Set(row+1, col, s.signals.At(row, col))
		}
	}
	return res
}

// Deserialize unpacks a matrix produced by Serialize: row zero is the time
// line, the remaining rows are the signals.
func Deserialize(data mat.Matrix, cfg Config) (*Scope, error) {
	rows, cols := data.Dims()
	if rows < 2 {
		return nil, fmt.Errorf("scope: deserializing %d rows, want a time line plus signals", rows)
	}
	timeLine := make([]float64, cols)
	for col := 0; col < cols; col++ {
		timeLine[col] = data.At(0, col)
	}
	signals := mat.NewDense(rows-1, cols, nil)
	for row := 1; row < rows; row++ {
		for col := 0; col < cols; col++ {
			signals.Set(row-1, col, data.At(row, col))
		}
	}
	return FromSignals(timeLine, signals, cfg)
}
