// Package dynrun is a simulation and state-estimation toolkit for dynamical
// systems. The numerical core lives in the subpackages: ode (integrators),
// plant (the model contract), dynamic (the simulation/estimation engine with
// EKF and UKF recursions), lti (linear systems and the linear Kalman filter),
// neuro (an adaptive neural identifier) and scope (time-series recording).
package dynrun

import "math"

// Horizon describes the time span of a simulation run.
type Horizon struct {
	// Sample period
	Ts float64
	// Starting time
	StartTime float64
	// Ending time
	EndTime float64
}

// Steps returns the number of samples in the horizon. The quotient is
// rounded so that spans like 0.3/0.1, whose float division falls just
// short of an integer, still count the closing instant.
func (h Horizon) Steps() int {
	return int(math.Round((h.EndTime-h.StartTime)/h.Ts)) + 1
}

// TimeLine expands the horizon into the ordered sequence of sample instants.
func (h Horizon) TimeLine() []float64 {
	n := h.Steps()
	t := make([]float64, n)
	for index := range t {
		t[index] = h.StartTime + float64(index)*h.Ts
	}
	return t
}

// Span returns the sample instants from t0 to t1 with period ts.
func Span(t0, t1, ts float64) []float64 {
	return Horizon{Ts: ts, StartTime: t0, EndTime: t1}.TimeLine()
}

// Resettable is anything that can rewind to its constructor-time state.
type Resettable interface {
	Reset()
}

// Bank is an explicit collection of resettable components. The driver owns
// it; there is no process-wide registry. Resetting one member never touches
// the others.
type Bank []Resettable

// Add appends components to the bank.
func (b *Bank) Add(items ...Resettable) {
	*b = append(*b, items...)
}

// Reset rewinds every member of the bank.
func (b Bank) Reset() {
	for _, item := range b {
		item.Reset()
	}
}
