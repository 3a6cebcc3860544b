// Package clocksync implements the leader/follower frame synchronization
// core: a rolling-window least-squares estimator, a clock recovery model
// built on top of it, an error tracker for follower corrections, a beacon
// codec, a multicast transport, and the per-frame control loop that ties
// them together.
package clocksync

// Point is a single (sequence, residual) observation held by an Estimator
// window. Sequence is a monotonic capture counter; Residual is expressed
// in microseconds.
type Point struct {
	Sequence uint64
	Residual int64
}

// Estimator maintains a fixed-capacity FIFO window of (x, y) pairs plus the
// four running aggregates needed for an incremental least-squares fit. Two
// independent Estimator instances back the clock model and the error
// tracker respectively — per spec.md §9, the window must never be shared
// across those two roles.
type Estimator struct {
	capacity int
	window   []Point

	sumX  float64
	sumY  float64
	sumXY float64
	sumX2 float64
}

// NewEstimator constructs an estimator with the given window capacity. A
// non-positive capacity is clamped to 1 so the estimator always holds at
// least the most recent observation.
func NewEstimator(capacity int) *Estimator {
	if capacity <= 0 {
		capacity = 1
	}
	return &Estimator{
		capacity: capacity,
		window:   make([]Point, 0, capacity),
	}
}

// Len reports the number of points currently held.
func (e *Estimator) Len() int {
	if e == nil {
		return 0
	}
	return len(e.window)
}

// Front returns the oldest retained point and whether the window is
// non-empty.
func (e *Estimator) Front() (Point, bool) {
	if e == nil || len(e.window) == 0 {
		return Point{}, false
	}
	return e.window[0], true
}

// Push appends (x, y) to the window, evicting the oldest pair first if the
// window is already at capacity. The four running aggregates are adjusted
// by exact addition/subtraction so they always equal the exact sums over
// the currently held pairs.
func (e *Estimator) Push(x uint64, y int64) {
	if e == nil {
		return
	}
	if len(e.window) == e.capacity {
		front := e.window[0]
		e.subtract(front)
		e.window = e.window[1:]
	}
	e.window = append(e.window, Point{Sequence: x, Residual: y})
	e.add(Point{Sequence: x, Residual: y})
}

func (e *Estimator) add(p Point) {
	fx := float64(p.Sequence)
	fy := float64(p.Residual)
	e.sumX += fx
	e.sumY += fy
	e.sumXY += fx * fy
	e.sumX2 += fx * fx
}

func (e *Estimator) subtract(p Point) {
	fx := float64(p.Sequence)
	fy := float64(p.Residual)
	e.sumX -= fx
	e.sumY -= fy
	e.sumXY -= fx * fy
	e.sumX2 -= fx * fx
}

// Slope returns the least-squares slope through the currently held points.
// The result is undefined (division by zero, possibly NaN/Inf) when fewer
// than two distinct x values are present; callers must gate on Len() >= 2
// before trusting the result, exactly as the original controller does.
func (e *Estimator) Slope() float64 {
	if e == nil {
		return 0
	}
	n := float64(len(e.window))
	denom := n*e.sumX2 - e.sumX*e.sumX
	return (n*e.sumXY - e.sumX*e.sumY) / denom
}

// ShiftY subtracts a constant delta from every stored residual, adjusting
// the aggregates exactly rather than re-summing the window. sumX and sumX2
// are untouched since only y shifts.
func (e *Estimator) ShiftY(delta int64) {
	if e == nil || len(e.window) == 0 {
		return
	}
	n := float64(len(e.window))
	fd := float64(delta)
	for i := range e.window {
		e.window[i].Residual -= delta
	}
	e.sumY -= fd * n
	e.sumXY -= fd * e.sumX
}

// Clear empties the window and zeros the aggregates. Any baseline or
// configuration owned by a wrapping type (ClockRecovery, ErrorTracker) is
// untouched by this call.
func (e *Estimator) Clear() {
	if e == nil {
		return
	}
	e.window = e.window[:0]
	e.sumX, e.sumY, e.sumXY, e.sumX2 = 0, 0, 0, 0
}
