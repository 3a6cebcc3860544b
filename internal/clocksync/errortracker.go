package clocksync

// ErrorTracker is a second, independent Estimator instance (spec.md §9:
// never shared with ClockRecovery's window) that tracks the modulo-frame
// timing error used to drive follower corrections.
type ErrorTracker struct {
	estimator   *Estimator
	period      uint32
	capacity    uint32
	initialised bool
}

// NewErrorTracker constructs an uninitialised error tracker.
func NewErrorTracker() *ErrorTracker {
	return &ErrorTracker{}
}

// Initialise sets the sync configuration on first call only; subsequent
// calls are no-ops. ErrorTracker never baselines wall/kernel pairs.
func (t *ErrorTracker) Initialise(period, capacity uint32) {
	if t == nil || t.initialised {
		return
	}
	t.initialised = true
	t.period = period
	t.capacity = capacity
	t.estimator = NewEstimator(int(capacity))
}

// Initialised reports whether Initialise has taken effect.
func (t *ErrorTracker) Initialised() bool {
	return t != nil && t.initialised
}

// ModuloFrameResidual reduces delta by the nearest integer multiple of
// frameDuration, returning a residual r such that |r| <= frameDuration/2
// (spec.md §8 invariant 6). It does not push anything into the window —
// callers use it both to seed an initial delta_mod before syncReady
// latches and as the building block for TrendingError.
func ModuloFrameResidual(delta int64, frameDuration int64) int64 {
	if frameDuration == 0 {
		return delta
	}
	multiple := roundDiv(delta, frameDuration)
	return delta - multiple*frameDuration
}

// roundDiv rounds delta/divisor to the nearest integer, matching the
// original controller's (delta + divisor/2) / divisor truncating division
// for positive divisors.
func roundDiv(delta, divisor int64) int64 {
	if divisor == 0 {
		return 0
	}
	if divisor < 0 {
		divisor = -divisor
		delta = -delta
	}
	if delta >= 0 {
		return (delta + divisor/2) / divisor
	}
	return -((-delta + divisor/2) / divisor)
}

// TrendingError implements spec.md §4.3: it strips the integer-frame-count
// component from the leader/follower wall-clock delta, regresses the
// remaining sub-frame residual against sequence, and returns the
// trend-corrected forecast.
func (t *ErrorTracker) TrendingError(lastWallClockUs, clientWallClockUs, lastPayloadFrameDurationUs int64, sequence uint64) int64 {
	if t == nil || !t.initialised || t.estimator == nil {
		return 0
	}
	delta := clientWallClockUs - lastWallClockUs
	y := ModuloFrameResidual(delta, lastPayloadFrameDurationUs)
	t.estimator.Push(sequence, y)

	front, _ := t.estimator.Front()
	if t.estimator.Len() < 2 {
		// Slope is undefined below two samples; the (N-1) term is zero here.
		return front.Residual
	}
	n := float64(t.estimator.Len())
	forecast := float64(front.Residual) + t.estimator.Slope()*(n-1)*float64(t.period)
	return int64(forecast)
}

// ShiftY delegates to the underlying estimator, absorbing a correction
// into the retained window (used when the follower applies delta_mod).
func (t *ErrorTracker) ShiftY(delta int64) {
	if t == nil || t.estimator == nil {
		return
	}
	t.estimator.ShiftY(delta)
}

// Clear empties the window but preserves configuration.
func (t *ErrorTracker) Clear() {
	if t == nil || t.estimator == nil {
		return
	}
	t.estimator.Clear()
}
