package clocksync

// Baseline is the (wall-clock, kernel timestamp) pair captured the first
// time a ClockRecovery instance is used. It keeps the regression's
// arithmetic in a small range instead of operating on twelve-digit
// absolute timestamps.
type Baseline struct {
	WallClockUs  int64
	KernelTimeNs int64
}

// ClockRecovery wraps a rolling Estimator with a baseline and sync
// configuration to produce a trend-corrected, modelled wall clock. An
// instance is either uninitialised or initialised; Initialise is
// idempotent, so the baseline and configuration are stable for the life
// of the instance.
type ClockRecovery struct {
	estimator   *Estimator
	baseline    Baseline
	period      uint32
	capacity    uint32
	initialised bool
}

// NewClockRecovery constructs an uninitialised clock recovery instance.
func NewClockRecovery() *ClockRecovery {
	return &ClockRecovery{}
}

// Initialise sets the baseline and sync configuration on first call only;
// subsequent calls are no-ops so the baseline never drifts mid-session. A
// nil baseline skips baseline capture and leaves the baseline at zero.
func (c *ClockRecovery) Initialise(baseline *Baseline, period, capacity uint32) {
	if c == nil || c.initialised {
		return
	}
	c.initialised = true
	if baseline != nil {
		c.baseline = *baseline
	}
	c.period = period
	c.capacity = capacity
	c.estimator = NewEstimator(int(capacity))
}

// Initialised reports whether Initialise has taken effect.
func (c *ClockRecovery) Initialised() bool {
	return c != nil && c.initialised
}

// Clear empties the window and aggregates but preserves the baseline and
// configuration, matching spec.md §3's reset semantics.
func (c *ClockRecovery) Clear() {
	if c == nil || c.estimator == nil {
		return
	}
	c.estimator.Clear()
}

// ModelledWallClock implements spec.md §4.2: it pushes the baseline-
// subtracted residual into the window and, once more than five samples
// are held, returns the trend-corrected wall clock extrapolated from the
// oldest retained point across (N-1)*period frames. Below that, the raw
// wall clock is returned unchanged (warm-up passthrough, scenario S6).
func (c *ClockRecovery) ModelledWallClock(wallClockUs, kernelTimeNs int64, sequence uint64) int64 {
	if c == nil || !c.initialised || c.estimator == nil {
		return wallClockUs
	}
	y := (wallClockUs - c.baseline.WallClockUs) - (kernelTimeNs-c.baseline.KernelTimeNs)/1000
	c.estimator.Push(sequence, y)

	if c.estimator.Len() <= 5 {
		return wallClockUs
	}

	front, _ := c.estimator.Front()
	n := float64(c.estimator.Len())
	trend := float64(front.Residual) + c.estimator.Slope()*(n-1)*float64(c.period)
	return int64(trend) + (kernelTimeNs-c.baseline.KernelTimeNs)/1000 + c.baseline.WallClockUs
}
