package clocksync

import (
	"net"

	"camerasync/internal/logging"
)

// Mode selects whether the controller is idle, publishing beacons as the
// leader, or consuming them as a follower.
type Mode int

const (
	// ModeOff runs neither the leader nor the follower path.
	ModeOff Mode = iota
	// ModeLeader publishes beacons to the multicast group every sync period.
	ModeLeader
	// ModeFollower consumes beacons and drives the correction state machine.
	ModeFollower
)

func (m Mode) String() string {
	switch m {
	case ModeLeader:
		return "leader"
	case ModeFollower:
		return "follower"
	default:
		return "off"
	}
}

// CorrectionState is the follower's three-state correction machine (§4.6).
type CorrectionState int

const (
	// Idle emits no correction; the nominal steady state.
	Idle CorrectionState = iota
	// Correcting is latched when a correction is computed; the next pass
	// through the state machine emits delta_mod as the offset and moves on
	// to Stabilising.
	Correcting
	// Stabilising emits a zero offset for one frame, giving the pipeline a
	// frame to absorb the correction, before returning to Idle.
	Stabilising
)

func (s CorrectionState) String() string {
	switch s {
	case Correcting:
		return "correcting"
	case Stabilising:
		return "stabilising"
	default:
		return "idle"
	}
}

// FrameInput is the per-frame sync input read from capture metadata (§3).
type FrameInput struct {
	WallClockUs     int64
	SensorTimestamp uint64
	Sequence        uint64
}

// FrameOutput is the per-frame sync output written back to capture
// metadata (§3).
type FrameOutput struct {
	FrameDurationOffsetUs int64
	SyncLagUs             int64
	Ready                 bool
}

// correctionThresholdUs is the minimum |delta_mod| that triggers a
// correction; below this the follower treats itself as already aligned.
const correctionThresholdUs = 50

// Controller is the single-threaded cooperative sync control loop shared by
// the leader and follower paths (§4.5–§4.7). All state is touched only from
// Step, invoked once per frame by the caller; there are no internal
// goroutines, timers, or callbacks (§5).
type Controller struct {
	mode Mode
	log  *logging.Logger

	group string
	port  uint16

	syncPeriod      uint32
	readyFrame      uint32
	windowCapacity  uint32
	frameDurationUs int64

	leaderTX   *LeaderTransport
	followerRX *FollowerTransport

	trendingClock *ClockRecovery
	trendingError *ErrorTracker

	socketInitialised bool
	syncReady         bool
	ipCheckDone       bool
	usingWallClock    bool

	frameCount      uint32
	readyCountdown  uint32
	framesSinceLast uint32

	lastWallClock            int64
	syncTime                 int64
	lagUs                    int64
	lastBeacon               Beacon
	expected                 int64
	lastPayloadFrameDuration int64
	deltaMod                 int64

	correction CorrectionState

	localIP net.IP
}

// NewController constructs a controller for the given multicast endpoint
// and sync configuration. It performs no socket I/O until the first Step
// call for the selected mode (§4.5 step 1, §4.6 step 1).
func NewController(group string, port uint16, syncPeriod, readyFrame, windowCapacity uint32, frameDurationUs int64, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.L()
	}
	return &Controller{
		mode:            ModeOff,
		log:             logger,
		group:           group,
		port:            port,
		syncPeriod:      syncPeriod,
		readyFrame:      readyFrame,
		windowCapacity:  windowCapacity,
		frameDurationUs: frameDurationUs,
		trendingClock:   NewClockRecovery(),
		trendingError:   NewErrorTracker(),
		correction:      Idle,
	}
}

// Mode reports the controller's current dispatch mode.
func (c *Controller) Mode() Mode { return c.mode }

// SyncReady reports whether the barrier has released.
func (c *Controller) SyncReady() bool { return c.syncReady }

// CorrectionState reports the follower's current correction sub-state.
func (c *Controller) CorrectionState() CorrectionState { return c.correction }

// SwitchMode re-arms the barrier for a new mode (§4.7): syncReady,
// frameCount, and readyCountdown are cleared, but estimator state and the
// already-open transport are preserved so a leader/follower toggling modes
// mid-session does not pay socket setup cost twice.
func (c *Controller) SwitchMode(mode Mode) {
	if c == nil {
		return
	}
	c.mode = mode
	c.syncReady = false
	c.frameCount = 0
	c.readyCountdown = 0
}

// Close releases any open transport.
func (c *Controller) Close() error {
	if c == nil {
		return nil
	}
	var err error
	if c.leaderTX != nil {
		err = c.leaderTX.Close()
	}
	if c.followerRX != nil {
		if ferr := c.followerRX.Close(); err == nil {
			err = ferr
		}
	}
	return err
}

// Step advances the controller by one frame, dispatching to the leader or
// follower path according to the current mode (§4.5–§4.6). It returns the
// output to publish back into frame metadata.
func (c *Controller) Step(in FrameInput) FrameOutput {
	switch c.mode {
	case ModeLeader:
		return c.stepLeader(in)
	case ModeFollower:
		return c.stepFollower(in)
	default:
		return FrameOutput{}
	}
}

func (c *Controller) stepLeader(in FrameInput) FrameOutput {
	//1.- Lazily initialise the clock model and leader socket on first use.
	if !c.trendingClock.Initialised() {
		c.trendingClock.Initialise(&Baseline{WallClockUs: in.WallClockUs, KernelTimeNs: int64(in.SensorTimestamp)}, c.syncPeriod, c.windowCapacity)
	}
	if c.leaderTX == nil {
		tx, err := NewLeaderTransport(c.group, c.port)
		if err != nil {
			c.log.Error("leader transport setup failed", logging.Error(err))
		} else {
			c.leaderTX = tx
			c.socketInitialised = true
		}
	}

	//2.- Lost-frame accounting.
	if c.lastWallClock != 0 {
		gap := in.WallClockUs - c.lastWallClock - c.frameDurationUs/2
		if gap > 0 {
			c.frameCount += uint32(gap / c.frameDurationUs)
		}
	}
	c.lastWallClock = in.WallClockUs

	//3.- Ready arming. framesRemaining may go negative if frameCount has
	// already overrun readyFrame (e.g. after a burst of lost frames); the
	// signed arithmetic here keeps that case well-defined instead of
	// wrapping around as an unsigned subtraction would.
	if !c.syncReady {
		framesRemaining := int64(c.readyFrame) - int64(c.frameCount)
		if framesRemaining <= 0 && c.syncTime != 0 && in.WallClockUs >= c.syncTime-c.frameDurationUs/2 {
			c.syncReady = true
			c.lagUs = in.WallClockUs - c.syncTime
			if c.lagUs > c.frameDurationUs/2 {
				c.log.Warn("leader sync lag exceeds half a frame", logging.Int64("lag_us", c.lagUs))
			}
		} else {
			c.syncTime = in.WallClockUs + c.frameDurationUs*framesRemaining
		}
	}

	//4.- Beacon emission every P frames.
	if c.frameCount%c.syncPeriod == 0 {
		modelled := c.trendingClock.ModelledWallClock(in.WallClockUs, int64(in.SensorTimestamp), in.Sequence)
		remaining := uint32(0)
		if c.readyFrame > c.frameCount {
			remaining = c.readyFrame - c.frameCount
		}
		beacon := Beacon{
			WallClock:       modelled,
			Sequence:        in.Sequence,
			SensorTimestamp: in.SensorTimestamp,
			NextWallClock:   modelled + int64(c.syncPeriod)*c.frameDurationUs,
			NextSequence:    in.Sequence + uint64(c.syncPeriod),
			ReadyFrame:      remaining,
		}
		if c.leaderTX != nil {
			if err := c.leaderTX.Send(beacon); err != nil {
				c.log.Error("beacon send failed", logging.Error(err))
			}
		}
	}

	c.frameCount++
	return FrameOutput{Ready: c.syncReady, SyncLagUs: c.lagUs}
}

func (c *Controller) stepFollower(in FrameInput) FrameOutput {
	//1.- Lazily initialise both estimators and the follower socket.
	if !c.trendingError.Initialised() {
		c.trendingError.Initialise(c.syncPeriod, c.windowCapacity)
	}
	if !c.trendingClock.Initialised() {
		c.trendingClock.Initialise(&Baseline{WallClockUs: in.WallClockUs, KernelTimeNs: int64(in.SensorTimestamp)}, c.syncPeriod, c.windowCapacity)
	}
	if c.followerRX == nil {
		rx, err := NewFollowerTransport(c.group, c.port)
		if err != nil {
			c.log.Error("follower transport setup failed", logging.Error(err))
		} else {
			c.followerRX = rx
			c.socketInitialised = true
			if ip, ipErr := LocalIP(); ipErr == nil {
				c.localIP = ip
			}
		}
	}

	beaconArrived := false
	if c.followerRX != nil {
		beacon, srcIP, ok := c.followerRX.Drain(c.log)
		if ok {
			beaconArrived = true
			c.lastBeacon = beacon
			c.framesSinceLast = 0

			//2.- Resolve the co-located/cross-host timebase on the first beacon.
			if !c.ipCheckDone {
				c.ipCheckDone = true
				c.usingWallClock = c.localIP == nil || srcIP == nil || !c.localIP.Equal(srcIP)
			}

			if !c.syncReady {
				c.correction = Correcting
			}

			var modelled, reference int64
			if c.usingWallClock {
				modelled = c.trendingClock.ModelledWallClock(in.WallClockUs, int64(in.SensorTimestamp), in.Sequence)
				reference = beacon.WallClock
			} else {
				modelled = int64(in.SensorTimestamp) / 1000
				reference = int64(beacon.SensorTimestamp) / 1000
			}

			span := beacon.NextSequence - beacon.Sequence
			if span != 0 {
				c.lastPayloadFrameDuration = (beacon.NextWallClock - beacon.WallClock) / int64(span)
			}

			delta := modelled - reference
			c.deltaMod = ModuloFrameResidual(delta, c.lastPayloadFrameDuration)

			if !c.syncReady {
				c.readyCountdown = beacon.ReadyFrame + c.frameCount
				if beacon.ReadyFrame > 0 {
					c.expected = beacon.WallClock + int64(beacon.ReadyFrame)*c.lastPayloadFrameDuration
				}
			}
		}
	}

	//3.- Between beacons: on the beacon frame itself, push the residual and
	// read back the trend forecast.
	if c.syncReady && beaconArrived && c.framesSinceLast == 0 {
		forecast := c.trendingError.TrendingError(c.lastBeacon.WallClock, c.lastBeacon.WallClock+c.deltaMod, c.lastPayloadFrameDuration, in.Sequence)
		c.deltaMod = forecast
		if abs64(c.deltaMod) > correctionThresholdUs {
			c.trendingError.ShiftY(c.deltaMod)
			c.correction = Correcting
		}
	}

	//4.- Correction state machine.
	var offset int64
	switch c.correction {
	case Correcting:
		offset = c.deltaMod
		c.correction = Stabilising
	case Stabilising:
		offset = 0
		c.correction = Idle
	default:
		offset = 0
		c.correction = Idle
	}

	//5.- Barrier release.
	if !c.syncReady && c.expected != 0 && in.WallClockUs > c.expected-c.lastPayloadFrameDuration/2 {
		c.syncReady = true
		c.lagUs = in.WallClockUs - c.expected
		if c.lagUs > c.frameDurationUs/2 {
			c.log.Warn("follower sync lag exceeds half a frame", logging.Int64("lag_us", c.lagUs))
		}
		c.trendingClock.Clear()
	}

	//6.- Advance the inter-beacon counter.
	c.framesSinceLast++

	c.frameCount++
	return FrameOutput{FrameDurationOffsetUs: offset, SyncLagUs: c.lagUs, Ready: c.syncReady}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
