package clocksync

import (
	"testing"

	"camerasync/internal/logging"
)

func TestModeString(t *testing.T) {
	cases := map[Mode]string{ModeOff: "off", ModeLeader: "leader", ModeFollower: "follower"}
	for mode, want := range cases {
		if got := mode.String(); got != want {
			t.Fatalf("Mode(%d).String() = %q, want %q", mode, got, want)
		}
	}
}

func TestCorrectionStateString(t *testing.T) {
	cases := map[CorrectionState]string{Idle: "idle", Correcting: "correcting", Stabilising: "stabilising"}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("CorrectionState(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestNewControllerStartsOff(t *testing.T) {
	c := NewController(DefaultGroup, DefaultPort, 30, 1000, 100, 33_333, logging.NewTestLogger())
	if c.Mode() != ModeOff {
		t.Fatalf("expected new controller to start in ModeOff, got %v", c.Mode())
	}
	if c.SyncReady() {
		t.Fatal("expected new controller to not be sync ready")
	}
	if c.CorrectionState() != Idle {
		t.Fatalf("expected new controller correction state Idle, got %v", c.CorrectionState())
	}
}

func TestControllerStepNoopWhenOff(t *testing.T) {
	c := NewController(DefaultGroup, DefaultPort, 30, 1000, 100, 33_333, logging.NewTestLogger())
	out := c.Step(FrameInput{WallClockUs: 1_000_000, SensorTimestamp: 500_000_000, Sequence: 1})
	if out != (FrameOutput{}) {
		t.Fatalf("expected zero-value output in ModeOff, got %+v", out)
	}
}

func TestControllerSwitchModeClearsBarrierButKeepsEstimators(t *testing.T) {
	c := NewController(DefaultGroup, DefaultPort, 30, 1000, 100, 33_333, logging.NewTestLogger())
	c.syncReady = true
	c.frameCount = 42
	c.readyCountdown = 7
	c.trendingClock.Initialise(&Baseline{WallClockUs: 1, KernelTimeNs: 2}, 30, 100)

	c.SwitchMode(ModeFollower)

	if c.Mode() != ModeFollower {
		t.Fatalf("expected mode to switch to follower, got %v", c.Mode())
	}
	if c.SyncReady() {
		t.Fatal("expected SwitchMode to clear syncReady")
	}
	if c.frameCount != 0 || c.readyCountdown != 0 {
		t.Fatalf("expected frameCount/readyCountdown cleared, got %d/%d", c.frameCount, c.readyCountdown)
	}
	if !c.trendingClock.Initialised() {
		t.Fatal("expected estimator state to survive SwitchMode")
	}
}

func TestControllerCloseWithoutTransportsIsNoop(t *testing.T) {
	c := NewController(DefaultGroup, DefaultPort, 30, 1000, 100, 33_333, logging.NewTestLogger())
	if err := c.Close(); err != nil {
		t.Fatalf("expected nil error closing a controller with no open transport, got %v", err)
	}
}

func TestControllerNilReceiverIsSafe(t *testing.T) {
	var c *Controller
	c.SwitchMode(ModeLeader)
	if err := c.Close(); err != nil {
		t.Fatalf("expected nil-safe Close, got %v", err)
	}
}
