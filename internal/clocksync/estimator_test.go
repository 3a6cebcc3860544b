package clocksync

import (
	"math"
	"testing"
)

func approxEqual(t *testing.T, got, want, tolerance float64, msg string) {
	t.Helper()
	if math.Abs(got-want) > tolerance {
		t.Fatalf("%s: got %v want %v (tolerance %v)", msg, got, want, tolerance)
	}
}

func TestEstimatorAggregateConsistency(t *testing.T) {
	e := NewEstimator(4)
	pairs := []Point{{1, 10}, {2, 20}, {3, 15}, {4, 25}, {5, 5}, {6, -10}}
	var held []Point
	for _, p := range pairs {
		e.Push(p.Sequence, p.Residual)
		held = append(held, p)
		if len(held) > 4 {
			held = held[1:]
		}

		var sumX, sumY, sumXY, sumX2 float64
		for _, h := range held {
			fx, fy := float64(h.Sequence), float64(h.Residual)
			sumX += fx
			sumY += fy
			sumXY += fx * fy
			sumX2 += fx * fx
		}
		approxEqual(t, e.sumX, sumX, 1e-6, "sumX")
		approxEqual(t, e.sumY, sumY, 1e-6, "sumY")
		approxEqual(t, e.sumXY, sumXY, 1e-6, "sumXY")
		approxEqual(t, e.sumX2, sumX2, 1e-6, "sumX2")
	}
}

func TestEstimatorWindowBound(t *testing.T) {
	e := NewEstimator(3)
	for i := uint64(0); i < 20; i++ {
		e.Push(i, int64(i))
		if e.Len() > 3 {
			t.Fatalf("window length %d exceeds capacity 3", e.Len())
		}
	}
}

func TestEstimatorSlopeCorrectness(t *testing.T) {
	e := NewEstimator(50)
	const a, b = 3.0, 7.0
	for i := uint64(0); i < 30; i++ {
		y := a*float64(i) + b
		e.Push(i, int64(y))
	}
	approxEqual(t, e.Slope(), a, 1e-6, "slope")
}

func TestEstimatorShiftYIdempotence(t *testing.T) {
	const delta = int64(42)

	direct := NewEstimator(10)
	shifted := NewEstimator(10)
	for i := uint64(0); i < 10; i++ {
		y := int64(i)*3 + 100
		direct.Push(i, y-delta)
		shifted.Push(i, y)
	}
	shifted.ShiftY(delta)

	approxEqual(t, shifted.sumX, direct.sumX, 1e-6, "sumX")
	approxEqual(t, shifted.sumY, direct.sumY, 1e-6, "sumY")
	approxEqual(t, shifted.sumXY, direct.sumXY, 1e-6, "sumXY")
	approxEqual(t, shifted.sumX2, direct.sumX2, 1e-6, "sumX2")
	for i := range direct.window {
		if direct.window[i] != shifted.window[i] {
			t.Fatalf("window mismatch at %d: %+v vs %+v", i, direct.window[i], shifted.window[i])
		}
	}
}

func TestEstimatorClear(t *testing.T) {
	e := NewEstimator(5)
	for i := uint64(0); i < 5; i++ {
		e.Push(i, int64(i)*2)
	}
	e.Clear()
	if e.Len() != 0 {
		t.Fatalf("expected empty window after Clear, got len %d", e.Len())
	}
	if e.sumX != 0 || e.sumY != 0 || e.sumXY != 0 || e.sumX2 != 0 {
		t.Fatalf("expected zeroed aggregates after Clear, got %+v", e)
	}
}

func TestEstimatorFrontAfterEviction(t *testing.T) {
	e := NewEstimator(2)
	e.Push(1, 10)
	e.Push(2, 20)
	e.Push(3, 30)
	front, ok := e.Front()
	if !ok {
		t.Fatal("expected non-empty window")
	}
	if front.Sequence != 2 || front.Residual != 20 {
		t.Fatalf("expected front to be the oldest retained point {2,20}, got %+v", front)
	}
}
