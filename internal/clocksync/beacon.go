package clocksync

import "encoding/binary"

// BeaconSize is the encoded byte length of a Beacon: six fields, native
// (little-endian) layout, no padding. Implementations must agree on this
// exact width and field order for wire compatibility (spec.md §4.4).
const BeaconSize = 8 + 8 + 8 + 8 + 8 + 4

// Beacon is the fixed-layout timing datagram a leader sends to its
// followers over multicast (spec.md §3).
type Beacon struct {
	// WallClock is the leader's modelled wall clock for this frame,
	// microseconds since epoch.
	WallClock int64
	// Sequence is the leader's capture sequence number for this frame.
	Sequence uint64
	// SensorTimestamp is the leader's sensor/kernel timestamp, nanoseconds.
	SensorTimestamp uint64
	// NextWallClock is the predicted wall clock one sync period ahead.
	NextWallClock int64
	// NextSequence is the predicted sequence number one sync period ahead.
	NextSequence uint64
	// ReadyFrame counts down to the coordinated "go" instant; saturates
	// at zero.
	ReadyFrame uint32
}

// Encode serialises the beacon into its wire representation.
func (b Beacon) Encode() [BeaconSize]byte {
	var buf [BeaconSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(b.WallClock))
	binary.LittleEndian.PutUint64(buf[8:16], b.Sequence)
	binary.LittleEndian.PutUint64(buf[16:24], b.SensorTimestamp)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(b.NextWallClock))
	binary.LittleEndian.PutUint64(buf[32:40], b.NextSequence)
	binary.LittleEndian.PutUint32(buf[40:44], b.ReadyFrame)
	return buf
}

// DecodeBeacon parses a wire-format beacon. It returns false if the slice
// is shorter than BeaconSize.
func DecodeBeacon(data []byte) (Beacon, bool) {
	if len(data) < BeaconSize {
		return Beacon{}, false
	}
	var b Beacon
	b.WallClock = int64(binary.LittleEndian.Uint64(data[0:8]))
	b.Sequence = binary.LittleEndian.Uint64(data[8:16])
	b.SensorTimestamp = binary.LittleEndian.Uint64(data[16:24])
	b.NextWallClock = int64(binary.LittleEndian.Uint64(data[24:32]))
	b.NextSequence = binary.LittleEndian.Uint64(data[32:40])
	b.ReadyFrame = binary.LittleEndian.Uint32(data[40:44])
	return b, true
}
