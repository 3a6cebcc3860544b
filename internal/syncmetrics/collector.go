// Package syncmetrics exposes the sync controller's live state as
// Prometheus metrics: a custom Collector reads a mutex-guarded snapshot on
// every scrape instead of maintaining a pile of independently-updated
// gauges, mirroring the sockstats exporter's Describe/Collect-over-a-
// guarded-map shape.
package syncmetrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is the set of values a Collector scrape reads. Controller owners
// call Collector.Update once per frame (or once per beacon) to publish the
// latest values; Collect never blocks on the control loop.
type Snapshot struct {
	Mode            string
	SyncReady       bool
	CorrectionState string
	OffsetUs        int64
	LagUs           int64
	FrameCount      uint64
	WindowLength    int
	WindowSlope     float64
	BeaconsSent     uint64
	BeaconsReceived uint64
	BeaconSendErrs  uint64
}

// Collector implements prometheus.Collector over a guarded Snapshot.
type Collector struct {
	mu   sync.Mutex
	snap Snapshot

	syncReady       *prometheus.Desc
	offsetUs        *prometheus.Desc
	lagUs           *prometheus.Desc
	frameCount      *prometheus.Desc
	windowLength    *prometheus.Desc
	windowSlope     *prometheus.Desc
	beaconsSent     *prometheus.Desc
	beaconsReceived *prometheus.Desc
	beaconSendErrs  *prometheus.Desc
	mode            *prometheus.Desc
	correctionState *prometheus.Desc
}

// NewCollector builds a Collector. constLabels are attached to every metric
// (for example, session_id or role), mirroring sockstats' constLabels
// parameter.
func NewCollector(constLabels prometheus.Labels) *Collector {
	return &Collector{
		syncReady:       prometheus.NewDesc("camerasync_sync_ready", "Whether the controller's barrier has released (1) or not (0).", nil, constLabels),
		offsetUs:        prometheus.NewDesc("camerasync_offset_microseconds", "Last frame-duration correction offset applied by the follower.", nil, constLabels),
		lagUs:           prometheus.NewDesc("camerasync_lag_microseconds", "Observed lag between expected and actual barrier-release wall clock.", nil, constLabels),
		frameCount:      prometheus.NewDesc("camerasync_frame_count_total", "Frames processed since the last mode switch.", nil, constLabels),
		windowLength:    prometheus.NewDesc("camerasync_window_length", "Number of samples currently held in the rolling regression window.", nil, constLabels),
		windowSlope:     prometheus.NewDesc("camerasync_window_slope", "Current least-squares slope of the rolling regression window.", nil, constLabels),
		beaconsSent:     prometheus.NewDesc("camerasync_beacons_sent_total", "Beacons successfully sent by a leader.", nil, constLabels),
		beaconsReceived: prometheus.NewDesc("camerasync_beacons_received_total", "Beacons successfully decoded by a follower.", nil, constLabels),
		beaconSendErrs:  prometheus.NewDesc("camerasync_beacon_send_errors_total", "Beacon send failures observed by a leader.", nil, constLabels),
		mode:            prometheus.NewDesc("camerasync_mode_info", "Current controller mode as a label.", []string{"mode"}, constLabels),
		correctionState: prometheus.NewDesc("camerasync_correction_state_info", "Current follower correction sub-state as a label.", []string{"state"}, constLabels),
	}
}

// Update replaces the snapshot read on the next scrape. Safe to call from
// the control loop's goroutine every frame.
func (c *Collector) Update(snap Snapshot) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.syncReady
	descs <- c.offsetUs
	descs <- c.lagUs
	descs <- c.frameCount
	descs <- c.windowLength
	descs <- c.windowSlope
	descs <- c.beaconsSent
	descs <- c.beaconsReceived
	descs <- c.beaconSendErrs
	descs <- c.mode
	descs <- c.correctionState
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	snap := c.snap
	c.mu.Unlock()

	ready := 0.0
	if snap.SyncReady {
		ready = 1.0
	}
	metrics <- prometheus.MustNewConstMetric(c.syncReady, prometheus.GaugeValue, ready)
	metrics <- prometheus.MustNewConstMetric(c.offsetUs, prometheus.GaugeValue, float64(snap.OffsetUs))
	metrics <- prometheus.MustNewConstMetric(c.lagUs, prometheus.GaugeValue, float64(snap.LagUs))
	metrics <- prometheus.MustNewConstMetric(c.frameCount, prometheus.CounterValue, float64(snap.FrameCount))
	metrics <- prometheus.MustNewConstMetric(c.windowLength, prometheus.GaugeValue, float64(snap.WindowLength))
	metrics <- prometheus.MustNewConstMetric(c.windowSlope, prometheus.GaugeValue, snap.WindowSlope)
	metrics <- prometheus.MustNewConstMetric(c.beaconsSent, prometheus.CounterValue, float64(snap.BeaconsSent))
	metrics <- prometheus.MustNewConstMetric(c.beaconsReceived, prometheus.CounterValue, float64(snap.BeaconsReceived))
	metrics <- prometheus.MustNewConstMetric(c.beaconSendErrs, prometheus.CounterValue, float64(snap.BeaconSendErrs))
	metrics <- prometheus.MustNewConstMetric(c.mode, prometheus.GaugeValue, 1, snap.Mode)
	metrics <- prometheus.MustNewConstMetric(c.correctionState, prometheus.GaugeValue, 1, snap.CorrectionState)
}

var _ prometheus.Collector = (*Collector)(nil)
