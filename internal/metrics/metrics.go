// Package metrics implements the Metrics snapshot from spec §3 and its
// producers: a moving-bitrate window fed by the writer lane, an fps counter
// fed by the Media Pump, and reconnect/duration counters fed by the
// Supervisor. Grounded on the teacher's BitRateCache (rtmp_session.go),
// generalized from a read-bitrate-only cache into the fuller snapshot the
// spec's external controller consumes.
package metrics

import (
	"sync"
	"time"
)

// Snapshot is the point-in-time view handed to on_metrics.
type Snapshot struct {
	FPS                 float64
	BitrateKbps         float64
	UploadQueueSeconds  float64
	ReconnectCount       int
	Thermal             string
	SessionDuration     time.Duration
}

const bitrateWindow = 10 * time.Second

// Collector accumulates the inputs behind a Snapshot. Safe for concurrent
// use: the writer lane calls RecordBytesWritten, the Media Pump calls
// RecordFrame, and the Supervisor calls RecordReconnect / SessionStarted,
// while on_metrics calls Snapshot concurrently from its own ticker.
type Collector struct {
	mu sync.Mutex

	bitrateSamples []bitrateSample
	frameSamples   []time.Time

	reconnectCount int
	sessionStart   time.Time
	thermal        string
	queueDepth     int
	queueDrainRate float64 // messages/sec, for estimating queue seconds
}

type bitrateSample struct {
	at    time.Time
	bytes int
}

func NewCollector() *Collector {
	return &Collector{thermal: "nominal"}
}

func (c *Collector) SessionStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionStart = time.Now()
}

func (c *Collector) RecordBytesWritten(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.bitrateSamples = append(c.bitrateSamples, bitrateSample{at: now, bytes: n})
	c.trimBitrateSamplesLocked(now)
}

func (c *Collector) RecordFrame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.frameSamples = append(c.frameSamples, now)
	c.trimFrameSamplesLocked(now)
}

func (c *Collector) RecordReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectCount++
}

func (c *Collector) SetThermal(state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thermal = state
}

// SetQueueDepth records the current writer-lane backlog so Snapshot can
// estimate upload-queue seconds against the observed drain rate.
func (c *Collector) SetQueueDepth(depth int, drainPerSecond float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueDepth = depth
	c.queueDrainRate = drainPerSecond
}

func (c *Collector) trimBitrateSamplesLocked(now time.Time) {
	cutoff := now.Add(-bitrateWindow)
	i := 0
	for i < len(c.bitrateSamples) && c.bitrateSamples[i].at.Before(cutoff) {
		i++
	}
	c.bitrateSamples = c.bitrateSamples[i:]
}

func (c *Collector) trimFrameSamplesLocked(now time.Time) {
	cutoff := now.Add(-time.Second)
	i := 0
	for i < len(c.frameSamples) && c.frameSamples[i].Before(cutoff) {
		i++
	}
	c.frameSamples = c.frameSamples[i:]
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.trimBitrateSamplesLocked(now)
	c.trimFrameSamplesLocked(now)

	var totalBytes int
	for _, s := range c.bitrateSamples {
		totalBytes += s.bytes
	}
	bitrateKbps := float64(totalBytes*8) / 1000 / bitrateWindow.Seconds()

	var queueSeconds float64
	if c.queueDrainRate > 0 {
		queueSeconds = float64(c.queueDepth) / c.queueDrainRate
	}

	var duration time.Duration
	if !c.sessionStart.IsZero() {
		duration = now.Sub(c.sessionStart)
	}

	return Snapshot{
		FPS:                float64(len(c.frameSamples)),
		BitrateKbps:        bitrateKbps,
		UploadQueueSeconds: queueSeconds,
		ReconnectCount:     c.reconnectCount,
		Thermal:            c.thermal,
		SessionDuration:    duration,
	}
}
