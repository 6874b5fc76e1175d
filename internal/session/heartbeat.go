package session

import (
	"time"
)

const heartbeatSampleCount = 16

// HeartbeatMonitor keeps a small ring of round-trip samples and a count of
// consecutive missed pongs. One miss tolerates jitter; the second flips the
// verdict to unhealthy.
type HeartbeatMonitor struct {
	samples          [heartbeatSampleCount]time.Duration
	filled           int
	index            int
	misses           int
	latencyThreshold time.Duration
}

func NewHeartbeatMonitor(latencyThreshold time.Duration) *HeartbeatMonitor {
	if latencyThreshold <= 0 {
		latencyThreshold = time.Second
	}
	return &HeartbeatMonitor{latencyThreshold: latencyThreshold}
}

// RecordPong stores one answered round trip and clears the miss counter.
func (m *HeartbeatMonitor) RecordPong(rtt time.Duration) {
	m.samples[m.index] = rtt
	m.index = (m.index + 1) % heartbeatSampleCount
	if m.filled < heartbeatSampleCount {
		m.filled++
	}
	m.misses = 0
}

// Miss counts one unanswered ping and returns the consecutive-miss count.
func (m *HeartbeatMonitor) Miss() int {
	m.misses++
	return m.misses
}

// Latest returns the most recent round trip, zero when none was recorded.
func (m *HeartbeatMonitor) Latest() time.Duration {
	if m.filled == 0 {
		return 0
	}
	return m.samples[(m.index+heartbeatSampleCount-1)%heartbeatSampleCount]
}

// Average is the rolling mean over the ring.
func (m *HeartbeatMonitor) Average() time.Duration {
	if m.filled == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < m.filled; i++ {
		total += m.samples[i]
	}
	return total / time.Duration(m.filled)
}

// Healthy is the rolling verdict: no two consecutive misses and the latest
// answered round trip under the threshold.
func (m *HeartbeatMonitor) Healthy() bool {
	if m.misses >= 2 {
		return false
	}
	if m.filled > 0 && m.Latest() >= m.latencyThreshold {
		return false
	}
	return true
}

// Reset clears all samples, used when a fresh transport comes up.
func (m *HeartbeatMonitor) Reset() {
	m.filled = 0
	m.index = 0
	m.misses = 0
}
