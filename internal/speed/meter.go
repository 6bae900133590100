// Package speed implements the sliding-interval byte/time accumulator used
// by both task kinds to report realtime throughput, the generalisation of
// the per-task EMA tracking in the teacher's
// internal/engine/concurrent/task.go ActiveTask into a standalone
// component any task variant can own.
package speed

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Meter tracks instantaneous throughput from successive byte-count
// snapshots, per §4.5.
type Meter struct {
	mu          sync.Mutex
	lastBytes   int64
	lastTime    time.Time
	currentBps  float64
}

// New constructs a Meter seeded with an initial byte count.
func New(initialBytes int64) *Meter {
	return &Meter{
		lastBytes: initialBytes,
		lastTime:  time.Now(),
	}
}

// Update records bytesDownloaded (a cumulative total, not a delta) and
// recomputes currentBps over the wall-clock elapsed since the previous
// update. When elapsed seconds is 0, the prior value is retained. Negative
// deltas (e.g. a truncation on restart) clamp to 0.
func (m *Meter) Update(bytesDownloaded int64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(m.lastTime).Seconds()
	delta := bytesDownloaded - m.lastBytes
	if delta < 0 {
		delta = 0
	}

	if elapsed > 0 {
		m.currentBps = float64(delta) / elapsed
	}

	m.lastBytes = bytesDownloaded
	m.lastTime = now
	return m.currentBps
}

// Current returns the last computed bytes-per-second value.
func (m *Meter) Current() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentBps
}

// CurrentFormatted renders Current as a human-readable rate string, e.g.
// "1.2 MB/s".
func (m *Meter) CurrentFormatted() string {
	return humanize.Bytes(uint64(m.Current())) + "/s"
}
