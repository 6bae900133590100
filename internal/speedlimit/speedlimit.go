// Package speedlimit throttles a PartWorker's read loop to maxNetworkBps
// using golang.org/x/time/rate's token bucket, replacing the teacher's
// internal/download/limiter sleep-on-overshoot scheme with the ecosystem's
// rate limiter. Externally the behaviour matches §4.6 step 4's "Speed
// limit": each part has its own limiter, so a part never sustains above
// maxNetworkBps.
package speedlimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter caps throughput at bytesPerSecond. A zero or negative
// bytesPerSecond disables limiting entirely (a Limiter with no underlying
// rate.Limiter), matching
// "maxNetworkBps (0 disables)".
type Limiter struct {
	rl *rate.Limiter
}

// New constructs a Limiter for bytesPerSecond, or a disabled Limiter when
// bytesPerSecond <= 0.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return &Limiter{}
	}
	// Burst equals one second worth of bytes: smooth enough to not starve
	// small reads, tight enough to bound the worst-case burst.
	return &Limiter{rl: rate.NewLimiter(rate.Limit(bytesPerSecond), int(bytesPerSecond))}
}

// WaitN blocks until n bytes worth of budget is available, or ctx is
// cancelled. A disabled Limiter always returns immediately. n is chunked
// to the limiter's burst size before each WaitN call: rate.Limiter.WaitN
// errors outright when n exceeds burst, and a caller's read buffer (sized
// independently of maxNetworkBps) can easily be larger than one second's
// worth of budget once the configured rate is low.
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	if l == nil || l.rl == nil || n <= 0 {
		return nil
	}
	burst := l.rl.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := l.rl.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
