// Package ratelimit coordinates per-host backoff when a remote server
// answers with HTTP 429, so every part of every task hitting the same
// host backs off together instead of hammering it back into a ban. It is
// the direct adaptation of the teacher's internal/download/limiter
// package (manager.go + ratelimiter.go) to this module's task model; the
// host-keyed backoff algorithm is unchanged.
package ratelimit

import (
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aio-downloader/aiocore/internal/logging"
)

// Error is returned when a 429 response is received, carrying the
// recommended wait before the next attempt.
type Error struct {
	WaitDuration time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limited (429), retry after %v", e.WaitDuration)
}

// Limiter tracks 429 backoff state for one host.
type Limiter struct {
	Host string

	blockedUntil    atomic.Int64
	consecutiveHits atomic.Int32
	mu              sync.Mutex
}

func newLimiter(host string) *Limiter {
	return &Limiter{Host: host}
}

// Handle429 processes a 429 response and returns how long callers should
// wait before retrying. Uses Retry-After when present (seconds or
// HTTP-date), else exponential backoff capped at 60s, plus ±10% jitter to
// avoid a thundering herd when many parts unblock simultaneously.
func (l *Limiter) Handle429(resp *http.Response) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.consecutiveHits.Add(1)
	var wait time.Duration

	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			wait = time.Duration(seconds) * time.Second
		} else if t, err := http.ParseTime(retryAfter); err == nil {
			wait = time.Until(t)
			if wait < 0 {
				wait = time.Second
			}
		}
	}

	if wait == 0 {
		multiplier := int64(1) << min(int(hits-1), 5) // cap at 2^5 = 32
		wait = time.Duration(multiplier) * time.Second
		if wait > 60*time.Second {
			wait = 60 * time.Second
		}
	}

	wait = addJitter(wait, 0.10)
	l.setBlockedUntil(wait)

	logging.L().Warn().Str("host", l.Host).Dur("wait", wait).Int32("hit", hits).Msg("rate limited, backing off")
	return wait
}

func addJitter(d time.Duration, factor float64) time.Duration {
	if d <= 0 {
		return d
	}
	jitter := (rand.Float64()*2 - 1) * factor
	return time.Duration(float64(d) * (1 + jitter))
}

func (l *Limiter) setBlockedUntil(d time.Duration) {
	next := time.Now().Add(d).UnixNano()
	for {
		current := l.blockedUntil.Load()
		if next <= current {
			return
		}
		if l.blockedUntil.CompareAndSwap(current, next) {
			return
		}
	}
}

// WaitIfBlocked sleeps out any remaining block window, returning whether
// it waited.
func (l *Limiter) WaitIfBlocked() bool {
	until := l.blockedUntil.Load()
	if until == 0 {
		return false
	}
	wait := time.Until(time.Unix(0, until))
	if wait <= 0 {
		return false
	}
	time.Sleep(wait)
	return true
}

// ReportSuccess resets the consecutive-hit counter after a non-429 response.
func (l *Limiter) ReportSuccess() {
	l.consecutiveHits.Store(0)
}

// IsBlocked reports whether the host is currently in backoff.
func (l *Limiter) IsBlocked() bool {
	until := l.blockedUntil.Load()
	return until != 0 && time.Now().UnixNano() < until
}

// Manager coordinates Limiters across all tasks, keyed by host, so every
// part hitting the same remote shares backoff state.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{limiters: make(map[string]*Limiter)}
}

// Get returns the Limiter for host, creating it on first use.
func (m *Manager) Get(host string) *Limiter {
	m.mu.RLock()
	if l, ok := m.limiters[host]; ok {
		m.mu.RUnlock()
		return l
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.limiters[host]; ok {
		return l
	}
	l := newLimiter(host)
	m.limiters[host] = l
	return l
}
