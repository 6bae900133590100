// Package events implements the typed sinks named in the design notes:
// "Listener pattern -> explicit channels". Per-task status events and
// per-manager finish events are bounded channels rather than an observer
// interface invoked synchronously, avoiding the re-entrancy hazard the
// teacher's UI-thread callbacks were prone to (listener running concurrently
// with the persistence write it depends on).
//
// This generalises the teacher's internal/engine/events.go message set
// (ProgressMsg, DownloadCompleteMsg, DownloadErrorMsg, ...) into a single
// StatusEvent carrying the full TaskRecord, since §4.1 says "Status events
// carry the full TaskRecord; listeners may filter on status, isComplete, or
// flags" rather than a menagerie of per-transition message shapes.
package events

import (
	"sync"

	"github.com/aio-downloader/aiocore/internal/model"
)

// StatusEvent is emitted on every status transition of a TaskRecord.
type StatusEvent struct {
	Record *model.TaskRecord
}

// FinishEvent is emitted once per completion transition (at-least-once;
// duplicates are idempotent on the receiving side because isComplete is
// latched on the record itself).
type FinishEvent struct {
	Record *model.TaskRecord
}

const sinkBuffer = 64

// Bus fans status and finish events out to any number of registered
// listeners without blocking the emitting goroutine for slow consumers:
// a full channel drops the event for that listener rather than stalling
// the Manager's tick or a task's worker.
type Bus struct {
	mu        sync.RWMutex
	status    map[chan StatusEvent]struct{}
	finish    map[chan FinishEvent]struct{}
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{
		status: make(map[chan StatusEvent]struct{}),
		finish: make(map[chan FinishEvent]struct{}),
	}
}

// SubscribeStatus registers a new status listener and returns its channel
// plus an unsubscribe function.
func (b *Bus) SubscribeStatus() (<-chan StatusEvent, func()) {
	ch := make(chan StatusEvent, sinkBuffer)
	b.mu.Lock()
	b.status[ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.status, ch)
		b.mu.Unlock()
		close(ch)
	}
}

// SubscribeFinish registers a new finish listener and returns its channel
// plus an unsubscribe function.
func (b *Bus) SubscribeFinish() (<-chan FinishEvent, func()) {
	ch := make(chan FinishEvent, sinkBuffer)
	b.mu.Lock()
	b.finish[ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.finish, ch)
		b.mu.Unlock()
		close(ch)
	}
}

// PublishStatus notifies every status listener. Must be called after the
// corresponding persistence write completes (§5 Ordering guarantees).
func (b *Bus) PublishStatus(record *model.TaskRecord) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.status {
		select {
		case ch <- StatusEvent{Record: record}:
		default:
		}
	}
}

// PublishFinish notifies every finish listener. Only called when a task
// transitions to Complete.
func (b *Bus) PublishFinish(record *model.TaskRecord) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.finish {
		select {
		case ch <- FinishEvent{Record: record}:
		default:
		}
	}
}
