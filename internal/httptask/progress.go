package httptask

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/aio-downloader/aiocore/internal/checksum"
	"github.com/aio-downloader/aiocore/internal/model"
)

// progressLoop is the single logical scheduler named in the design notes:
// it fires the 500ms progress tick that both aggregates progress and runs
// the completion watchdog, collapsing the teacher's separate
// completion-monitor/health-monitor goroutines into one ticker.
func (t *Task) progressLoop(ctx context.Context) {
	ticker := time.NewTicker(progressTick)
	defer ticker.Stop()

	t.mu.Lock()
	stop := t.tickerStop
	t.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			t.aggregateProgress()
			t.runWatchdog(ctx)
			if t.checkCompletion() {
				return
			}
		}
	}
}

// aggregateProgress recomputes downloadedBytes/progressPercent/speed per
// §4.6 Aggregated progress and persists the record.
func (t *Task) aggregateProgress() {
	r := t.record
	r.Lock()
	r.RecomputeProgress()
	r.LastModifiedMs = nowMs()

	realtime := t.meter.Update(r.DownloadedBytes)
	r.RealtimeBps = realtime
	if realtime > r.MaxBps {
		r.MaxBps = realtime
	}

	elapsed := r.ElapsedSnapshot(nowMs())
	r.ElapsedMs = elapsed
	if elapsed > 0 {
		r.AverageBps = float64(r.DownloadedBytes) / (float64(elapsed) / 1000)
	}

	if !r.IsUnknownSize && r.FileSize > 0 && r.AverageBps > 0 && !r.IsWaitingForNetwork {
		r.RemainingSec = float64(r.FileSize-r.DownloadedBytes) / r.AverageBps
	}
	r.Unlock()

	_ = t.deps.Store.Update(r, false)
	t.deps.Events.PublishStatus(r)
}

// runWatchdog restarts any part whose downloadedByte has reached its
// chunkSize without the part itself ever reporting Complete — recovery
// from a stall where the remote closed the connection exactly at the
// range boundary (§4.6 Completion watchdog).
func (t *Task) runWatchdog(ctx context.Context) {
	r := t.record
	var stale []int

	r.RLock()
	for i, p := range r.Parts {
		if p.ChunkSize > 0 && p.DownloadedByte >= p.ChunkSize && p.Status != model.StatusComplete {
			stale = append(stale, i)
		}
	}
	r.RUnlock()

	for _, idx := range stale {
		t.startPart(ctx, idx)
	}
}

// checkCompletion transitions the task to Complete once every part is
// Complete, per §4.6 Per-part completion callback.
func (t *Task) checkCompletion() bool {
	r := t.record
	r.Lock()
	if !r.AllPartsComplete() {
		r.Unlock()
		return false
	}

	r.IsRunning = false
	r.IsComplete = true
	r.Status = model.StatusComplete
	r.ProgressPercent = 100
	r.MarkRunPaused(nowMs())
	if r.FileSize > 0 {
		r.DownloadedBytes = r.FileSize
	}
	r.Unlock()

	_ = t.deps.Store.Update(r, false)
	t.deps.Events.PublishStatus(r)
	t.deps.Events.PublishFinish(r)

	go t.computeChecksum()
	return true
}

// computeChecksum populates Checksum opportunistically (§4.8): it never
// blocks completion and a failure to read the file is silently ignored,
// matching the "opportunistically" qualifier.
func (t *Task) computeChecksum() {
	r := t.record
	r.RLock()
	path := filepath.Join(r.Directory, r.FileName)
	r.RUnlock()

	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	sum, err := checksum.SHA256(f)
	if err != nil {
		return
	}

	r.Lock()
	r.Checksum = sum
	r.Unlock()
	_ = t.deps.Store.Update(r, false)
	t.deps.Events.PublishStatus(r)
}
