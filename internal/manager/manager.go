// Package manager implements DownloadManager: the global scheduler that
// accepts download requests, persists them, and drives admission,
// promotion, listener fan-out, and auto-cleanup. It generalises the
// teacher's internal/download/pool.go WorkerPool (buffered task channel,
// running/queued maps, maxDownloads workers) from a channel-driven pool
// into the spec's explicit waiting-queue + 1s-tick promotion model, and
// folds in initialize/shutdown as the CoreContext design note calls for.
package manager

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aio-downloader/aiocore/internal/events"
	"github.com/aio-downloader/aiocore/internal/extractor"
	"github.com/aio-downloader/aiocore/internal/httptask"
	"github.com/aio-downloader/aiocore/internal/model"
	"github.com/aio-downloader/aiocore/internal/netstate"
	"github.com/aio-downloader/aiocore/internal/probe"
	"github.com/aio-downloader/aiocore/internal/ratelimit"
	"github.com/aio-downloader/aiocore/internal/store"
)

const (
	tickInterval          = 1 * time.Second
	cacheValidateInterval = 30 * time.Second
)

// runningTask is the sum-type dispatch the design notes call for
// ("inheritance-by-interface -> tagged variant"): the scheduler switches
// on which field is non-nil rather than invoking a shared interface
// method.
type runningTask struct {
	http      *httptask.Task
	extractor *extractor.Task
	cancel    context.CancelFunc
}

// Manager is the process-wide scheduler. Exactly one authoritative
// in-memory map of TaskRecord lives here; tasks hold a shared reference
// for read/mutation but Manager alone serialises terminal transitions.
type Manager struct {
	mu       sync.Mutex
	records  map[int64]*model.TaskRecord
	running  map[int64]*runningTask
	waiting  []int64 // FIFO queue of ids

	store     *store.Store
	prober    *probe.Prober
	rateLimit *ratelimit.Manager
	events    *events.Bus
	client    *http.Client

	internalDir string
	nextID      int64
	settings    model.Settings

	tickerStop chan struct{}
}

// New constructs a Manager rooted at internalDir (where the ModelStore,
// cookies, and extractor temp files live), scheduling according to
// settings (notably MaxParallel) independent of any one task's own
// immutable SettingsSnapshot.
func New(internalDir string, settings model.Settings) (*Manager, error) {
	st, err := store.New(internalDir)
	if err != nil {
		return nil, err
	}
	prober, err := probe.New()
	if err != nil {
		return nil, err
	}

	return &Manager{
		records:     make(map[int64]*model.TaskRecord),
		running:     make(map[int64]*runningTask),
		store:       st,
		prober:      prober,
		rateLimit:   ratelimit.NewManager(),
		events:      events.NewBus(),
		client:      &http.Client{Timeout: 0},
		internalDir: internalDir,
		settings:    settings,
	}, nil
}

// Events exposes the manager's event bus for listener registration.
func (m *Manager) Events() *events.Bus { return m.events }

// Initialize hydrates from ModelStore, categorises each record into
// finished or active, and enforces the auto-remove policy. Corrupt
// records are silently ignored (ModelStore already quarantined them).
func (m *Manager) Initialize(ctx context.Context) error {
	records, err := m.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("initializing manager: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, r := range records {
		if id >= m.nextID {
			m.nextID = id + 1
		}
		if r.IsComplete {
			if m.shouldAutoRemoveLocked(r) {
				_ = m.store.Delete(r.ID, "", "", false)
				continue
			}
			m.records[id] = r
			continue
		}
		m.records[id] = r
		if r.Status != model.StatusComplete && !r.IsRemoved && !r.IsDeleted {
			m.waiting = append(m.waiting, id)
		}
	}

	sort.Slice(m.waiting, func(i, j int) bool {
		return m.records[m.waiting[i]].StartedAtMs < m.records[m.waiting[j]].StartedAtMs
	})

	return nil
}

func (m *Manager) shouldAutoRemoveLocked(r *model.TaskRecord) bool {
	r.RLock()
	defer r.RUnlock()
	if !r.SettingsSnapshot.AutoRemoveTasks {
		return false
	}
	days := r.SettingsSnapshot.AutoRemoveDays
	if days == 0 {
		return true
	}
	age := time.Since(time.UnixMilli(r.LastModifiedMs))
	return age > time.Duration(days)*24*time.Hour
}

// NextID allocates a process-wide unique task id.
func (m *Manager) NextID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return m.nextID
}

// Add enters record into the waiting queue, persisting it first. If the
// id is already known, Add behaves as Resume.
func (m *Manager) Add(record *model.TaskRecord) error {
	m.mu.Lock()
	if _, known := m.records[record.ID]; known {
		m.mu.Unlock()
		return m.Resume(record.ID)
	}
	m.records[record.ID] = record
	m.waiting = append(m.waiting, record.ID)
	m.mu.Unlock()

	if err := m.store.Update(record, true); err != nil {
		return err
	}
	m.events.PublishStatus(record)
	return nil
}

// Resume adds a known, non-running record back onto the waiting queue.
// No-op if it's already waiting or running.
func (m *Manager) Resume(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[id]
	if !ok {
		return fmt.Errorf("unknown task %d", id)
	}
	if _, running := m.running[id]; running {
		return nil
	}
	for _, w := range m.waiting {
		if w == id {
			return nil
		}
	}

	record.Lock()
	record.Status = model.StatusClose
	record.IsWaitingForNetwork = false
	record.Unlock()

	m.waiting = append(m.waiting, id)
	return nil
}

// Pause cancels a running (or waiting) task cooperatively and sets status
// Close. Idempotent.
func (m *Manager) Pause(id int64) error {
	m.mu.Lock()
	record, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown task %d", id)
	}
	running, isRunning := m.running[id]
	m.removeFromWaitingLocked(id)
	if isRunning {
		delete(m.running, id)
	}
	m.mu.Unlock()

	if isRunning {
		switch {
		case running.http != nil:
			running.http.Pause()
		case running.extractor != nil:
			running.extractor.Cancel()
		}
		if running.cancel != nil {
			running.cancel()
		}
	}

	record.Lock()
	record.Status = model.StatusClose
	record.IsRunning = false
	record.Unlock()
	return m.store.Update(record, false)
}

func (m *Manager) removeFromWaitingLocked(id int64) {
	out := m.waiting[:0]
	for _, w := range m.waiting {
		if w != id {
			out = append(out, w)
		}
	}
	m.waiting = out
}

// Clear marks a task removed: persisted model deleted, task cancelled,
// disk file kept.
func (m *Manager) Clear(id int64) error {
	if err := m.Pause(id); err != nil {
		return err
	}
	m.mu.Lock()
	record, ok := m.records[id]
	if ok {
		record.Lock()
		record.IsRemoved = true
		record.Unlock()
		delete(m.records, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown task %d", id)
	}
	return m.store.Delete(id, "", extractorTempPrefix(record), false)
}

// Delete marks a task deleted: persisted model, cookies and thumbnail are
// removed, and the destination file is removed (best-effort) only when the
// task's settings snapshot places it in the private folder.
func (m *Manager) Delete(id int64) error {
	if err := m.Pause(id); err != nil {
		return err
	}
	m.mu.Lock()
	record, ok := m.records[id]
	if ok {
		record.Lock()
		record.IsDeleted = true
		record.Unlock()
		delete(m.records, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown task %d", id)
	}

	record.RLock()
	dest := filepath.Join(record.Directory, record.FileName)
	private := record.SettingsSnapshot.DefaultDownloadLocation == model.LocationPrivateFolder
	record.RUnlock()

	return m.store.Delete(id, dest, extractorTempPrefix(record), private)
}

func extractorTempPrefix(r *model.TaskRecord) string {
	r.RLock()
	defer r.RUnlock()
	if r.ExtractorTempPath == "" {
		return ""
	}
	return filepath.Base(r.ExtractorTempPath)
}

// PauseAll/ClearAll/DeleteAll/ResumeAll are the bulk variants of §4.1.
func (m *Manager) PauseAll() error  { return m.bulk(m.Pause) }
func (m *Manager) ClearAll() error  { return m.bulk(m.Clear) }
func (m *Manager) DeleteAll() error { return m.bulk(m.Delete) }
func (m *Manager) ResumeAll() error { return m.bulk(m.Resume) }

func (m *Manager) bulk(op func(int64) error) error {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := op(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// List returns a snapshot of every known record.
func (m *Manager) List() []*model.TaskRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.TaskRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out
}

// Get returns a single record by id.
func (m *Manager) Get(id int64) (*model.TaskRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	return r, ok
}

// Run starts the 1s scheduler loop until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	validate := time.NewTicker(cacheValidateInterval)
	defer validate.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		case <-validate.C:
			m.validateCache(ctx)
		}
	}
}

// validateCache implements ModelCache's "validate against files" operation
// of §4.2: records whose backing file has been removed out from under the
// cache are dropped, and ids whose decode-failure cooldown has elapsed are
// given a chance to reload from disk.
func (m *Manager) validateCache(ctx context.Context) {
	m.mu.Lock()
	expiredCooldowns := m.store.ValidateAgainstFiles(m.records)
	m.removeStaleWaitingLocked()
	m.mu.Unlock()

	if len(expiredCooldowns) == 0 {
		return
	}
	reloaded, err := m.store.LoadAll(ctx)
	if err != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range expiredCooldowns {
		r, ok := reloaded[id]
		if !ok {
			continue
		}
		if _, known := m.records[id]; known {
			continue
		}
		m.records[id] = r
		if r.Status != model.StatusComplete && !r.IsRemoved && !r.IsDeleted {
			m.waiting = append(m.waiting, id)
		}
	}
}

// removeStaleWaitingLocked drops any waiting id whose record no longer
// exists in m.records, keeping the queue consistent after validateCache
// prunes deleted-on-disk entries. Callers hold m.mu.
func (m *Manager) removeStaleWaitingLocked() {
	kept := m.waiting[:0]
	for _, id := range m.waiting {
		if _, ok := m.records[id]; ok {
			kept = append(kept, id)
		}
	}
	m.waiting = kept
}

// Tick promotes waiting -> running up to maxParallel and reconciles the
// running set. Idempotent: with no state change it produces no listener
// events and no persistence writes (§8 Idempotence).
func (m *Manager) Tick(ctx context.Context) {
	m.mu.Lock()

	// Reconcile: drop from running anything no longer actually running.
	for id, rt := range m.running {
		record := m.records[id]
		record.RLock()
		stillRunning := record.IsRunning || record.Status == model.StatusDownloading
		record.RUnlock()
		if !stillRunning {
			delete(m.running, id)
			_ = rt
		}
	}

	maxParallel := m.settings.MaxParallel
	if maxParallel < 1 {
		maxParallel = 1
	}

	var toStart []int64
	for len(m.running) < maxParallel && len(m.waiting) > 0 {
		id := m.waiting[0]
		m.waiting = m.waiting[1:]
		toStart = append(toStart, id)
		m.running[id] = &runningTask{}
	}
	m.mu.Unlock()

	for _, id := range toStart {
		m.startTask(ctx, id)
	}
}

func (m *Manager) startTask(ctx context.Context, id int64) {
	m.mu.Lock()
	record, ok := m.records[id]
	m.mu.Unlock()
	if !ok {
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)

	if record.IsMediaExtractor() {
		deps := extractor.Deps{Store: m.store, Events: m.events, InternalDir: m.internalDir}
		task := extractor.New(record, deps)
		m.mu.Lock()
		m.running[id] = &runningTask{extractor: task, cancel: cancel}
		m.mu.Unlock()

		record.RLock()
		cookiesPath := filepath.Join(m.internalDir, fmt.Sprintf("%d_cookies.txt", record.ID))
		record.RUnlock()

		go func() {
			if err := task.Run(taskCtx, cookiesPath); err != nil {
				m.onTaskFailed(id, err)
			} else {
				m.onTaskDone(id)
			}
		}()
		return
	}

	deps := httptask.Deps{
		Store:      m.store,
		Prober:     m.prober,
		RateLimit:  m.rateLimit,
		Events:     m.events,
		Client:     m.client,
		NetStateFn: netstate.Probe,
	}
	task := httptask.New(record, deps)
	m.mu.Lock()
	m.running[id] = &runningTask{http: task, cancel: cancel}
	m.mu.Unlock()

	go func() {
		if err := task.Start(taskCtx); err != nil {
			m.onTaskFailed(id, err)
			return
		}
		task.Wait()
		m.onTaskDone(id)
	}()
}

func (m *Manager) onTaskDone(id int64) {
	m.mu.Lock()
	delete(m.running, id)
	record, ok := m.records[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	shouldAutoRemove := record.IsComplete && m.shouldAutoRemoveLocked(record)

	if shouldAutoRemove {
		m.mu.Lock()
		delete(m.records, id)
		m.mu.Unlock()
		_ = m.store.Delete(id, "", extractorTempPrefix(record), false)
	}
}

func (m *Manager) onTaskFailed(id int64, err error) {
	m.mu.Lock()
	delete(m.running, id)
	record, ok := m.records[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	record.Lock()
	record.Status = model.StatusClose
	record.IsRunning = false
	record.Unlock()
	_ = m.store.Update(record, false)
	_ = err
}

// Shutdown cancels every running task cooperatively and waits (bounded)
// for the HTTP tasks' part workers to return. It does not release the
// instance lock; the caller owns that.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	running := make([]*runningTask, 0, len(m.running))
	for _, rt := range m.running {
		running = append(running, rt)
	}
	m.mu.Unlock()

	for _, rt := range running {
		switch {
		case rt.http != nil:
			rt.http.Pause()
		case rt.extractor != nil:
			rt.extractor.Cancel()
		}
		if rt.cancel != nil {
			rt.cancel()
		}
	}

	done := make(chan struct{})
	go func() {
		for _, rt := range running {
			if rt.http != nil {
				rt.http.Wait()
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
	case <-ctx.Done():
	}
	return nil
}

// EnsureInternalDir creates the manager's internal directory if missing.
func EnsureInternalDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
