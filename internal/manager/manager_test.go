package manager

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aio-downloader/aiocore/internal/model"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	m, err := New(dir, model.DefaultSettings())
	require.NoError(t, err)
	return m
}

func TestManager_Add_EnqueuesToWaitingAndPersists(t *testing.T) {
	m := newTestManager(t)
	record := model.New(m.NextID(), model.KindHttp, "https://example.com/a.bin", model.DefaultSettings())

	require.NoError(t, m.Add(record))

	m.mu.Lock()
	_, known := m.records[record.ID]
	waiting := len(m.waiting)
	m.mu.Unlock()
	assert.True(t, known)
	assert.Equal(t, 1, waiting)

	_, err := os.Stat(filepath.Join(m.internalDir, strconv.FormatInt(record.ID, 10)+"_download.json"))
	assert.NoError(t, err)
}

func TestManager_Add_KnownIDBehavesAsResume(t *testing.T) {
	m := newTestManager(t)
	record := model.New(m.NextID(), model.KindHttp, "https://example.com/a.bin", model.DefaultSettings())
	require.NoError(t, m.Add(record))

	m.mu.Lock()
	m.waiting = nil // simulate it having been picked up already
	m.mu.Unlock()

	require.NoError(t, m.Add(record))

	m.mu.Lock()
	waiting := len(m.waiting)
	m.mu.Unlock()
	assert.Equal(t, 1, waiting, "re-adding a known id should re-enqueue via Resume, not duplicate the record")
}

func TestManager_Pause_UnknownTaskErrors(t *testing.T) {
	m := newTestManager(t)
	err := m.Pause(999)
	assert.Error(t, err)
}

func TestManager_Tick_NoStateChangeProducesNoEventsOrWrites(t *testing.T) {
	m := newTestManager(t)

	statusCh, unsub := m.Events().SubscribeStatus()
	defer unsub()
	finishCh, unsubFinish := m.Events().SubscribeFinish()
	defer unsubFinish()

	m.Tick(context.Background())
	m.Tick(context.Background())

	select {
	case <-statusCh:
		t.Fatal("Tick with no state change must not publish a status event")
	case <-finishCh:
		t.Fatal("Tick with no state change must not publish a finish event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestManager_ValidateCache_DropsRecordsWhoseFileWasRemoved(t *testing.T) {
	m := newTestManager(t)
	record := model.New(m.NextID(), model.KindHttp, "https://example.com/a.bin", model.DefaultSettings())
	require.NoError(t, m.Add(record))

	require.NoError(t, os.Remove(filepath.Join(m.internalDir, strconv.FormatInt(record.ID, 10)+"_download.json")))

	m.validateCache(context.Background())

	m.mu.Lock()
	_, known := m.records[record.ID]
	m.mu.Unlock()
	assert.False(t, known, "a record whose backing file vanished must be dropped from the cache")
}

func TestManager_BulkOps_NoOpOnEmptyManager(t *testing.T) {
	m := newTestManager(t)
	assert.NoError(t, m.PauseAll())
	assert.NoError(t, m.ResumeAll())
	assert.NoError(t, m.ClearAll())
	assert.NoError(t, m.DeleteAll())
}
