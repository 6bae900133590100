package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aio-downloader/aiocore/internal/events"
	"github.com/aio-downloader/aiocore/internal/model"
)

// fakeManager is a minimal in-memory ManagerAPI double, grounded on the
// real manager.Manager's method set but with no scheduler behind it —
// enough to exercise every route's request/response shape.
type fakeManager struct {
	bus     *events.Bus
	records map[int64]*model.TaskRecord
	nextID  int64
}

func newFakeManager() *fakeManager {
	return &fakeManager{bus: events.NewBus(), records: make(map[int64]*model.TaskRecord)}
}

func (f *fakeManager) Add(record *model.TaskRecord) error {
	f.records[record.ID] = record
	return nil
}
func (f *fakeManager) Resume(id int64) error { return f.requireKnown(id) }
func (f *fakeManager) Pause(id int64) error  { return f.requireKnown(id) }
func (f *fakeManager) Clear(id int64) error {
	if err := f.requireKnown(id); err != nil {
		return err
	}
	delete(f.records, id)
	return nil
}
func (f *fakeManager) Delete(id int64) error { return f.Clear(id) }
func (f *fakeManager) PauseAll() error       { return nil }
func (f *fakeManager) ResumeAll() error      { return nil }
func (f *fakeManager) ClearAll() error       { return nil }
func (f *fakeManager) DeleteAll() error      { return nil }
func (f *fakeManager) List() []*model.TaskRecord {
	out := make([]*model.TaskRecord, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r)
	}
	return out
}
func (f *fakeManager) Get(id int64) (*model.TaskRecord, bool) {
	r, ok := f.records[id]
	return r, ok
}
func (f *fakeManager) NextID() int64 {
	f.nextID++
	return f.nextID
}
func (f *fakeManager) Events() *events.Bus { return f.bus }

func (f *fakeManager) requireKnown(id int64) error {
	if _, ok := f.records[id]; !ok {
		return errUnknownTask
	}
	return nil
}

var errUnknownTask = jsonError("unknown task")

func TestServer_AddAndGetTask(t *testing.T) {
	mgr := newFakeManager()
	srv := httptest.NewServer(New(mgr, model.DefaultSettings()))
	defer srv.Close()

	body := `{"url":"https://example.com/file.zip","directory":"/tmp","fileName":"file.zip"}`
	resp, err := http.Post(srv.URL+"/tasks", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var created model.TaskRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "https://example.com/file.zip", created.URL)

	getResp, err := http.Get(srv.URL + "/tasks/" + strconv.FormatInt(created.ID, 10))
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
}

func TestServer_AddTask_MissingURLIsBadRequest(t *testing.T) {
	mgr := newFakeManager()
	srv := httptest.NewServer(New(mgr, model.DefaultSettings()))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/tasks", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_GetUnknownTask_NotFound(t *testing.T) {
	mgr := newFakeManager()
	srv := httptest.NewServer(New(mgr, model.DefaultSettings()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/tasks/999")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_PauseTask_RoutesToManager(t *testing.T) {
	mgr := newFakeManager()
	mgr.records[1] = model.New(1, model.KindHttp, "https://example.com/a", model.DefaultSettings())
	srv := httptest.NewServer(New(mgr, model.DefaultSettings()))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/tasks/1/pause", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Events_StreamsStatusPublications(t *testing.T) {
	mgr := newFakeManager()
	srv := httptest.NewServer(New(mgr, model.DefaultSettings()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	record := model.New(7, model.KindHttp, "https://example.com/a", model.DefaultSettings())

	done := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if after, ok := strings.CutPrefix(line, "data: "); ok {
				done <- after
				return
			}
		}
	}()

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	mgr.bus.PublishStatus(record)

	select {
	case payload := <-done:
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(payload), &ev))
		assert.Equal(t, "status", ev["type"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SSE event")
	}
}
