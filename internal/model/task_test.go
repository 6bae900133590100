package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskRecord_JSONRoundTrip_PreservesUnknownFields(t *testing.T) {
	raw := []byte(`{
		"id": 42,
		"kind": "Http",
		"url": "https://example.com/file.zip",
		"fileSize": 1000,
		"status": "Downloading",
		"settingsSnapshot": {},
		"futureFieldNotYetModeled": "keep me",
		"anotherFutureField": 7
	}`)

	var record TaskRecord
	require.NoError(t, json.Unmarshal(raw, &record))
	assert.Equal(t, int64(42), record.ID)
	assert.Equal(t, KindHttp, record.Kind)

	encoded, err := json.Marshal(&record)
	require.NoError(t, err)

	var roundTripped map[string]any
	require.NoError(t, json.Unmarshal(encoded, &roundTripped))
	assert.Equal(t, "keep me", roundTripped["futureFieldNotYetModeled"])
	assert.Equal(t, float64(7), roundTripped["anotherFutureField"])

	var decoded TaskRecord
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, record.ID, decoded.ID)
	assert.Equal(t, record.URL, decoded.URL)
}

func TestTaskRecord_JSONRoundTrip_NoUnknownFieldsIsStable(t *testing.T) {
	original := New(1, KindHttp, "https://example.com/a.bin", DefaultSettings())
	original.FileSize = 2048

	encoded, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded TaskRecord
	require.NoError(t, json.Unmarshal(encoded, &decoded))

	reencoded, err := json.Marshal(&decoded)
	require.NoError(t, err)
	assert.JSONEq(t, string(encoded), string(reencoded))
}

func TestTaskRecord_ElapsedSnapshot_AccumulatesOnlyWhileRunning(t *testing.T) {
	r := New(1, KindHttp, "https://example.com/a.bin", DefaultSettings())

	r.Lock()
	r.MarkRunStarted(1000)
	r.Unlock()

	r.RLock()
	elapsed := r.ElapsedSnapshot(1500)
	r.RUnlock()
	assert.Equal(t, int64(500), elapsed, "elapsed should grow while a run is open")

	r.Lock()
	r.MarkRunPaused(1500)
	r.Unlock()

	r.RLock()
	frozen := r.ElapsedSnapshot(9000)
	r.RUnlock()
	assert.Equal(t, int64(500), frozen, "elapsed must not grow while paused")

	r.Lock()
	r.MarkRunStarted(9000)
	r.Unlock()

	r.RLock()
	resumed := r.ElapsedSnapshot(9200)
	r.RUnlock()
	assert.Equal(t, int64(700), resumed, "resuming must add to the accumulated base, not reset it")
}

func TestTaskRecord_MarkRunStarted_IsIdempotentWithinAnOpenRun(t *testing.T) {
	r := New(1, KindHttp, "https://example.com/a.bin", DefaultSettings())

	r.Lock()
	r.MarkRunStarted(1000)
	r.MarkRunStarted(5000) // must not reset the open run's start time
	elapsed := r.ElapsedSnapshot(6000)
	r.Unlock()

	assert.Equal(t, int64(5000), elapsed)
}

func TestTaskRecord_AllPartsComplete(t *testing.T) {
	r := New(1, KindHttp, "https://example.com/a.bin", DefaultSettings())
	assert.False(t, r.AllPartsComplete(), "no parts at all is not complete")

	r.Parts = []Part{{Status: StatusComplete}, {Status: StatusDownloading}}
	assert.False(t, r.AllPartsComplete())

	r.Parts[1].Status = StatusComplete
	assert.True(t, r.AllPartsComplete())
}
