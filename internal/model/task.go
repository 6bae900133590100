package model

import (
	"encoding/json"
	"reflect"
	"sync"
)

// Part is one byte-range segment of a download, per §3 Progress group.
type Part struct {
	StartByte      int64   `json:"startByte"`
	EndByte        int64   `json:"endByte"`
	ChunkSize      int64   `json:"chunkSize"`
	DownloadedByte int64   `json:"downloadedByte"`
	Percent        float64 `json:"percent"`
	Status         Status  `json:"status"`
}

// MediaInfo carries the source-side metadata for a MediaExtractor task.
type MediaInfo struct {
	URL          string `json:"url"`
	Title        string `json:"title"`
	Referer      string `json:"referer"`
	ThumbnailUrl string `json:"thumbnailUrl"`
	Cookie       string `json:"cookie"`
}

// MediaFormat selects which rendition the extractor should fetch.
type MediaFormat struct {
	FormatId     string `json:"formatId"`
	Resolution   string `json:"resolution"`
	Vcodec       string `json:"vcodec"`
	IsFromSocial bool   `json:"isFromSocial"`
}

// TaskRecord is the canonical, persisted state of a single download. It is
// always handled through a pointer; the embedded mutex guards every field
// listed below against concurrent reads from the aggregator and writes from
// the owning worker/task.
type TaskRecord struct {
	mu sync.RWMutex

	ID   int64 `json:"id"`
	Kind Kind  `json:"kind"`

	URL                string            `json:"url"`
	Referer            string            `json:"referer"`
	CookieString       string            `json:"cookieString"`
	ContentDisposition string            `json:"contentDisposition"`
	MimeType           string            `json:"mimeType"`
	AdditionalHeaders  map[string]string `json:"additionalHeaders,omitempty"`

	Directory    string `json:"directory"`
	FileName     string `json:"fileName"`
	CategoryName string `json:"categoryName"`

	FileSize        int64 `json:"fileSize"`
	IsUnknownSize   bool  `json:"isUnknownSize"`
	DownloadedBytes int64 `json:"downloadedBytes"`

	SupportsResume    bool `json:"supportsResume"`
	SupportsMultipart bool `json:"supportsMultipart"`

	ProgressPercent float64 `json:"progressPercent"`
	Parts           []Part  `json:"parts"`

	RealtimeBps float64 `json:"realtimeBps"`
	AverageBps  float64 `json:"averageBps"`
	MaxBps      float64 `json:"maxBps"`

	StartedAtMs          int64   `json:"startedAtMs"`
	LastModifiedMs       int64   `json:"lastModifiedMs"`
	ElapsedMs            int64   `json:"elapsedMs"`
	RunStartedAtMs       int64   `json:"runStartedAtMs,omitempty"`
	AccumulatedElapsedMs int64   `json:"accumulatedElapsedMs,omitempty"`
	RemainingSec         float64 `json:"remainingSec"`

	Status                Status `json:"status"`
	IsRunning             bool   `json:"isRunning"`
	IsComplete            bool   `json:"isComplete"`
	IsDeleted             bool   `json:"isDeleted"`
	IsRemoved             bool   `json:"isRemoved"`
	IsWaitingForNetwork   bool   `json:"isWaitingForNetwork"`
	IsFileUrlExpired      bool   `json:"isFileUrlExpired"`
	IsDestinationMissing  bool   `json:"isDestinationMissing"`
	IsFailedToAccessFile  bool   `json:"isFailedToAccessFile"`
	IsExtractorError      bool   `json:"isExtractorError"`
	ExtractorErrorMessage string `json:"extractorErrorMessage,omitempty"`
	UserDialogMessage     string `json:"userDialogMessage,omitempty"`
	StatusInfo            string `json:"statusInfo,omitempty"`

	SettingsSnapshot Settings `json:"settingsSnapshot"`

	MediaInfo                   *MediaInfo   `json:"mediaInfo,omitempty"`
	MediaFormat                 *MediaFormat `json:"mediaFormat,omitempty"`
	ExtractorCommand            string       `json:"extractorCommand,omitempty"`
	ExtractorTempPath           string       `json:"extractorTempPath,omitempty"`
	ExtractorStatusText         string       `json:"extractorStatusText,omitempty"`
	IsSmartCategoryDirProcessed bool         `json:"isSmartCategoryDirProcessed,omitempty"`

	RetryCount int    `json:"retryCount"`
	Checksum   string `json:"checksum,omitempty"`

	// Extra holds any JSON fields not recognised by this version of the
	// struct, so decode(encode(record)) round-trips unknown keys untouched.
	Extra map[string]json.RawMessage `json:"-"`
}

// New constructs a TaskRecord in its initial Close state with a deep-cloned
// settings snapshot, per §3 Lifecycle and §4.6 Initialisation.
func New(id int64, kind Kind, rawurl string, settings Settings) *TaskRecord {
	return &TaskRecord{
		ID:               id,
		Kind:             kind,
		URL:              rawurl,
		FileSize:         -1,
		Status:           StatusClose,
		StatusInfo:       StatusInfoWaitingToJoin,
		SettingsSnapshot: settings.Clone(),
	}
}

func (t *TaskRecord) Lock()    { t.mu.Lock() }
func (t *TaskRecord) Unlock()  { t.mu.Unlock() }
func (t *TaskRecord) RLock()   { t.mu.RLock() }
func (t *TaskRecord) RUnlock() { t.mu.RUnlock() }

// IsHttp reports whether this record drives a SegmentedHttpTask.
func (t *TaskRecord) IsHttp() bool { return t.Kind == KindHttp }

// IsMediaExtractor reports whether this record drives a MediaExtractorTask.
func (t *TaskRecord) IsMediaExtractor() bool { return t.Kind == KindMediaExtractor }

// RecomputeProgress re-derives downloadedBytes and progressPercent from the
// part table; callers hold the write lock before calling this. When
// fileSize is unknown, downloadedBytes is still summed and progressPercent
// is set to 0, matching §4.6 Aggregated progress ("0 when unknown").
func (t *TaskRecord) RecomputeProgress() {
	var sum int64
	for _, p := range t.Parts {
		sum += p.DownloadedByte
	}
	t.DownloadedBytes = sum
	if t.IsUnknownSize || t.FileSize <= 0 {
		t.ProgressPercent = 0
		return
	}
	t.ProgressPercent = 100 * float64(sum) / float64(t.FileSize)
}

// MarkRunStarted begins a new elapsed-accruing run period at nowMs. Callers
// hold the write lock before calling this. A no-op if a run period is
// already open, so resuming a task that never actually paused doesn't reset
// the clock.
func (t *TaskRecord) MarkRunStarted(nowMs int64) {
	if t.RunStartedAtMs == 0 {
		t.RunStartedAtMs = nowMs
	}
}

// MarkRunPaused folds the currently open run period into
// AccumulatedElapsedMs and closes it. Callers hold the write lock before
// calling this; a no-op if no run period is open. This is how §3's "elapsed
// accumulates only while running and not waiting" is enforced: pause,
// network-wait, and completion all call this before leaving the running
// state.
func (t *TaskRecord) MarkRunPaused(nowMs int64) {
	if t.RunStartedAtMs == 0 {
		return
	}
	t.AccumulatedElapsedMs += nowMs - t.RunStartedAtMs
	t.RunStartedAtMs = 0
}

// ElapsedSnapshot returns total elapsed running time as of nowMs, without
// mutating the record. Callers hold at least the read lock.
func (t *TaskRecord) ElapsedSnapshot(nowMs int64) int64 {
	elapsed := t.AccumulatedElapsedMs
	if t.RunStartedAtMs > 0 {
		elapsed += nowMs - t.RunStartedAtMs
	}
	return elapsed
}

// AllPartsComplete reports whether every part has reached Complete status.
func (t *TaskRecord) AllPartsComplete() bool {
	if len(t.Parts) == 0 {
		return false
	}
	for _, p := range t.Parts {
		if p.Status != StatusComplete {
			return false
		}
	}
	return true
}

var taskRecordKnownFields = buildKnownFieldSet()

func buildKnownFieldSet() map[string]bool {
	known := make(map[string]bool)
	typ := reflect.TypeOf(TaskRecord{})
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		name := tag
		for i, c := range tag {
			if c == ',' {
				name = tag[:i]
				break
			}
		}
		if name != "" {
			known[name] = true
		}
	}
	return known
}

// MarshalJSON preserves Extra alongside the known field set.
func (t *TaskRecord) MarshalJSON() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	type alias TaskRecord
	b, err := json.Marshal((*alias)(t))
	if err != nil {
		return nil, err
	}
	if len(t.Extra) == 0 {
		return b, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(b, &merged); err != nil {
		return nil, err
	}
	for k, v := range t.Extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the known field set and stashes anything else in
// Extra, guaranteeing decode(encode(record)) == record for unknown keys.
func (t *TaskRecord) UnmarshalJSON(data []byte) error {
	type alias TaskRecord
	aux := (*alias)(t)
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	extra := make(map[string]json.RawMessage)
	for k, v := range m {
		if !taskRecordKnownFields[k] {
			extra[k] = v
		}
	}
	t.Extra = extra
	return nil
}
