package extractor

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aio-downloader/aiocore/internal/events"
	"github.com/aio-downloader/aiocore/internal/model"
	"github.com/aio-downloader/aiocore/internal/store"
)

func newTestTask(t *testing.T, rawurl string) *Task {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	record := model.New(1, model.KindMediaExtractor, rawurl, model.DefaultSettings())
	return New(record, Deps{Store: st, Events: events.NewBus(), InternalDir: t.TempDir()})
}

func TestHandleFailure_MatchesKnownSubstringBeforeProbingTheURL(t *testing.T) {
	task := newTestTask(t, "https://example.invalid/video")

	err := task.handleFailure("ERROR: Restricted Video: sign in to confirm your age")
	require.Error(t, err)

	task.record.RLock()
	defer task.record.RUnlock()
	assert.True(t, task.record.IsExtractorError)
	assert.Equal(t, model.ExtractorErrLoginRequired, task.record.ExtractorErrorMessage)
	assert.False(t, task.record.IsFileUrlExpired, "a recognised substring match must win before any URL probe")
}

func TestHandleFailure_UnrecognisedOutputWithExpiredURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	task := newTestTask(t, srv.URL+"/video")
	err := task.handleFailure("some unrecognised yt-dlp output")
	require.Error(t, err)

	task.record.RLock()
	defer task.record.RUnlock()
	assert.True(t, task.record.IsFileUrlExpired)
	assert.Equal(t, model.StatusInfoLinkExpired, task.record.StatusInfo)
	assert.False(t, task.record.IsDestinationMissing)
}

func TestHandleFailure_DestinationMissingWhenURLStillValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	task := newTestTask(t, srv.URL+"/video")
	task.record.Lock()
	task.record.DownloadedBytes = 1024
	task.record.Directory = t.TempDir()
	task.record.FileName = "missing.mp4"
	task.record.Unlock()

	err := task.handleFailure("some unrecognised yt-dlp output")
	require.Error(t, err)

	task.record.RLock()
	defer task.record.RUnlock()
	assert.True(t, task.record.IsDestinationMissing)
	assert.Equal(t, model.StatusInfoFileDeleted, task.record.StatusInfo)
}

func TestHandleFailure_FallsBackToGenericDownloadFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	task := newTestTask(t, srv.URL+"/video")

	err := task.handleFailure("some unrecognised yt-dlp output")
	require.Error(t, err)

	task.record.RLock()
	defer task.record.RUnlock()
	assert.Equal(t, model.StatusInfoDownloadFailed, task.record.StatusInfo)
	assert.False(t, task.record.IsFileUrlExpired)
	assert.False(t, task.record.IsDestinationMissing)
}

func TestFormatSelector_AppSelfIdentifierSocialShortcut(t *testing.T) {
	format := model.MediaFormat{FormatId: appSelfIdentifier, IsFromSocial: true}
	sel := FormatSelector(format, "instagram.com")
	assert.Equal(t, "bestvideo[height<=2400]+bestaudio/best[height<=2400]/best", sel)
}

func TestFormatSelector_KnownStreamingHostPrefersAudio(t *testing.T) {
	format := model.MediaFormat{FormatId: appSelfIdentifier, Resolution: "1080p"}
	sel := FormatSelector(format, "youtube.com")
	assert.Equal(t, "bestaudio", sel)
}

func TestFormatSelector_ExplicitFormatIdPassesThrough(t *testing.T) {
	format := model.MediaFormat{FormatId: "137+140"}
	assert.Equal(t, "137+140", FormatSelector(format, "example.com"))
}

func TestFormatSelector_ResolutionBoundsNonStreamingHost(t *testing.T) {
	format := model.MediaFormat{FormatId: appSelfIdentifier, Resolution: "1920x1080"}
	sel := FormatSelector(format, "example.com")
	assert.Equal(t, "bestvideo[height<=1080]+bestaudio/best[height<=1080]/best", sel)
}
