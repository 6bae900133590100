// Package extractor implements MediaExtractorTask: synthesising a yt-dlp
// invocation, streaming its progress output, and adopting the finished
// file into the user's destination. The argument-list construction via
// exec.CommandContext and the --newline progress-line parsing are
// grounded on the yt-dlp-wrapping pattern shown in two sibling
// repos that front the same helper
// (kqnade-VRCYouTubePatcher's internal/downloader, 9lbw-staccato's
// internal/downloader), generalised to the exact argument list and
// substring-to-message table of §4.7.
package extractor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aio-downloader/aiocore/internal/events"
	"github.com/aio-downloader/aiocore/internal/model"
	"github.com/aio-downloader/aiocore/internal/store"
)

const (
	appSelfIdentifier = "app-default"
	progressThrottle  = 500 * time.Millisecond
)

// progressLineRe matches yt-dlp's `--newline` progress format, e.g.
// "[download]  42.0% of 10.00MiB at 1.20MiB/s ETA 00:05".
var progressLineRe = regexp.MustCompile(`(?i)\[download\]\s+([0-9.]+)%`)

// errorSubstrings is the ordered substring -> message table of §4.7.
// Order matters only in that the first match wins; the spec's table has
// no overlapping substrings so order is otherwise immaterial.
var errorSubstrings = []struct {
	substr  string
	message string
}{
	{"rate-limit reached or login required", model.ExtractorErrLoginRequired},
	{"Requested content is not available", model.ExtractorErrContentUnavailable},
	{"Requested format is not available", model.ExtractorErrFormatNotFound},
	{"Restricted Video", model.ExtractorErrLoginRequired},
	{"--cookies for the authentication", model.ExtractorErrLoginRequired},
	{"Connection reset by peer", model.ExtractorErrSiteBanned},
	{"YoutubeDLException", model.ExtractorErrGenericServerIssue},
}

// streamResolutionRe extracts the last all-digit group from a resolution
// string like "1920x1080", "1080p", or "1080".
var streamResolutionRe = regexp.MustCompile(`(\d+)\D*$`)

// knownStreamingVideoHosts lists hosts for which FormatSelector returns
// "bestaudio" for the app-default format when isFromSocial is not set.
var knownStreamingVideoHosts = map[string]bool{
	"youtube.com": true, "youtu.be": true, "vimeo.com": true,
}

// Deps bundles the extractor's collaborators.
type Deps struct {
	Store      *store.Store
	Events     *events.Bus
	InternalDir string
	YtDlpPath  string // resolved via exec.LookPath if empty
}

// Task drives one TaskRecord of kind MediaExtractor to completion.
type Task struct {
	record *model.TaskRecord
	deps   Deps

	mu     sync.Mutex
	cancel context.CancelFunc
	cmd    *exec.Cmd
}

// New constructs an extractor Task.
func New(record *model.TaskRecord, deps Deps) *Task {
	if deps.YtDlpPath == "" {
		if p, err := exec.LookPath("yt-dlp"); err == nil {
			deps.YtDlpPath = p
		} else {
			deps.YtDlpPath = "yt-dlp"
		}
	}
	return &Task{record: record, deps: deps}
}

// FormatSelector synthesises the extractor format-selector string per
// §4.7 Command synthesis.
func FormatSelector(format model.MediaFormat, host string) string {
	if format.FormatId != appSelfIdentifier {
		return format.FormatId
	}

	if format.IsFromSocial {
		return "bestvideo[height<=2400]+bestaudio/best[height<=2400]/best"
	}

	res := resolveResolution(format.Resolution)
	if knownStreamingVideoHosts[host] {
		return "bestaudio"
	}
	if res == "" {
		return "bestvideo+bestaudio/best"
	}
	return fmt.Sprintf("bestvideo[height<=%s]+bestaudio/best[height<=%s]/best", res, res)
}

func resolveResolution(resolution string) string {
	matches := streamResolutionRe.FindAllStringSubmatch(resolution, -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1][1]
}

// planFilename implements §4.7 Filename planning, run once per record
// (isSmartCategoryDirProcessed guards re-entry on restart).
func (t *Task) planFilename() error {
	r := t.record
	r.Lock()
	defer r.Unlock()

	if r.IsSmartCategoryDirProcessed {
		return nil
	}

	if err := os.MkdirAll(r.Directory, 0o755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}

	tempPath, err := t.uniqueTempPath()
	if err != nil {
		return err
	}
	r.ExtractorTempPath = tempPath

	title := "download"
	if r.MediaInfo != nil && r.MediaInfo.Title != "" {
		title = r.MediaInfo.Title
	}
	ext := ".mp4"
	if r.MediaFormat != nil && strings.Contains(strings.ToLower(r.MediaFormat.Resolution), "audio only") {
		ext = ".mp3"
	}
	r.FileName = sanitizeTitle(title) + ext

	r.SupportsResume = true
	r.SupportsMultipart = false
	r.SettingsSnapshot.ThreadConnections = 1
	r.StartedAtMs = nowMs()
	r.IsSmartCategoryDirProcessed = true

	return nil
}

func (t *Task) uniqueTempPath() (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		path := filepath.Join(t.deps.InternalDir, uuid.NewString())
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique temp filename")
}

func sanitizeTitle(title string) string {
	name := strings.TrimSpace(title)
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_",
		"?", "_", "\"", "_", "<", "_", ">", "_", "|", "_",
	)
	name = replacer.Replace(name)
	if name == "" {
		return extremeSanitize(title)
	}
	return name
}

func extremeSanitize(title string) string {
	var b strings.Builder
	for _, r := range title {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "download"
	}
	return b.String()
}

// buildArgs produces the argument list of §4.7, in the spec's order.
func (t *Task) buildArgs(cookiesPath string) []string {
	r := t.record
	r.RLock()
	defer r.RUnlock()

	args := []string{
		"--continue",
		"-f", r.ExtractorCommand,
		"-o", r.ExtractorTempPath,
		"--playlist-items", "1",
		"--user-agent", r.SettingsSnapshot.UserAgent,
		"--retries", strconv.Itoa(r.SettingsSnapshot.AutoResumeMaxErrors),
		"--socket-timeout", strconv.FormatInt(r.SettingsSnapshot.HTTPReadTimeoutMs/1000, 10),
		"--concurrent-fragments", "10",
		"--fragment-retries", "10",
		"--no-check-certificate",
		"--force-ipv4",
		"--socket-timeout", "30",
		"--source-address", "0.0.0.0",
	}

	if cookiesPath != "" {
		if fi, err := os.Stat(cookiesPath); err == nil && !fi.IsDir() {
			args = append(args, "--cookies", cookiesPath)
		}
	}
	if r.SettingsSnapshot.MaxNetworkBps > 0 {
		args = append(args, "--limit-rate", strconv.FormatInt(r.SettingsSnapshot.MaxNetworkBps, 10))
	}

	return args
}

// Run executes the extractor process to completion (or process-wait
// cancellation), driving the TaskRecord through progress updates to
// either Complete or a mapped error state.
func (t *Task) Run(ctx context.Context, cookiesPath string) error {
	if err := t.planFilename(); err != nil {
		return err
	}

	t.record.Lock()
	t.record.Status = model.StatusDownloading
	t.record.IsRunning = true
	t.record.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	args := t.buildArgs(cookiesPath)
	cmd := exec.CommandContext(runCtx, t.deps.YtDlpPath, args...)
	t.mu.Lock()
	t.cmd = cmd
	t.mu.Unlock()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	var output strings.Builder
	var outputMu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)

	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		lastPersist := time.Time{}
		for scanner.Scan() {
			line := scanner.Text()
			outputMu.Lock()
			output.WriteString(line)
			output.WriteByte('\n')
			outputMu.Unlock()

			if m := progressLineRe.FindStringSubmatch(line); m != nil {
				percent, _ := strconv.ParseFloat(m[1], 64)
				if time.Since(lastPersist) >= progressThrottle {
					t.updateProgress(percent, line)
					lastPersist = time.Now()
				}
			}
		}
	}

	if err := cmd.Start(); err != nil {
		return err
	}
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	waitErr := cmd.Wait()

	outputMu.Lock()
	combined := output.String()
	outputMu.Unlock()

	if waitErr == nil {
		return t.finish()
	}
	return t.handleFailure(combined)
}

func (t *Task) updateProgress(percent float64, statusLine string) {
	r := t.record
	r.Lock()
	if percent > 0 {
		r.ProgressPercent = percent
	}
	r.ExtractorStatusText = statusLine
	r.LastModifiedMs = nowMs()
	r.Unlock()
	_ = t.deps.Store.Update(r, false)
	t.deps.Events.PublishStatus(r)
}

// finish implements §4.7 Completion: locate the produced file, move it to
// the destination, and transition to Complete.
func (t *Task) finish() error {
	r := t.record
	r.RLock()
	tempBase := filepath.Base(r.ExtractorTempPath)
	internalDir := t.deps.InternalDir
	dest := filepath.Join(r.Directory, r.FileName)
	r.RUnlock()

	entries, err := os.ReadDir(internalDir)
	if err != nil {
		return fmt.Errorf("scanning internal dir: %w", err)
	}

	var produced string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tempBase) {
			produced = filepath.Join(internalDir, e.Name())
			break
		}
	}
	if produced == "" {
		return fmt.Errorf("extractor output not found for temp path %s", tempBase)
	}

	finalDest := dest
	if _, err := os.Stat(finalDest); err == nil {
		finalDest = uniqueRename(finalDest)
	}
	if err := os.Rename(produced, finalDest); err != nil {
		return fmt.Errorf("moving extractor output: %w", err)
	}

	info, statErr := os.Stat(finalDest)

	r.Lock()
	r.FileName = filepath.Base(finalDest)
	if statErr == nil {
		r.FileSize = info.Size()
		r.DownloadedBytes = info.Size()
	}
	r.ProgressPercent = 100
	r.IsRunning = false
	r.IsComplete = true
	r.Status = model.StatusComplete
	r.Unlock()

	_ = t.deps.Store.Update(r, false)
	t.deps.Events.PublishStatus(r)
	t.deps.Events.PublishFinish(r)
	return nil
}

func uniqueRename(path string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// urlIsExpired implements the §4.7 pre-check between the known-substring
// table and the destination-missing check: a HEAD probe of the source URL
// coming back 4xx/5xx means the link itself has expired, as opposed to a
// recognised yt-dlp failure message.
func urlIsExpired(rawurl string) bool {
	req, err := http.NewRequest(http.MethodHead, rawurl, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 400
}

// handleFailure implements the non-zero-exit disposition table of §4.7.
func (t *Task) handleFailure(output string) error {
	r := t.record

	for _, entry := range errorSubstrings {
		if strings.Contains(output, entry.substr) {
			r.Lock()
			r.IsExtractorError = true
			r.ExtractorErrorMessage = entry.message
			r.Status = model.StatusClose
			r.IsRunning = false
			r.Unlock()
			_ = t.deps.Store.Update(r, false)
			t.deps.Events.PublishStatus(r)
			return fmt.Errorf("extractor error: %s", entry.message)
		}
	}

	r.RLock()
	rawurl := r.URL
	r.RUnlock()
	if urlIsExpired(rawurl) {
		r.Lock()
		r.IsFileUrlExpired = true
		r.Status = model.StatusClose
		r.IsRunning = false
		r.StatusInfo = model.StatusInfoLinkExpired
		r.Unlock()
		_ = t.deps.Store.Update(r, false)
		t.deps.Events.PublishStatus(r)
		return fmt.Errorf("source url expired")
	}

	r.RLock()
	dest := filepath.Join(r.Directory, r.FileName)
	r.RUnlock()
	if _, err := os.Stat(dest); os.IsNotExist(err) && r.DownloadedBytes > 0 {
		r.Lock()
		r.IsDestinationMissing = true
		r.Status = model.StatusClose
		r.IsRunning = false
		r.StatusInfo = model.StatusInfoFileDeleted
		r.Unlock()
		_ = t.deps.Store.Update(r, false)
		return fmt.Errorf("destination missing")
	}

	r.Lock()
	r.Status = model.StatusClose
	r.IsRunning = false
	r.StatusInfo = model.StatusInfoDownloadFailed
	r.Unlock()
	_ = t.deps.Store.Update(r, false)
	t.deps.Events.PublishStatus(r)
	return fmt.Errorf("extractor exited non-zero with unrecognised output")
}

// Cancel terminates the running extractor process cooperatively.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
}

func nowMs() int64 { return time.Now().UnixNano() / int64(time.Millisecond) }
