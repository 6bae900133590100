package httptask

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/aio-downloader/aiocore/internal/model"
	"github.com/aio-downloader/aiocore/internal/ratelimit"
	"github.com/aio-downloader/aiocore/internal/speedlimit"
)

// urlExpiredError signals the "URL expired" disposition of §7: any 4xx/5xx
// other than 429 on a part request, distinct from a transient network failure
// in that it must never be retried.
type urlExpiredError struct{ status int }

func (e *urlExpiredError) Error() string {
	return fmt.Sprintf("url expired: status %d", e.status)
}

// runPart is the PartWorker algorithm of §4.6: preparation, seek/resume,
// ranged transfer with speed limiting, and the retry policy. It is the
// generalisation of the teacher's worker()/downloadTask() pair
// (internal/engine/concurrent/worker.go) from range-stealing to the
// spec's fixed-part, retry-with-backoff scheme.
func (t *Task) runPart(ctx context.Context, idx int) {
	r := t.record

	for {
		r.RLock()
		part := r.Parts[idx]
		single := len(r.Parts) == 1
		unknownSize := r.IsUnknownSize
		supportsMultipart := r.SupportsMultipart
		supportsResume := r.SupportsResume
		path := dest(r)
		waiting := r.IsWaitingForNetwork
		r.RUnlock()

		if ctx.Err() != nil || part.Status == model.StatusComplete {
			t.setPartStatus(idx, part.Status)
			return
		}

		ns := t.deps.NetStateFn()
		if !ns.Connected || (r.SettingsSnapshot.WifiOnly && !ns.OnWifi) {
			info := model.StatusInfoWaitingForWifi
			if !ns.Connected {
				info = model.StatusInfoWaitingForInternet
			}
			t.latchWaiting(info)
			time.Sleep(progressTick)
			continue
		}
		if waiting {
			t.clearWaiting()
		}

		err := t.transferPart(ctx, idx, part, single, unknownSize, supportsMultipart, supportsResume, path)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		var expired *urlExpiredError
		if errors.As(err, &expired) {
			t.latchURLExpired()
			return
		}

		if !t.retryAllowed() {
			return
		}
		t.clearWaiting()
		time.Sleep(backoffFor(t.incrementRetry()))
	}
}

func dest(r *model.TaskRecord) string {
	return r.Directory + string(os.PathSeparator) + r.FileName
}

func backoffFor(attempt int) time.Duration {
	d := time.Duration(1<<min(attempt, 6)) * 250 * time.Millisecond
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func (t *Task) retryAllowed() bool {
	r := t.record
	r.RLock()
	defer r.RUnlock()
	return r.IsRunning && r.RetryCount < r.SettingsSnapshot.AutoResumeMaxErrors
}

func (t *Task) incrementRetry() int {
	r := t.record
	r.Lock()
	defer r.Unlock()
	r.RetryCount++
	return r.RetryCount
}

// latchWaiting sets isWaitingForNetwork and surfaces the matching status
// text; runPart re-checks connectivity every progressTick and clears it
// once the gate passes (§4.6 Retry policy).
func (t *Task) latchWaiting(statusInfo string) {
	r := t.record
	r.Lock()
	r.IsWaitingForNetwork = true
	r.StatusInfo = statusInfo
	r.MarkRunPaused(nowMs())
	r.Unlock()
	_ = t.deps.Store.Update(r, false)
}

// latchURLExpired implements the "URL expired" disposition of §7: any
// 4xx/5xx other than 429 on a part request cancels the task outright, with
// no retry.
func (t *Task) latchURLExpired() {
	r := t.record
	r.Lock()
	r.IsFileUrlExpired = true
	r.Status = model.StatusClose
	r.IsRunning = false
	r.StatusInfo = model.StatusInfoLinkExpired
	r.MarkRunPaused(nowMs())
	r.Unlock()
	_ = t.deps.Store.Update(r, false)
	t.deps.Events.PublishStatus(r)
}

func (t *Task) transferPart(ctx context.Context, idx int, part model.Part, single, unknownSize, supportsMultipart, supportsResume bool, path string) error {
	r := t.record

	flags := os.O_RDWR
	if _, err := os.Stat(path); err != nil {
		if single {
			flags |= os.O_CREATE | os.O_TRUNC
		} else {
			return t.ioFailure(err)
		}
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return t.ioFailure(err)
	}
	defer f.Close()

	r.RLock()
	downloaded := part.DownloadedByte
	r.RUnlock()

	var outputPos int64
	if !supportsResume {
		downloaded = 0
		outputPos = part.StartByte
		if err := f.Truncate(0); err != nil {
			return t.ioFailure(err)
		}
		t.setPartDownloaded(idx, 0)
	} else {
		outputPos = part.StartByte + downloaded
	}

	req, err := t.buildRequest(ctx, part, downloaded, single, supportsMultipart)
	if err != nil {
		return err
	}

	host := req.URL.Host
	limiter := t.deps.RateLimit.Get(host)
	limiter.WaitIfBlocked()

	resp, err := t.deps.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := limiter.Handle429(resp)
		return &ratelimit.Error{WaitDuration: wait}
	}
	limiter.ReportSuccess()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 400 {
			return &urlExpiredError{status: resp.StatusCode}
		}
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return t.stream(ctx, f, resp.Body, idx, part, outputPos, single, supportsMultipart)
}

func (t *Task) buildRequest(ctx context.Context, part model.Part, downloaded int64, single, supportsMultipart bool) (*http.Request, error) {
	r := t.record
	r.RLock()
	rawurl := r.URL
	referer := r.Referer
	cookie := r.CookieString
	contentDisposition := r.ContentDisposition
	additional := r.AdditionalHeaders
	ua := r.SettingsSnapshot.UserAgent
	bua := r.SettingsSnapshot.BrowserUserAgent
	browserOriginated := referer != "" || cookie != ""
	r.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "*/*")

	var rng string
	switch {
	case single:
		rng = fmt.Sprintf("bytes=%d-", downloaded)
	case supportsMultipart:
		rng = fmt.Sprintf("bytes=%d-%d", part.StartByte+downloaded, part.EndByte)
	default:
		rng = fmt.Sprintf("bytes=%d-", part.StartByte+downloaded)
	}
	req.Header.Set("Range", rng)

	userAgent := ua
	if bua != "" {
		userAgent = bua
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	if browserOriginated {
		if u, err := url.Parse(rawurl); err == nil {
			req.Header.Set("Host", u.Host)
		}
		if referer != "" {
			req.Header.Set("Referer", normalizeReferer(referer))
		}
		if contentDisposition != "" {
			req.Header.Set("Content-Disposition", contentDisposition)
		}
		if cookie != "" {
			req.Header.Set("Cookie", cookie)
		}
		req.Header.Set("Sec-Fetch-Dest", "document")
		req.Header.Set("Sec-Fetch-Mode", "navigate")
		req.Header.Set("Sec-Fetch-Site", "same-origin")
	}
	for k, v := range additional {
		req.Header.Set(k, v)
	}

	return req, nil
}

func normalizeReferer(referer string) string {
	if u, err := url.Parse(referer); err == nil {
		u.Path = "/"
		u.RawQuery = ""
		return u.String()
	}
	return referer
}

// stream reads the response body into the buffer-sized chunks of §4.6
// step 4, applying the speed limit and writing at the correct offset.
func (t *Task) stream(ctx context.Context, f *os.File, body io.Reader, idx int, part model.Part, outputPos int64, single, supportsMultipart bool) error {
	r := t.record
	r.RLock()
	bufSize := r.SettingsSnapshot.BufferSize
	maxBps := r.SettingsSnapshot.MaxNetworkBps
	r.RUnlock()
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}

	limiter := speedlimit.New(maxBps)
	buf := make([]byte, bufSize)
	pos := outputPos
	downloaded := part.DownloadedByte

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.record.RLock()
		cancelled := t.record.Parts[idx].Status == model.StatusClose && !t.record.IsRunning
		t.record.RUnlock()
		if cancelled {
			return nil
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			writeLen := n
			if !single {
				remaining := part.ChunkSize - downloaded
				if int64(writeLen) > remaining {
					writeLen = int(remaining)
				}
			}
			if writeLen > 0 {
				if _, err := f.WriteAt(buf[:writeLen], pos); err != nil {
					return t.ioFailure(err)
				}
				if err := limiter.WaitN(ctx, writeLen); err != nil {
					return err
				}
				pos += int64(writeLen)
				downloaded += int64(writeLen)
				t.setPartDownloaded(idx, downloaded)
			}
		}

		if !single && downloaded >= part.ChunkSize {
			t.setPartStatus(idx, model.StatusComplete)
			return nil
		}

		if readErr == io.EOF {
			if single {
				t.finalizeSingle(idx, downloaded)
			} else {
				t.setPartStatus(idx, model.StatusComplete)
			}
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

func (t *Task) finalizeSingle(idx int, downloaded int64) {
	r := t.record
	r.Lock()
	if r.IsUnknownSize {
		r.FileSize = downloaded
		r.Parts[idx].ChunkSize = downloaded
	}
	r.Parts[idx].DownloadedByte = downloaded
	r.Parts[idx].Status = model.StatusComplete
	r.Unlock()
}

func (t *Task) setPartDownloaded(idx int, downloaded int64) {
	r := t.record
	r.Lock()
	r.Parts[idx].DownloadedByte = downloaded
	if r.Parts[idx].ChunkSize > 0 {
		r.Parts[idx].Percent = 100 * float64(downloaded) / float64(r.Parts[idx].ChunkSize)
	}
	r.Unlock()
}

func (t *Task) setPartStatus(idx int, status model.Status) {
	r := t.record
	r.Lock()
	r.Parts[idx].Status = status
	r.Unlock()
}

func (t *Task) clearWaiting() {
	r := t.record
	r.Lock()
	r.IsWaitingForNetwork = false
	r.MarkRunStarted(nowMs())
	r.Unlock()
}

func (t *Task) ioFailure(cause error) error {
	r := t.record
	r.Lock()
	r.IsFailedToAccessFile = true
	r.RetryCount++
	r.StatusInfo = model.StatusInfoDownloadIOFailed
	r.Unlock()
	return fmt.Errorf("io failure: %w", cause)
}
