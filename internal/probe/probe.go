// Package probe implements UrlProbe: a HEAD (or browser-style GET) that
// discovers size, filename, resume, and multipart support ahead of
// transfer. It generalises the teacher's internal/engine/probe.go 3-attempt
// hand-rolled retry loop into github.com/hashicorp/go-retryablehttp, and
// reuses its filename-determination path (internal/utils/filename.go) via
// vfaronov/httpheader and h2non/filetype.
package probe

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/h2non/filetype"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/vfaronov/httpheader"

	"github.com/aio-downloader/aiocore/internal/logging"
)

// sniffLen is how many leading body bytes are read for magic-byte
// sniffing, matching the teacher's utils.DetermineFilename.
const sniffLen = 512

// Result is everything UrlProbe derives about a remote resource.
type Result struct {
	FileSize          int64
	SupportsMultipart bool
	SupportsResume    bool
	FileName          string
	IsFileForbidden   bool
	ErrorMessage      string
}

// Prober issues probe requests and remembers cookies per host across
// calls, for the lifetime of the process (§6 "persist cookies per host
// for the lifetime of a probe").
type Prober struct {
	mu     sync.Mutex
	jar    *cookiejar.Jar
	client *retryablehttp.Client
}

// New constructs a Prober. Probe sends Options.UserAgent on the plain HEAD
// path; BrowserOriginated probes send Options.BrowserUserAgent instead,
// per §4.3/§4.6.
func New() (*Prober, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("building cookie jar: %w", err)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 3 * time.Second
	client.Logger = nil
	client.HTTPClient.Jar = jar
	client.HTTPClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return nil // always follow redirects, including cross-scheme (ssl) redirects
	}

	return &Prober{jar: jar, client: client}, nil
}

// Options customises a single probe call.
type Options struct {
	Referer            string
	CookieString       string
	AdditionalHeaders  map[string]string
	UserAgent          string
	BrowserUserAgent   string
	BrowserOriginated  bool
	FilenameHint       string
}

// Probe discovers the size/filename/capabilities of rawurl. No error
// escapes this component for network failures: they're folded into
// Result.IsFileForbidden/ErrorMessage instead, per §4.3.
func (p *Prober) Probe(ctx context.Context, rawurl string, opts Options) *Result {
	method := http.MethodHead
	if opts.BrowserOriginated {
		method = http.MethodGet
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, rawurl, nil)
	if err != nil {
		return &Result{FileSize: -1, IsFileForbidden: true, ErrorMessage: err.Error()}
	}

	ua := opts.UserAgent
	if opts.BrowserOriginated && opts.BrowserUserAgent != "" {
		ua = opts.BrowserUserAgent
	}
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if opts.Referer != "" {
		req.Header.Set("Referer", opts.Referer)
	}
	if opts.CookieString != "" {
		req.Header.Set("Cookie", opts.CookieString)
	}
	for k, v := range opts.AdditionalHeaders {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &Result{FileSize: -1, IsFileForbidden: true, ErrorMessage: fmt.Sprintf("probe request failed: %v", err)}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	// HEAD probes carry no body to sniff; browser-originated GET probes do,
	// so peek at the leading bytes before they're discarded above.
	var sniffed []byte
	if opts.BrowserOriginated {
		buf := make([]byte, sniffLen)
		n, _ := io.ReadFull(resp.Body, buf)
		sniffed = buf[:n]
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Result{
			FileSize:        -1,
			IsFileForbidden: true,
			ErrorMessage:    fmt.Sprintf("unexpected status: %d", resp.StatusCode),
		}
	}

	result := &Result{FileSize: -1}

	acceptRanges := resp.Header.Get("Accept-Ranges")
	result.SupportsMultipart = acceptRanges == "bytes"

	etag := resp.Header.Get("ETag")
	lastModified := resp.Header.Get("Last-Modified")
	result.SupportsResume = result.SupportsMultipart || etag != "" || lastModified != ""

	if cl := resp.ContentLength; cl >= 0 {
		result.FileSize = cl
	}

	result.FileName = determineFilename(rawurl, resp, opts.FilenameHint, sniffed)

	logging.L().Debug().
		Str("url", rawurl).
		Int64("size", result.FileSize).
		Bool("multipart", result.SupportsMultipart).
		Msg("probe complete")

	return result
}

// determineFilename applies the Content-Disposition -> query-param ->
// URL-path fallback chain of §4.3, then the teacher's utils.DetermineFilename
// magic-byte heuristics (ZIP internal name, extension-from-sniffed-type)
// over whatever leading body bytes were sniffed.
func determineFilename(rawurl string, resp *http.Response, hint string, sniffed []byte) string {
	candidate := hint

	if candidate == "" {
		if _, name, err := httpheader.ContentDisposition(resp.Header); err == nil && name != "" {
			candidate = name
		}
	}

	if candidate == "" {
		parsed, err := url.Parse(rawurl)
		if err == nil {
			q := parsed.Query()
			if name := q.Get("filename"); name != "" {
				candidate = name
			} else if name := q.Get("file"); name != "" {
				candidate = name
			} else {
				candidate = lastPathSegment(parsed.Path)
			}
		}
	}

	filename := candidate
	if len(sniffed) >= 30 && strings.HasPrefix(string(sniffed[:4]), "PK\x03\x04") {
		nameLen := int(binary.LittleEndian.Uint16(sniffed[26:28]))
		end := 30 + nameLen
		if end <= len(sniffed) {
			if zipName := string(sniffed[30:end]); zipName != "" {
				filename = filepath.Base(zipName)
			}
		}
	}

	if filepath.Ext(filename) == "" && len(sniffed) > 0 {
		if kind, _ := filetype.Match(sniffed); kind != filetype.Unknown && kind.Extension != "" {
			filename = filename + "." + kind.Extension
		}
	}

	if filename == "" || filename == "." || filename == "/" {
		return "unknown"
	}
	return filename
}

func lastPathSegment(p string) string {
	p = strings.TrimSuffix(p, "/")
	if idx := strings.LastIndex(p, "/"); idx != -1 {
		return p[idx+1:]
	}
	return p
}
