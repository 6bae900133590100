package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe_HeadRequest_DiscoversSizeAndCapabilities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("ETag", `"abc"`)
		w.Header().Set("Content-Length", "12345")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, err := New()
	require.NoError(t, err)

	res := p.Probe(context.Background(), srv.URL+"/video.mp4", Options{})
	assert.False(t, res.IsFileForbidden)
	assert.Equal(t, int64(12345), res.FileSize)
	assert.True(t, res.SupportsMultipart)
	assert.True(t, res.SupportsResume)
	assert.Equal(t, "video.mp4", res.FileName)
}

func TestProbe_NonSuccessStatus_MarksForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p, err := New()
	require.NoError(t, err)

	res := p.Probe(context.Background(), srv.URL+"/video.mp4", Options{})
	assert.True(t, res.IsFileForbidden)
}

func TestProbe_FilenameFromContentDisposition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="report.pdf"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, err := New()
	require.NoError(t, err)

	res := p.Probe(context.Background(), srv.URL+"/download?id=1", Options{})
	assert.Equal(t, "report.pdf", res.FileName)
}

func TestProbe_BrowserOriginated_SniffsExtensionFromMagicBytes(t *testing.T) {
	// A PNG magic-byte prefix with no filename anywhere in the URL or
	// headers should gain a ".png" extension from the body sniff.
	pngMagic := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(pngMagic)
	}))
	defer srv.Close()

	p, err := New()
	require.NoError(t, err)

	res := p.Probe(context.Background(), srv.URL+"/image", Options{BrowserOriginated: true})
	assert.Equal(t, "image.png", res.FileName)
}

func TestProbe_UnreachableHost_FoldsErrorIntoResult(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	p.client.RetryMax = 0

	res := p.Probe(context.Background(), "http://127.0.0.1:1", Options{})
	assert.True(t, res.IsFileForbidden)
	assert.NotEmpty(t, res.ErrorMessage)
}
