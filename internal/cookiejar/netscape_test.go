package cookiejar

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteParseNetscape_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   map[string]string
	}{
		{
			name:   "single cookie",
			header: "session=abc123",
			want:   map[string]string{"session": "abc123"},
		},
		{
			name:   "multiple cookies",
			header: "session=abc123; theme=dark; lang=en",
			want:   map[string]string{"session": "abc123", "theme": "dark", "lang": "en"},
		},
		{
			name:   "whitespace around pairs",
			header: "  a=1 ;  b=2  ",
			want:   map[string]string{"a": "1", "b": "2"},
		},
		{
			name:   "malformed entries are dropped",
			header: "a=1; invalid; =novalue; b=2",
			want:   map[string]string{"a": "1", "b": "2"},
		},
		{
			name:   "empty header",
			header: "",
			want:   map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := WriteNetscape(tt.header)
			got := ParseNetscape(content)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteNetscape_IncludesHeaderComment(t *testing.T) {
	content := WriteNetscape("a=1")
	assert.Contains(t, content, "# Netscape HTTP Cookie File")
}

func TestParseNetscape_IgnoresCommentsAndBlankLines(t *testing.T) {
	content := "# comment\n\n\tFALSE\t/\tFALSE\t2147483647\tname\tvalue\n"
	got := ParseNetscape(content)
	assert.Equal(t, map[string]string{"name": "value"}, got)
}
