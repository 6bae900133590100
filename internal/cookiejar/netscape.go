// Package cookiejar converts a browser Cookie header string into the
// Netscape cookie-file format consumed by external helper processes
// (yt-dlp's --cookies), the format the media extractor pattern across the
// pack (kqnade-VRCYouTubePatcher, 9lbw-staccato) expects on disk.
package cookiejar

import (
	"strconv"
	"strings"
)

const header = "# Netscape HTTP Cookie File\n# This file was generated by the app.\n"

// maxExpiry is the fixed, effectively-never expiry written for every entry;
// the source format never derives a real expiry from the header string.
const maxExpiry = 2147483647

// WriteNetscape parses a raw Cookie header value and renders it as a
// Netscape cookie file. Invalid pairs (missing '=', empty name) are
// dropped silently, matching §4.4.
func WriteNetscape(cookieHeader string) string {
	var b strings.Builder
	b.WriteString(header)

	for _, entry := range strings.Split(cookieHeader, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if name == "" {
			continue
		}
		b.WriteString("\tFALSE\t/\tFALSE\t")
		b.WriteString(strconv.Itoa(maxExpiry))
		b.WriteByte('\t')
		b.WriteString(name)
		b.WriteByte('\t')
		b.WriteString(value)
		b.WriteByte('\n')
	}

	return b.String()
}

// ParseNetscape recovers the (name, value) pairs from a Netscape cookie
// file, the inverse of WriteNetscape.
func ParseNetscape(content string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			continue
		}
		name, value := fields[5], fields[6]
		if name == "" {
			continue
		}
		out[name] = value
	}
	return out
}
