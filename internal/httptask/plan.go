package httptask

import "github.com/aio-downloader/aiocore/internal/model"

// DefaultAlignBoundary is the 4096-byte range alignment named in §4.6.
const DefaultAlignBoundary int64 = 4096

// alignUp implements alignUp(x, b) = ceil((x+1)/b)*b - 1 from §4.6's
// range-planning formula.
func alignUp(x, b int64) int64 {
	return ((x+1+b-1)/b)*b - 1
}

// Plan computes the byte-range partition for fileSize across threadCount
// parts aligned to alignBoundary, per §4.6 Range planning.
//
// Open question 1 (§9) is resolved by clamping: end_i is never allowed to
// reach or pass the next part's startByte, so alignment never produces
// overlapping or out-of-order parts even when base < alignBoundary.
func Plan(fileSize int64, threadCount int, alignBoundary int64) []model.Part {
	if fileSize <= 0 {
		return []model.Part{{StartByte: 0, EndByte: -1, ChunkSize: fileSize}}
	}

	n := threadCount
	if n < 1 {
		n = 1
	}
	// Collapse to a single part whenever each thread wouldn't even own one
	// full byte — the "fileSize=1, n=4" boundary case in §8.
	if int64(n) > fileSize {
		n = 1
	}

	if n == 1 {
		return []model.Part{{StartByte: 0, EndByte: fileSize - 1, ChunkSize: fileSize}}
	}

	base := fileSize / int64(n)
	parts := make([]model.Part, n)
	for i := 0; i < n; i++ {
		start := int64(i) * base
		var end int64
		if i < n-1 {
			end = alignUp(start+base-1, alignBoundary)
		} else {
			end = fileSize - 1
		}
		parts[i] = model.Part{StartByte: start, EndByte: end}
	}

	for i := 0; i < n-1; i++ {
		if parts[i].EndByte >= parts[i+1].StartByte {
			parts[i].EndByte = parts[i+1].StartByte - 1
		}
	}

	for i := range parts {
		parts[i].ChunkSize = parts[i].EndByte - parts[i].StartByte + 1
	}
	return parts
}
