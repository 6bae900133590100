package httptask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan_UnknownSize(t *testing.T) {
	parts := Plan(0, 4, DefaultAlignBoundary)
	require.Len(t, parts, 1)
	assert.Equal(t, int64(0), parts[0].StartByte)
	assert.Equal(t, int64(-1), parts[0].EndByte)
}

func TestPlan_CollapsesToSinglePartWhenThreadsExceedFileSize(t *testing.T) {
	// fileSize=1, n=4: each thread can't even own one full byte.
	parts := Plan(1, 4, DefaultAlignBoundary)
	require.Len(t, parts, 1)
	assert.Equal(t, int64(0), parts[0].StartByte)
	assert.Equal(t, int64(0), parts[0].EndByte)
	assert.Equal(t, int64(1), parts[0].ChunkSize)
}

func TestPlan_ZeroOrNegativeThreadCountTreatedAsOne(t *testing.T) {
	parts := Plan(10_000, 0, DefaultAlignBoundary)
	require.Len(t, parts, 1)
	assert.Equal(t, int64(10_000), parts[0].ChunkSize)

	parts = Plan(10_000, -3, DefaultAlignBoundary)
	require.Len(t, parts, 1)
	assert.Equal(t, int64(10_000), parts[0].ChunkSize)
}

func TestPlan_PartsAreContiguousAndNonOverlapping(t *testing.T) {
	const fileSize = 50_000
	parts := Plan(fileSize, 8, DefaultAlignBoundary)
	require.Len(t, parts, 8)

	var total int64
	for i, p := range parts {
		assert.GreaterOrEqual(t, p.EndByte, p.StartByte-1, "part %d has a negative-length range", i)
		if i > 0 {
			assert.Equal(t, parts[i-1].EndByte+1, p.StartByte, "part %d does not start immediately after part %d", i, i-1)
		}
		total += p.ChunkSize
	}
	assert.Equal(t, int64(fileSize), total, "chunk sizes must sum to the full file size")
	assert.Equal(t, int64(fileSize-1), parts[len(parts)-1].EndByte, "last part must reach the final byte")
}

func TestPlan_AlignmentNeverProducesOverlap(t *testing.T) {
	// A small fileSize relative to alignBoundary forces alignUp to round
	// past the naive per-thread boundary; the clamp in Plan must still
	// keep every part's end strictly before the next part's start.
	parts := Plan(10_000, 4, DefaultAlignBoundary)
	require.Len(t, parts, 4)
	for i := 0; i < len(parts)-1; i++ {
		assert.Less(t, parts[i].EndByte, parts[i+1].StartByte,
			"part %d end (%d) overlaps part %d start (%d)", i, parts[i].EndByte, i+1, parts[i+1].StartByte)
	}
}
