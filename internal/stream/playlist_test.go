package stream

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func segmentName(n int64) string { return fmt.Sprintf("stream%d.ts", n) }

// TestSynthesizeClipPlaylist_S3Scenario matches spec.md's scenario S3:
// startSegment=100, seconds=10, preseq=2, postseq=2 should yield
// stream98.ts..stream106.ts (9 segments).
func TestSynthesizeClipPlaylist_S3Scenario(t *testing.T) {
	playlist := SynthesizeClipPlaylist(100, 10, 2, 2, segmentName)

	var segments []string
	for _, line := range strings.Split(playlist, "\n") {
		if strings.HasSuffix(line, ".ts") {
			segments = append(segments, line)
		}
	}

	require.Len(t, segments, 9)
	require.Equal(t, "stream98.ts", segments[0])
	require.Equal(t, "stream106.ts", segments[len(segments)-1])
}

func TestSynthesizeClipPlaylist_ClampsNegativeStart(t *testing.T) {
	playlist := SynthesizeClipPlaylist(1, 2, 5, 0, segmentName)
	require.Contains(t, playlist, "stream0.ts")
	require.NotContains(t, playlist, "stream-")
}

func TestParseMediaSequence(t *testing.T) {
	data := []byte("#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:42\n#EXTINF:2.0,\nstream42.ts\n")
	seq, err := parseMediaSequence(data)
	require.NoError(t, err)
	require.Equal(t, int64(42), seq)
}

func TestParseMediaSequence_Missing(t *testing.T) {
	_, err := parseMediaSequence([]byte("#EXTM3U\n"))
	require.Error(t, err)
}

func TestSynthesizeClipPlaylist_MediaSequenceMatchesFirstSegment(t *testing.T) {
	playlist := SynthesizeClipPlaylist(100, 10, 2, 2, segmentName)
	seq, err := parseMediaSequence([]byte(playlist))
	require.NoError(t, err)
	require.Equal(t, int64(98), seq)
}
