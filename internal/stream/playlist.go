package stream

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// parseMediaSequence extracts #EXT-X-MEDIA-SEQUENCE from an HLS
// playlist's bytes.
func parseMediaSequence(data []byte) (int64, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:") {
			v := strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:")
			return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		}
	}
	return 0, fmt.Errorf("no #EXT-X-MEDIA-SEQUENCE line found")
}

// SynthesizeClipPlaylist builds a VOD playlist for the segment range
// [startSegment-preseq, startSegment+ceil(seconds/2)+postseq-1], per
// §6's GET /video/<startSegment>/<seconds>/<camera_key>/<file> contract.
// segmentName formats one segment's filename given its number.
func SynthesizeClipPlaylist(startSegment, seconds int64, preseq, postseq int, segmentName func(n int64) string) string {
	first := startSegment - int64(preseq)
	if first < 0 {
		first = 0
	}
	count := (seconds + 1) / segmentDurationSec
	last := startSegment + count + int64(postseq) - 1

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", segmentDurationSec)
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", first)
	for n := first; n <= last; n++ {
		fmt.Fprintf(&b, "#EXTINF:%f,\n", float64(segmentDurationSec))
		b.WriteString(segmentName(n))
		b.WriteString("\n")
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}
