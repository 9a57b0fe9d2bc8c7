// Package extractor implements the per-movement Frame Extractor (spec
// §4.8): spawns a transcoder over a movement's HLS segment range and
// emits one JPEG per frame, publishing each new frame path as it lands.
package extractor

import (
	"bufio"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/corona10/goimagehash"
)

// FrameSink receives each newly observed frame's absolute path, in
// extraction order.
type FrameSink func(path string)

// Result is returned when extraction finishes.
type Result struct {
	FramesSent     int
	ProcessingError string
}

const pollInterval = 150 * time.Millisecond

// Extract spawns ffmpeg to decode segments [startSegment, endSegment]
// from disk/folder into framesDir, one JPEG per decoded frame, named
// mov<movementKey>_<NNNN>.jpg (§6's on-disk layout). It polls framesDir
// and calls sink for each newly written frame in numeric order as soon
// as ffmpeg finishes writing it, so the Detection Worker dispatcher can
// start sending frames before extraction completes. If dedupEnabled, a
// perceptual-hash pass drops near-duplicate consecutive frames before
// the sink sees them (SPEC_FULL §11/§12). The non-progress tail of
// ffmpeg's stderr is captured into Result.ProcessingError when ffmpeg
// exits non-zero (§4.8, §7).
func Extract(ctx context.Context, ffmpegPath, disk, folder string, startSegment, endSegment int64, framesDir, movementKey string, dedupEnabled bool, dedupThreshold int, sink FrameSink) Result {
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return Result{ProcessingError: fmt.Sprintf("creating frames dir: %v", err)}
	}

	segments := listSegments(disk, folder, startSegment, endSegment)
	if len(segments) == 0 {
		return Result{ProcessingError: fmt.Sprintf("no segments found in range [%d,%d]", startSegment, endSegment)}
	}

	concatList, err := writeConcatList(framesDir, movementKey, segments)
	if err != nil {
		return Result{ProcessingError: err.Error()}
	}
	defer os.Remove(concatList)

	outputPattern := filepath.Join(framesDir, fmt.Sprintf("mov%s_%%04d.jpg", movementKey))
	args := []string{
		"-f", "concat", "-safe", "0",
		"-i", concatList,
		"-vsync", "0",
		"-q:v", "3",
		outputPattern,
	}

	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{ProcessingError: fmt.Sprintf("attaching stderr: %v", err)}
	}

	var tail []string
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderrPipe)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.Contains(line, "frame=") {
				continue // progress noise, not an error
			}
			tail = append(tail, line)
			if len(tail) > 20 {
				tail = tail[len(tail)-20:]
			}
		}
	}()

	if err := cmd.Start(); err != nil {
		return Result{ProcessingError: fmt.Sprintf("spawning extractor: %v", err)}
	}

	emitted := make(map[int]bool)
	var kept []string
	sent := 0

	pollOnce := func() {
		for _, n := range pendingFrames(framesDir, movementKey, emitted) {
			path := filepath.Join(framesDir, frameFilename(movementKey, n))
			emitted[n] = true
			if dedupEnabled && isDuplicate(path, &kept, dedupThreshold) {
				os.Remove(path)
				continue
			}
			sent++
			sink(path)
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

loop:
	for {
		select {
		case <-ticker.C:
			pollOnce()
		case err := <-waitDone:
			pollOnce() // catch anything written just before exit
			<-stderrDone
			if err != nil {
				return Result{FramesSent: sent, ProcessingError: strings.Join(tail, "\n")}
			}
			break loop
		}
	}

	return Result{FramesSent: sent}
}

func frameFilename(movementKey string, n int) string {
	return fmt.Sprintf("mov%s_%04d.jpg", movementKey, n)
}

func listSegments(disk, folder string, start, end int64) []string {
	var out []string
	for n := start; n <= end; n++ {
		p := filepath.Join(disk, folder, fmt.Sprintf("stream%d.ts", n))
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

func writeConcatList(dir, movementKey string, segments []string) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf(".concat_%s.txt", movementKey))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("writing concat list: %w", err)
	}
	defer f.Close()
	for _, s := range segments {
		fmt.Fprintf(f, "file '%s'\n", s)
	}
	return path, nil
}

// pendingFrames scans framesDir for movementKey's frames not yet in
// emitted, returning their numeric suffixes in ascending order.
func pendingFrames(framesDir, movementKey string, emitted map[int]bool) []int {
	entries, err := os.ReadDir(framesDir)
	if err != nil {
		return nil
	}
	prefix := fmt.Sprintf("mov%s_", movementKey)
	var nums []int
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || !strings.HasSuffix(e.Name(), ".jpg") {
			continue
		}
		n, err := parseFrameNumber(e.Name())
		if err != nil || emitted[n] {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

func parseFrameNumber(name string) (int, error) {
	base := strings.TrimSuffix(filepath.Base(name), ".jpg")
	idx := strings.LastIndex(base, "_")
	if idx < 0 {
		return 0, fmt.Errorf("unexpected frame filename: %s", name)
	}
	return strconv.Atoi(base[idx+1:])
}

func isDuplicate(path string, kept *[]string, threshold int) bool {
	hash, ok := hashFile(path)
	if !ok {
		return false
	}
	for _, k := range *kept {
		khash, ok := hashFile(k)
		if !ok {
			continue
		}
		dist, err := hash.Distance(khash)
		if err == nil && dist < threshold {
			return true
		}
	}
	*kept = append(*kept, path)
	return false
}

func hashFile(path string) (*goimagehash.ImageHash, bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, false
	}
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return nil, false
	}
	return hash, true
}
