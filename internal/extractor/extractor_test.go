package extractor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameFilenameAndParseFrameNumber_RoundTrip(t *testing.T) {
	name := frameFilename("000000000123", 7)
	require.Equal(t, "mov000000000123_0007.jpg", name)

	n, err := parseFrameNumber(name)
	require.NoError(t, err)
	require.Equal(t, 7, n)
}

func TestParseFrameNumber_Malformed(t *testing.T) {
	_, err := parseFrameNumber("not-a-frame.jpg")
	require.Error(t, err)
}

func TestListSegments_OnlyExistingFilesInRange(t *testing.T) {
	dir := t.TempDir()
	folder := "cam1"
	require.NoError(t, os.MkdirAll(filepath.Join(dir, folder), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, folder, "stream100.ts"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, folder, "stream102.ts"), []byte("x"), 0o644))
	// stream101.ts deliberately missing (evicted by the janitor, say).

	segments := listSegments(dir, folder, 100, 102)
	require.Len(t, segments, 2)
	require.Contains(t, segments[0], "stream100.ts")
	require.Contains(t, segments[1], "stream102.ts")
}

func TestWriteConcatList(t *testing.T) {
	dir := t.TempDir()
	path, err := writeConcatList(dir, "000000000123", []string{"/a/stream1.ts", "/a/stream2.ts"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "file '/a/stream1.ts'")
	require.Contains(t, string(data), "file '/a/stream2.ts'")
}

func TestPendingFrames_SkipsEmittedAndForeignFiles(t *testing.T) {
	dir := t.TempDir()
	movementKey := "000000000123"
	require.NoError(t, os.WriteFile(filepath.Join(dir, frameFilename(movementKey, 1)), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, frameFilename(movementKey, 2)), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, frameFilename("othermovement", 1)), []byte("x"), 0o644))

	emitted := map[int]bool{1: true}
	pending := pendingFrames(dir, movementKey, emitted)
	require.Equal(t, []int{2}, pending)
}
