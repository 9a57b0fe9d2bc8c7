package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsStreamCurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.m3u8")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	require.True(t, IsStreamCurrent(path, 5*time.Second))

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))
	require.False(t, IsStreamCurrent(path, 5*time.Second))
}

func TestIsStreamCurrent_MissingFile(t *testing.T) {
	require.False(t, IsStreamCurrent(filepath.Join(t.TempDir(), "missing.m3u8"), 5*time.Second))
}

func TestVerifyStream_ReadyWhenFileFresh(t *testing.T) {
	s := New(discardLogger())
	ctx := context.Background()
	h, err := s.Spawn(ctx, "idle", "sh", []string{"-c", "sleep 5"}, t.TempDir(), nil, nil, nil)
	require.NoError(t, err)
	defer h.Kill()

	path := filepath.Join(t.TempDir(), "stream.m3u8")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	require.Equal(t, VerifyReady, VerifyStream(h, path, time.Second))
}

func TestVerifyStream_FailedWhenProcessExits(t *testing.T) {
	s := New(discardLogger())
	ctx := context.Background()
	h, err := s.Spawn(ctx, "quick", "sh", []string{"-c", "true"}, t.TempDir(), nil, nil, nil)
	require.NoError(t, err)

	h.Wait(ctx)
	require.Equal(t, VerifyFailed, VerifyStream(h, filepath.Join(t.TempDir(), "never.m3u8"), time.Second))
}

func TestVerifyStream_TimeoutWhenFileNeverAppears(t *testing.T) {
	s := New(discardLogger())
	ctx := context.Background()
	h, err := s.Spawn(ctx, "idle", "sh", []string{"-c", "sleep 5"}, t.TempDir(), nil, nil, nil)
	require.NoError(t, err)
	defer h.Kill()

	result := VerifyStream(h, filepath.Join(t.TempDir(), "never.m3u8"), 300*time.Millisecond)
	require.Equal(t, VerifyTimeout, result)
}
