package supervisor

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRingBuffer_KeepsOnlyTail(t *testing.T) {
	rb := newRingBuffer(5)
	_, err := rb.Write([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "world", rb.String())
}

func TestSupervisor_RunCapturesStdoutAndExitCode(t *testing.T) {
	s := New(discardLogger())
	res, err := s.Run(context.Background(), "echo", "sh", []string{"-c", "echo hi"}, t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Contains(t, res.Stdout, "hi")
}

func TestSupervisor_RunNonZeroExit(t *testing.T) {
	s := New(discardLogger())
	res, err := s.Run(context.Background(), "fail", "sh", []string{"-c", "exit 7"}, t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 7, res.ExitCode)
}

func TestSupervisor_SpawnAndWait(t *testing.T) {
	s := New(discardLogger())
	var stdout bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := s.Spawn(ctx, "sleeper", "sh", []string{"-c", "echo started; sleep 0.1"}, t.TempDir(), &stdout, nil, nil)
	require.NoError(t, err)
	require.True(t, h.Alive())

	h.Wait(ctx)
	require.False(t, h.Alive())
	require.Contains(t, stdout.String(), "started")
}

func TestSupervisor_ShutdownTerminatesRunningProcesses(t *testing.T) {
	s := New(discardLogger())
	ctx := context.Background()

	h, err := s.Spawn(ctx, "longrun", "sh", []string{"-c", "sleep 5"}, t.TempDir(), nil, nil, nil)
	require.NoError(t, err)
	require.True(t, h.Alive())

	s.Shutdown(2 * time.Second)
	require.False(t, h.Alive())
}

func TestSupervisor_RefusesSpawnAfterShutdown(t *testing.T) {
	s := New(discardLogger())
	s.Shutdown(0)

	_, err := s.Spawn(context.Background(), "late", "sh", []string{"-c", "true"}, t.TempDir(), nil, nil, nil)
	require.Error(t, err)
}
