package janitor

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nvr/internal/model"
	"nvr/internal/store"
)

func newTestJanitor(t *testing.T) (*Janitor, *store.Repo, string) {
	t.Helper()
	baseDir := t.TempDir()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	repo := store.NewRepo(s)
	return New(repo, slog.Default()), repo, baseDir
}

func writeAgedFile(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, make([]byte, 1024), 0o644))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

// TestJanitor_S4_SkipsInFlightMovements matches spec.md's scenario S4:
// when DeleteAll is requested, movements still pending or processing
// are left alone (invariant 4), even though their segment files may
// already be gone.
func TestJanitor_S4_SkipsInFlightMovements(t *testing.T) {
	j, repo, baseDir := newTestJanitor(t)

	folder := "cam1"
	require.NoError(t, os.MkdirAll(filepath.Join(baseDir, folder), 0o755))
	writeAgedFile(t, filepath.Join(baseDir, folder, "stream1.ts"), time.Hour)

	pending := model.Movement{Key: store.MovementKey(1000), CameraKey: "C1", ProcessingState: model.ProcessingPending}
	inProgress := model.Movement{Key: store.MovementKey(2000), CameraKey: "C1", ProcessingState: model.ProcessingInProgress}
	done := model.Movement{Key: store.MovementKey(3000), CameraKey: "C1", ProcessingState: model.ProcessingCompleted}
	require.NoError(t, repo.PutMovement(pending))
	require.NoError(t, repo.PutMovement(inProgress))
	require.NoError(t, repo.PutMovement(done))

	err := j.Run(baseDir, map[string]string{"C1": folder}, "", DeleteAll)
	require.NoError(t, err)

	_, err = repo.GetMovement(pending.Key)
	require.NoError(t, err, "pending movement must survive a DeleteAll pass")
	_, err = repo.GetMovement(inProgress.Key)
	require.NoError(t, err, "in-progress movement must survive a DeleteAll pass")
	_, err = repo.GetMovement(done.Key)
	require.ErrorIs(t, err, store.ErrNotFound, "completed movement should be evicted")
}

func TestJanitor_ZeroTargetDeletesEverythingWatched(t *testing.T) {
	j, _, baseDir := newTestJanitor(t)
	folder := "cam1"
	require.NoError(t, os.MkdirAll(filepath.Join(baseDir, folder), 0o755))

	writeAgedFile(t, filepath.Join(baseDir, folder, "old.ts"), 2*time.Hour)
	writeAgedFile(t, filepath.Join(baseDir, folder, "new.ts"), time.Minute)

	// A 0% capacity target is never satisfied by a real host's actual
	// occupancy, so the deletion loop drains every watched file,
	// oldest-first, same as DeleteAll.
	err := j.Run(baseDir, map[string]string{"C1": folder}, "", 0)
	require.NoError(t, err)

	_, errOld := os.Stat(filepath.Join(baseDir, folder, "old.ts"))
	_, errNew := os.Stat(filepath.Join(baseDir, folder, "new.ts"))
	require.True(t, os.IsNotExist(errOld))
	require.True(t, os.IsNotExist(errNew))
}

func TestJanitor_EmptyFramesFolderNotWatched(t *testing.T) {
	j, _, baseDir := newTestJanitor(t)
	folder := "cam1"
	require.NoError(t, os.MkdirAll(filepath.Join(baseDir, folder), 0o755))

	// A stray file directly under baseDir must never be touched when
	// framesFolder is "" (the single-camera reset/delall call site).
	strayPath := filepath.Join(baseDir, "unrelated.txt")
	writeAgedFile(t, strayPath, time.Hour)

	err := j.Run(baseDir, map[string]string{"C1": folder}, "", DeleteAll)
	require.NoError(t, err)

	_, err = os.Stat(strayPath)
	require.NoError(t, err, "files outside watched folders must survive")
}
