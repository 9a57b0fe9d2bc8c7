package web

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"nvr/internal/model"
	"nvr/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Repo) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	repo := store.NewRepo(s)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	settings := model.DefaultSettings(t.TempDir())
	require.NoError(t, repo.PutSettings(settings))

	srv := NewServer(Config{Repo: repo, Log: log, Ready: func() bool { return true }})
	return srv, repo
}

func TestHandleHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleCameraNew_CreatesFolderAndStripsCredentials(t *testing.T) {
	srv, repo := newTestServer(t)

	settings, err := repo.GetSettings("")
	require.NoError(t, err)

	body, _ := json.Marshal(model.Camera{Name: "front-door", Folder: "front-door", IP: "10.0.0.5", Password: "secret"})
	req := httptest.NewRequest(http.MethodPost, "/api/camera/new", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var created model.Camera
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Key)
	require.Empty(t, created.IP)
	require.Empty(t, created.Password)

	_, err = repo.GetCamera(created.Key)
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(settings.DiskBaseDir, "front-door"))
	require.NoError(t, statErr)
}

func TestHandleListMovements_NewestFirstAndConfig(t *testing.T) {
	srv, repo := newTestServer(t)

	require.NoError(t, repo.PutMovement(model.Movement{Key: store.MovementKey(1000), CameraKey: "C1"}))
	require.NoError(t, repo.PutMovement(model.Movement{Key: store.MovementKey(2000), CameraKey: "C1"}))

	req := httptest.NewRequest(http.MethodGet, "/api/movements", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp movementsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Movements, 2)
	require.Equal(t, store.MovementKey(2000), resp.Movements[0].Key)
	require.False(t, resp.HasMore)
}

func TestHandleCameraUpdate_DefaultPreservesServerOwnedFields(t *testing.T) {
	srv, repo := newTestServer(t)

	cam := model.Camera{Key: "C1", Name: "old-name", Folder: "c1", StateLastProcessedMovementKey: "000000000042"}
	require.NoError(t, repo.PutCamera(cam))

	body, _ := json.Marshal(model.Camera{Name: "new-name", Folder: "c1", StateLastProcessedMovementKey: "tampered"})
	req := httptest.NewRequest(http.MethodPost, "/api/camera/"+cam.Key, bytes.NewReader(body))
	rec := httptest.NewRecorder()

	r := chi.NewRouter()
	r.Post("/api/camera/{key}", srv.handleCameraUpdate)
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := repo.GetCamera(cam.Key)
	require.NoError(t, err)
	require.Equal(t, "new-name", updated.Name)
	require.Equal(t, "000000000042", updated.StateLastProcessedMovementKey)
}
