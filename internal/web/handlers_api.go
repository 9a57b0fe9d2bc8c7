package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"nvr/internal/aggregator"
	"nvr/internal/janitor"
	"nvr/internal/model"
	"nvr/internal/store"
)

type movementsResponse struct {
	Config     configBlock      `json:"config"`
	Cameras    []model.Camera   `json:"cameras"`
	Movements  []model.Movement `json:"movements"`
	HasMore    bool             `json:"hasMore"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

type configBlock struct {
	Settings model.Settings `json:"settings"`
}

const maxMovementsLimit = 10000

// handleListMovements implements GET /api/movements (§6): newest-first,
// cursor-paginated, with an optional Filtered mode.
func (s *Server) handleListMovements(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	cursor := r.URL.Query().Get("cursor")
	limit := maxMovementsLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxMovementsLimit {
			limit = parsed
		}
	}

	settings, err := s.repo.GetSettings("")
	if err != nil {
		httpError(w, err)
		return
	}

	opts := store.IterOpts{Reverse: true, Limit: limit + 1}
	if cursor != "" {
		opts.Lt = cursor
	}

	movements, err := s.repo.ListMovements(opts)
	if err != nil {
		httpError(w, err)
		return
	}

	if mode == "Filtered" {
		filtered := movements[:0]
		for _, m := range movements {
			if aggregator.MatchesFilters(m, settings.DetectionTagFilters) {
				filtered = append(filtered, m)
			}
		}
		movements = filtered
	}

	hasMore := false
	var nextCursor string
	if len(movements) > limit {
		hasMore = true
		movements = movements[:limit]
	}
	if len(movements) > 0 {
		nextCursor = movements[len(movements)-1].Key
	}

	cameras, err := s.repo.ListCameras()
	if err != nil {
		httpError(w, err)
		return
	}
	clientCameras := make([]model.Camera, len(cameras))
	for i, c := range cameras {
		clientCameras[i] = c.ToClient()
	}

	writeJSON(w, http.StatusOK, movementsResponse{
		Config:     configBlock{Settings: settings},
		Cameras:    clientCameras,
		Movements:  movements,
		HasMore:    hasMore,
		NextCursor: nextCursor,
	})
}

// handlePostSettings implements POST /api/settings (§6).
func (s *Server) handlePostSettings(w http.ResponseWriter, r *http.Request) {
	var settings model.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		http.Error(w, "malformed settings body", http.StatusBadRequest)
		return
	}

	info, err := os.Stat(settings.DiskBaseDir)
	if err != nil || !info.IsDir() {
		http.Error(w, "disk_base_dir does not exist or is not a directory", http.StatusBadRequest)
		return
	}

	if err := s.repo.PutSettings(settings); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// handleCameraNew implements POST /api/camera/new (§6).
func (s *Server) handleCameraNew(w http.ResponseWriter, r *http.Request) {
	var cam model.Camera
	if err := json.NewDecoder(r.Body).Decode(&cam); err != nil {
		http.Error(w, "malformed camera body", http.StatusBadRequest)
		return
	}

	allocated, err := s.repo.AllocateCameraKey()
	if err != nil {
		httpError(w, err)
		return
	}
	cam.Key = allocated
	cam.StateLastProcessedMovementKey = ""

	settings, err := s.repo.GetSettings("")
	if err == nil {
		if err := os.MkdirAll(settings.DiskBaseDir+"/"+cam.Folder, 0o755); err != nil {
			httpError(w, err)
			return
		}
	}

	if err := s.repo.PutCamera(cam); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cam.ToClient())
}

// handleCameraUpdate implements POST /api/camera/<key>?delopt=... (§6).
func (s *Server) handleCameraUpdate(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	existing, err := s.repo.GetCamera(key)
	if err != nil {
		httpError(w, err)
		return
	}

	delopt := r.URL.Query().Get("delopt")

	switch delopt {
	case "reset", "delall":
		s.streams.Stop(key, defaultShutdownGrace)
		if err := s.janitor.Run(mustSettingsDir(s), map[string]string{key: existing.Folder}, "", janitor.DeleteAll); err != nil {
			httpError(w, err)
			return
		}
		if delopt == "delall" {
			existing.Delete = true
		}
	case "del":
		s.streams.Stop(key, defaultShutdownGrace)
		existing.Delete = true
	default:
		var update model.Camera
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, "malformed camera body", http.StatusBadRequest)
			return
		}
		update.Key = existing.Key
		update.StateLastProcessedMovementKey = existing.StateLastProcessedMovementKey
		existing = update
	}

	if err := s.repo.PutCamera(existing); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, existing.ToClient())
}

const defaultShutdownGrace = 5 * time.Second

func mustSettingsDir(s *Server) string {
	settings, err := s.repo.GetSettings("")
	if err != nil {
		return ""
	}
	return settings.DiskBaseDir
}

type cameraStats struct {
	Total  int              `json:"total"`
	Oldest int64            `json:"oldest"`
	Newest int64            `json:"newest"`
	PerDay []dayCount       `json:"perDay"`
}

type dayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// handleStats implements GET /api/stats (§6): a full scan of movements.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	movements, err := s.repo.ListMovements(store.IterOpts{})
	if err != nil {
		httpError(w, err)
		return
	}

	byCamera := map[string]*cameraStats{}
	perDayByCamera := map[string]map[string]int{}

	for _, m := range movements {
		cs, ok := byCamera[m.CameraKey]
		if !ok {
			cs = &cameraStats{}
			byCamera[m.CameraKey] = cs
			perDayByCamera[m.CameraKey] = map[string]int{}
		}
		cs.Total++
		if cs.Oldest == 0 || m.StartDateMs < cs.Oldest {
			cs.Oldest = m.StartDateMs
		}
		if m.StartDateMs > cs.Newest {
			cs.Newest = m.StartDateMs
		}
		day := time.UnixMilli(m.StartDateMs).Format("2006-01-02")
		perDayByCamera[m.CameraKey][day]++
	}

	for camKey, cs := range byCamera {
		for day, count := range perDayByCamera[camKey] {
			cs.PerDay = append(cs.PerDay, dayCount{Date: day, Count: count})
		}
		sort.Slice(cs.PerDay, func(i, j int) bool { return cs.PerDay[i].Date < cs.PerDay[j].Date })
	}

	writeJSON(w, http.StatusOK, byCamera)
}

// handleDiskStatus implements GET /api/diskstatus (§6).
func (s *Server) handleDiskStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.repo.ListDiskStatus()
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

// handleDiskCleanup implements POST /api/diskcleanup?target=<pct> (§6).
func (s *Server) handleDiskCleanup(w http.ResponseWriter, r *http.Request) {
	targetStr := r.URL.Query().Get("target")
	target, err := strconv.Atoi(targetStr)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid target: %s", targetStr), http.StatusBadRequest)
		return
	}

	settings, err := s.repo.GetSettings("")
	if err != nil {
		httpError(w, err)
		return
	}
	cameras, err := s.repo.ListCameras()
	if err != nil {
		httpError(w, err)
		return
	}
	folders := map[string]string{}
	for _, c := range cameras {
		if !c.Delete && c.EnableStreaming {
			folders[c.Key] = c.Folder
		}
	}

	if err := s.janitor.Run(settings.DiskBaseDir, folders, settings.DetectionFramesPath, target); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
