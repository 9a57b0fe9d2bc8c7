// Package janitor implements the Disk Janitor (spec §4.4): evicts the
// globally-oldest files across watched camera/frame folders until
// occupancy is under a capacity target, then evicts the matching
// movement records whose segments were deleted (skipping any still
// pending/processing, per invariant 4).
package janitor

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"

	"nvr/internal/model"
	"nvr/internal/store"
)

// DeleteAll is the sentinel capacity target meaning "delete everything".
const DeleteAll = -1

type fileEntry struct {
	path    string
	folder  string // matches the folder key passed in watchedFolders
	ctimeMs int64
	size    int64
}

// Janitor runs cleanup passes against repo.
type Janitor struct {
	repo *store.Repo
	log  *slog.Logger
}

func New(repo *store.Repo, log *slog.Logger) *Janitor {
	return &Janitor{repo: repo, log: log}
}

// Run executes one cleanup pass. baseDir is Settings.DiskBaseDir.
// cameraFolders maps camera_key -> folder for every non-deleted,
// streaming-enabled camera; framesFolder is Settings.DetectionFramesPath
// (added to the watch set if not already a value in cameraFolders).
// targetPct is 1..99, or DeleteAll.
func (j *Janitor) Run(baseDir string, cameraFolders map[string]string, framesFolder string, targetPct int) error {
	watch := make(map[string]string) // folder -> folder (set of watched folders)
	folderCameraKey := make(map[string]string)
	for camKey, folder := range cameraFolders {
		watch[folder] = folder
		folderCameraKey[folder] = camKey
	}
	if framesFolder != "" {
		if _, ok := watch[framesFolder]; !ok {
			watch[framesFolder] = framesFolder
		}
	}

	entries, err := j.enumerate(baseDir, watch)
	if err != nil {
		return fmt.Errorf("enumerating watched folders: %w", err)
	}

	totalU, usedU, err := occupancy(baseDir)
	var totalBytes, usedBytes int64 = int64(totalU), int64(usedU)
	if err != nil {
		j.log.Warn("disk occupancy unavailable, proceeding as if at 100%", "error", err)
		usedBytes, totalBytes = 1, 1
	}

	sort.Slice(entries, func(a, b int) bool { return entries[a].ctimeMs < entries[b].ctimeMs })

	deletedCount := map[string]int{}
	deletedBytes := map[string]int64{}
	newestCtime := map[string]int64{}

	occupancyPct := func() int {
		if totalBytes == 0 {
			return 0
		}
		return int(usedBytes * 100 / totalBytes)
	}

	i := 0
	for {
		if targetPct == DeleteAll {
			if i >= len(entries) {
				break
			}
		} else if occupancyPct() <= targetPct || i >= len(entries) {
			break
		}

		e := entries[i]
		i++
		if err := os.Remove(e.path); err != nil {
			j.log.Warn("removing file during cleanup", "path", e.path, "error", err)
			continue
		}
		usedBytes -= e.size
		if usedBytes < 0 {
			usedBytes = 0
		}
		deletedCount[e.folder]++
		deletedBytes[e.folder] += e.size
		if e.ctimeMs > newestCtime[e.folder] {
			newestCtime[e.folder] = e.ctimeMs
		}
	}

	var globalCutoff int64
	anyCleared := false
	for _, ct := range newestCtime {
		anyCleared = true
		if ct > globalCutoff {
			globalCutoff = ct
		}
	}

	movementsDeletedByCamera := map[string]int{}
	if anyCleared || targetPct == DeleteAll {
		if err := j.evictMovements(folderCameraKey, newestCtime, targetPct, globalCutoff, movementsDeletedByCamera); err != nil {
			return fmt.Errorf("evicting movements: %w", err)
		}
	}

	now := time.Now().UnixMilli()
	for folder, camKey := range folderCameraKey {
		status := model.DiskStatus{
			CameraKey:        camKey,
			LastRunAt:        now,
			FilesDeleted:     deletedCount[folder],
			BytesDeleted:     deletedBytes[folder],
			CutoffMs:         newestCtime[folder],
			MovementsDeleted: movementsDeletedByCamera[camKey],
		}
		if err := j.repo.PutDiskStatus(status); err != nil {
			return fmt.Errorf("persisting diskstatus for %s: %w", camKey, err)
		}
	}

	j.log.Info("disk cleanup complete",
		"files_deleted", sumInts(deletedCount),
		"bytes_deleted", humanize.Bytes(uint64(sumInt64s(deletedBytes))),
		"occupancy_pct", occupancyPct())

	return nil
}

// evictMovements deletes every movement whose camera_key is in
// folderCameraKey's values and whose key is <= globalCutoff, the newest
// deleted-file time across all folders (or unbounded for DeleteAll),
// skipping in-flight movements (invariant 4).
func (j *Janitor) evictMovements(folderCameraKey map[string]string, newestCtime map[string]int64, targetPct int, globalCutoff int64, movementsDeletedByCamera map[string]int) error {
	watchedCameras := make(map[string]bool)
	for _, camKey := range folderCameraKey {
		watchedCameras[camKey] = true
	}

	opts := store.IterOpts{}
	if targetPct != DeleteAll {
		opts.Lte = store.MovementKey(globalCutoff)
	}

	var candidates []model.Movement
	err := j.repo.Raw().Iterate(store.NamespaceMovements, opts, func(e store.Entry) error {
		m, err := j.repo.GetMovement(e.Key)
		if err != nil {
			return nil
		}
		if watchedCameras[m.CameraKey] {
			candidates = append(candidates, m)
		}
		return nil
	})
	if err != nil {
		return err
	}

	var keysToDelete []string
	for _, m := range candidates {
		if m.ProcessingState == model.ProcessingPending || m.ProcessingState == model.ProcessingInProgress {
			j.log.Warn("janitor skipping in-flight movement whose segments may have been evicted", "movement", m.Key, "camera", m.CameraKey)
			continue
		}
		keysToDelete = append(keysToDelete, m.Key)
		movementsDeletedByCamera[m.CameraKey]++
	}

	if len(keysToDelete) == 0 {
		return nil
	}
	return j.repo.BatchDeleteMovements(keysToDelete)
}

func (j *Janitor) enumerate(baseDir string, watch map[string]string) ([]fileEntry, error) {
	var out []fileEntry
	for folder := range watch {
		dir := filepath.Join(baseDir, folder)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			out = append(out, fileEntry{
				path:    filepath.Join(dir, e.Name()),
				folder:  folder,
				ctimeMs: info.ModTime().UnixMilli(),
				size:    info.Size(),
			})
		}
	}
	return out, nil
}

func occupancy(baseDir string) (total, used uint64, err error) {
	usage, err := disk.Usage(baseDir)
	if err != nil {
		return 0, 0, err
	}
	return usage.Total, usage.Used, nil
}

func sumInts(m map[string]int) int {
	var n int
	for _, v := range m {
		n += v
	}
	return n
}

func sumInt64s(m map[string]int64) int64 {
	var n int64
	for _, v := range m {
		n += v
	}
	return n
}
