package web

import (
	"context"
	"fmt"
	"image/jpeg"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nfnt/resize"

	"nvr/internal/stream"
)

// safeJoin joins base and name, rejecting any attempt to escape base
// via "..", matching the teacher's path-traversal-safe static serving.
func safeJoin(base, name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid path segment")
	}
	joined := filepath.Join(base, name)
	if !strings.HasPrefix(joined, filepath.Clean(base)+string(os.PathSeparator)) && joined != filepath.Clean(base) {
		return "", fmt.Errorf("path escapes base directory")
	}
	return joined, nil
}

func contentTypeFor(file string) string {
	switch filepath.Ext(file) {
	case ".m3u8":
		return "application/x-mpegURL"
	case ".ts":
		return "video/MP2T"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

// handleLiveMedia implements GET /video/live/<camera_key>/<file> (§6).
func (s *Server) handleLiveMedia(w http.ResponseWriter, r *http.Request) {
	cameraKey := chi.URLParam(r, "cameraKey")
	file := chi.URLParam(r, "file")

	cam, err := s.repo.GetCamera(cameraKey)
	if err != nil {
		httpError(w, err)
		return
	}

	path, err := safeJoin(filepath.Join(cam.Disk, cam.Folder), file)
	if err != nil {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(file))
	http.ServeFile(w, r, path)
}

// handleClipMedia implements
// GET /video/<startSegment>/<seconds>/<camera_key>/<file>?preseq&postseq (§6).
func (s *Server) handleClipMedia(w http.ResponseWriter, r *http.Request) {
	startSegment, err := strconv.ParseInt(chi.URLParam(r, "startSegment"), 10, 64)
	if err != nil {
		http.Error(w, "invalid startSegment", http.StatusBadRequest)
		return
	}
	seconds, err := strconv.ParseInt(chi.URLParam(r, "seconds"), 10, 64)
	if err != nil {
		http.Error(w, "invalid seconds", http.StatusBadRequest)
		return
	}
	cameraKey := chi.URLParam(r, "cameraKey")
	file := chi.URLParam(r, "file")
	preseq, _ := strconv.Atoi(r.URL.Query().Get("preseq"))
	postseq, _ := strconv.Atoi(r.URL.Query().Get("postseq"))

	cam, err := s.repo.GetCamera(cameraKey)
	if err != nil {
		httpError(w, err)
		return
	}

	if strings.HasSuffix(file, ".ts") {
		path, err := safeJoin(filepath.Join(cam.Disk, cam.Folder), file)
		if err != nil {
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}
		if _, statErr := os.Stat(path); statErr != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", contentTypeFor(file))
		http.ServeFile(w, r, path)
		return
	}

	playlist := stream.SynthesizeClipPlaylist(startSegment, seconds, preseq, postseq, func(n int64) string {
		return fmt.Sprintf("stream%d.ts", n)
	})
	w.Header().Set("Content-Type", "application/x-mpegURL")
	_, _ = w.Write([]byte(playlist))
}

// handleMP4 implements GET /mp4/<startSegment>/<seconds>/<camera_key> (§6):
// a one-shot -c copy transcode streamed back to the client.
func (s *Server) handleMP4(w http.ResponseWriter, r *http.Request) {
	startSegment, err := strconv.ParseInt(chi.URLParam(r, "startSegment"), 10, 64)
	if err != nil {
		http.Error(w, "invalid startSegment", http.StatusBadRequest)
		return
	}
	seconds, err := strconv.ParseInt(chi.URLParam(r, "seconds"), 10, 64)
	if err != nil {
		http.Error(w, "invalid seconds", http.StatusBadRequest)
		return
	}
	cameraKey := chi.URLParam(r, "cameraKey")
	preseq, _ := strconv.Atoi(r.URL.Query().Get("preseq"))
	postseq, _ := strconv.Atoi(r.URL.Query().Get("postseq"))

	cam, err := s.repo.GetCamera(cameraKey)
	if err != nil {
		httpError(w, err)
		return
	}

	tmpDir, err := os.MkdirTemp("", "nvr-mp4-*")
	if err != nil {
		httpError(w, err)
		return
	}
	defer os.RemoveAll(tmpDir)

	playlist := stream.SynthesizeClipPlaylist(startSegment, seconds, preseq, postseq, func(n int64) string {
		return filepath.Join(cam.Disk, cam.Folder, fmt.Sprintf("stream%d.ts", n))
	})
	playlistPath := filepath.Join(tmpDir, "clip.m3u8")
	if err := os.WriteFile(playlistPath, []byte(playlist), 0o644); err != nil {
		httpError(w, err)
		return
	}

	outPath := filepath.Join(tmpDir, "clip.mp4")
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	res, err := s.sup.Run(ctx, "mp4export:"+cameraKey, s.ffmpegPath,
		[]string{"-i", playlistPath, "-c", "copy", "-movflags", "faststart", outPath}, tmpDir)
	if err != nil || res.ExitCode != 0 {
		s.log.Error("mp4 export failed", "camera", cameraKey, "stderr", res.Stderr, "error", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, outPath)
}

// handleImage implements GET /image/<movement_key> (§6): the movement's
// representative frame, resized to a bounded dimension (SPEC_FULL §11/§12).
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	movementKey := chi.URLParam(r, "movementKey")

	m, err := s.repo.GetMovement(movementKey)
	if err != nil {
		httpError(w, err)
		return
	}
	settings, err := s.repo.GetSettings("")
	if err != nil {
		httpError(w, err)
		return
	}

	var filename string
	if len(m.DetectionOutput.Tags) > 0 {
		best := m.DetectionOutput.Tags[0]
		for _, t := range m.DetectionOutput.Tags {
			if t.MaxProbability > best.MaxProbability {
				best = t
			}
		}
		filename = best.MaxProbabilityImage
	}
	if filename == "" {
		filename = fmt.Sprintf("mov%s_0001.jpg", movementKey)
	}

	path, err := safeJoin(filepath.Join(settings.DiskBaseDir, settings.DetectionFramesPath), filename)
	if err != nil {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	img, err := jpeg.Decode(f)
	if err != nil {
		http.Error(w, "decoding image", http.StatusInternalServerError)
		return
	}

	maxPx := uint(settings.WebThumbnailMaxPx)
	if maxPx == 0 {
		maxPx = 1024
	}
	resized := resize.Thumbnail(maxPx, maxPx, img, resize.Lanczos3)

	w.Header().Set("Content-Type", "image/jpeg")
	_ = jpeg.Encode(w, resized, &jpeg.Options{Quality: 85})
}

// handleFrame implements GET /frame/<movement_key>/<filename> (§6).
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")

	settings, err := s.repo.GetSettings("")
	if err != nil {
		httpError(w, err)
		return
	}

	path, err := safeJoin(filepath.Join(settings.DiskBaseDir, settings.DetectionFramesPath), filename)
	if err != nil {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	if _, statErr := os.Stat(path); statErr != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, path)
}
