// Package stream implements the per-camera Stream Controller (spec
// §4.6): owns the live-HLS transcoder process for each camera, verifies
// it via the Stream Verifier, and restarts it on crash or stall.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"nvr/internal/breaker"
	"nvr/internal/supervisor"
)

const (
	segmentDurationSec = 2
	stallTimeout       = 10 * time.Second
	// cameraEpoch matches store.cameraEpoch; segment numbers are seeded
	// from it so they monotonically increase across process restarts.
	cameraEpoch = 1_600_000_000
)

// Playlist/segment file names, relative to a camera's folder.
const PlaylistName = "stream.m3u8"

func segmentPattern() string { return "stream%d.ts" }

// State is the per-camera runtime state the Control Loop consults.
type State struct {
	Handle         *supervisor.Handle
	StartedAt      time.Time
	StartSeq       int64
	mu             sync.Mutex
}

// Controller owns one State per camera key.
type Controller struct {
	sup *supervisor.Supervisor
	log *slog.Logger

	mu     sync.Mutex
	states map[string]*State
}

func New(sup *supervisor.Supervisor, log *slog.Logger) *Controller {
	return &Controller{sup: sup, log: log, states: make(map[string]*State)}
}

func (c *Controller) stateFor(cameraKey string) *State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[cameraKey]
	if !ok {
		s = &State{}
		c.states[cameraKey] = s
	}
	return s
}

// IsActive reports whether a transcoder is currently running for the
// camera.
func (c *Controller) IsActive(cameraKey string) bool {
	s := c.stateFor(cameraKey)
	return s.Handle != nil && s.Handle.Alive()
}

// Ensure is called once per control tick for each streaming-enabled
// camera. ffmpegPath/rtspURL are resolved by the caller; disk/folder
// locate the HLS output directory; verifyTimeout is Settings'
// stream_verify_timeout_ms; br is the camera's poll circuit breaker,
// tripped on verify failure so the Motion Poller backs off too.
func (c *Controller) Ensure(ctx context.Context, cameraKey, ffmpegPath, rtspURL, disk, folder string, verifyTimeout time.Duration, br *breaker.Breaker) error {
	s := c.stateFor(cameraKey)
	s.mu.Lock()
	defer s.mu.Unlock()

	outDir := filepath.Join(disk, folder)
	playlistPath := filepath.Join(outDir, PlaylistName)

	if s.Handle != nil && s.Handle.Alive() {
		if supervisor.IsStreamCurrent(playlistPath, stallTimeout) {
			return nil
		}
		c.log.Warn("stream stalled, restarting", "camera", cameraKey)
		s.Handle.Terminate()
		s.Handle.Kill()
		s.Handle = nil
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating stream dir: %w", err)
	}

	startSeq := time.Now().Unix() - cameraEpoch
	args := []string{
		"-rtsp_transport", "tcp",
		"-i", rtspURL,
		"-c", "copy",
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", segmentDurationSec),
		"-hls_list_size", "5",
		"-hls_flags", "delete_segments",
		"-start_number", fmt.Sprintf("%d", startSeq),
		"-hls_segment_filename", filepath.Join(outDir, segmentPattern()),
		playlistPath,
	}

	h, err := c.sup.Spawn(ctx, "stream:"+cameraKey, ffmpegPath, args, outDir, nil, nil, nil)
	if err != nil {
		return fmt.Errorf("spawning transcoder: %w", err)
	}

	s.Handle = h
	s.StartedAt = time.Now()
	s.StartSeq = startSeq

	result := supervisor.VerifyStream(h, playlistPath, verifyTimeout)
	switch result {
	case supervisor.VerifyReady:
		return nil
	case supervisor.VerifyFailed:
		br.Trip(time.Now())
		return fmt.Errorf("transcoder exited during verification for camera %s", cameraKey)
	default:
		h.Terminate()
		h.Kill()
		s.Handle = nil
		br.Trip(time.Now())
		return fmt.Errorf("transcoder verification timed out for camera %s", cameraKey)
	}
}

// Stop requests graceful termination of the camera's transcoder,
// force-killing after gracePeriod. Used on tombstone or
// enable_streaming=false (§4.6).
func (c *Controller) Stop(cameraKey string, gracePeriod time.Duration) {
	s := c.stateFor(cameraKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Handle == nil {
		return
	}
	h := s.Handle
	h.Terminate()
	ctx, cancel := context.WithTimeout(context.Background(), gracePeriod)
	defer cancel()
	h.Wait(ctx)
	h.Kill()
	s.Handle = nil
}

// CurrentSequence reads the live playlist's #EXT-X-MEDIA-SEQUENCE
// value (the number of the oldest segment still listed in it), used by
// the Movement Tracker when opening and updating a movement.
func CurrentSequence(disk, folder string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(disk, folder, PlaylistName))
	if err != nil {
		return 0, fmt.Errorf("reading playlist: %w", err)
	}
	return parseMediaSequence(data)
}
