// Package control implements the Control Loop (spec §4.11): a single
// ticker that fans out the Stream Controller, Motion Poller, Movement
// Tracker, Disk Janitor, and Detection Worker restart checks. A
// per-camera recover boundary ensures one camera's panic never stops
// the tick (§4.11, §7).
package control

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"nvr/internal/camera"
	"nvr/internal/detect"
	"nvr/internal/extractor"
	"nvr/internal/janitor"
	"nvr/internal/model"
	"nvr/internal/motion"
	"nvr/internal/movement"
	"nvr/internal/store"
	"nvr/internal/stream"
	"nvr/internal/supervisor"
)

const tickInterval = 1 * time.Second

// Loop owns every long-lived component and drives them from one ticker.
type Loop struct {
	repo    *store.Repo
	cache   *camera.Cache
	sup     *supervisor.Supervisor
	streams *stream.Controller
	poller  *motion.Poller
	tracker *movement.Tracker
	janitor *janitor.Janitor
	worker  *detect.Worker
	pub     movement.Publisher
	log     *slog.Logger

	ffmpegPath string

	lastDiskCheck  time.Time
	lastTick       time.Time
	shuttingDown   bool
}

// Deps bundles the Loop's collaborators.
type Deps struct {
	Repo       *store.Repo
	Cache      *camera.Cache
	Supervisor *supervisor.Supervisor
	Streams    *stream.Controller
	Poller     *motion.Poller
	Tracker    *movement.Tracker
	Janitor    *janitor.Janitor
	Worker     *detect.Worker
	Log        *slog.Logger
	FFmpegPath string
}

func New(d Deps) *Loop {
	return &Loop{
		repo:       d.Repo,
		cache:      d.Cache,
		sup:        d.Supervisor,
		streams:    d.Streams,
		poller:     d.Poller,
		tracker:    d.Tracker,
		janitor:    d.Janitor,
		worker:     d.Worker,
		log:        d.Log,
		ffmpegPath: d.FFmpegPath,
		lastTick:   time.Now(),
	}
}

// Run blocks, ticking until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.shuttingDown = true
			return
		case now := <-ticker.C:
			l.tick(ctx, now)
		}
	}
}

func (l *Loop) tick(ctx context.Context, now time.Time) {
	if l.shuttingDown {
		return
	}

	settings, err := l.repo.GetSettings("")
	if err != nil {
		l.log.Error("loading settings for tick", "error", err)
		return
	}

	cameras, err := l.repo.ListCameras()
	if err != nil {
		l.log.Error("listing cameras for tick", "error", err)
		return
	}

	for _, cam := range cameras {
		if cam.Delete {
			continue
		}
		l.stepCamera(ctx, cam, settings, now)
	}

	if settings.DiskCleanupIntervalMin > 0 && now.Sub(l.lastDiskCheck) > time.Duration(settings.DiskCleanupIntervalMin)*time.Minute {
		l.runJanitor(cameras, settings)
		l.lastDiskCheck = now
	}

	if l.worker != nil {
		l.worker.RestartCheck(l.lastTick, now)
	}

	l.lastTick = now
}

// stepCamera runs one camera's Stream Controller + Motion Poller +
// Movement Tracker step, recovering from any panic so the tick
// continues for every other camera (§4.11 failure semantics).
func (l *Loop) stepCamera(ctx context.Context, cam model.Camera, settings model.Settings, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("panic in per-camera control step", "camera", cam.Key, "panic", r)
		}
	}()

	entry := l.cache.Get(cam.Key)

	if cam.EnableStreaming {
		verifyTimeout := time.Duration(settings.StreamVerifyTimeoutMs) * time.Millisecond
		rtspURL := rtspURLFor(cam)
		err := l.streams.Ensure(ctx, cam.Key, l.ffmpegPath, rtspURL, cam.Disk, cam.Folder, verifyTimeout, entry.PollBreaker)
		if err != nil {
			l.log.Error("stream controller step failed", "camera", cam.Key, "error", err)
			return
		}
		if entry.StreamStarted.IsZero() {
			entry.MarkStreamStarted(now)
		}
	} else {
		l.streams.Stop(cam.Key, time.Duration(settings.ShutdownTimeoutMs)*time.Millisecond)
		return
	}

	if !cam.EnableMovement {
		return
	}
	if !l.streams.IsActive(cam.Key) {
		return
	}
	if entry.SecondsSinceStreamStart(now) < cam.SecMovementStartupDelay {
		return
	}
	if !entry.DuePoll(now, cam.PollFrequencyMs) {
		return
	}
	if !entry.PollBreaker.Allow(now) {
		return
	}

	entry.PollBreaker.Begin()
	outcome := l.poller.Poll(ctx, cam.Name, motionURLFor(cam))
	entry.PollBreaker.End(now, outcome != motion.OutcomeError)

	if err := l.tracker.Apply(cam, outcome, func(c model.Camera) (int64, error) {
		return stream.CurrentSequence(c.Disk, c.Folder)
	}); err != nil {
		l.log.Error("movement tracker step failed", "camera", cam.Key, "error", err)
	}
}

func (l *Loop) runJanitor(cameras []model.Camera, settings model.Settings) {
	folders := make(map[string]string)
	for _, cam := range cameras {
		if !cam.Delete && cam.EnableStreaming {
			folders[cam.Key] = cam.Folder
		}
	}
	if err := l.janitor.Run(settings.DiskBaseDir, folders, settings.DetectionFramesPath, settings.DiskCleanupCapacityPct); err != nil {
		l.log.Error("janitor run failed", "error", err)
	}
}

func rtspURLFor(cam model.Camera) string {
	if cam.StreamSource != "" {
		return cam.StreamSource
	}
	return fmt.Sprintf("rtsp://%s:%s@%s/Streaming/Channels/101", cam.IP, cam.Password, cam.IP)
}

func motionURLFor(cam model.Camera) string {
	if cam.MotionURL != "" {
		return cam.MotionURL
	}
	return fmt.Sprintf("http://%s:%s@%s/ISAPI/Event/notification/alertStream", cam.IP, cam.Password, cam.IP)
}

// MakeExtractFn adapts internal/extractor.Extract for the Detection
// Worker's ExtractFn signature, resolving each movement's frame
// directory and segment range.
func MakeExtractFn(sup *supervisor.Supervisor, ffmpegPath string, settings func() model.Settings) detect.ExtractFn {
	return func(ctx context.Context, cam model.Camera, m model.Movement, sink extractor.FrameSink) extractor.Result {
		s := settings()
		framesDir := filepath.Join(s.DiskBaseDir, s.DetectionFramesPath)
		var start, end int64
		if m.StartSegment != nil {
			start = *m.StartSegment
		}
		if m.EndSegment != nil {
			end = *m.EndSegment
		} else {
			end = start
		}
		return extractor.Extract(ctx, ffmpegPath, cam.Disk, cam.Folder, start, end, framesDir, m.Key, s.DetectionDedupEnabled, s.DetectionDedupPHashThreshold, sink)
	}
}
