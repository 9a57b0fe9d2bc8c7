// Package detect implements the Detection Worker (spec §4.9): a
// single long-lived subprocess speaking a line-delimited protocol,
// with a dispatcher goroutine owning the FIFO movement queue and the
// in-flight frame set, per §9's "one writer task, one reader task,
// messages into a dispatcher" design.
//
// The worker manages its own child process rather than going through
// internal/supervisor: the line protocol needs a live stdin pipe to
// the child, which the Process Supervisor's drain-to-sink Spawn
// contract doesn't expose. The child's exit is logged at info level
// with its wait error; exit codes are not classified.
package detect

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"nvr/internal/aggregator"
	"nvr/internal/extractor"
	"nvr/internal/model"
	"nvr/internal/store"
)

// ExtractFn runs the Frame Extractor for one movement, calling sink for
// each frame path as it's produced. Injected so this package doesn't
// import internal/extractor's ffmpeg-path/disk-layout concerns directly
// into its command surface.
type ExtractFn func(ctx context.Context, cam model.Camera, m model.Movement, sink extractor.FrameSink) extractor.Result

// Publisher emits SSE events.
type Publisher interface {
	Publish(model.SSEEventType, *model.Movement)
}

type queuedMovement struct {
	cameraKey   string
	movementKey string
}

type frameJob struct {
	path        string
	movementKey string
	sentAt      time.Time
}

type detectionLine struct {
	Image      string `json:"image"`
	Detections []struct {
		Object      string  `json:"object"`
		Probability float64 `json:"probability"`
	} `json:"detections"`
}

// Worker is the singleton Detection Worker dispatcher.
type Worker struct {
	repo      *store.Repo
	pub       Publisher
	extract   ExtractFn
	getCamera func(key string) (model.Camera, error)
	log       *slog.Logger

	binPath string
	binArgs []string

	cmds chan func()

	cmd    *exec.Cmd
	stdin  *bufio.Writer
	ready  bool
	startedAt time.Time

	queue          []queuedMovement
	currentJob     *queuedMovement
	extractorClosed bool
	framesInFlight map[string]frameJob

	restartPending  bool
	lastRestartDate string
	schedule        *RestartSchedule

	heldFrames []frameJob

	stopped bool
	stopCh  chan struct{}
}

// New constructs a Worker. Start must be called before use.
func New(repo *store.Repo, pub Publisher, extract ExtractFn, getCamera func(key string) (model.Camera, error), log *slog.Logger, binPath string, binArgs []string) *Worker {
	return &Worker{
		repo:           repo,
		pub:            pub,
		extract:        extract,
		getCamera:      getCamera,
		log:            log,
		binPath:        binPath,
		binArgs:        binArgs,
		cmds:           make(chan func(), 64),
		framesInFlight: make(map[string]frameJob),
		stopCh:         make(chan struct{}),
	}
}

// Start spawns the detection subprocess and the dispatcher goroutine.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.spawnProcess(ctx); err != nil {
		return err
	}
	go w.run(ctx)
	return nil
}

// SetSchedule installs the parsed ml_restart_schedule (nil disables).
func (w *Worker) SetSchedule(s *RestartSchedule) {
	w.cmds <- func() { w.schedule = s }
}

// EnqueueMovement adds a finalized movement to the FIFO queue. Safe to
// call from any goroutine (implements movement.Enqueuer).
func (w *Worker) EnqueueMovement(cameraKey, movementKey string) {
	select {
	case w.cmds <- func() { w.handleEnqueue(cameraKey, movementKey) }:
	case <-w.stopCh:
	}
}

// RestartCheck is invoked once per control-loop tick with the previous
// and current tick times, per §4.11 step 3.
func (w *Worker) RestartCheck(prev, now time.Time) {
	select {
	case w.cmds <- func() { w.handleRestartCheck(prev, now) }:
	case <-w.stopCh:
	}
}

// Stop terminates the detection process and the dispatcher loop.
func (w *Worker) Stop() {
	close(w.stopCh)
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
}

func (w *Worker) run(ctx context.Context) {
	for {
		select {
		case fn := <-w.cmds:
			fn()
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) spawnProcess(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, w.binPath, w.binArgs...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("attaching stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("attaching stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawning detection worker: %w", err)
	}

	w.cmd = cmd
	w.stdin = bufio.NewWriter(stdin)
	w.ready = false
	w.startedAt = time.Now()

	go w.readLoop(stdout)
	go func() {
		err := cmd.Wait()
		w.log.Info("detection worker process exited", "error", err)
	}()

	return nil
}

func (w *Worker) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "READY":
			w.cmds <- func() { w.ready = true }
		case strings.HasPrefix(line, "IMAGE:"):
			// Echo confirmation; no action required.
		case strings.HasPrefix(line, "{"):
			var resp detectionLine
			if err := json.Unmarshal([]byte(line), &resp); err != nil {
				w.log.Error("detection worker malformed response", "line", line, "error", err)
				continue
			}
			dets := make([]aggregator.Detection, len(resp.Detections))
			for i, d := range resp.Detections {
				dets[i] = aggregator.Detection{Object: d.Object, Probability: d.Probability}
			}
			w.cmds <- func() { w.handleFrameResult(resp.Image, dets) }
		}
	}
}

func (w *Worker) handleEnqueue(cameraKey, movementKey string) {
	w.queue = append(w.queue, queuedMovement{cameraKey: cameraKey, movementKey: movementKey})
	w.dispatchNext()
}

func (w *Worker) dispatchNext() {
	if w.currentJob != nil || w.restartPending || len(w.queue) == 0 {
		return
	}
	next := w.queue[0]
	w.queue = w.queue[1:]
	w.currentJob = &next
	w.extractorClosed = false

	m, err := w.repo.GetMovement(next.movementKey)
	if err != nil {
		w.log.Error("dispatch: movement vanished", "movement", next.movementKey, "error", err)
		w.currentJob = nil
		w.dispatchNext()
		return
	}
	m.ProcessingState = model.ProcessingInProgress
	m.ProcessingStartedAt = time.Now().UnixMilli()
	m.DetectionStatus = model.DetectionStarting
	m.ProcessingAttempts++
	if err := w.repo.PutMovement(m); err != nil {
		w.log.Error("dispatch: failed to persist movement", "movement", next.movementKey, "error", err)
	}

	cam, err := w.getCamera(next.cameraKey)
	if err != nil {
		w.log.Error("dispatch: camera vanished", "camera", next.cameraKey, "error", err)
		w.finalizeFailed(next.movementKey, "camera not found")
		return
	}

	go func() {
		result := w.extract(context.Background(), cam, m, func(path string) {
			w.cmds <- func() { w.handleFrameExtracted(next.movementKey, path) }
		})
		w.cmds <- func() { w.handleExtractorDone(next.movementKey, result) }
	}()
}

func (w *Worker) handleFrameExtracted(movementKey, path string) {
	m, err := w.repo.GetMovement(movementKey)
	if err == nil && m.DetectionStatus == model.DetectionStarting {
		m.DetectionStatus = model.DetectionExtracting
		_ = w.repo.PutMovement(m)
	}

	job := frameJob{path: path, movementKey: movementKey, sentAt: time.Now()}
	if w.restartPending {
		w.heldFrames = append(w.heldFrames, job)
		return
	}
	w.sendFrame(job)
}

func (w *Worker) sendFrame(job frameJob) {
	job.sentAt = time.Now()
	w.framesInFlight[job.path] = job
	if _, err := w.stdin.WriteString(job.path + "\n"); err != nil {
		w.log.Error("writing frame path to detection worker", "path", job.path, "error", err)
		return
	}
	_ = w.stdin.Flush()
}

func (w *Worker) handleFrameResult(path string, dets []aggregator.Detection) {
	job, ok := w.framesInFlight[path]
	if !ok {
		w.log.Warn("detection response for unknown frame", "path", path)
		return
	}
	delete(w.framesInFlight, path)

	m, err := w.repo.GetMovement(job.movementKey)
	if err != nil {
		w.log.Error("loading movement for frame result", "movement", job.movementKey, "error", err)
	} else {
		if m.DetectionStatus == model.DetectionExtracting {
			m.DetectionStatus = model.DetectionAnalyzing
		}
		procMs := time.Since(job.sentAt).Milliseconds()
		m.FramesReceivedFromML++
		m.MLTotalProcessingTimeMs += procMs
		if procMs > m.MLMaxProcessingTimeMs {
			m.MLMaxProcessingTimeMs = procMs
		}
		aggregator.Apply(&m, job.path, dets)
		if err := w.repo.PutMovement(m); err != nil {
			w.log.Error("persisting movement after frame result", "movement", job.movementKey, "error", err)
		}
	}

	w.maybeFinalize(job.movementKey)
	w.maybeCompleteRestart()
}

func (w *Worker) handleExtractorDone(movementKey string, result extractor.Result) {
	if w.currentJob == nil || w.currentJob.movementKey != movementKey {
		return
	}
	w.extractorClosed = true

	m, err := w.repo.GetMovement(movementKey)
	if err == nil {
		m.FramesSentToML = result.FramesSent
		_ = w.repo.PutMovement(m)
	}

	if result.ProcessingError != "" && (err != nil || m.FramesReceivedFromML == 0) {
		w.finalizeFailed(movementKey, result.ProcessingError)
		return
	}

	w.maybeFinalize(movementKey)
}

func (w *Worker) maybeFinalize(movementKey string) {
	if w.currentJob == nil || w.currentJob.movementKey != movementKey {
		return
	}
	if !w.extractorClosed {
		return
	}
	if w.inFlightCountFor(movementKey) > 0 {
		return
	}

	m, err := w.repo.GetMovement(movementKey)
	if err != nil {
		w.log.Error("finalizing movement", "movement", movementKey, "error", err)
		w.currentJob = nil
		w.dispatchNext()
		return
	}
	m.DetectionStatus = model.DetectionComplete
	m.ProcessingState = model.ProcessingCompleted
	m.ProcessingCompletedAt = time.Now().UnixMilli()
	if err := w.repo.PutMovement(m); err != nil {
		w.log.Error("persisting completed movement", "movement", movementKey, "error", err)
	}
	// The Movement Tracker already published the single movement_complete
	// for this key when the motion episode closed; detection finishing
	// later is a content update on an already-complete movement.
	w.pub.Publish(model.SSEMovementUpdate, &m)

	w.currentJob = nil
	w.dispatchNext()
}

func (w *Worker) finalizeFailed(movementKey, reason string) {
	m, err := w.repo.GetMovement(movementKey)
	if err == nil {
		m.ProcessingState = model.ProcessingFailed
		m.ProcessingError = reason
		_ = w.repo.PutMovement(m)
	}
	w.currentJob = nil
	w.dispatchNext()
}

func (w *Worker) inFlightCountFor(movementKey string) int {
	n := 0
	for _, j := range w.framesInFlight {
		if j.movementKey == movementKey {
			n++
		}
	}
	return n
}

func (w *Worker) handleRestartCheck(prev, now time.Time) {
	if w.schedule == nil || w.restartPending {
		return
	}
	today := now.Format("2006-01-02")
	if w.lastRestartDate == today {
		return
	}
	if w.schedule.Crossed(prev, now) {
		w.restartPending = true
	}
	w.maybeCompleteRestart()
}

func (w *Worker) maybeCompleteRestart() {
	if !w.restartPending || len(w.framesInFlight) > 0 {
		return
	}
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
	if err := w.spawnProcess(context.Background()); err != nil {
		w.log.Error("restarting detection worker", "error", err)
		return
	}
	w.lastRestartDate = time.Now().Format("2006-01-02")
	w.restartPending = false

	held := w.heldFrames
	w.heldFrames = nil
	for _, job := range held {
		w.sendFrame(job)
	}
}
