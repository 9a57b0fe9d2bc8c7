// Package movement implements the per-camera Movement Tracker (spec
// §4.7): the state machine that turns Motion Poller outcomes into
// durable Movement records and SSE events.
package movement

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nvr/internal/model"
	"nvr/internal/motion"
	"nvr/internal/store"
)

// Enqueuer hands a finalized movement key to the Detection Worker
// dispatcher (internal/detect); kept as an interface here so the
// tracker package doesn't import detect (the dispatcher is built on
// top of the tracker's output, not the other way around).
type Enqueuer interface {
	EnqueueMovement(cameraKey, movementKey string)
}

// Publisher emits an SSE event; satisfied by internal/events.Broadcaster.
type Publisher interface {
	Publish(model.SSEEventType, *model.Movement)
}

// trackerState is the per-camera in-memory state (§9: "owned by the
// control loop", serialized here with a per-camera lock).
type trackerState struct {
	mu                sync.Mutex
	currentMovementKey string
}

// Tracker owns one trackerState per camera and mutates the Store.
type Tracker struct {
	repo      *store.Repo
	pub       Publisher
	enq       Enqueuer
	log       *slog.Logger
	nowFn     func() time.Time

	mu     sync.Mutex
	states map[string]*trackerState
}

func New(repo *store.Repo, pub Publisher, enq Enqueuer, log *slog.Logger) *Tracker {
	return &Tracker{
		repo:   repo,
		pub:    pub,
		enq:    enq,
		log:    log,
		nowFn:  time.Now,
		states: make(map[string]*trackerState),
	}
}

func (t *Tracker) stateFor(cameraKey string) *trackerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[cameraKey]
	if !ok {
		s = &trackerState{}
		t.states[cameraKey] = s
	}
	return s
}

// CurrentSequenceFn resolves the live HLS media sequence for a camera,
// used when opening a new movement; injected so the tracker doesn't
// depend on internal/stream directly.
type CurrentSequenceFn func(cam model.Camera) (int64, error)

// Apply processes one Motion Poller outcome for cam, advancing that
// camera's state machine. currentSeq is read on every tick: to seed
// start_segment when opening a new movement, and to recompute
// seconds/end_segment from the live HLS sequence on every Active tick.
func (t *Tracker) Apply(cam model.Camera, outcome motion.Outcome, currentSeq CurrentSequenceFn) error {
	if outcome == motion.OutcomeError {
		return nil
	}

	s := t.stateFor(cam.Key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentMovementKey == "" {
		return t.applyIdle(cam, outcome, s, currentSeq)
	}
	return t.applyActive(cam, outcome, s, currentSeq)
}

func (t *Tracker) applyIdle(cam model.Camera, outcome motion.Outcome, s *trackerState, currentSeq CurrentSequenceFn) error {
	if outcome != motion.OutcomeMovement {
		return nil
	}

	seq, err := currentSeq(cam)
	if err != nil {
		return fmt.Errorf("reading current sequence for %s: %w", cam.Key, err)
	}

	now := t.nowFn()
	nowMs := now.UnixMilli()
	key := store.MovementKey(nowMs)

	m := model.Movement{
		Key:                key,
		CameraKey:          cam.Key,
		StartDateMs:        nowMs,
		StartSegment:       ptr(seq),
		PollCount:          1,
		ProcessingState:    model.ProcessingPending,
		DetectionStatus:    model.DetectionStarting,
		DetectionStartedAt: nowMs,
	}

	if err := t.repo.PutMovement(m); err != nil {
		return fmt.Errorf("writing new movement: %w", err)
	}

	s.currentMovementKey = key
	t.pub.Publish(model.SSEMovementNew, &m)
	return nil
}

func (t *Tracker) applyActive(cam model.Camera, outcome motion.Outcome, s *trackerState, currentSeq CurrentSequenceFn) error {
	m, err := t.repo.GetMovement(s.currentMovementKey)
	if err != nil {
		// The record vanished (e.g. janitor eviction race); drop back to
		// idle rather than wedge this camera's tracker forever.
		lost := s.currentMovementKey
		s.currentMovementKey = ""
		return fmt.Errorf("reloading active movement %s: %w", lost, err)
	}

	seq, err := currentSeq(cam)
	if err != nil {
		return fmt.Errorf("reading current sequence for %s: %w", cam.Key, err)
	}
	if m.StartSegment != nil {
		m.Seconds = (seq - *m.StartSegment) * 2
	}

	if outcome == motion.OutcomeMovement {
		m.PollCount++
		m.ConsecutivePollsWithoutMovement = 0
		if err := t.repo.PutMovement(m); err != nil {
			return fmt.Errorf("updating active movement: %w", err)
		}
		t.pub.Publish(model.SSEMovementUpdate, &m)
		return nil
	}

	m.PollCount++
	m.ConsecutivePollsWithoutMovement++

	shouldClose := m.ConsecutivePollsWithoutMovement >= cam.PollsWithoutMovement ||
		m.Seconds >= int64(cam.SecMaxSingleMovement)

	if shouldClose {
		m.EndSegment = ptr(seq)
		m.DetectionEndedAt = t.nowFn().UnixMilli()
		if m.StartSegment != nil {
			m.Seconds = (*m.EndSegment - *m.StartSegment) * 2
		}
	}

	if err := t.repo.PutMovement(m); err != nil {
		return fmt.Errorf("updating movement: %w", err)
	}
	t.pub.Publish(model.SSEMovementUpdate, &m)

	if !shouldClose {
		return nil
	}

	s.currentMovementKey = ""
	t.pub.Publish(model.SSEMovementComplete, &m)
	if t.enq != nil {
		t.enq.EnqueueMovement(cam.Key, m.Key)
	}
	return nil
}

func ptr(v int64) *int64 { return &v }
