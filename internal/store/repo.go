package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"nvr/internal/model"
)

const settingsKey = "config"

// cameraEpoch is the base the spec's camera key subtracts
// (2020-09-13-ish per §3): "C" + (unix_seconds - 1_600_000_000).
const cameraEpoch = 1_600_000_000

// Repo is a typed facade over Store for the four entity kinds. It owns
// the camera-key allocation mutex (see DESIGN.md open-question
// decision on same-second collisions).
type Repo struct {
	s       *Store
	cameraMu sync.Mutex
}

func NewRepo(s *Store) *Repo { return &Repo{s: s} }

func (r *Repo) Raw() *Store { return r.s }

// GetSettings reads the Settings singleton, seeding defaults on first
// boot if absent.
func (r *Repo) GetSettings(defaultBaseDir string) (model.Settings, error) {
	raw, err := r.s.Get(NamespaceSettings, settingsKey)
	if err == ErrNotFound {
		def := model.DefaultSettings(defaultBaseDir)
		if err := r.PutSettings(def); err != nil {
			return model.Settings{}, err
		}
		return def, nil
	}
	if err != nil {
		return model.Settings{}, err
	}
	var s model.Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return model.Settings{}, fmt.Errorf("decoding settings: %w", err)
	}
	return s, nil
}

// PutSettings persists the Settings singleton.
func (r *Repo) PutSettings(s model.Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return r.s.Put(NamespaceSettings, settingsKey, raw)
}

// AllocateCameraKey returns a fresh, collision-free camera key of the
// documented shape, serialized under cameraMu so two creations in the
// same wall-clock second don't race.
func (r *Repo) AllocateCameraKey() (string, error) {
	r.cameraMu.Lock()
	defer r.cameraMu.Unlock()

	base := fmt.Sprintf("C%d", time.Now().Unix()-cameraEpoch)
	key := base
	for i := 0; i < 1; i++ {
		_, err := r.s.Get(NamespaceCameras, key)
		if err == ErrNotFound {
			return key, nil
		}
		if err != nil {
			return "", err
		}
		key = base + "-" + uuid.New().String()[:8]
	}
	return key, nil
}

func (r *Repo) PutCamera(c model.Camera) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding camera: %w", err)
	}
	return r.s.Put(NamespaceCameras, c.Key, raw)
}

func (r *Repo) GetCamera(key string) (model.Camera, error) {
	raw, err := r.s.Get(NamespaceCameras, key)
	if err != nil {
		return model.Camera{}, err
	}
	var c model.Camera
	if err := json.Unmarshal(raw, &c); err != nil {
		return model.Camera{}, fmt.Errorf("decoding camera %s: %w", key, err)
	}
	return c, nil
}

// ListCameras returns every camera, including tombstoned ones; callers
// filter as needed.
func (r *Repo) ListCameras() ([]model.Camera, error) {
	var out []model.Camera
	err := r.s.Iterate(NamespaceCameras, IterOpts{}, func(e Entry) error {
		var c model.Camera
		if err := json.Unmarshal(e.Value, &c); err != nil {
			return fmt.Errorf("decoding camera %s: %w", e.Key, err)
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

func (r *Repo) PutMovement(m model.Movement) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding movement: %w", err)
	}
	return r.s.Put(NamespaceMovements, m.Key, raw)
}

func (r *Repo) GetMovement(key string) (model.Movement, error) {
	raw, err := r.s.Get(NamespaceMovements, key)
	if err != nil {
		return model.Movement{}, err
	}
	var m model.Movement
	if err := json.Unmarshal(raw, &m); err != nil {
		return model.Movement{}, fmt.Errorf("decoding movement %s: %w", key, err)
	}
	return m, nil
}

// ListMovements iterates the movements namespace under opts, decoding
// each entry.
func (r *Repo) ListMovements(opts IterOpts) ([]model.Movement, error) {
	var out []model.Movement
	err := r.s.Iterate(NamespaceMovements, opts, func(e Entry) error {
		var m model.Movement
		if err := json.Unmarshal(e.Value, &m); err != nil {
			return fmt.Errorf("decoding movement %s: %w", e.Key, err)
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

// MovementKey zero-pads a millisecond epoch to 12 digits, per §3/invariant 1.
func MovementKey(startMs int64) string {
	return fmt.Sprintf("%012d", startMs)
}

func (r *Repo) PutDiskStatus(d model.DiskStatus) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding diskstatus: %w", err)
	}
	return r.s.Put(NamespaceDiskStatus, d.CameraKey, raw)
}

func (r *Repo) ListDiskStatus() ([]model.DiskStatus, error) {
	var out []model.DiskStatus
	err := r.s.Iterate(NamespaceDiskStatus, IterOpts{}, func(e Entry) error {
		var d model.DiskStatus
		if err := json.Unmarshal(e.Value, &d); err != nil {
			return fmt.Errorf("decoding diskstatus %s: %w", e.Key, err)
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

// BatchDeleteMovements deletes every key in keys from the movements
// namespace in one atomic transaction.
func (r *Repo) BatchDeleteMovements(keys []string) error {
	ops := make([]Op, len(keys))
	for i, k := range keys {
		ops[i] = Op{Namespace: NamespaceMovements, Key: k, Delete: true}
	}
	return r.s.Batch(ops)
}
