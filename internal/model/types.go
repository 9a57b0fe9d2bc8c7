// Package model holds the durable entities stored in the Store:
// Settings, Camera, Movement and DiskStatus, plus their client-facing
// (password/ip-stripped) projections.
package model

// TagFilter is one entry of Settings.DetectionTagFilters: the minimum
// probability a detected tag must clear for the "Filtered" movements
// view to keep it.
type TagFilter struct {
	Tag           string  `json:"tag"`
	MinProbability float64 `json:"min_probability"`
}

// Settings is the singleton configuration row, stored under key
// "config" in the settings namespace.
type Settings struct {
	DiskBaseDir            string      `json:"disk_base_dir"`
	DiskCleanupIntervalMin int         `json:"disk_cleanup_interval_min"`
	DiskCleanupCapacityPct int         `json:"disk_cleanup_capacity_pct"`
	DetectionEnable        bool        `json:"detection_enable"`
	DetectionModel         string      `json:"detection_model"`
	DetectionTargetHW      string      `json:"detection_target_hw,omitempty"`
	DetectionFramesPath    string      `json:"detection_frames_path"`
	DetectionTagFilters    []TagFilter `json:"detection_tag_filters"`
	MLRestartSchedule      string      `json:"ml_restart_schedule"`
	ShutdownTimeoutMs      int         `json:"shutdown_timeout_ms"`
	StreamVerifyTimeoutMs  int         `json:"stream_verify_timeout_ms"`

	// Supplemented (SPEC_FULL §12), additive and default-off/neutral.
	DetectionDedupEnabled       bool `json:"detection_dedup_enabled"`
	DetectionDedupPHashThreshold int `json:"detection_dedup_phash_threshold"`
	WebThumbnailMaxPx           int  `json:"web_thumbnail_max_px"`
}

// DefaultSettings returns the Settings row seeded on first boot.
func DefaultSettings(baseDir string) Settings {
	return Settings{
		DiskBaseDir:                  baseDir,
		DiskCleanupIntervalMin:       30,
		DiskCleanupCapacityPct:       80,
		DetectionEnable:              true,
		DetectionModel:               "default",
		DetectionFramesPath:          "frames",
		DetectionTagFilters:          []TagFilter{},
		MLRestartSchedule:            "",
		ShutdownTimeoutMs:            5000,
		StreamVerifyTimeoutMs:        10000,
		DetectionDedupEnabled:        false,
		DetectionDedupPHashThreshold: 8,
		WebThumbnailMaxPx:            1024,
	}
}

// Camera is one configured camera, keyed "C"+(unix_seconds-1_600_000_000)
// in the cameras namespace.
type Camera struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Folder string `json:"folder"`
	Disk   string `json:"disk"`

	StreamSource string `json:"stream_source,omitempty"`
	IP           string `json:"ip,omitempty"`
	Password     string `json:"password,omitempty"`

	MotionURL string `json:"motion_url,omitempty"`

	EnableStreaming bool `json:"enable_streaming"`
	EnableMovement  bool `json:"enable_movement"`
	Delete          bool `json:"delete"`

	PollFrequencyMs          int `json:"poll_frequency_ms"`
	PollsWithoutMovement     int `json:"polls_without_movement"`
	SecMaxSingleMovement     int `json:"sec_max_single_movement"`
	SegmentsPriorToMovement  int `json:"segments_prior_to_movement"`
	SegmentsPostMovement     int `json:"segments_post_movement"`
	SecMovementStartupDelay  int `json:"sec_movement_startup_delay"`

	// Server-owned; never accepted from client updates (§6 POST /camera/<key>).
	StateLastProcessedMovementKey string `json:"state_last_processed_movement_key,omitempty"`
}

// ToClient strips credentials before the camera is sent to a browser.
func (c Camera) ToClient() Camera {
	out := c
	out.IP = ""
	out.Password = ""
	return out
}

// DetectionStatus is the Movement's frame-extraction/analysis phase.
type DetectionStatus string

const (
	DetectionStarting   DetectionStatus = "starting"
	DetectionExtracting DetectionStatus = "extracting"
	DetectionAnalyzing  DetectionStatus = "analyzing"
	DetectionComplete   DetectionStatus = "complete"
)

// ProcessingState is the Movement's place in the detection-worker queue.
type ProcessingState string

const (
	ProcessingPending    ProcessingState = "pending"
	ProcessingInProgress ProcessingState = "processing"
	ProcessingCompleted  ProcessingState = "completed"
	ProcessingFailed     ProcessingState = "failed"
)

// TagResult is one entry of Movement.DetectionOutput.Tags.
type TagResult struct {
	Tag                string  `json:"tag"`
	MaxProbability     float64 `json:"max_probability"`
	Count              int     `json:"count"`
	MaxProbabilityImage string `json:"max_probability_image"`
}

// DetectionOutput holds the per-tag aggregation for a movement.
type DetectionOutput struct {
	Tags []TagResult `json:"tags"`
}

// Movement is one motion episode, keyed by a 12-digit zero-padded
// millisecond epoch in the movements namespace.
type Movement struct {
	Key         string `json:"key"`
	CameraKey   string `json:"camera_key"`
	StartDateMs int64  `json:"start_date_ms"`

	StartSegment *int64 `json:"start_segment"`
	EndSegment   *int64 `json:"end_segment"`
	Seconds      int64  `json:"seconds"`

	PollCount                     int `json:"poll_count"`
	ConsecutivePollsWithoutMovement int `json:"consecutive_polls_without_movement"`

	ProcessingState ProcessingState `json:"processing_state"`

	DetectionStatus      DetectionStatus `json:"detection_status"`
	DetectionStartedAt   int64           `json:"detection_started_at"`
	DetectionEndedAt     int64           `json:"detection_ended_at,omitempty"`
	ProcessingStartedAt  int64           `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt int64          `json:"processing_completed_at,omitempty"`
	ProcessingError      string          `json:"processing_error,omitempty"`
	ProcessingAttempts   int             `json:"processing_attempts"`

	FramesSentToML          int   `json:"frames_sent_to_ml"`
	FramesReceivedFromML     int   `json:"frames_received_from_ml"`
	MLTotalProcessingTimeMs  int64 `json:"ml_total_processing_time_ms"`
	MLMaxProcessingTimeMs    int64 `json:"ml_max_processing_time_ms"`

	DetectionOutput DetectionOutput `json:"detection_output"`
}

// UpsertTag folds a single per-frame detection into the movement's
// DetectionOutput, respecting invariant 5: max_probability is the max
// observed probability for that tag, count is the number of frames
// that reported it, max_probability_image is the frame that produced
// the max.
func (m *Movement) UpsertTag(tag string, probability float64, frameBasename string) {
	for i := range m.DetectionOutput.Tags {
		t := &m.DetectionOutput.Tags[i]
		if t.Tag != tag {
			continue
		}
		t.Count++
		if probability > t.MaxProbability {
			t.MaxProbability = probability
			t.MaxProbabilityImage = frameBasename
		}
		return
	}
	m.DetectionOutput.Tags = append(m.DetectionOutput.Tags, TagResult{
		Tag:                 tag,
		MaxProbability:      probability,
		Count:               1,
		MaxProbabilityImage: frameBasename,
	})
}

// DiskStatus is one per camera, overwritten on each janitor run.
type DiskStatus struct {
	CameraKey       string `json:"camera_key"`
	LastRunAt       int64  `json:"last_run_at"`
	FilesDeleted    int    `json:"files_deleted"`
	BytesDeleted    int64  `json:"bytes_deleted"`
	CutoffMs        int64  `json:"cutoff_ms"`
	MovementsDeleted int   `json:"movements_deleted"`
}

// SSEEventType is the "type" field of an /movements/stream message.
type SSEEventType string

const (
	SSEConnected        SSEEventType = "connected"
	SSEMovementNew       SSEEventType = "movement_new"
	SSEMovementUpdate    SSEEventType = "movement_update"
	SSEMovementComplete  SSEEventType = "movement_complete"
)

// SSEEvent is one line written to every subscriber.
type SSEEvent struct {
	Type     SSEEventType `json:"type"`
	Movement *Movement    `json:"movement,omitempty"`
}
