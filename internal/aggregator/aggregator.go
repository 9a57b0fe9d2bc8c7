// Package aggregator implements the Result Aggregator (spec §4.9's
// per-frame fold, invariant 5): applying one frame's detections to its
// owning movement, and evaluating the `detection_tag_filters` Settings
// used by the Web Surface's `mode=Filtered` view (§6).
package aggregator

import (
	"path/filepath"

	"nvr/internal/model"
)

// Detection is one object detected in a single frame, as emitted by
// the Detection Worker's JSON line protocol.
type Detection struct {
	Object      string
	Probability float64
}

// Apply folds every detection from one frame response into m,
// respecting invariant 5 (max_probability / count / max_probability_image
// per tag). framePath is the frame's absolute path; only its basename is
// stored.
func Apply(m *model.Movement, framePath string, detections []Detection) {
	base := filepath.Base(framePath)
	for _, d := range detections {
		m.UpsertTag(d.Object, d.Probability, base)
	}
}

// MatchesFilters reports whether m has at least one tag clearing its
// corresponding threshold in filters — the predicate behind
// `GET /movements?mode=Filtered` (§6).
func MatchesFilters(m model.Movement, filters []model.TagFilter) bool {
	if len(filters) == 0 {
		return false
	}
	thresholds := make(map[string]float64, len(filters))
	for _, f := range filters {
		thresholds[f.Tag] = f.MinProbability
	}
	for _, t := range m.DetectionOutput.Tags {
		if min, ok := thresholds[t.Tag]; ok && t.MaxProbability >= min {
			return true
		}
	}
	return false
}
