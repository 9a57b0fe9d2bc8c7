package aggregator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nvr/internal/model"
)

// TestApply_Invariant5 matches spec.md's scenario S5: a tag seen across
// multiple frames keeps the max probability, the frame that produced
// it, and a running count.
func TestApply_Invariant5(t *testing.T) {
	var m model.Movement

	Apply(&m, "/data/frames/mov1_0001.jpg", []Detection{{Object: "person", Probability: 0.62}})
	Apply(&m, "/data/frames/mov1_0002.jpg", []Detection{{Object: "person", Probability: 0.91}})
	Apply(&m, "/data/frames/mov1_0003.jpg", []Detection{{Object: "person", Probability: 0.40}})

	require.Len(t, m.DetectionOutput.Tags, 1)
	tag := m.DetectionOutput.Tags[0]
	require.Equal(t, "person", tag.Tag)
	require.Equal(t, 3, tag.Count)
	require.InDelta(t, 0.91, tag.MaxProbability, 1e-9)
	require.Equal(t, "mov1_0002.jpg", tag.MaxProbabilityImage)
}

func TestApply_MultipleTagsIndependent(t *testing.T) {
	var m model.Movement

	Apply(&m, "/data/frames/f1.jpg", []Detection{
		{Object: "person", Probability: 0.7},
		{Object: "car", Probability: 0.3},
	})
	Apply(&m, "/data/frames/f2.jpg", []Detection{{Object: "car", Probability: 0.8}})

	require.Len(t, m.DetectionOutput.Tags, 2)
	byTag := map[string]model.TagResult{}
	for _, tr := range m.DetectionOutput.Tags {
		byTag[tr.Tag] = tr
	}
	require.Equal(t, 1, byTag["person"].Count)
	require.Equal(t, 2, byTag["car"].Count)
	require.InDelta(t, 0.8, byTag["car"].MaxProbability, 1e-9)
}

func TestMatchesFilters(t *testing.T) {
	m := model.Movement{DetectionOutput: model.DetectionOutput{Tags: []model.TagResult{
		{Tag: "person", MaxProbability: 0.55},
		{Tag: "car", MaxProbability: 0.2},
	}}}

	require.True(t, MatchesFilters(m, []model.TagFilter{{Tag: "person", MinProbability: 0.5}}))
	require.False(t, MatchesFilters(m, []model.TagFilter{{Tag: "car", MinProbability: 0.5}}))
	require.False(t, MatchesFilters(m, nil))
}
