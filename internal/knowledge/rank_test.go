package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 0}))
	assert.Zero(t, CosineSimilarity(nil, nil))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}

func TestRank_TruncatesBeforeFiltering(t *testing.T) {
	candidates := []Result{
		{Title: "low", Similarity: 0.05},
		{Title: "high", Similarity: 0.8},
		{Title: "mid", Similarity: 0.4},
	}
	out := Rank(candidates, 2, 0.5)
	assert.Equal(t, []Result{{Title: "high", Similarity: 0.8}}, out)
	// 输入不被修改
	assert.Equal(t, "low", candidates[0].Title)
}

func TestRank_StableTies(t *testing.T) {
	out := Rank([]Result{
		{Title: "first", Similarity: 0.5},
		{Title: "second", Similarity: 0.5},
		{Title: "third", Similarity: 0.7},
	}, 3, 0)
	assert.Equal(t, "third", out[0].Title)
	assert.Equal(t, "first", out[1].Title)
	assert.Equal(t, "second", out[2].Title)
}

func TestRank_EqualToMinIsExcluded(t *testing.T) {
	out := Rank([]Result{{Title: "edge", Similarity: 0.1}}, 3, 0.1)
	assert.Empty(t, out)
}

func TestRank_NonPositiveTopK(t *testing.T) {
	out := Rank([]Result{{Title: "a", Similarity: 1}}, 0, 0)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}
