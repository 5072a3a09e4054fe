package knowledge

import (
	"math"
	"sort"
)

// CosineSimilarity 返回 a 与 b 的余弦相似度。维度不一致、为空或模长为 0 时返回 0。
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Rank 按相似度降序稳定排序（同分保持候选原有顺序，即插入顺序），
// 截取前 topK 条，再丢弃 similarity <= minSimilarity 的结果。
// 注意顺序：先截断后过滤，所以结果可能少于 topK。
func Rank(candidates []Result, topK int, minSimilarity float64) []Result {
	if topK <= 0 || len(candidates) == 0 {
		return []Result{}
	}
	ranked := make([]Result, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Similarity > ranked[j].Similarity
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	out := make([]Result, 0, len(ranked))
	for _, r := range ranked {
		if r.Similarity > minSimilarity {
			out = append(out, r)
		}
	}
	return out
}
