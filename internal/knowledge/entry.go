// Package knowledge 实现了向量知识库：标题到 (内容, 向量) 的持久化映射，以及余弦相似度检索。
package knowledge

// Entry 是一条可检索的背景知识。同一标题只对应一条记录。
type Entry struct {
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
}

// Result 是一条检索结果。Similarity 只用于排序与过滤。
type Result struct {
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}
