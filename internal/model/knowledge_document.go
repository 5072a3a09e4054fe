package model

// KnowledgeDocument 定义了存储在 Elasticsearch 中的知识条目文档结构。
type KnowledgeDocument struct {
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version,omitempty"`
}

// KnowledgeHit 是一条 kNN 命中结果。
type KnowledgeHit struct {
	Source KnowledgeDocument `json:"_source"`
	Score  float64           `json:"_score"`
}
