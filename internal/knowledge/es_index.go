package knowledge

import (
	"context"

	"ctxbot-go/internal/model"
	"ctxbot-go/pkg/es"

	"github.com/elastic/go-elasticsearch/v8"
)

// ESIndex 基于 Elasticsearch dense_vector kNN 的 Index 实现。
type ESIndex struct {
	client       *elasticsearch.Client
	indexName    string
	modelVersion string
}

// NewESIndex 创建 ESIndex。索引需事先由 es.InitES 建好。
func NewESIndex(client *elasticsearch.Client, indexName, modelVersion string) *ESIndex {
	return &ESIndex{client: client, indexName: indexName, modelVersion: modelVersion}
}

func (i *ESIndex) Upsert(ctx context.Context, entry Entry) error {
	return es.IndexDocument(ctx, i.client, i.indexName, model.KnowledgeDocument{
		Title:        entry.Title,
		Content:      entry.Content,
		Vector:       entry.Embedding,
		ModelVersion: i.modelVersion,
	})
}

// Nearest 执行 kNN 检索。cosine 相似度下 ES 的 _score 为 (1+cos)/2，这里换算回 cos。
func (i *ESIndex) Nearest(ctx context.Context, vector []float32, k int) ([]Result, error) {
	if k <= 0 {
		return []Result{}, nil
	}
	hits, err := es.KnnSearch(ctx, i.client, i.indexName, vector, k)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			Title:      h.Source.Title,
			Content:    h.Source.Content,
			Similarity: 2*h.Score - 1,
		})
	}
	return results, nil
}
