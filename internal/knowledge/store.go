package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"ctxbot-go/internal/apperrors"
	"ctxbot-go/pkg/embedding"
	"ctxbot-go/pkg/log"
)

// Retriever 是上下文组装所依赖的检索接口。
type Retriever interface {
	Query(ctx context.Context, text string, topK int, minSimilarity float64) ([]Result, error)
}

// Index 是可选的近似最近邻索引。未配置时 Store 对全部条目做线性扫描。
type Index interface {
	Upsert(ctx context.Context, entry Entry) error
	// Nearest 返回相似度最高的至多 k 个候选。同分候选的先后由 Store 按插入顺序重排，
	// 但第 k 名附近的同分条目由索引决定取舍。
	Nearest(ctx context.Context, vector []float32, k int) ([]Result, error)
}

// Store 是知识库。启动时整体读入内存，每次修改后整体重写到 Backend。
// 内存状态由读写锁保护；跨进程的并发写入仍然不安全，写入方需自行串行化。
type Store struct {
	embedder embedding.Client
	backend  Backend
	index    Index

	mu      sync.RWMutex
	titles  []string
	entries map[string]Entry
}

// Option 配置 Store。
type Option func(*Store)

// WithIndex 使用 ANN 索引代替线性扫描。
func WithIndex(index Index) Option {
	return func(s *Store) { s.index = index }
}

// Open 从 backend 读取已有内容并返回 Store。
func Open(ctx context.Context, embedder embedding.Client, backend Backend, opts ...Option) (*Store, error) {
	s := &Store{
		embedder: embedder,
		backend:  backend,
		entries:  make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(s)
	}

	data, err := backend.Load(ctx)
	if err != nil {
		return nil, apperrors.Persistence("load knowledge store", err)
	}
	titles, entries, err := decode(data)
	if err != nil {
		return nil, apperrors.Persistence("load knowledge store", err)
	}
	s.titles, s.entries = titles, entries
	log.Infof("[KnowledgeStore] 已加载 %d 条知识", len(titles))
	return s, nil
}

// AddEntry 计算 content 的向量并写入（同名覆盖，位置不变），然后整体持久化。
// 向量计算失败时知识库保持不变。
func (s *Store) AddEntry(ctx context.Context, title, content string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("knowledge title is empty: %w", apperrors.ErrMalformedInput)
	}
	vector, err := s.embedder.CreateEmbedding(ctx, content)
	if err != nil {
		return fmt.Errorf("embed knowledge entry %q: %w", title, err)
	}
	entry := Entry{Title: title, Content: content, Embedding: vector}

	s.mu.Lock()
	prev, existed := s.entries[title]
	s.entries[title] = entry
	if !existed {
		s.titles = append(s.titles, title)
	}
	if err := s.saveLocked(ctx); err != nil {
		// 回滚内存状态，使其与已持久化的内容一致
		if existed {
			s.entries[title] = prev
		} else {
			delete(s.entries, title)
			s.titles = s.titles[:len(s.titles)-1]
		}
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	// 条目已持久化，索引失败不影响写入结果，之后可用 Reindex 重建
	if s.index != nil {
		if err := s.index.Upsert(ctx, entry); err != nil {
			log.Warnw("[KnowledgeStore] 写入索引失败，条目已保存但暂时无法被检索", "title", title, "error", err)
		}
	}
	log.Infof("[KnowledgeStore] 写入知识条目 '%s', 维度: %d", title, len(vector))
	return nil
}

func (s *Store) saveLocked(ctx context.Context) error {
	data, err := encode(s.titles, s.entries)
	if err != nil {
		return apperrors.Persistence("encode knowledge store", err)
	}
	if err := s.backend.Save(ctx, data); err != nil {
		return apperrors.Persistence("save knowledge store", err)
	}
	return nil
}

// Query 返回与 text 最相似的至多 topK 条、且相似度严格大于 minSimilarity 的知识。
// 没有满足条件的条目时返回空切片而不是错误。
func (s *Store) Query(ctx context.Context, text string, topK int, minSimilarity float64) ([]Result, error) {
	vector, err := s.embedder.CreateEmbedding(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed knowledge query: %w", err)
	}

	var candidates []Result
	if s.index != nil {
		candidates, err = s.index.Nearest(ctx, vector, topK)
		if err != nil {
			return nil, apperrors.Persistence("search knowledge index", err)
		}
		s.orderByInsertion(candidates)
	} else {
		candidates = s.scan(vector)
	}
	return Rank(candidates, topK, minSimilarity), nil
}

// scan 按插入顺序计算每条知识与 vector 的相似度。
func (s *Store) scan(vector []float32) []Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make([]Result, 0, len(s.titles))
	for _, title := range s.titles {
		e := s.entries[title]
		results = append(results, Result{
			Title:      e.Title,
			Content:    e.Content,
			Similarity: CosineSimilarity(vector, e.Embedding),
		})
	}
	return results
}

// orderByInsertion 按相似度降序、同分按插入顺序排列索引返回的候选，
// 与线性扫描的结果顺序一致。索引中已不存在于 Store 的标题排在同分条目之后。
func (s *Store) orderByInsertion(candidates []Result) {
	s.mu.RLock()
	pos := make(map[string]int, len(s.titles))
	for i, title := range s.titles {
		pos[title] = i
	}
	s.mu.RUnlock()

	position := func(title string) int {
		if p, ok := pos[title]; ok {
			return p
		}
		return len(pos)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return position(candidates[i].Title) < position(candidates[j].Title)
	})
}

// Len 返回条目数。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.titles)
}

// Has 判断是否存在该标题的条目。
func (s *Store) Has(title string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[title]
	return ok
}

// Entries 按插入顺序返回所有条目的快照。
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.titles))
	for _, title := range s.titles {
		out = append(out, s.entries[title])
	}
	return out
}

// Reindex 把所有条目重新写入 ANN 索引。未配置索引时什么也不做。
func (s *Store) Reindex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, nil
	}
	entries := s.Entries()
	for i, e := range entries {
		if err := s.index.Upsert(ctx, e); err != nil {
			return i, apperrors.Persistence("reindex knowledge entry", err)
		}
	}
	log.Infof("[KnowledgeStore] 已重建索引, 共 %d 条", len(entries))
	return len(entries), nil
}
