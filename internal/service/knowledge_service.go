package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"ctxbot-go/internal/apperrors"
	"ctxbot-go/internal/knowledge"
	"ctxbot-go/pkg/log"
	"ctxbot-go/pkg/tasks"
)

// ErrDocumentStorageUnavailable 表示未配置对象存储，无法接收上传的文档。
var ErrDocumentStorageUnavailable = errors.New("document storage is not configured")

// KnowledgeStore 是 knowledge.Store 暴露给服务层的部分。
type KnowledgeStore interface {
	AddEntry(ctx context.Context, title, content string) error
	Query(ctx context.Context, text string, topK int, minSimilarity float64) ([]knowledge.Result, error)
	Len() int
}

// DocumentStore 保存上传的原始文档，由 storage.ObjectStore 实现。
type DocumentStore interface {
	Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error
}

// TaskProcessor 同步执行一个入库任务，由 pipeline.Processor 实现。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IngestTask) error
}

// EnqueueFunc 把入库任务投递到队列，例如 kafka.ProduceIngestTask。
type EnqueueFunc func(ctx context.Context, task tasks.IngestTask) error

// IngestResult 描述一次入库请求的结果。Queued 为 false 时任务已同步完成。
type IngestResult struct {
	JobID      string `json:"jobId"`
	Queued     bool   `json:"queued"`
	ObjectName string `json:"objectName,omitempty"`
}

// KnowledgeService 定义了管理接口使用的知识库操作。
type KnowledgeService interface {
	AddEntry(ctx context.Context, title, content string) error
	// SubmitEntry 在队列可用时异步写入，否则同步写入。
	SubmitEntry(ctx context.Context, title, content string) (*IngestResult, error)
	UploadDocument(ctx context.Context, fileName string, r io.Reader, size int64, contentType, prefix string) (*IngestResult, error)
	Search(ctx context.Context, query string, topK int, minSimilarity float64) ([]knowledge.Result, error)
	Count() int
}

type knowledgeService struct {
	store     KnowledgeStore
	documents DocumentStore
	processor TaskProcessor
	enqueue   EnqueueFunc
}

// NewKnowledgeService 创建一个新的 KnowledgeService 实例。
// enqueue 为 nil 时所有任务由 processor 同步处理；documents 为 nil 时不接受文档上传。
func NewKnowledgeService(store KnowledgeStore, documents DocumentStore, processor TaskProcessor, enqueue EnqueueFunc) KnowledgeService {
	return &knowledgeService{
		store:     store,
		documents: documents,
		processor: processor,
		enqueue:   enqueue,
	}
}

func (s *knowledgeService) AddEntry(ctx context.Context, title, content string) error {
	return s.store.AddEntry(ctx, title, content)
}

func (s *knowledgeService) SubmitEntry(ctx context.Context, title, content string) (*IngestResult, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("knowledge title is empty: %w", apperrors.ErrMalformedInput)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("knowledge content is empty: %w", apperrors.ErrMalformedInput)
	}
	task := tasks.IngestTask{JobID: tasks.NewJobID(), Title: title, Content: content}
	return s.dispatch(ctx, task)
}

func (s *knowledgeService) UploadDocument(ctx context.Context, fileName string, r io.Reader, size int64, contentType, prefix string) (*IngestResult, error) {
	if s.documents == nil {
		return nil, ErrDocumentStorageUnavailable
	}
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return nil, fmt.Errorf("document file name is empty: %w", apperrors.ErrMalformedInput)
	}

	jobID := tasks.NewJobID()
	objectName := fmt.Sprintf("uploads/%s/%s", jobID, base)
	if err := s.documents.Put(ctx, objectName, r, size, contentType); err != nil {
		return nil, apperrors.Persistence("store document", err)
	}
	log.Infof("[KnowledgeService] 文档已保存, JobID: %s, Object: %s", jobID, objectName)

	result, err := s.dispatch(ctx, tasks.IngestTask{
		JobID:      jobID,
		ObjectName: objectName,
		FileName:   base,
		Prefix:     prefix,
	})
	if result != nil {
		result.ObjectName = objectName
	}
	return result, err
}

func (s *knowledgeService) dispatch(ctx context.Context, task tasks.IngestTask) (*IngestResult, error) {
	if s.enqueue != nil {
		if err := s.enqueue(ctx, task); err != nil {
			return nil, fmt.Errorf("enqueue ingest task %s: %w", task.JobID, err)
		}
		log.Infof("[KnowledgeService] 入库任务已投递, JobID: %s", task.JobID)
		return &IngestResult{JobID: task.JobID, Queued: true}, nil
	}
	if err := s.processor.Process(ctx, task); err != nil {
		return nil, err
	}
	return &IngestResult{JobID: task.JobID}, nil
}

func (s *knowledgeService) Search(ctx context.Context, query string, topK int, minSimilarity float64) ([]knowledge.Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is empty: %w", apperrors.ErrMalformedInput)
	}
	return s.store.Query(ctx, query, topK, minSimilarity)
}

func (s *knowledgeService) Count() int {
	return s.store.Len()
}
