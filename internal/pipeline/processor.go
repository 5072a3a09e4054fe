// Package pipeline 定义了知识入库的核心流程。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"ctxbot-go/pkg/log"
	"ctxbot-go/pkg/tasks"
)

// ChunkWords 是每个文档分块包含的单词数。
const ChunkWords = 200

// KnowledgeWriter 是写入知识库的能力，由 knowledge.Store 实现。
type KnowledgeWriter interface {
	AddEntry(ctx context.Context, title, content string) error
}

// TextExtractor 从文档中抽取纯文本，由 tika.Client 实现。
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// ObjectFetcher 读取对象存储中的文档，由 storage.ObjectStore 实现。
type ObjectFetcher interface {
	Get(ctx context.Context, objectName string) (io.ReadCloser, error)
}

// Processor 封装了入库处理的所有依赖和逻辑。
type Processor struct {
	store     KnowledgeWriter
	extractor TextExtractor
	objects   ObjectFetcher
}

// NewProcessor 创建一个新的 Processor 实例。extractor 与 objects 可以为 nil，
// 此时对应类型的任务会失败。
func NewProcessor(store KnowledgeWriter, extractor TextExtractor, objects ObjectFetcher) *Processor {
	return &Processor{store: store, extractor: extractor, objects: objects}
}

// Process 是入库处理的主函数。
func (p *Processor) Process(ctx context.Context, task tasks.IngestTask) error {
	switch {
	case task.Content != "":
		log.Infof("[Processor] 直接写入知识, JobID: %s, Title: %s", task.JobID, task.Title)
		return p.store.AddEntry(ctx, task.Title, task.Content)

	case task.ObjectName != "":
		if p.objects == nil {
			return errors.New("对象存储未配置")
		}
		log.Infof("[Processor] 步骤1: 从MinIO下载文件, JobID: %s, Object: %s", task.JobID, task.ObjectName)
		object, err := p.objects.Get(ctx, task.ObjectName)
		if err != nil {
			return err
		}
		defer object.Close()
		fileName := task.FileName
		if fileName == "" {
			fileName = filepath.Base(task.ObjectName)
		}
		_, err = p.ingestDocument(ctx, object, fileName, task.Prefix)
		return err

	case task.FilePath != "":
		log.Infof("[Processor] 步骤1: 读取本地文件, JobID: %s, Path: %s", task.JobID, task.FilePath)
		f, err := os.Open(task.FilePath)
		if err != nil {
			return fmt.Errorf("打开文件失败: %w", err)
		}
		defer f.Close()
		_, err = p.ingestDocument(ctx, f, filepath.Base(task.FilePath), task.Prefix)
		return err
	}
	return errors.New("入库任务缺少内容")
}

// IngestFile 处理本地文件并返回写入的分块数，供 CLI 使用。
func (p *Processor) IngestFile(ctx context.Context, path, prefix string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("打开文件失败: %w", err)
	}
	defer f.Close()
	return p.ingestDocument(ctx, f, filepath.Base(path), prefix)
}

func (p *Processor) ingestDocument(ctx context.Context, r io.Reader, fileName, prefix string) (int, error) {
	if p.extractor == nil {
		return 0, errors.New("文本抽取服务未配置")
	}

	// 先读入内存，便于检查空文件
	buf := new(bytes.Buffer)
	size, err := buf.ReadFrom(r)
	if err != nil {
		return 0, fmt.Errorf("读取文件失败: %w", err)
	}
	if size == 0 {
		log.Warnf("[Processor] 文件 '%s' 内容为空, 处理中止", fileName)
		return 0, errors.New("文件内容为空")
	}

	log.Info("[Processor] 步骤2: 使用Tika提取文本内容")
	text, err := p.extractor.ExtractText(ctx, bytes.NewReader(buf.Bytes()), fileName)
	if err != nil {
		return 0, fmt.Errorf("使用 Tika 提取文本失败: %w", err)
	}
	log.Infof("[Processor] 步骤2: 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(text))

	chunks := SplitWords(text, ChunkWords)
	if len(chunks) == 0 {
		return 0, errors.New("提取的文本内容为空")
	}
	log.Infof("[Processor] 步骤3: 文本分块完成, 共生成 %d 个分块", len(chunks))

	for i, chunk := range chunks {
		title := ChunkTitle(prefix, i+1)
		if err := p.store.AddEntry(ctx, title, chunk); err != nil {
			return i, fmt.Errorf("写入分块 %d 失败: %w", i+1, err)
		}
	}
	log.Infof("[Processor] 文件 '%s' 处理成功", fileName)
	return len(chunks), nil
}

// SplitWords 按空白切词，每 size 个词用单个空格拼成一个分块。
func SplitWords(text string, size int) []string {
	words := strings.Fields(text)
	if len(words) == 0 || size <= 0 {
		return nil
	}
	chunks := make([]string, 0, (len(words)+size-1)/size)
	for i := 0; i < len(words); i += size {
		end := min(i+size, len(words))
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}
	return chunks
}

// ChunkTitle 返回第 n 个分块的标题，形如 "Chunk 3" 或 "<prefix> Chunk 3"。
func ChunkTitle(prefix string, n int) string {
	if prefix = strings.TrimSpace(prefix); prefix != "" {
		return fmt.Sprintf("%s Chunk %d", prefix, n)
	}
	return fmt.Sprintf("Chunk %d", n)
}
