package knowledge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
)

// Backend 持久化整个知识库的序列化内容。每次修改都会整体重写，不是增量的；
// 写入过程中进程崩溃可能留下截断的文件。
type Backend interface {
	// Load 返回已保存的内容；尚未保存过时返回 nil, nil。
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// FileBackend 把知识库保存为本地单个 JSON 文件。
type FileBackend struct {
	Path string
}

// NewFileBackend 创建一个基于本地文件的 Backend。
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{Path: path}
}

func (b *FileBackend) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func (b *FileBackend) Save(_ context.Context, data []byte) error {
	if dir := filepath.Dir(b.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(b.Path, data, 0o644)
}

// MinIOBackend 把知识库保存为对象存储中的单个对象，供多实例共享。
type MinIOBackend struct {
	client     *minio.Client
	bucketName string
	objectName string
}

// NewMinIOBackend 创建一个基于 MinIO 的 Backend。
func NewMinIOBackend(client *minio.Client, bucketName, objectName string) *MinIOBackend {
	return &MinIOBackend{client: client, bucketName: bucketName, objectName: objectName}
}

func (b *MinIOBackend) Load(ctx context.Context) ([]byte, error) {
	object, err := b.client.GetObject(ctx, b.bucketName, b.objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("从 MinIO 读取知识库失败: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, fmt.Errorf("从 MinIO 读取知识库失败: %w", err)
	}
	return data, nil
}

func (b *MinIOBackend) Save(ctx context.Context, data []byte) error {
	_, err := b.client.PutObject(ctx, b.bucketName, b.objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("写入 MinIO 知识库失败: %w", err)
	}
	return nil
}
