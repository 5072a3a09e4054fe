// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "github.com/google/uuid"

// IngestTask 是一次知识入库任务。三种形式互斥，按优先级：
// Content 非空时直接写入 Title/Content；否则 ObjectName 指向 MinIO 中的文档；
// 否则 FilePath 指向本地文档。后两种会被抽取文本并切块，标题带 Prefix。
type IngestTask struct {
	JobID      string `json:"job_id"`
	Title      string `json:"title,omitempty"`
	Content    string `json:"content,omitempty"`
	ObjectName string `json:"object_name,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
	Prefix     string `json:"prefix,omitempty"`
}

// NewJobID 生成一个新的任务 ID。
func NewJobID() string {
	return uuid.NewString()
}
