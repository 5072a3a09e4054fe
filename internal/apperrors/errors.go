// Package apperrors 定义了核心组件对外暴露的错误类型。
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedInput 表示输入不合法（例如空文本），在发起任何网络调用前即被拒绝。
	ErrMalformedInput = errors.New("malformed input")
	// ErrEmbeddingUnavailable 可用于 errors.Is 判断向量服务在重试耗尽后仍不可用。
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrPersistence 可用于 errors.Is 判断存储层失败。
	ErrPersistence = errors.New("persistence error")
)

// EmbeddingUnavailableError 汇总了每一次尝试的失败原因。
type EmbeddingUnavailableError struct {
	Attempts []string
}

func (e *EmbeddingUnavailableError) Error() string {
	return fmt.Sprintf("failed to generate embedding after %d attempts: %s", len(e.Attempts), strings.Join(e.Attempts, "; "))
}

func (e *EmbeddingUnavailableError) Is(target error) bool {
	return target == ErrEmbeddingUnavailable
}

// PersistenceError 包装了消息库或知识库的存储层错误（约束冲突、连接、磁盘等）。
type PersistenceError struct {
	Op  string
	Err error
}

// Persistence 用操作名包装 err；err 为 nil 时返回 nil。
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
