// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"ctxbot-go/internal/apperrors"
	"ctxbot-go/internal/service"

	"github.com/gin-gonic/gin"
)

// respond 以统一的 {code, message, data} 结构返回。
func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{
		"code":    status,
		"message": message,
		"data":    data,
	})
}

// respondError 把服务层错误映射为 HTTP 状态码。
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	respond(c, status, err.Error(), nil)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrMalformedInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrEmbeddingUnavailable),
		errors.Is(err, service.ErrKnowledgeUnavailable),
		errors.Is(err, service.ErrDocumentStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		// 包括 apperrors.ErrPersistence
		return http.StatusInternalServerError
	}
}
