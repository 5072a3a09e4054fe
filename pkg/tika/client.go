// Package tika 封装 go-tika，提供文本抽取和健康检查。
package tika

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ctxbot-go/internal/config"

	gotika "github.com/google/go-tika/tika"
)

const extractTimeout = 2 * time.Minute

// Client 是 Tika 服务器的客户端。
type Client struct {
	tika *gotika.Client
}

// NewClient 创建一个新的 Tika 客户端实例。
func NewClient(cfg config.TikaConfig) *Client {
	httpClient := &http.Client{
		Timeout:   extractTimeout,
		Transport: plainTextTransport{base: http.DefaultTransport},
	}
	return &Client{tika: gotika.NewClient(httpClient, strings.TrimRight(cfg.ServerURL, "/"))}
}

// ExtractText 调用 PUT /tika 提取纯文本，文件类型由 Tika 自动识别。
func (c *Client) ExtractText(ctx context.Context, fileReader io.Reader, fileName string) (string, error) {
	text, err := c.tika.Parse(ctx, fileReader)
	if err != nil {
		return "", fmt.Errorf("Tika 解析 %s 失败: %w", fileName, err)
	}
	return text, nil
}

// Ping 调用 GET /version 检查服务器是否可用，用于健康检查。
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.tika.Version(ctx); err != nil {
		return fmt.Errorf("Tika 不可用: %w", err)
	}
	return nil
}

// plainTextTransport 在请求没有指定 Accept 时要求 text/plain 响应。
type plainTextTransport struct {
	base http.RoundTripper
}

func (t plainTextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept") != "" {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Header.Set("Accept", "text/plain")
	return t.base.RoundTrip(r)
}
