// Package tika 提供了一个与 Apache Tika 服务器交互的客户端。
package tika

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vera-go/internal/config"
	"vera-go/pkg/log"
)

// maxPageBytes 限制 URL 抓取的页面大小。
const maxPageBytes = 32 << 20

// Client 是 Tika 服务器的客户端。
type Client struct {
	serverURL  string
	httpClient *http.Client
	fetcher    *http.Client
}

// NewClient 创建一个新的 Tika 客户端实例。urlTimeout 控制抓取网页的超时。
func NewClient(cfg config.TikaConfig, urlTimeout time.Duration) *Client {
	if urlTimeout <= 0 {
		urlTimeout = 30 * time.Second
	}
	return &Client{
		serverURL:  strings.TrimRight(cfg.ServerURL, "/"),
		httpClient: &http.Client{},
		fetcher:    &http.Client{Timeout: urlTimeout},
	}
}

// ExtractText 自动根据文件后缀推断 MIME 类型，并调用 Tika 提取文本。
func (c *Client) ExtractText(ctx context.Context, fileReader io.Reader, fileName string) (string, error) {
	return c.extract(ctx, fileReader, detectMimeType(fileName))
}

// ExtractFile 从本地文件提取文本。
func (c *Client) ExtractFile(ctx context.Context, path, fileName string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("打开文件失败: %w", err)
	}
	defer f.Close()
	if fileName == "" {
		fileName = filepath.Base(path)
	}
	return c.ExtractText(ctx, f, fileName)
}

// ExtractURL 抓取网页，再交给 Tika 按响应的 Content-Type 提取文本。
func (c *Client) ExtractURL(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("创建抓取请求失败: %w", err)
	}
	req.Header.Set("User-Agent", "vera-go/1.0")

	resp, err := c.fetcher.Do(req)
	if err != nil {
		return "", fmt.Errorf("抓取 URL 失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("抓取 URL 返回错误 [%d]", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	} else {
		contentType = "text/html"
	}
	log.Infof("[Tika] 已抓取 URL: %s, Content-Type: %s", rawURL, contentType)
	return c.extract(ctx, io.LimitReader(resp.Body, maxPageBytes), contentType)
}

func (c *Client) extract(ctx context.Context, body io.Reader, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.serverURL+"/tika", body)
	if err != nil {
		return "", fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("调用 Tika 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("Tika 返回错误 [%d]: %s", resp.StatusCode, string(body))
	}

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("读取 Tika 响应失败: %w", err)
	}
	return string(text), nil
}

// detectMimeType 根据文件扩展名判断 Content-Type
func detectMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		// fallback 默认
		return "application/octet-stream"
	}
	return mimeType
}
