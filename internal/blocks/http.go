package blocks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// defaultTimeout 是块发起外部 HTTP 调用的默认超时时间。
const defaultTimeout = 30 * time.Second

// Cache 抽象了幂等 GET 响应的旁路缓存。实现的读写失败都应自行
// 吞掉，缓存不可用时块直接穿透到源站。
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
}

// HTTPClient 是各块共享的 HTTP 辅助，封装 GET/POST 与可选缓存。
type HTTPClient struct {
	client   *http.Client
	cache    Cache
	cacheTTL time.Duration
}

// HTTPOption 定义可选的 HTTPClient 配置。
type HTTPOption func(*HTTPClient)

// WithTimeout 设置请求超时时间。
func WithTimeout(timeout time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		if timeout > 0 {
			c.client.Timeout = timeout
		}
	}
}

// WithCache 为幂等 GET 启用响应缓存。
func WithCache(cache Cache, ttl time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		if cache != nil && ttl > 0 {
			c.cache = cache
			c.cacheTTL = ttl
		}
	}
}

// NewHTTPClient 构造共享 HTTP 辅助。
func NewHTTPClient(opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		client: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// GetText 发起 GET 请求并返回响应正文文本。命中缓存时不发起请求。
func (c *HTTPClient) GetText(ctx context.Context, url string, headers map[string]string) (string, error) {
	if c.cache != nil {
		if cached, ok := c.cache.Get(ctx, url); ok {
			return cached, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("构建请求失败: %w", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("远端返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("读取响应失败: %w", err)
	}

	text := string(body)
	if c.cache != nil {
		c.cache.Set(ctx, url, text, c.cacheTTL)
	}
	return text, nil
}

// GetJSON 发起 GET 请求并把响应正文解析到 out。
func (c *HTTPClient) GetJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	body, err := c.GetText(ctx, url, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("解析响应 JSON 失败: %w", err)
	}
	return nil
}

// PostJSON 发起 JSON POST 请求，返回响应状态码与正文。
func (c *HTTPClient) PostJSON(ctx context.Context, url string, headers map[string]string, payload any) (int, []byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(encoded)))
	if err != nil {
		return 0, nil, fmt.Errorf("构建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("读取响应失败: %w", err)
	}
	return resp.StatusCode, body, nil
}
