package blocks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const defaultTwitterBaseURL = "https://api.twitter.com/2"

// maxTweetLength 是发推正文的截断长度。
const maxTweetLength = 255

// TweetBlock 通过 Twitter v2 API 发布推文。
type TweetBlock struct {
	BaseURL     string
	AccessToken string
	HTTP        *HTTPClient
}

// Post 发布一条推文并返回其 ID。正文超长时按上限截断。
func (b *TweetBlock) Post(ctx context.Context, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("推文内容不能为空")
	}
	if strings.TrimSpace(b.AccessToken) == "" {
		return "", fmt.Errorf("未配置 Twitter Access Token")
	}
	base := b.BaseURL
	if base == "" {
		base = defaultTwitterBaseURL
	}
	if runes := []rune(content); len(runes) > maxTweetLength {
		content = string(runes[:maxTweetLength])
	}

	headers := map[string]string{
		"Authorization": "Bearer " + b.AccessToken,
	}
	status, body, err := b.HTTP.PostJSON(ctx, strings.TrimRight(base, "/")+"/tweets", headers, map[string]any{
		"text": content,
	})
	if err != nil {
		return "", fmt.Errorf("发布推文失败: %w", err)
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("发布推文失败，状态码 %d: %s", status, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("解析推文响应失败: %w", err)
	}
	if decoded.Data.ID == "" {
		return "", fmt.Errorf("推文响应中没有 ID")
	}
	return decoded.Data.ID, nil
}
