package blocks

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const (
	defaultWikipediaBaseURL = "https://en.wikipedia.org/api/rest_v1"
	defaultSearchBaseURL    = "https://s.jina.ai"
	defaultReaderBaseURL    = "https://r.jina.ai"
	defaultGroundingBaseURL = "https://g.jina.ai"
)

// WikipediaSummaryBlock 从 Wikipedia 获取指定主题的摘要。
type WikipediaSummaryBlock struct {
	BaseURL string
	HTTP    *HTTPClient
}

// Fetch 返回主题摘要。
func (b *WikipediaSummaryBlock) Fetch(ctx context.Context, topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", fmt.Errorf("主题不能为空")
	}
	base := b.BaseURL
	if base == "" {
		base = defaultWikipediaBaseURL
	}

	var decoded struct {
		Extract string `json:"extract"`
	}
	endpoint := fmt.Sprintf("%s/page/summary/%s", strings.TrimRight(base, "/"), url.PathEscape(topic))
	if err := b.HTTP.GetJSON(ctx, endpoint, nil, &decoded); err != nil {
		return "", fmt.Errorf("查询 Wikipedia 失败: %w", err)
	}
	if decoded.Extract == "" {
		return "", fmt.Errorf("Wikipedia 响应中没有摘要字段")
	}
	return decoded.Extract, nil
}

// WebSearchBlock 通过搜索服务检索互联网内容。
type WebSearchBlock struct {
	BaseURL string
	HTTP    *HTTPClient
}

// Search 返回查询的搜索结果文本（包含头部命中页面的内容）。
func (b *WebSearchBlock) Search(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("查询不能为空")
	}
	base := b.BaseURL
	if base == "" {
		base = defaultSearchBaseURL
	}

	endpoint := fmt.Sprintf("%s/%s", strings.TrimRight(base, "/"), url.QueryEscape(query))
	results, err := b.HTTP.GetText(ctx, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("搜索失败: %w", err)
	}
	return results, nil
}

// ExtractContentBlock 抓取指定网页的内容。默认经由阅读服务转为
// 适合模型消化的文本，raw 模式下直接抓取原始页面。
type ExtractContentBlock struct {
	BaseURL string
	HTTP    *HTTPClient
}

// Extract 返回网页内容。
func (b *ExtractContentBlock) Extract(ctx context.Context, pageURL string, raw bool) (string, error) {
	pageURL = strings.TrimSpace(pageURL)
	if pageURL == "" {
		return "", fmt.Errorf("URL 不能为空")
	}

	endpoint := pageURL
	if !raw {
		base := b.BaseURL
		if base == "" {
			base = defaultReaderBaseURL
		}
		endpoint = fmt.Sprintf("%s/%s", strings.TrimRight(base, "/"), pageURL)
	}

	content, err := b.HTTP.GetText(ctx, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("抓取网页失败: %w", err)
	}
	return content, nil
}

// FactCheckResult 是事实核查的结构化结论。
type FactCheckResult struct {
	Factuality float64 `json:"factuality"`
	Result     bool    `json:"result"`
	Reason     string  `json:"reason"`
}

// FactCheckBlock 通过 Grounding API 核查陈述的真实性。
type FactCheckBlock struct {
	BaseURL string
	APIKey  string
	HTTP    *HTTPClient
}

// Check 返回对陈述的核查结论。
func (b *FactCheckBlock) Check(ctx context.Context, statement string) (*FactCheckResult, error) {
	statement = strings.TrimSpace(statement)
	if statement == "" {
		return nil, fmt.Errorf("陈述不能为空")
	}
	if strings.TrimSpace(b.APIKey) == "" {
		return nil, fmt.Errorf("未配置 Grounding API Key")
	}
	base := b.BaseURL
	if base == "" {
		base = defaultGroundingBaseURL
	}

	var decoded struct {
		Data *FactCheckResult `json:"data"`
	}
	endpoint := fmt.Sprintf("%s/%s", strings.TrimRight(base, "/"), url.QueryEscape(statement))
	headers := map[string]string{
		"Accept":        "application/json",
		"Authorization": "Bearer " + b.APIKey,
	}
	if err := b.HTTP.GetJSON(ctx, endpoint, headers, &decoded); err != nil {
		return nil, fmt.Errorf("事实核查失败: %w", err)
	}
	if decoded.Data == nil {
		return nil, fmt.Errorf("核查响应中没有 data 字段")
	}
	return decoded.Data, nil
}
