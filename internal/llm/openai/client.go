package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"OpenAgent-Loop/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Client 通过 HTTP 调用 OpenAI 提供的大模型能力。
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = 0.2
	}

	return &Client{
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       model,
		temperature: temperature,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// CreateChatCompletion 调用 OpenAI 获取一次对话补全。
func (c *Client) CreateChatCompletion(ctx context.Context, req llm.Request) (*llm.RawResponse, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("OpenAI 响应中没有有效的 choices")
	}

	message := decoded.Choices[0].Message
	raw := &llm.RawResponse{Content: strings.TrimSpace(message.Content)}

	// 若模型通过 function calling 给出命令，解析第一条调用。
	if len(message.ToolCalls) > 0 {
		call := message.ToolCalls[0].Function
		args := map[string]any{}
		if trimmed := strings.TrimSpace(call.Arguments); trimmed != "" {
			if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
				return nil, fmt.Errorf("解析模型函数参数失败: %w", err)
			}
		}
		raw.FunctionCall = &llm.FunctionCall{Name: call.Name, Arguments: args}
	}

	if raw.Content == "" && raw.FunctionCall == nil {
		return nil, errors.New("OpenAI 响应内容为空")
	}
	return raw, nil
}

// CountTokens 返回文本的 token 估算值。
func (c *Client) CountTokens(text string) int {
	return llm.EstimateTokens(text)
}

func (c *Client) buildPayload(req llm.Request) ([]byte, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	messages := make([]message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, message{Role: string(msg.Role), Content: msg.Content})
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	body := map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": c.temperature,
	}
	if len(req.Functions) > 0 {
		body["tools"] = buildTools(req.Functions)
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}
	return encoded, nil
}

// buildTools 将命令规格转换为 OpenAI tools 字段要求的 JSON Schema 形态。
func buildTools(specs []llm.FunctionSpec) []map[string]any {
	tools := make([]map[string]any, 0, len(specs))
	for _, spec := range specs {
		properties := make(map[string]any, len(spec.Parameters))
		required := make([]string, 0, len(spec.Parameters))
		for _, param := range spec.Parameters {
			prop := map[string]any{"type": param.Type}
			if param.Description != "" {
				prop["description"] = param.Description
			}
			properties[param.Name] = prop
			if param.Required {
				required = append(required, param.Name)
			}
		}
		function := map[string]any{
			"name": spec.Name,
			"parameters": map[string]any{
				"type":       "object",
				"properties": properties,
				"required":   required,
			},
		}
		if spec.Description != "" {
			function["description"] = spec.Description
		}
		tools = append(tools, map[string]any{
			"type":     "function",
			"function": function,
		})
	}
	return tools
}
