package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"OpenAgent-Loop/internal/llm"
)

// responseShape 对应 system 提示里声明的 JSON 结构。
type responseShape struct {
	Thoughts llm.Thoughts `json:"thoughts"`
	Command  struct {
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	} `json:"command"`
}

// ParseResponse 把模型原始输出解析为行动提议。模型通过 function
// calling 给出命令时优先使用；否则解析 content 中的 JSON。命令名
// 缺失视为解析失败。
func (s *OneShot) ParseResponse(raw *llm.RawResponse) (*llm.Proposal, error) {
	if raw == nil {
		return nil, fmt.Errorf("模型输出为空")
	}

	proposal := &llm.Proposal{}

	// content 中的 thoughts 即便在 function calling 模式下也会解析，
	// 失败时不视为致命。
	if content := stripFences(raw.Content); content != "" {
		var shape responseShape
		if err := json.Unmarshal([]byte(content), &shape); err == nil {
			proposal.Thoughts = shape.Thoughts
			proposal.CommandName = shape.Command.Name
			proposal.CommandArgs = shape.Command.Args
		} else if raw.FunctionCall == nil {
			return nil, fmt.Errorf("模型输出不是合法的 JSON: %w", err)
		}
	}

	if raw.FunctionCall != nil {
		proposal.CommandName = raw.FunctionCall.Name
		proposal.CommandArgs = raw.FunctionCall.Arguments
	}

	if strings.TrimSpace(proposal.CommandName) == "" {
		return nil, fmt.Errorf("模型输出缺少命令名")
	}
	if proposal.CommandArgs == nil {
		proposal.CommandArgs = map[string]any{}
	}
	return proposal, nil
}

// stripFences 去掉模型偶尔包裹在 JSON 外层的 Markdown 代码栅栏。
func stripFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}
