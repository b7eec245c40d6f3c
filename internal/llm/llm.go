package llm

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Role 表示对话消息的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage 表示一条发送给大模型的对话消息。
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemMessage 构造一条 system 角色的消息。
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

// UserMessage 构造一条 user 角色的消息。
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// AssistantMessage 构造一条 assistant 角色的消息。
func AssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}

// ParameterSpec 描述命令参数的名称、类型与约束。
type ParameterSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// FunctionSpec 描述暴露给大模型的可调用命令（function calling 规格）。
type FunctionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  []ParameterSpec `json:"parameters,omitempty"`
}

// Request 描述一次对话补全请求。
type Request struct {
	Messages  []ChatMessage
	Model     string
	Functions []FunctionSpec
}

// FunctionCall 表示大模型选择调用的函数及其参数。
type FunctionCall struct {
	Name      string
	Arguments map[string]any
}

// RawResponse 是大模型返回的未解析输出，由提示策略进一步解析。
type RawResponse struct {
	Content      string
	FunctionCall *FunctionCall
}

// Thoughts 汇总大模型生成提议时的思考过程。
type Thoughts struct {
	Text          string `json:"text"`
	Reasoning     string `json:"reasoning,omitempty"`
	Plan          string `json:"plan,omitempty"`
	SelfCriticism string `json:"self_criticism,omitempty"`
	Speak         string `json:"speak,omitempty"`
}

// Proposal 是一次行动提议：思考过程加上要执行的命令与参数。
// 解析成功的提议始终包含命令名，不会退化为裸字符串。
type Proposal struct {
	Thoughts    Thoughts       `json:"thoughts"`
	CommandName string         `json:"command_name"`
	CommandArgs map[string]any `json:"command_args,omitempty"`
}

// Client 定义了调用大模型的统一接口。实现可能阻塞在网络调用上，
// 必须尊重传入的 context。
type Client interface {
	CreateChatCompletion(ctx context.Context, req Request) (*RawResponse, error)
	CountTokens(text string) int
}

// EstimateTokens 对文本的 token 数做保守估算，供未接入精确分词器的
// 提供方实现 CountTokens 使用。按经验值每四个字符约一个 token，
// 再与词数取较大者，避免低估。
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	byChars := (utf8.RuneCountInString(text) + 3) / 4
	byWords := len(strings.Fields(text))
	if byWords > byChars {
		return byWords
	}
	return byChars
}
