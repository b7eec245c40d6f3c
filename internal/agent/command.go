package agent

import (
	"context"
	"strings"

	"OpenAgent-Loop/internal/llm"
)

// HumanFeedbackCommand 是一个保留命令名：执行时不经过命令注册表，
// 直接将用户输入转化为"被人工打断"的结果。
const HumanFeedbackCommand = "human_feedback"

// Handler 是命令的执行体。实现可能阻塞在网络或子进程上，必须尊重
// 传入的 context；一次执行内不会并发调用多个命令。
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Command 描述一个由组件贡献的可调用命令。一个命令可以有多个别名，
// 首个名字视为主名。
type Command struct {
	Names       []string
	Description string
	Parameters  []llm.ParameterSpec
	Handler     Handler
}

// Name 返回命令的主名。
func (c Command) Name() string {
	if len(c.Names) == 0 {
		return ""
	}
	return c.Names[0]
}

// HasName 判断命令是否以 name 为别名。
func (c Command) HasName(name string) bool {
	for _, candidate := range c.Names {
		if candidate == name {
			return true
		}
	}
	return false
}

// Spec 将命令转换为暴露给大模型的函数规格。
func (c Command) Spec() llm.FunctionSpec {
	return llm.FunctionSpec{
		Name:        c.Name(),
		Description: c.Description,
		Parameters:  c.Parameters,
	}
}

// StringArg 从参数表中读取字符串参数，缺失或类型不符时返回空串。
func StringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	value, ok := args[key]
	if !ok {
		return ""
	}
	text, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(text)
}

// BoolArg 从参数表中读取布尔参数，缺失或类型不符时返回默认值。
func BoolArg(args map[string]any, key string, fallback bool) bool {
	if args == nil {
		return fallback
	}
	value, ok := args[key]
	if !ok {
		return fallback
	}
	parsed, ok := value.(bool)
	if !ok {
		return fallback
	}
	return parsed
}
