package components

import (
	"context"
	"fmt"

	"OpenAgent-Loop/internal/agent"
	"OpenAgent-Loop/internal/llm"
)

// AskUserCommand 是向用户提问的命令名。
const AskUserCommand = "ask_user"

// AskFunc 向用户提出问题并返回回答。
type AskFunc func(ctx context.Context, question string) (string, error)

// UserInteractionComponent 在交互模式下提供 ask_user 命令。
// 非交互运行时不要注册该组件。
type UserInteractionComponent struct {
	ask AskFunc
}

// NewUserInteractionComponent 创建用户交互组件。
func NewUserInteractionComponent(ask AskFunc) *UserInteractionComponent {
	return &UserInteractionComponent{ask: ask}
}

func (c *UserInteractionComponent) Name() string { return "user_interaction" }

// Commands 返回 ask_user 命令。
func (c *UserInteractionComponent) Commands(context.Context) ([]agent.Command, error) {
	return []agent.Command{
		{
			Names:       []string{AskUserCommand},
			Description: "If you need more details or information regarding the given goals, you can ask the user for input.",
			Parameters: []llm.ParameterSpec{
				{Name: "question", Type: "string", Description: "The question or prompt to the user", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				question := agent.StringArg(args, "question")
				if question == "" {
					return nil, fmt.Errorf("question 参数不能为空")
				}
				if c.ask == nil {
					return nil, fmt.Errorf("当前运行不支持用户交互")
				}
				answer, err := c.ask(ctx, question)
				if err != nil {
					return nil, fmt.Errorf("获取用户回答失败: %w", err)
				}
				return fmt.Sprintf("The user's answer: '%s'", answer), nil
			},
		},
	}, nil
}

var (
	_ agent.Component       = (*UserInteractionComponent)(nil)
	_ agent.CommandProvider = (*UserInteractionComponent)(nil)
)
