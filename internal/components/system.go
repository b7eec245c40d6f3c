package components

import (
	"context"
	"fmt"

	"OpenAgent-Loop/internal/agent"
	xerrors "OpenAgent-Loop/internal/errors"
	"OpenAgent-Loop/internal/llm"
)

// FinishCommand 是宣告任务完成的命令名。
const FinishCommand = "finish"

// SystemComponent 提供基线行为约束与 finish 命令。它应当排在组件
// 列表首位，使后注册的组件可以覆盖其命令。
type SystemComponent struct {
	extraConstraints []string
}

// NewSystemComponent 创建系统组件。
func NewSystemComponent(extraConstraints ...string) *SystemComponent {
	return &SystemComponent{extraConstraints: extraConstraints}
}

func (c *SystemComponent) Name() string { return "system" }

// Constraints 返回基线约束。
func (c *SystemComponent) Constraints(context.Context) ([]string, error) {
	constraints := []string{
		"Exclusively use the commands listed below.",
		"If a command is unavailable, find an alternative or declare the task complete.",
		"Do not repeat a command with the same arguments after it failed.",
	}
	return append(constraints, c.extraConstraints...), nil
}

// BestPractices 返回基线最佳实践。
func (c *SystemComponent) BestPractices(context.Context) ([]string, error) {
	return []string{
		"Continuously review and analyze your actions to ensure you are performing to the best of your abilities.",
		"Constructively self-criticize your big-picture behavior constantly.",
		"Reflect on past decisions and strategies to refine your approach.",
		"Only make use of your information gathering abilities to find information that you don't yet have knowledge of.",
	}, nil
}

// Commands 返回 finish 命令。其处理器返回终止信号，执行阶段原样
// 上抛并结束整个运行。
func (c *SystemComponent) Commands(context.Context) ([]agent.Command, error) {
	return []agent.Command{
		{
			Names:       []string{FinishCommand},
			Description: "Use this to shut down once you have completed your task, or when there are insurmountable problems that make it impossible for you to finish your task.",
			Parameters: []llm.ParameterSpec{
				{Name: "reason", Type: "string", Description: "A summary to the user of how the goals were accomplished", Required: true},
			},
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				reason := agent.StringArg(args, "reason")
				if reason == "" {
					reason = "task complete"
				}
				return nil, agent.Terminated(reason)
			},
		},
	}, nil
}

var (
	_ agent.Component            = (*SystemComponent)(nil)
	_ agent.ConstraintProvider   = (*SystemComponent)(nil)
	_ agent.BestPracticeProvider = (*SystemComponent)(nil)
	_ agent.CommandProvider      = (*SystemComponent)(nil)
)

// TerminationReason 从终止信号中提取完成摘要。
func TerminationReason(err error) string {
	if err == nil {
		return ""
	}
	if structured, ok := xerrors.From(err); ok {
		return structured.Message()
	}
	return fmt.Sprintf("%v", err)
}
