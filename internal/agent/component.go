package agent

import (
	"context"

	"OpenAgent-Loop/internal/llm"
)

// Component 是智能体的可插拔功能单元。组件在构造 Agent 时一次性注入，
// 生命周期与 Agent 绑定；列表顺序决定钩子调用顺序以及命令别名的
// 解析优先级（列表越靠后优先级越高）。
//
// 组件通过实现下面的能力接口参与行动循环，未实现的能力视为无贡献。
type Component interface {
	// Name 返回组件名称，用于日志与错误定位。
	Name() string
}

// ConstraintProvider 为每个循环贡献约束条目。
type ConstraintProvider interface {
	Constraints(ctx context.Context) ([]string, error)
}

// ResourceProvider 为每个循环贡献可用资源条目。
type ResourceProvider interface {
	Resources(ctx context.Context) ([]string, error)
}

// BestPracticeProvider 为每个循环贡献最佳实践条目。
type BestPracticeProvider interface {
	BestPractices(ctx context.Context) ([]string, error)
}

// CommandProvider 为当前循环贡献可执行命令。命令不做持久注册，
// 每个循环都会重新向所有组件收集一次。
type CommandProvider interface {
	Commands(ctx context.Context) ([]Command, error)
}

// MessageProvider 为当前循环贡献对话上下文消息。
type MessageProvider interface {
	Messages(ctx context.Context) ([]llm.ChatMessage, error)
}

// ProposalObserver 在模型输出解析成功后收到行动提议。
type ProposalObserver interface {
	AfterParsing(ctx context.Context, proposal *llm.Proposal) error
}

// ResultObserver 在每次执行结束后收到最终结果，无论成功、失败
// 还是被人工打断。历史与审计类组件依赖该钩子观察所有结局。
type ResultObserver interface {
	AfterExecution(ctx context.Context, result *ActionResult) error
}

// FailureObserver 在命令处理器抛出非领域错误时收到原始错误，
// 用于旁路清理或记录，随后错误仍会被包装为命令执行失败。
type FailureObserver interface {
	ExecutionFailure(ctx context.Context, cause error) error
}
