package agent

import (
	"context"
	"fmt"
	"log/slog"

	xerrors "OpenAgent-Loop/internal/errors"
	"OpenAgent-Loop/internal/llm"
	"OpenAgent-Loop/pkg/logger"
)

// defaultMaxParseAttempts 是一次提议内调用并解析模型的最大尝试次数。
const defaultMaxParseAttempts = 3

// defaultSendTokenLimit 是默认的上下文预算（token 数）。
const defaultSendTokenLimit = 8192

// PromptInput 汇总构建提示所需的全部输入，对同样的输入提示策略
// 必须产出确定性的结果。
type PromptInput struct {
	Task          string
	Profile       string
	Directives    Directives
	Messages      []llm.ChatMessage
	Commands      []Command
	IncludeOSInfo bool
}

// PromptStrategy 定义提示的构建与模型输出的解析。实现必须是纯函数，
// 不做 I/O。
type PromptStrategy interface {
	BuildPrompt(input PromptInput) ([]llm.ChatMessage, error)
	ParseResponse(raw *llm.RawResponse) (*llm.Proposal, error)
}

// Settings 描述一个 Agent 的静态配置。
type Settings struct {
	// Task 是要完成的任务目标。
	Task string
	// Profile 描述智能体的角色设定。
	Profile string
	// Model 指定推理使用的模型名。
	Model string
	// Directives 是指令基线，每个循环在其深拷贝上叠加组件贡献。
	Directives Directives
	// MaxParseAttempts 限定一次提议内的最大尝试次数，解析失败会消耗尝试。
	MaxParseAttempts int
	// SendTokenLimit 是上下文预算；命令输出超过其三分之一会被替换
	// 为标准化的超限错误。
	SendTokenLimit int
	// UseFunctions 控制是否通过 function calling 向模型传递命令规格。
	UseFunctions bool
	// IncludeOSInfo 控制提示中是否包含运行环境信息。
	IncludeOSInfo bool
}

// Agent 协调组件、提示策略与大模型，是系统的业务核心。组件列表在
// 构造后不再变化，其顺序对钩子调用与命令优先级均有权威意义。
type Agent struct {
	settings   Settings
	llmClient  llm.Client
	strategy   PromptStrategy
	components []Component
	log        *slog.Logger

	// commands 是最近一次 ProposeAction 收集到的命令注册表，
	// Execute 基于它完成派发。
	commands *Registry
	// cycleCount 每完成一次行动提议恰好递增一次。
	cycleCount int
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithLogger 指定日志输出。
func WithLogger(log *slog.Logger) Option {
	return func(a *Agent) {
		if log != nil {
			a.log = log
		}
	}
}

// New 创建一个 Agent。组件列表的顺序即钩子调用顺序。
func New(settings Settings, llmClient llm.Client, strategy PromptStrategy, components []Component, opts ...Option) (*Agent, error) {
	if llmClient == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	if strategy == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置提示策略")
	}
	ag := &Agent{
		settings:   settings,
		llmClient:  llmClient,
		strategy:   strategy,
		components: components,
	}
	if ag.settings.MaxParseAttempts <= 0 {
		ag.settings.MaxParseAttempts = defaultMaxParseAttempts
	}
	if ag.settings.SendTokenLimit <= 0 {
		ag.settings.SendTokenLimit = defaultSendTokenLimit
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.log == nil {
		ag.log = logger.L()
	}
	return ag, nil
}

// CycleCount 返回已完成的行动提议次数。
func (a *Agent) CycleCount() int {
	return a.cycleCount
}

// Commands 返回最近一次循环收集到的命令列表。
func (a *Agent) Commands() []Command {
	return a.commands.Commands()
}

// FindObscuredCommands 返回当前循环中被完全遮蔽的命令，用于诊断。
func (a *Agent) FindObscuredCommands() []Command {
	return a.commands.Obscured()
}

// ProposeAction 完成一次行动提议：聚合指令与命令、构建提示、调用
// 大模型并解析结构化输出。解析失败会把失败信息作为额外上下文注入
// 后重试，重试预算耗尽后返回最后一次错误。
func (a *Agent) ProposeAction(ctx context.Context) (*llm.Proposal, error) {
	// 在基线的深拷贝上叠加各组件贡献的指令。
	constraints, err := a.collectConstraints(ctx)
	if err != nil {
		return nil, err
	}
	resources, err := a.collectResources(ctx)
	if err != nil {
		return nil, err
	}
	bestPractices, err := a.collectBestPractices(ctx)
	if err != nil {
		return nil, err
	}
	directives := a.settings.Directives.Extend(constraints, resources, bestPractices)

	// 每个循环重新收集命令，组件可以依据内部状态改变其贡献。
	registry, err := a.collectCommands(ctx)
	if err != nil {
		return nil, err
	}
	a.commands = registry

	messages, err := a.collectMessages(ctx)
	if err != nil {
		return nil, err
	}

	promptMessages, err := a.strategy.BuildPrompt(PromptInput{
		Task:          a.settings.Task,
		Profile:       a.settings.Profile,
		Directives:    directives,
		Messages:      messages,
		Commands:      registry.Commands(),
		IncludeOSInfo: a.settings.IncludeOSInfo,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "构建提示失败")
	}

	proposal, err := a.completeAndParse(ctx, promptMessages, registry)
	if err != nil {
		return nil, err
	}
	a.cycleCount++

	return proposal, nil
}

// completeAndParse 调用大模型并解析输出，构成解析失败的重试体。
func (a *Agent) completeAndParse(ctx context.Context, promptMessages []llm.ChatMessage, registry *Registry) (*llm.Proposal, error) {
	var functions []llm.FunctionSpec
	if a.settings.UseFunctions {
		functions = registry.Specs()
	}

	var lastErr error
	for attempt := 0; attempt < a.settings.MaxParseAttempts; attempt++ {
		messages := make([]llm.ChatMessage, len(promptMessages))
		copy(messages, promptMessages)
		if lastErr != nil {
			// 把上一次的失败作为额外上下文注入后重试。
			messages = append(messages, llm.SystemMessage(fmt.Sprintf("Error: %v", lastErr)))
		}

		raw, err := a.llmClient.CreateChatCompletion(ctx, llm.Request{
			Messages:  messages,
			Model:     a.settings.Model,
			Functions: functions,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理被取消")
			}
			lastErr = xerrors.Wrap(xerrors.CodeExecutorFailure, err, "大模型推理失败")
			a.log.Warn("大模型调用失败", slog.Int("attempt", attempt), slog.Any("error", err))
			continue
		}

		proposal, err := a.strategy.ParseResponse(raw)
		if err != nil {
			lastErr = xerrors.Wrap(xerrors.CodeParseFailure, err, "解析模型输出失败")
			a.log.Warn("解析模型输出失败", slog.Int("attempt", attempt), slog.Any("error", err))
			continue
		}

		// 解析成功后通知组件，钩子错误按源语义向上传播。
		for _, component := range a.components {
			observer, ok := component.(ProposalObserver)
			if !ok {
				continue
			}
			if err := observer.AfterParsing(ctx, proposal); err != nil {
				return nil, componentFailure(component, "after_parsing", err)
			}
		}
		return proposal, nil
	}
	return nil, lastErr
}

// Execute 解析并执行一条提议的命令，返回本循环的最终结果。
// AgentTerminated 永远原样上抛，绝不转化为结果。
func (a *Agent) Execute(ctx context.Context, commandName string, commandArgs map[string]any, userInput string) (*ActionResult, error) {
	var result *ActionResult

	if commandName == HumanFeedbackCommand {
		// 人工反馈不经过注册表，立即生成打断结果。
		result = Interrupted(userInput)
		logger.Audit().Info("人工打断",
			slog.Int("cycle", a.cycleCount),
			slog.String("feedback", userInput),
		)
	} else {
		output, err := a.executeCommand(ctx, commandName, commandArgs)
		switch {
		case err == nil:
			result = Success(output)
		case xerrors.CodeOf(err) == xerrors.CodeAgentTerminated:
			return nil, err
		default:
			result = ErrorFrom(err)
			a.log.Warn("命令执行出错",
				slog.String("command", commandName),
				slog.Any("args", commandArgs),
				slog.Any("error", err),
			)
		}

		// 限制命令输出的规模，防止其耗尽上下文窗口。
		tokens := a.llmClient.CountTokens(result.String())
		if tokens > a.settings.SendTokenLimit/3 {
			result = ErrorReason(fmt.Sprintf(
				"Command %s returned too much output. Do not execute this command again with the same arguments.",
				commandName,
			))
		}
	}

	// 无论哪个分支产生结果，都要让全部组件观察到结局。
	for _, component := range a.components {
		observer, ok := component.(ResultObserver)
		if !ok {
			continue
		}
		if err := observer.AfterExecution(ctx, result); err != nil {
			return nil, componentFailure(component, "after_execution", err)
		}
	}

	return result, nil
}

// executeCommand 对命令名做"最近加入者优先"的解析并调用处理器。
func (a *Agent) executeCommand(ctx context.Context, commandName string, arguments map[string]any) (any, error) {
	if a.commands == nil || a.commands.Len() == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "当前循环没有可用命令，需先调用 ProposeAction")
	}

	command := a.commands.Resolve(commandName)
	if command == nil {
		return nil, xerrors.New(xerrors.CodeUnknownCommand,
			fmt.Sprintf("无法执行命令 %q: 未注册", commandName))
	}

	output, err := command.Handler(ctx, arguments)
	if err == nil {
		return output, nil
	}
	if xerrors.CodeOf(err) == xerrors.CodeAgentTerminated {
		return nil, err
	}
	if _, ok := xerrors.From(err); ok {
		// 领域内错误原样返回，由调用方转化为结构化失败结果。
		return nil, err
	}

	// 非领域错误先交给组件做旁路处理，再统一包装。
	for _, component := range a.components {
		observer, ok := component.(FailureObserver)
		if !ok {
			continue
		}
		if hookErr := observer.ExecutionFailure(ctx, err); hookErr != nil {
			return nil, componentFailure(component, "execution_failure", hookErr)
		}
	}
	return nil, xerrors.Wrap(xerrors.CodeCommandFailure, err,
		fmt.Sprintf("命令 %s 执行失败", commandName))
}

func (a *Agent) collectConstraints(ctx context.Context) ([]string, error) {
	var out []string
	for _, component := range a.components {
		provider, ok := component.(ConstraintProvider)
		if !ok {
			continue
		}
		items, err := provider.Constraints(ctx)
		if err != nil {
			return nil, componentFailure(component, "constraints", err)
		}
		out = append(out, items...)
	}
	return out, nil
}

func (a *Agent) collectResources(ctx context.Context) ([]string, error) {
	var out []string
	for _, component := range a.components {
		provider, ok := component.(ResourceProvider)
		if !ok {
			continue
		}
		items, err := provider.Resources(ctx)
		if err != nil {
			return nil, componentFailure(component, "resources", err)
		}
		out = append(out, items...)
	}
	return out, nil
}

func (a *Agent) collectBestPractices(ctx context.Context) ([]string, error) {
	var out []string
	for _, component := range a.components {
		provider, ok := component.(BestPracticeProvider)
		if !ok {
			continue
		}
		items, err := provider.BestPractices(ctx)
		if err != nil {
			return nil, componentFailure(component, "best_practices", err)
		}
		out = append(out, items...)
	}
	return out, nil
}

func (a *Agent) collectCommands(ctx context.Context) (*Registry, error) {
	registry := NewRegistry()
	for _, component := range a.components {
		provider, ok := component.(CommandProvider)
		if !ok {
			continue
		}
		commands, err := provider.Commands(ctx)
		if err != nil {
			return nil, componentFailure(component, "commands", err)
		}
		registry.Add(commands...)
	}
	return registry, nil
}

func (a *Agent) collectMessages(ctx context.Context) ([]llm.ChatMessage, error) {
	var out []llm.ChatMessage
	for _, component := range a.components {
		provider, ok := component.(MessageProvider)
		if !ok {
			continue
		}
		messages, err := provider.Messages(ctx)
		if err != nil {
			return nil, componentFailure(component, "messages", err)
		}
		out = append(out, messages...)
	}
	return out, nil
}

// componentFailure 将组件钩子错误包装为中止当前循环的结构化错误。
func componentFailure(component Component, hook string, err error) error {
	return xerrors.Wrap(xerrors.CodeComponentFailure, err,
		fmt.Sprintf("组件 %s 的 %s 钩子失败", component.Name(), hook),
		xerrors.WithMetadata("component", component.Name()),
		xerrors.WithMetadata("hook", hook),
	)
}

// Terminated 构造终止信号：命令处理器返回它即要求整个智能体停机。
func Terminated(reason string) error {
	return xerrors.New(xerrors.CodeAgentTerminated, reason)
}

// IsTerminated 判断错误是否为终止信号。
func IsTerminated(err error) bool {
	return xerrors.CodeOf(err) == xerrors.CodeAgentTerminated
}
