package run

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"OpenAgent-Loop/internal/agent"
	"OpenAgent-Loop/internal/components"
	xerrors "OpenAgent-Loop/internal/errors"
	"OpenAgent-Loop/internal/llm"
	"OpenAgent-Loop/pkg/logger"
)

// Outcome 表示一次运行的最终结局。
type Outcome string

const (
	// OutcomeFinished 表示智能体主动宣告任务完成。
	OutcomeFinished Outcome = "finished"
	// OutcomeExhausted 表示循环数达到上限仍未完成。
	OutcomeExhausted Outcome = "exhausted"
	// OutcomeInterrupted 表示运行被人工打断后未再继续。
	OutcomeInterrupted Outcome = "interrupted"
)

// Result 汇总一次运行的过程与结局。
type Result struct {
	Outcome     Outcome              `json:"outcome"`
	Summary     string               `json:"summary,omitempty"`
	Cycles      int                  `json:"cycles"`
	LastResult  *agent.ActionResult  `json:"last_result,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt time.Time            `json:"completed_at"`
	Proposals   []RecordedProposal   `json:"proposals,omitempty"`
}

// RecordedProposal 记录一次循环的提议及对应结果文本。
type RecordedProposal struct {
	Cycle   int    `json:"cycle"`
	Command string `json:"command"`
	Speak   string `json:"speak,omitempty"`
	Result  string `json:"result,omitempty"`
}

// Approver 在执行每个提议前给出批准或反馈。返回非空反馈表示
// 打断本次执行并把反馈交还模型。
type Approver func(ctx context.Context, proposal *llm.Proposal) (feedback string, err error)

// Runner 驱动"提议-执行"循环直至结束。
type Runner struct {
	agent     *agent.Agent
	maxCycles int
	approver  Approver
	log       *slog.Logger
}

// Option 配置 Runner。
type Option func(*Runner)

// WithApprover 启用人工审批。未设置时所有提议自动放行。
func WithApprover(approver Approver) Option {
	return func(r *Runner) { r.approver = approver }
}

// WithLogger 覆盖默认日志器。
func WithLogger(log *slog.Logger) Option {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRunner 创建运行器。maxCycles 不大于零时使用默认上限。
func NewRunner(a *agent.Agent, maxCycles int, opts ...Option) (*Runner, error) {
	if a == nil {
		return nil, fmt.Errorf("agent 不能为空")
	}
	if maxCycles <= 0 {
		maxCycles = 25
	}
	r := &Runner{agent: a, maxCycles: maxCycles, log: logger.L()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run 重复执行提议与执行，直到智能体宣告完成、被打断或达到循环
// 上限。终止信号之外的错误原样上抛，由调用方决定重试与告警。
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	result := &Result{StartedAt: time.Now().UTC()}

	for cycle := 1; cycle <= r.maxCycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "运行被取消")
		}

		proposal, err := r.agent.ProposeAction(ctx)
		if err != nil {
			return nil, err
		}
		r.log.Info("收到行动提议",
			"cycle", cycle,
			"command", proposal.CommandName,
			"speak", proposal.Thoughts.Speak,
		)

		commandName := proposal.CommandName
		commandArgs := proposal.CommandArgs
		userInput := ""
		if r.approver != nil {
			feedback, err := r.approver(ctx, proposal)
			if err != nil {
				return nil, fmt.Errorf("审批提议失败: %w", err)
			}
			if feedback != "" {
				commandName = agent.HumanFeedbackCommand
				userInput = feedback
			}
		}

		actionResult, err := r.agent.Execute(ctx, commandName, commandArgs, userInput)
		if err != nil {
			if agent.IsTerminated(err) {
				result.Outcome = OutcomeFinished
				result.Summary = components.TerminationReason(err)
				result.Cycles = cycle
				result.CompletedAt = time.Now().UTC()
				r.appendProposal(result, cycle, proposal, result.Summary)
				return result, nil
			}
			return nil, err
		}

		result.LastResult = actionResult
		result.Cycles = cycle
		r.appendProposal(result, cycle, proposal, actionResult.String())

		if actionResult.Status == agent.StatusInterruptedByHuman && userInput == "" {
			// 执行侧延迟的反馈（命令自身要求人工介入），结束本次运行。
			result.Outcome = OutcomeInterrupted
			result.CompletedAt = time.Now().UTC()
			return result, nil
		}
	}

	result.Outcome = OutcomeExhausted
	result.CompletedAt = time.Now().UTC()
	return result, nil
}

func (r *Runner) appendProposal(result *Result, cycle int, proposal *llm.Proposal, outcome string) {
	result.Proposals = append(result.Proposals, RecordedProposal{
		Cycle:   cycle,
		Command: proposal.CommandName,
		Speak:   proposal.Thoughts.Speak,
		Result:  outcome,
	})
}
