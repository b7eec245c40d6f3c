package run

import (
	"context"
	"fmt"
	"testing"

	"OpenAgent-Loop/internal/agent"
	"OpenAgent-Loop/internal/components"
	"OpenAgent-Loop/internal/llm"
)

type scriptedStrategy struct {
	proposals []*llm.Proposal
	index     int
}

func (s *scriptedStrategy) BuildPrompt(agent.PromptInput) ([]llm.ChatMessage, error) {
	return []llm.ChatMessage{llm.SystemMessage("test prompt")}, nil
}

func (s *scriptedStrategy) ParseResponse(*llm.RawResponse) (*llm.Proposal, error) {
	if s.index >= len(s.proposals) {
		return nil, fmt.Errorf("脚本提议已耗尽")
	}
	proposal := s.proposals[s.index]
	s.index++
	return proposal, nil
}

type stubClient struct{}

func (stubClient) CreateChatCompletion(context.Context, llm.Request) (*llm.RawResponse, error) {
	return &llm.RawResponse{Content: "{}"}, nil
}

func (stubClient) CountTokens(text string) int {
	return llm.EstimateTokens(text)
}

type searchComponent struct {
	calls int
}

func (c *searchComponent) Name() string { return "stub_search" }

func (c *searchComponent) Commands(context.Context) ([]agent.Command, error) {
	return []agent.Command{
		{
			Names:       []string{"web_search"},
			Description: "stub search",
			Handler: func(context.Context, map[string]any) (any, error) {
				c.calls++
				return "search results", nil
			},
		},
	}, nil
}

func newTestAgent(t *testing.T, strategy agent.PromptStrategy, comps ...agent.Component) *agent.Agent {
	t.Helper()
	a, err := agent.New(agent.Settings{Task: "test the loop"}, stubClient{}, strategy, comps)
	if err != nil {
		t.Fatalf("创建 Agent 失败: %v", err)
	}
	return a
}

func proposal(command string, speak string) *llm.Proposal {
	return &llm.Proposal{
		Thoughts:    llm.Thoughts{Speak: speak},
		CommandName: command,
		CommandArgs: map[string]any{},
	}
}

func TestRunFinishes(t *testing.T) {
	strategy := &scriptedStrategy{proposals: []*llm.Proposal{
		proposal("web_search", "searching"),
		{
			Thoughts:    llm.Thoughts{Speak: "done"},
			CommandName: components.FinishCommand,
			CommandArgs: map[string]any{"reason": "goal reached"},
		},
	}}
	search := &searchComponent{}
	a := newTestAgent(t, strategy, components.NewSystemComponent(), search)

	runner, err := NewRunner(a, 10)
	if err != nil {
		t.Fatalf("创建 Runner 失败: %v", err)
	}
	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run 失败: %v", err)
	}

	if result.Outcome != OutcomeFinished {
		t.Errorf("结局应为 finished，实际 %s", result.Outcome)
	}
	if result.Summary != "goal reached" {
		t.Errorf("完成摘要不匹配: %q", result.Summary)
	}
	if result.Cycles != 2 {
		t.Errorf("循环数应为 2，实际 %d", result.Cycles)
	}
	if search.calls != 1 {
		t.Errorf("web_search 应执行 1 次，实际 %d", search.calls)
	}
	if len(result.Proposals) != 2 || result.Proposals[0].Command != "web_search" {
		t.Errorf("提议记录不匹配: %+v", result.Proposals)
	}
}

func TestRunExhaustsCycles(t *testing.T) {
	strategy := &scriptedStrategy{proposals: []*llm.Proposal{
		proposal("web_search", ""),
		proposal("web_search", ""),
	}}
	search := &searchComponent{}
	a := newTestAgent(t, strategy, components.NewSystemComponent(), search)

	runner, err := NewRunner(a, 2)
	if err != nil {
		t.Fatalf("创建 Runner 失败: %v", err)
	}
	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run 失败: %v", err)
	}

	if result.Outcome != OutcomeExhausted {
		t.Errorf("结局应为 exhausted，实际 %s", result.Outcome)
	}
	if result.Cycles != 2 || search.calls != 2 {
		t.Errorf("应执行满 2 个循环，实际 cycles=%d calls=%d", result.Cycles, search.calls)
	}
}

func TestRunApproverFeedback(t *testing.T) {
	strategy := &scriptedStrategy{proposals: []*llm.Proposal{
		proposal("web_search", "first try"),
		{
			Thoughts:    llm.Thoughts{Speak: "ok"},
			CommandName: components.FinishCommand,
			CommandArgs: map[string]any{"reason": "adjusted per feedback"},
		},
	}}
	search := &searchComponent{}
	a := newTestAgent(t, strategy, components.NewSystemComponent(), search)

	approvals := 0
	runner, err := NewRunner(a, 10, WithApprover(func(_ context.Context, p *llm.Proposal) (string, error) {
		approvals++
		if p.CommandName == "web_search" {
			return "do not search, just finish", nil
		}
		return "", nil
	}))
	if err != nil {
		t.Fatalf("创建 Runner 失败: %v", err)
	}
	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run 失败: %v", err)
	}

	if search.calls != 0 {
		t.Errorf("被打断的命令不应执行，实际执行 %d 次", search.calls)
	}
	if approvals != 2 {
		t.Errorf("审批应调用 2 次，实际 %d", approvals)
	}
	if result.Outcome != OutcomeFinished || result.Summary != "adjusted per feedback" {
		t.Errorf("结局不匹配: %+v", result)
	}
}
