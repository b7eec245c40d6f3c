package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	xerrors "OpenAgent-Loop/internal/errors"
	"OpenAgent-Loop/internal/llm"
)

// fakeClient 按脚本返回响应，并记录每次请求。
type fakeClient struct {
	responses []fakeResponse
	requests  []llm.Request
	index     int
}

type fakeResponse struct {
	raw *llm.RawResponse
	err error
}

func (c *fakeClient) CreateChatCompletion(_ context.Context, req llm.Request) (*llm.RawResponse, error) {
	c.requests = append(c.requests, req)
	if c.index >= len(c.responses) {
		return nil, errors.New("脚本响应已耗尽")
	}
	resp := c.responses[c.index]
	c.index++
	return resp.raw, resp.err
}

func (c *fakeClient) CountTokens(text string) int {
	return llm.EstimateTokens(text)
}

// passthroughStrategy 把响应内容当作命令名解析；内容带 fail: 前缀
// 时返回解析失败。
type passthroughStrategy struct{}

func (passthroughStrategy) BuildPrompt(input PromptInput) ([]llm.ChatMessage, error) {
	var sb strings.Builder
	sb.WriteString("Task: " + input.Task + "\n")
	for _, constraint := range input.Directives.Constraints {
		sb.WriteString("constraint: " + constraint + "\n")
	}
	for _, resource := range input.Directives.Resources {
		sb.WriteString("resource: " + resource + "\n")
	}
	for _, practice := range input.Directives.BestPractices {
		sb.WriteString("practice: " + practice + "\n")
	}
	for _, command := range input.Commands {
		sb.WriteString("command: " + command.Name() + "\n")
	}
	messages := []llm.ChatMessage{llm.SystemMessage(sb.String())}
	return append(messages, input.Messages...), nil
}

func (passthroughStrategy) ParseResponse(raw *llm.RawResponse) (*llm.Proposal, error) {
	if strings.HasPrefix(raw.Content, "fail:") {
		return nil, fmt.Errorf("malformed response: %s", raw.Content)
	}
	return &llm.Proposal{CommandName: raw.Content, CommandArgs: map[string]any{}}, nil
}

// hookComponent 记录每个钩子的调用并可注入任意能力。
type hookComponent struct {
	name          string
	constraints   []string
	resources     []string
	bestPractices []string
	commands      []Command
	messages      []llm.ChatMessage

	parsed      []*llm.Proposal
	results     []*ActionResult
	failures    []error
	failureHook func(error) error
}

func (c *hookComponent) Name() string { return c.name }

func (c *hookComponent) Constraints(context.Context) ([]string, error) {
	return c.constraints, nil
}

func (c *hookComponent) Resources(context.Context) ([]string, error) {
	return c.resources, nil
}

func (c *hookComponent) BestPractices(context.Context) ([]string, error) {
	return c.bestPractices, nil
}

func (c *hookComponent) Commands(context.Context) ([]Command, error) {
	return c.commands, nil
}

func (c *hookComponent) Messages(context.Context) ([]llm.ChatMessage, error) {
	return c.messages, nil
}

func (c *hookComponent) AfterParsing(_ context.Context, proposal *llm.Proposal) error {
	c.parsed = append(c.parsed, proposal)
	return nil
}

func (c *hookComponent) AfterExecution(_ context.Context, result *ActionResult) error {
	c.results = append(c.results, result)
	return nil
}

func (c *hookComponent) ExecutionFailure(_ context.Context, cause error) error {
	c.failures = append(c.failures, cause)
	if c.failureHook != nil {
		return c.failureHook(cause)
	}
	return nil
}

func newAgentForTest(t *testing.T, client llm.Client, comps ...Component) *Agent {
	t.Helper()
	a, err := New(Settings{Task: "demo task"}, client, passthroughStrategy{}, comps)
	if err != nil {
		t.Fatalf("创建 Agent 失败: %v", err)
	}
	return a
}

func TestProposeActionAggregatesInOrder(t *testing.T) {
	first := &hookComponent{
		name:        "first",
		constraints: []string{"c1"},
		resources:   []string{"r1"},
		commands:    []Command{namedCommand("alpha")},
		messages:    []llm.ChatMessage{llm.UserMessage("m1")},
	}
	second := &hookComponent{
		name:          "second",
		constraints:   []string{"c2"},
		bestPractices: []string{"p1"},
		commands:      []Command{namedCommand("beta")},
	}
	client := &fakeClient{responses: []fakeResponse{
		{raw: &llm.RawResponse{Content: "alpha"}},
	}}
	a := newAgentForTest(t, client, first, second)

	proposal, err := a.ProposeAction(context.Background())
	if err != nil {
		t.Fatalf("ProposeAction 失败: %v", err)
	}
	if proposal.CommandName != "alpha" {
		t.Errorf("提议命令不匹配: %q", proposal.CommandName)
	}
	if a.CycleCount() != 1 {
		t.Errorf("循环计数应为 1，实际 %d", a.CycleCount())
	}

	prompt := client.requests[0].Messages[0].Content
	if !strings.Contains(prompt, "constraint: c1\nconstraint: c2") {
		t.Errorf("约束应按组件顺序聚合:\n%s", prompt)
	}
	if !strings.Contains(prompt, "command: alpha\ncommand: beta") {
		t.Errorf("命令应按组件顺序聚合:\n%s", prompt)
	}
	last := client.requests[0].Messages[len(client.requests[0].Messages)-1]
	if last.Content != "m1" {
		t.Errorf("组件消息应附加在提示之后: %+v", last)
	}

	// 解析成功应触发 after_parsing 钩子。
	if len(first.parsed) != 1 || len(second.parsed) != 1 {
		t.Errorf("after_parsing 应对每个组件各调用一次: %d/%d", len(first.parsed), len(second.parsed))
	}
}

func TestProposeActionDoesNotMutateBaseline(t *testing.T) {
	comp := &hookComponent{name: "extra", constraints: []string{"added"}}
	client := &fakeClient{responses: []fakeResponse{
		{raw: &llm.RawResponse{Content: "noop"}},
	}}
	a, err := New(Settings{
		Task:       "demo",
		Directives: Directives{Constraints: []string{"base"}},
	}, client, passthroughStrategy{}, []Component{comp, &hookComponent{name: "cmd", commands: []Command{namedCommand("noop")}}})
	if err != nil {
		t.Fatalf("创建 Agent 失败: %v", err)
	}

	if _, err := a.ProposeAction(context.Background()); err != nil {
		t.Fatalf("ProposeAction 失败: %v", err)
	}
	if len(a.settings.Directives.Constraints) != 1 || a.settings.Directives.Constraints[0] != "base" {
		t.Errorf("指令基线不应被循环修改: %v", a.settings.Directives.Constraints)
	}
}

func TestProposeActionRetriesParseFailure(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{
		{raw: &llm.RawResponse{Content: "fail:garbled"}},
		{raw: &llm.RawResponse{Content: "alpha"}},
	}}
	comp := &hookComponent{name: "cmd", commands: []Command{namedCommand("alpha")}}
	a := newAgentForTest(t, client, comp)

	proposal, err := a.ProposeAction(context.Background())
	if err != nil {
		t.Fatalf("重试后应成功: %v", err)
	}
	if proposal.CommandName != "alpha" {
		t.Errorf("提议命令不匹配: %q", proposal.CommandName)
	}
	if len(client.requests) != 2 {
		t.Fatalf("应调用模型 2 次，实际 %d", len(client.requests))
	}

	// 重试请求应携带上一次的失败信息。
	retry := client.requests[1].Messages
	last := retry[len(retry)-1]
	if last.Role != llm.RoleSystem || !strings.HasPrefix(last.Content, "Error: ") {
		t.Errorf("重试应附加失败上下文: %+v", last)
	}
}

func TestProposeActionExhaustsAttempts(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{
		{raw: &llm.RawResponse{Content: "fail:1"}},
		{raw: &llm.RawResponse{Content: "fail:2"}},
		{raw: &llm.RawResponse{Content: "fail:3"}},
	}}
	comp := &hookComponent{name: "cmd", commands: []Command{namedCommand("alpha")}}
	a := newAgentForTest(t, client, comp)

	_, err := a.ProposeAction(context.Background())
	if xerrors.CodeOf(err) != xerrors.CodeParseFailure {
		t.Fatalf("尝试耗尽后应返回解析失败，实际: %v", err)
	}
	if len(client.requests) != 3 {
		t.Errorf("默认应尝试 3 次，实际 %d", len(client.requests))
	}
	if a.CycleCount() != 0 {
		t.Errorf("失败的提议不应递增循环计数，实际 %d", a.CycleCount())
	}
}

func TestExecuteSuccess(t *testing.T) {
	comp := &hookComponent{name: "cmd", commands: []Command{{
		Names: []string{"echo"},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return StringArg(args, "text"), nil
		},
	}}}
	client := &fakeClient{responses: []fakeResponse{
		{raw: &llm.RawResponse{Content: "echo"}},
	}}
	a := newAgentForTest(t, client, comp)
	ctx := context.Background()
	if _, err := a.ProposeAction(ctx); err != nil {
		t.Fatalf("ProposeAction 失败: %v", err)
	}

	result, err := a.Execute(ctx, "echo", map[string]any{"text": "hello"}, "")
	if err != nil {
		t.Fatalf("Execute 失败: %v", err)
	}
	if result.Status != StatusSuccess || result.Outputs != "hello" {
		t.Errorf("执行结果不匹配: %+v", result)
	}
	if len(comp.results) != 1 {
		t.Errorf("after_execution 应调用一次，实际 %d", len(comp.results))
	}
}

func TestExecuteHumanFeedbackShortCircuits(t *testing.T) {
	executed := false
	comp := &hookComponent{name: "cmd", commands: []Command{{
		Names: []string{"echo"},
		Handler: func(context.Context, map[string]any) (any, error) {
			executed = true
			return nil, nil
		},
	}}}
	client := &fakeClient{responses: []fakeResponse{
		{raw: &llm.RawResponse{Content: "echo"}},
	}}
	a := newAgentForTest(t, client, comp)
	ctx := context.Background()
	if _, err := a.ProposeAction(ctx); err != nil {
		t.Fatalf("ProposeAction 失败: %v", err)
	}

	result, err := a.Execute(ctx, HumanFeedbackCommand, nil, "try something else")
	if err != nil {
		t.Fatalf("Execute 失败: %v", err)
	}
	if result.Status != StatusInterruptedByHuman || result.Feedback != "try something else" {
		t.Errorf("打断结果不匹配: %+v", result)
	}
	if executed {
		t.Error("人工打断不应执行任何命令")
	}
	if len(comp.results) != 1 {
		t.Errorf("打断结果也应通知 after_execution，实际 %d", len(comp.results))
	}
}

func TestExecuteUnknownCommand(t *testing.T) {
	comp := &hookComponent{name: "cmd", commands: []Command{namedCommand("alpha")}}
	client := &fakeClient{responses: []fakeResponse{
		{raw: &llm.RawResponse{Content: "alpha"}},
	}}
	a := newAgentForTest(t, client, comp)
	ctx := context.Background()
	if _, err := a.ProposeAction(ctx); err != nil {
		t.Fatalf("ProposeAction 失败: %v", err)
	}

	result, err := a.Execute(ctx, "missing", nil, "")
	if err != nil {
		t.Fatalf("未知命令应转化为失败结果: %v", err)
	}
	if result.Status != StatusError {
		t.Errorf("结果状态应为 error: %+v", result)
	}
	if xerrors.CodeOf(result.Err) != xerrors.CodeUnknownCommand {
		t.Errorf("错误码应为未知命令: %v", result.Err)
	}
}

func TestExecuteWithoutProposalFails(t *testing.T) {
	client := &fakeClient{}
	a := newAgentForTest(t, client, &hookComponent{name: "cmd", commands: []Command{namedCommand("alpha")}})

	result, err := a.Execute(context.Background(), "alpha", nil, "")
	if err != nil {
		t.Fatalf("Execute 失败: %v", err)
	}
	if xerrors.CodeOf(result.Err) != xerrors.CodeInitializationFailure {
		t.Errorf("没有提议阶段时应返回初始化失败: %v", result.Err)
	}
}

func TestExecuteTerminationPassesThrough(t *testing.T) {
	comp := &hookComponent{name: "cmd", commands: []Command{{
		Names: []string{"finish"},
		Handler: func(context.Context, map[string]any) (any, error) {
			return nil, Terminated("all done")
		},
	}}}
	client := &fakeClient{responses: []fakeResponse{
		{raw: &llm.RawResponse{Content: "finish"}},
	}}
	a := newAgentForTest(t, client, comp)
	ctx := context.Background()
	if _, err := a.ProposeAction(ctx); err != nil {
		t.Fatalf("ProposeAction 失败: %v", err)
	}

	result, err := a.Execute(ctx, "finish", nil, "")
	if !IsTerminated(err) {
		t.Fatalf("终止信号应原样上抛: %v", err)
	}
	if result != nil {
		t.Errorf("终止时不应返回结果: %+v", result)
	}
	if len(comp.results) != 0 {
		t.Errorf("终止不应触发 after_execution，实际 %d", len(comp.results))
	}
}

func TestExecuteFailureHookBeforeWrap(t *testing.T) {
	cause := errors.New("connection reset")
	comp := &hookComponent{name: "cmd", commands: []Command{{
		Names: []string{"flaky"},
		Handler: func(context.Context, map[string]any) (any, error) {
			return nil, cause
		},
	}}}
	client := &fakeClient{responses: []fakeResponse{
		{raw: &llm.RawResponse{Content: "flaky"}},
	}}
	a := newAgentForTest(t, client, comp)
	ctx := context.Background()
	if _, err := a.ProposeAction(ctx); err != nil {
		t.Fatalf("ProposeAction 失败: %v", err)
	}

	result, err := a.Execute(ctx, "flaky", nil, "")
	if err != nil {
		t.Fatalf("非终止错误应转化为失败结果: %v", err)
	}
	if xerrors.CodeOf(result.Err) != xerrors.CodeCommandFailure {
		t.Errorf("非领域错误应包装为命令执行失败: %v", result.Err)
	}
	if len(comp.failures) != 1 || !errors.Is(comp.failures[0], cause) {
		t.Errorf("execution_failure 钩子应收到原始错误: %v", comp.failures)
	}
	// 钩子顺序：先 execution_failure，后 after_execution。
	if len(comp.results) != 1 {
		t.Errorf("after_execution 仍应收到失败结果，实际 %d", len(comp.results))
	}
}

func TestExecuteDomainErrorSkipsFailureHook(t *testing.T) {
	comp := &hookComponent{name: "cmd", commands: []Command{{
		Names: []string{"strict"},
		Handler: func(context.Context, map[string]any) (any, error) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "参数无效")
		},
	}}}
	client := &fakeClient{responses: []fakeResponse{
		{raw: &llm.RawResponse{Content: "strict"}},
	}}
	a := newAgentForTest(t, client, comp)
	ctx := context.Background()
	if _, err := a.ProposeAction(ctx); err != nil {
		t.Fatalf("ProposeAction 失败: %v", err)
	}

	result, err := a.Execute(ctx, "strict", nil, "")
	if err != nil {
		t.Fatalf("Execute 失败: %v", err)
	}
	if xerrors.CodeOf(result.Err) != xerrors.CodeInvalidArgument {
		t.Errorf("领域错误应原样保留: %v", result.Err)
	}
	if len(comp.failures) != 0 {
		t.Errorf("领域错误不应触发 execution_failure 钩子: %v", comp.failures)
	}
}

func TestExecuteOversizedOutputReplaced(t *testing.T) {
	huge := strings.Repeat("output ", 20000)
	comp := &hookComponent{name: "cmd", commands: []Command{{
		Names: []string{"dump"},
		Handler: func(context.Context, map[string]any) (any, error) {
			return huge, nil
		},
	}}}
	client := &fakeClient{responses: []fakeResponse{
		{raw: &llm.RawResponse{Content: "dump"}},
	}}
	a := newAgentForTest(t, client, comp)
	ctx := context.Background()
	if _, err := a.ProposeAction(ctx); err != nil {
		t.Fatalf("ProposeAction 失败: %v", err)
	}

	result, err := a.Execute(ctx, "dump", nil, "")
	if err != nil {
		t.Fatalf("Execute 失败: %v", err)
	}
	if result.Status != StatusError {
		t.Fatalf("超限输出应替换为失败结果: %+v", result.Status)
	}
	want := "Command dump returned too much output. Do not execute this command again with the same arguments."
	if result.Reason != want {
		t.Errorf("超限错误文案不匹配: %q", result.Reason)
	}
	if len(comp.results) != 1 || comp.results[0].Reason != want {
		t.Errorf("after_execution 应收到替换后的结果: %+v", comp.results)
	}
}

func TestFindObscuredCommands(t *testing.T) {
	first := &hookComponent{name: "first", commands: []Command{namedCommand("search")}}
	second := &hookComponent{name: "second", commands: []Command{namedCommand("search")}}
	client := &fakeClient{responses: []fakeResponse{
		{raw: &llm.RawResponse{Content: "search"}},
	}}
	a := newAgentForTest(t, client, first, second)
	if _, err := a.ProposeAction(context.Background()); err != nil {
		t.Fatalf("ProposeAction 失败: %v", err)
	}

	obscured := a.FindObscuredCommands()
	if len(obscured) != 1 {
		t.Fatalf("应报告 1 条被遮蔽的命令，实际 %d", len(obscured))
	}
}
