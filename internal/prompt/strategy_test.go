package prompt

import (
	"strings"
	"testing"

	"OpenAgent-Loop/internal/agent"
	"OpenAgent-Loop/internal/llm"
)

func sampleInput() agent.PromptInput {
	return agent.PromptInput{
		Task:    "Write a weather report for Paris",
		Profile: "WeatherGPT, a meteorology assistant",
		Directives: agent.Directives{
			Constraints:   []string{"Use only listed commands."},
			Resources:     []string{"Internet access."},
			BestPractices: []string{"Double-check results."},
		},
		Messages: []llm.ChatMessage{llm.AssistantMessage("previous cycle")},
		Commands: []agent.Command{
			{
				Names:       []string{"get_weather"},
				Description: "Retrieves the current weather",
				Parameters: []llm.ParameterSpec{
					{Name: "location", Type: "string", Required: true},
					{Name: "use_celsius", Type: "boolean", Required: false},
				},
			},
		},
	}
}

func TestBuildPromptLayout(t *testing.T) {
	strategy := NewOneShot()
	messages, err := strategy.BuildPrompt(sampleInput())
	if err != nil {
		t.Fatalf("BuildPrompt 失败: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("应产出 system+历史+触发 3 条消息，实际 %d", len(messages))
	}
	if messages[0].Role != llm.RoleSystem {
		t.Errorf("首条消息应为 system: %+v", messages[0])
	}
	if messages[1].Content != "previous cycle" {
		t.Errorf("组件消息应保持顺序: %+v", messages[1])
	}
	if messages[2].Role != llm.RoleUser || !strings.Contains(messages[2].Content, "exactly one command") {
		t.Errorf("末条消息应为触发指令: %+v", messages[2])
	}

	system := messages[0].Content
	for _, want := range []string{
		"You are WeatherGPT, a meteorology assistant.",
		"## Task\nWrite a weather report for Paris",
		"## Constraints\n1. Use only listed commands.",
		"## Resources\n1. Internet access.",
		"## Best practices\n1. Double-check results.",
		"1. get_weather: Retrieves the current weather. Params: (location: string, use_celsius?: boolean)",
		"## Response format",
	} {
		if !strings.Contains(system, want) {
			t.Errorf("system 提示缺少片段 %q:\n%s", want, system)
		}
	}

	// 类别顺序固定：约束在资源前，资源在最佳实践前。
	if strings.Index(system, "## Constraints") > strings.Index(system, "## Resources") ||
		strings.Index(system, "## Resources") > strings.Index(system, "## Best practices") {
		t.Error("指令类别渲染顺序不正确")
	}
}

func TestBuildPromptRequiresTask(t *testing.T) {
	input := sampleInput()
	input.Task = "  "
	if _, err := NewOneShot().BuildPrompt(input); err == nil {
		t.Fatal("空任务应返回错误")
	}
}

func TestBuildPromptDeterministic(t *testing.T) {
	strategy := NewOneShot()
	first, err := strategy.BuildPrompt(sampleInput())
	if err != nil {
		t.Fatalf("BuildPrompt 失败: %v", err)
	}
	second, err := strategy.BuildPrompt(sampleInput())
	if err != nil {
		t.Fatalf("BuildPrompt 失败: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("两次构建的消息数不一致: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("第 %d 条消息不一致", i)
		}
	}
}

func TestParseResponseContent(t *testing.T) {
	raw := &llm.RawResponse{Content: `{
		"thoughts": {"text": "need weather", "speak": "checking the weather"},
		"command": {"name": "get_weather", "args": {"location": "Paris", "use_celsius": true}}
	}`}
	proposal, err := NewOneShot().ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse 失败: %v", err)
	}
	if proposal.CommandName != "get_weather" {
		t.Errorf("命令名不匹配: %q", proposal.CommandName)
	}
	if proposal.CommandArgs["location"] != "Paris" {
		t.Errorf("命令参数不匹配: %v", proposal.CommandArgs)
	}
	if proposal.Thoughts.Speak != "checking the weather" {
		t.Errorf("speak 字段不匹配: %q", proposal.Thoughts.Speak)
	}
}

func TestParseResponseStripsFences(t *testing.T) {
	raw := &llm.RawResponse{Content: "```json\n" +
		`{"thoughts": {"text": "t"}, "command": {"name": "finish", "args": {"reason": "done"}}}` +
		"\n```"}
	proposal, err := NewOneShot().ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse 失败: %v", err)
	}
	if proposal.CommandName != "finish" || proposal.CommandArgs["reason"] != "done" {
		t.Errorf("提议不匹配: %+v", proposal)
	}
}

func TestParseResponseFunctionCallWins(t *testing.T) {
	raw := &llm.RawResponse{
		Content: `{"thoughts": {"text": "t"}, "command": {"name": "old", "args": {}}}`,
		FunctionCall: &llm.FunctionCall{
			Name:      "web_search",
			Arguments: map[string]any{"query": "golang"},
		},
	}
	proposal, err := NewOneShot().ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse 失败: %v", err)
	}
	if proposal.CommandName != "web_search" {
		t.Errorf("function calling 应覆盖 content 中的命令: %q", proposal.CommandName)
	}
	if proposal.Thoughts.Text != "t" {
		t.Errorf("content 中的 thoughts 仍应保留: %+v", proposal.Thoughts)
	}
}

func TestParseResponseMalformed(t *testing.T) {
	if _, err := NewOneShot().ParseResponse(&llm.RawResponse{Content: "not json"}); err == nil {
		t.Fatal("非法 JSON 应返回错误")
	}
	if _, err := NewOneShot().ParseResponse(&llm.RawResponse{Content: `{"thoughts": {}}`}); err == nil {
		t.Fatal("缺少命令名应返回错误")
	}
	if _, err := NewOneShot().ParseResponse(nil); err == nil {
		t.Fatal("空响应应返回错误")
	}
}

func TestParseResponseDefaultsArgs(t *testing.T) {
	raw := &llm.RawResponse{Content: `{"command": {"name": "finish"}}`}
	proposal, err := NewOneShot().ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse 失败: %v", err)
	}
	if proposal.CommandArgs == nil || len(proposal.CommandArgs) != 0 {
		t.Errorf("缺省参数应为空 map: %#v", proposal.CommandArgs)
	}
}
