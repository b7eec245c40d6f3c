package prompt

import (
	"fmt"
	"runtime"
	"strings"

	"OpenAgent-Loop/internal/agent"
	"OpenAgent-Loop/internal/llm"
)

// OneShot 实现单轮提示策略：把角色设定、指令、命令清单渲染进
// system 消息，要求模型一次性给出思考过程与下一条命令。构建与
// 解析都是纯函数，相同输入产出相同结果。
type OneShot struct {
	// ResponseLanguage 指定模型回复 speak 字段使用的语言，空值不约束。
	ResponseLanguage string
}

// NewOneShot 构造默认的单轮提示策略。
func NewOneShot() *OneShot {
	return &OneShot{}
}

// BuildPrompt 渲染完整的提示消息序列：system 设定在前，组件贡献的
// 会话消息按原顺序居中，最后以触发指令收尾。
func (s *OneShot) BuildPrompt(input agent.PromptInput) ([]llm.ChatMessage, error) {
	if strings.TrimSpace(input.Task) == "" {
		return nil, fmt.Errorf("任务目标不能为空")
	}

	messages := make([]llm.ChatMessage, 0, len(input.Messages)+2)
	messages = append(messages, llm.SystemMessage(s.renderSystemPrompt(input)))
	messages = append(messages, input.Messages...)
	messages = append(messages, llm.UserMessage(
		"Determine exactly one command to use next based on the given goals "+
			"and the progress you have made so far, "+
			"and respond using the JSON schema specified previously.",
	))
	return messages, nil
}

func (s *OneShot) renderSystemPrompt(input agent.PromptInput) string {
	var b strings.Builder

	profile := strings.TrimSpace(input.Profile)
	if profile == "" {
		profile = "an autonomous agent that accomplishes tasks without user assistance"
	}
	fmt.Fprintf(&b, "You are %s.\n", profile)

	if input.IncludeOSInfo {
		fmt.Fprintf(&b, "The OS you are running on is: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	}

	fmt.Fprintf(&b, "\n## Task\n%s\n", strings.TrimSpace(input.Task))

	// 指令类别按固定顺序渲染：约束、资源、最佳实践。
	writeNumbered(&b, "Constraints", input.Directives.Constraints)
	writeNumbered(&b, "Resources", input.Directives.Resources)
	writeNumbered(&b, "Best practices", input.Directives.BestPractices)

	if len(input.Commands) > 0 {
		b.WriteString("\n## Commands\n")
		b.WriteString("You have access to the following commands:\n")
		for i, cmd := range input.Commands {
			fmt.Fprintf(&b, "%d. %s: %s. Params: (%s)\n",
				i+1, cmd.Name(), cmd.Description, renderParams(cmd.Parameters))
		}
	}

	b.WriteString("\n## Response format\n")
	b.WriteString("Respond strictly with a JSON object of the following shape:\n")
	b.WriteString(`{"thoughts": {"text": "<your thoughts>", "reasoning": "...", "plan": "...", ` +
		`"self_criticism": "...", "speak": "<summary to say to the user>"}, ` +
		`"command": {"name": "<command name>", "args": {"<arg name>": "<value>"}}}` + "\n")
	if s.ResponseLanguage != "" {
		fmt.Fprintf(&b, "Write the speak field in %s.\n", s.ResponseLanguage)
	}
	return b.String()
}

func writeNumbered(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n", title)
	for i, item := range items {
		fmt.Fprintf(b, "%d. %s\n", i+1, item)
	}
}

func renderParams(params []llm.ParameterSpec) string {
	if len(params) == 0 {
		return ""
	}
	parts := make([]string, 0, len(params))
	for _, param := range params {
		optional := ""
		if !param.Required {
			optional = "?"
		}
		parts = append(parts, fmt.Sprintf("%s%s: %s", param.Name, optional, param.Type))
	}
	return strings.Join(parts, ", ")
}
