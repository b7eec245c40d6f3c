package components

import (
	"context"
	"fmt"

	"OpenAgent-Loop/internal/agent"
	"OpenAgent-Loop/internal/knowledge"
)

// KnowledgeComponent 按任务描述检索静态知识库，把命中的条目作为
// 资源注入提示词。
type KnowledgeComponent struct {
	provider knowledge.Provider
	task     string
}

// NewKnowledgeComponent 创建知识组件。
func NewKnowledgeComponent(provider knowledge.Provider, task string) *KnowledgeComponent {
	return &KnowledgeComponent{provider: provider, task: task}
}

func (c *KnowledgeComponent) Name() string { return "knowledge" }

// Resources 返回命中的知识条目。
func (c *KnowledgeComponent) Resources(context.Context) ([]string, error) {
	if c.provider == nil {
		return nil, nil
	}
	snippets := c.provider.Query(c.task)
	resources := make([]string, 0, len(snippets))
	for _, snippet := range snippets {
		resources = append(resources, fmt.Sprintf("Background knowledge (%s): %s", snippet.Title, snippet.Content))
	}
	return resources, nil
}

var (
	_ agent.Component        = (*KnowledgeComponent)(nil)
	_ agent.ResourceProvider = (*KnowledgeComponent)(nil)
)
