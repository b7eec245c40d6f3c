package components

import (
	"context"
	"fmt"

	"OpenAgent-Loop/internal/agent"
	"OpenAgent-Loop/internal/blocks"
	"OpenAgent-Loop/internal/llm"
)

// WebComponent 封装网页检索类命令：搜索、抓取、百科摘要与事实核查。
type WebComponent struct {
	search    *blocks.WebSearchBlock
	extract   *blocks.ExtractContentBlock
	wikipedia *blocks.WikipediaSummaryBlock
	factCheck *blocks.FactCheckBlock
}

// NewWebComponent 创建网页组件。factCheck 可以为 nil，此时不注册
// 对应命令。
func NewWebComponent(search *blocks.WebSearchBlock, extract *blocks.ExtractContentBlock, wikipedia *blocks.WikipediaSummaryBlock, factCheck *blocks.FactCheckBlock) *WebComponent {
	return &WebComponent{
		search:    search,
		extract:   extract,
		wikipedia: wikipedia,
		factCheck: factCheck,
	}
}

func (c *WebComponent) Name() string { return "web" }

// Resources 声明互联网访问能力。
func (c *WebComponent) Resources(context.Context) ([]string, error) {
	return []string{"Internet access for searches and information gathering."}, nil
}

// Commands 返回网页检索命令。
func (c *WebComponent) Commands(context.Context) ([]agent.Command, error) {
	commands := []agent.Command{
		{
			Names:       []string{"web_search", "search"},
			Description: "Searches the web and returns the content of the top results.",
			Parameters: []llm.ParameterSpec{
				{Name: "query", Type: "string", Description: "The search query", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				query := agent.StringArg(args, "query")
				if query == "" {
					return nil, fmt.Errorf("query 参数不能为空")
				}
				return c.search.Search(ctx, query)
			},
		},
		{
			Names:       []string{"read_webpage", "extract_website_content"},
			Description: "Retrieves the content of a webpage in a form suitable for reading. Set raw to true to fetch the page as-is.",
			Parameters: []llm.ParameterSpec{
				{Name: "url", Type: "string", Description: "The URL to visit", Required: true},
				{Name: "raw", Type: "boolean", Description: "Fetch the raw page without readability conversion", Required: false},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				pageURL := agent.StringArg(args, "url")
				if pageURL == "" {
					return nil, fmt.Errorf("url 参数不能为空")
				}
				raw := agent.BoolArg(args, "raw", false)
				return c.extract.Extract(ctx, pageURL, raw)
			},
		},
		{
			Names:       []string{"wikipedia_summary", "get_wikipedia_summary"},
			Description: "Retrieves the Wikipedia summary of a given topic.",
			Parameters: []llm.ParameterSpec{
				{Name: "topic", Type: "string", Description: "The topic to look up", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				topic := agent.StringArg(args, "topic")
				if topic == "" {
					return nil, fmt.Errorf("topic 参数不能为空")
				}
				return c.wikipedia.Fetch(ctx, topic)
			},
		},
	}
	if c.factCheck != nil {
		commands = append(commands, agent.Command{
			Names:       []string{"fact_check", "fact_checker"},
			Description: "Checks a statement against the web and reports its factuality with reasoning.",
			Parameters: []llm.ParameterSpec{
				{Name: "statement", Type: "string", Description: "The statement to verify", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				statement := agent.StringArg(args, "statement")
				if statement == "" {
					return nil, fmt.Errorf("statement 参数不能为空")
				}
				result, err := c.factCheck.Check(ctx, statement)
				if err != nil {
					return nil, err
				}
				return fmt.Sprintf("Factuality %.2f, result %v. %s", result.Factuality, result.Result, result.Reason), nil
			},
		})
	}
	return commands, nil
}

var (
	_ agent.Component        = (*WebComponent)(nil)
	_ agent.ResourceProvider = (*WebComponent)(nil)
	_ agent.CommandProvider  = (*WebComponent)(nil)
)
