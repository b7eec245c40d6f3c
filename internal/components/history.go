package components

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"OpenAgent-Loop/internal/agent"
	"OpenAgent-Loop/internal/llm"
)

// Episode 记录一次完整的"提议-执行"回合。
type Episode struct {
	Cycle     int
	Proposal  *llm.Proposal
	Result    *agent.ActionResult
	CreatedAt time.Time
}

// EpisodeSink 将回合持久化到外部存储。历史组件在每次执行结束后
// 调用一次，失败会中止当前循环。
type EpisodeSink interface {
	SaveEpisode(ctx context.Context, episode Episode) error
}

// EventHistoryComponent 维护运行内的回合历史，并将最近的回合渲染为
// 上下文消息注入提示词。
type EventHistoryComponent struct {
	mu          sync.Mutex
	episodes    []Episode
	pending     *Episode
	maxMessages int
	sink        EpisodeSink
}

// HistoryOption 配置历史组件。
type HistoryOption func(*EventHistoryComponent)

// WithEpisodeSink 启用回合持久化。
func WithEpisodeSink(sink EpisodeSink) HistoryOption {
	return func(c *EventHistoryComponent) { c.sink = sink }
}

// WithMaxHistoryMessages 限制注入提示词的最大回合数。
func WithMaxHistoryMessages(n int) HistoryOption {
	return func(c *EventHistoryComponent) {
		if n > 0 {
			c.maxMessages = n
		}
	}
}

// NewEventHistoryComponent 创建历史组件。
func NewEventHistoryComponent(opts ...HistoryOption) *EventHistoryComponent {
	c := &EventHistoryComponent{maxMessages: 20}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *EventHistoryComponent) Name() string { return "event_history" }

// Messages 把最近的回合渲染为 assistant/system 消息对。
func (c *EventHistoryComponent) Messages(context.Context) ([]llm.ChatMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	episodes := c.episodes
	if len(episodes) > c.maxMessages {
		episodes = episodes[len(episodes)-c.maxMessages:]
	}

	messages := make([]llm.ChatMessage, 0, len(episodes)*2)
	for _, episode := range episodes {
		messages = append(messages, llm.AssistantMessage(renderProposal(episode.Proposal)))
		if episode.Result != nil {
			messages = append(messages, llm.SystemMessage(episode.Result.String()))
		}
	}
	return messages, nil
}

// AfterParsing 打开一个新回合。同一循环内的后续执行结果归属该回合。
func (c *EventHistoryComponent) AfterParsing(_ context.Context, proposal *llm.Proposal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = &Episode{
		Cycle:     len(c.episodes) + 1,
		Proposal:  proposal,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

// AfterExecution 关闭当前回合并持久化。
func (c *EventHistoryComponent) AfterExecution(ctx context.Context, result *agent.ActionResult) error {
	c.mu.Lock()
	if c.pending == nil {
		// 没有进行中的回合（执行来自外部直接调用），按孤立回合记录。
		c.pending = &Episode{Cycle: len(c.episodes) + 1, CreatedAt: time.Now().UTC()}
	}
	episode := *c.pending
	episode.Result = result
	c.episodes = append(c.episodes, episode)
	c.pending = nil
	sink := c.sink
	c.mu.Unlock()

	if sink != nil {
		if err := sink.SaveEpisode(ctx, episode); err != nil {
			return fmt.Errorf("持久化回合失败: %w", err)
		}
	}
	return nil
}

// Episodes 返回历史回合的副本。
func (c *EventHistoryComponent) Episodes() []Episode {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Episode, len(c.episodes))
	copy(out, c.episodes)
	return out
}

func renderProposal(proposal *llm.Proposal) string {
	if proposal == nil {
		return "(no proposal)"
	}
	payload := map[string]any{
		"thoughts": proposal.Thoughts,
		"command": map[string]any{
			"name": proposal.CommandName,
			"args": proposal.CommandArgs,
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("executed %s", proposal.CommandName)
	}
	return string(encoded)
}

var (
	_ agent.Component        = (*EventHistoryComponent)(nil)
	_ agent.MessageProvider  = (*EventHistoryComponent)(nil)
	_ agent.ProposalObserver = (*EventHistoryComponent)(nil)
	_ agent.ResultObserver   = (*EventHistoryComponent)(nil)
)
