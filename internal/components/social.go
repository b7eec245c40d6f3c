package components

import (
	"context"
	"fmt"

	"OpenAgent-Loop/internal/agent"
	"OpenAgent-Loop/internal/blocks"
	"OpenAgent-Loop/internal/llm"
)

// SocialComponent 提供社交发布命令。
type SocialComponent struct {
	tweet *blocks.TweetBlock
}

// NewSocialComponent 创建社交组件。
func NewSocialComponent(tweet *blocks.TweetBlock) *SocialComponent {
	return &SocialComponent{tweet: tweet}
}

func (c *SocialComponent) Name() string { return "social" }

// Commands 返回 post_tweet 命令。
func (c *SocialComponent) Commands(context.Context) ([]agent.Command, error) {
	return []agent.Command{
		{
			Names:       []string{"post_tweet", "create_tweet"},
			Description: "Creates a tweet with the given content. Content longer than 255 characters is truncated.",
			Parameters: []llm.ParameterSpec{
				{Name: "content", Type: "string", Description: "The content of the tweet", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				content := agent.StringArg(args, "content")
				if content == "" {
					return nil, fmt.Errorf("content 参数不能为空")
				}
				id, err := c.tweet.Post(ctx, content)
				if err != nil {
					return nil, err
				}
				return fmt.Sprintf("Tweet posted with id %s", id), nil
			},
		},
	}, nil
}

var (
	_ agent.Component       = (*SocialComponent)(nil)
	_ agent.CommandProvider = (*SocialComponent)(nil)
)
