package mysql

import (
	"context"
	"encoding/json"
	"fmt"

	"OpenAgent-Loop/internal/components"
)

// EpisodeSink 将历史组件产出的回合转换为落库记录。
// 每个任务运行持有一个绑定了任务 ID 的实例。
type EpisodeSink struct {
	repo   EpisodeRepository
	taskID string
}

// NewEpisodeSink 创建绑定到指定任务的回合写入器。
func NewEpisodeSink(repo EpisodeRepository, taskID string) *EpisodeSink {
	return &EpisodeSink{repo: repo, taskID: taskID}
}

// SaveEpisode 实现 components.EpisodeSink。
func (s *EpisodeSink) SaveEpisode(ctx context.Context, episode components.Episode) error {
	if s == nil || s.repo == nil {
		return nil
	}

	record := EpisodeRecord{
		TaskID:    s.taskID,
		Cycle:     int64(episode.Cycle),
		CreatedAt: episode.CreatedAt.Unix(),
		UpdatedAt: episode.CreatedAt.Unix(),
	}
	if episode.Proposal != nil {
		record.Command = episode.Proposal.CommandName
		record.Thought = episode.Proposal.Thoughts.Text
		record.Speak = episode.Proposal.Thoughts.Speak
		if len(episode.Proposal.CommandArgs) > 0 {
			encoded, err := json.Marshal(episode.Proposal.CommandArgs)
			if err != nil {
				return fmt.Errorf("序列化命令参数失败: %w", err)
			}
			record.Args = string(encoded)
		}
	}
	if episode.Result != nil {
		record.Status = string(episode.Result.Status)
		record.Output = episode.Result.String()
	}

	if err := s.repo.Create(ctx, &record); err != nil {
		return fmt.Errorf("保存回合失败: %w", err)
	}
	return nil
}
