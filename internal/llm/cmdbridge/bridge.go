package cmdbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"OpenAgent-Loop/internal/llm"
)

// Client 通过调用本地脚本实现大模型推理，适用于离线演示或接入
// 自托管模型的场景。脚本从标准输入读取对话 JSON，向标准输出写回
// {"content": string} 或 {"command": {"name": ..., "arguments": {...}}}。
type Client struct {
	execPath   string
	scriptPath string
	workingDir string
}

// NewClient 创建脚本桥接客户端。
func NewClient(execPath, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("未指定桥接脚本路径")
	}
	if execPath == "" {
		execPath = "python3"
	}
	return &Client{
		execPath:   execPath,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

// CreateChatCompletion 调用外部脚本，并解析输出。
func (c *Client) CreateChatCompletion(ctx context.Context, req llm.Request) (*llm.RawResponse, error) {
	payload := map[string]any{
		"model":     req.Model,
		"messages":  req.Messages,
		"functions": req.Functions,
		"timestamp": time.Now().Unix(),
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, c.execPath, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("执行桥接脚本失败: %v, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}

	var resp struct {
		Content string `json:"content"`
		Command *struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		} `json:"command"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("解析脚本输出失败: %w", err)
	}

	raw := &llm.RawResponse{Content: strings.TrimSpace(resp.Content)}
	if resp.Command != nil {
		raw.FunctionCall = &llm.FunctionCall{
			Name:      resp.Command.Name,
			Arguments: resp.Command.Arguments,
		}
	}
	return raw, nil
}

// CountTokens 返回文本的 token 估算值。
func (c *Client) CountTokens(text string) int {
	return llm.EstimateTokens(text)
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}
