package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server       ServerConfig        `json:"server"`
	Auth         AuthConfig          `json:"auth"`
	LLM          LLMConfig           `json:"llm"`
	Agent        AgentConfig         `json:"agent"`
	Blocks       BlocksConfig        `json:"blocks"`
	Storage      StorageConfig       `json:"storage"`
	TaskQueue    TaskQueueConfig     `json:"task_queue"`
	Alerting     AlertingConfig      `json:"alerting"`
	Logging      LoggingConfig       `json:"logging"`
	Integrations []IntegrationConfig `json:"integrations"`
	Runtime      RuntimeConfig       `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// AuthConfig 描述认证模式及其参数。
type AuthConfig struct {
	Mode  string          `json:"mode"`
	Store DriverConfig    `json:"store"`
	JWT   JWTConfig       `json:"jwt"`
	OAuth OAuthConfig     `json:"oauth"`
	Seeds []AuthSeedEntry `json:"seeds"`
}

// JWTConfig 配置本地 JWT 签发。
type JWTConfig struct {
	Secret            string   `json:"secret"`
	Issuer            string   `json:"issuer"`
	Audience          []string `json:"audience"`
	AccessTTLSeconds  int64    `json:"access_ttl_seconds"`
	RefreshTTLSeconds int64    `json:"refresh_ttl_seconds"`
}

// OAuthConfig 配置委托给外部 OAuth2 提供方的认证。
type OAuthConfig struct {
	TokenURL         string   `json:"token_url"`
	IntrospectionURL string   `json:"introspection_url"`
	ClientID         string   `json:"client_id"`
	ClientSecret     string   `json:"client_secret"`
	Scopes           []string `json:"scopes"`
	TimeoutSeconds   int      `json:"timeout_seconds"`
	UsernameClaim    string   `json:"username_claim"`
}

// AuthSeedEntry 定义启动时初始化的账号。
type AuthSeedEntry struct {
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Disabled    bool     `json:"disabled"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string          `json:"provider"`
	OpenAI   OpenAIConfig    `json:"openai"`
	Command  CmdBridgeConfig `json:"command_bridge"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的调用参数。
type OpenAIConfig struct {
	APIKey         string  `json:"api_key"`
	BaseURL        string  `json:"base_url"`
	Model          string  `json:"model"`
	Temperature    float64 `json:"temperature"`
	TimeoutSeconds int     `json:"timeout_seconds"`
}

// CmdBridgeConfig 描述通过外部命令完成推理时所需的信息。
type CmdBridgeConfig struct {
	Executable string `json:"executable"`
	ScriptPath string `json:"script_path"`
	WorkingDir string `json:"working_dir"`
}

// AgentConfig 控制智能体循环的运行参数。
type AgentConfig struct {
	Profile          string           `json:"profile"`
	Model            string           `json:"model"`
	MaxCycles        int              `json:"max_cycles"`
	MaxParseAttempts int              `json:"max_parse_attempts"`
	SendTokenLimit   int              `json:"send_token_limit"`
	UseFunctions     bool             `json:"use_functions"`
	IncludeOSInfo    bool             `json:"include_os_info"`
	Components       ComponentToggles `json:"components"`
	Knowledge        KnowledgeConfig  `json:"knowledge"`
}

// KnowledgeConfig 指向静态知识库文件。
type KnowledgeConfig struct {
	Source     string `json:"source"`
	MaxResults int    `json:"max_results"`
}

// ComponentToggles 控制可选组件是否挂载。
type ComponentToggles struct {
	Web       bool `json:"web"`
	Weather   bool `json:"weather"`
	Social    bool `json:"social"`
	Knowledge bool `json:"knowledge"`
}

// BlocksConfig 汇总外部能力块的访问凭据。
type BlocksConfig struct {
	JinaAPIKey    string             `json:"jina_api_key"`
	WeatherAPIKey string             `json:"weather_api_key"`
	Twitter       TwitterConfig      `json:"twitter"`
	Cache         ResponseCacheEntry `json:"cache"`
}

// TwitterConfig 配置推文发布块。
type TwitterConfig struct {
	AccessToken string `json:"access_token"`
	BaseURL     string `json:"base_url"`
}

// ResponseCacheEntry 配置幂等请求的 Redis 响应缓存。
type ResponseCacheEntry struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	KeyPrefix  string `json:"key_prefix"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// StorageConfig 统一描述 MySQL 等后端的连接信息。
type StorageConfig struct {
	TaskStore    DriverConfig `json:"task_store"`
	EpisodeStore DriverConfig `json:"episode_store"`
	Credentials  DriverConfig `json:"credentials"`
}

// DriverConfig 选择存储驱动；memory 驱动忽略 DSN。
type DriverConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// TaskQueueConfig 选择任务队列实现及其参数。
type TaskQueueConfig struct {
	Driver     string         `json:"driver"`
	BufferSize int            `json:"buffer_size"`
	Workers    int            `json:"workers"`
	MaxRetries int            `json:"max_retries"`
	Redis      RedisEntry     `json:"redis"`
	RabbitMQ   RabbitMQConfig `json:"rabbitmq"`
}

// RedisEntry 描述 Redis 队列的连接参数。
type RedisEntry struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Queue    string `json:"queue"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// AlertingConfig 配置告警出口。
type AlertingConfig struct {
	LogEnabled bool   `json:"log_enabled"`
	WebhookURL string `json:"webhook_url"`
}

// LoggingConfig 映射到 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志输出。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// IntegrationConfig 描述一个外部 OAuth 提供方。
type IntegrationConfig struct {
	Name         string   `json:"name"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	AuthURL      string   `json:"auth_url"`
	TokenURL     string   `json:"token_url"`
	RedirectURL  string   `json:"redirect_url"`
	Scopes       []string `json:"scopes"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	if c.Auth.Store.Driver == "" {
		c.Auth.Store.Driver = "memory"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Command.Executable == "" {
		c.LLM.Command.Executable = "python3"
	}
	if c.LLM.Command.WorkingDir == "" {
		c.LLM.Command.WorkingDir = baseDir
	} else if !filepath.IsAbs(c.LLM.Command.WorkingDir) {
		c.LLM.Command.WorkingDir = filepath.Join(baseDir, c.LLM.Command.WorkingDir)
	}

	if c.Agent.MaxCycles <= 0 {
		c.Agent.MaxCycles = 25
	}
	if c.Agent.MaxParseAttempts <= 0 {
		c.Agent.MaxParseAttempts = 3
	}
	if c.Agent.SendTokenLimit <= 0 {
		c.Agent.SendTokenLimit = 8192
	}

	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Storage.EpisodeStore.Driver == "" {
		c.Storage.EpisodeStore.Driver = "memory"
	}
	if c.Storage.Credentials.Driver == "" {
		c.Storage.Credentials.Driver = "memory"
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.BufferSize <= 0 {
		c.TaskQueue.BufferSize = 64
	}
	if c.TaskQueue.Workers <= 0 {
		c.TaskQueue.Workers = 4
	}
	if c.TaskQueue.MaxRetries <= 0 {
		c.TaskQueue.MaxRetries = 3
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Agent.Knowledge.Source != "" && !filepath.IsAbs(c.Agent.Knowledge.Source) {
		c.Agent.Knowledge.Source = filepath.Join(baseDir, c.Agent.Knowledge.Source)
	}
	if c.Agent.Knowledge.MaxResults <= 0 {
		c.Agent.Knowledge.MaxResults = 3
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
