package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"OpenAgent-Loop/internal/agent"
	"OpenAgent-Loop/internal/api"
	"OpenAgent-Loop/internal/auth"
	"OpenAgent-Loop/internal/blocks"
	"OpenAgent-Loop/internal/components"
	"OpenAgent-Loop/internal/config"
	"OpenAgent-Loop/internal/integrations"
	"OpenAgent-Loop/internal/knowledge"
	"OpenAgent-Loop/internal/llm"
	"OpenAgent-Loop/internal/llm/cmdbridge"
	"OpenAgent-Loop/internal/llm/openai"
	"OpenAgent-Loop/internal/observability/alerting"
	"OpenAgent-Loop/internal/observability/metrics"
	"OpenAgent-Loop/internal/prompt"
	"OpenAgent-Loop/internal/run"
	"OpenAgent-Loop/internal/storage/mysql"
	"OpenAgent-Loop/internal/storage/redis"
	"OpenAgent-Loop/internal/task"
	"OpenAgent-Loop/pkg/logger"
)

// main 是 OpenAgent 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runDaemon(ctx); err != nil {
		log.Fatalf("openagentd 运行失败: %v", err)
	}
}

func runDaemon(ctx context.Context) error {
	configPath := os.Getenv("OPENAGENT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "openagent.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	taskStore, err := createTaskStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if taskStore != nil {
			_ = taskStore.Close()
		}
	}()

	episodeRepo, err := createEpisodeRepository(ctx, cfg, dataDir)
	if err != nil {
		return err
	}
	if closer, ok := episodeRepo.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	taskQueue, err := createTaskQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if taskQueue != nil {
			if err := taskQueue.Close(); err != nil {
				logger.L().Warn("关闭任务队列失败", "error", err)
			}
		}
	}()

	executor, err := newAgentExecutor(cfg, llmClient, episodeRepo)
	if err != nil {
		return err
	}

	taskService := task.NewService(taskStore, taskQueue, cfg.TaskQueue.MaxRetries)
	processor := task.NewProcessor(executor, taskStore, taskQueue, taskQueue,
		task.WithWorkerCount(cfg.TaskQueue.Workers),
		task.WithAlertDispatcher(createAlertDispatcher(cfg)),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("任务处理器异常退出", "error", err)
		}
	}()

	authService, err := createAuthService(ctx, cfg)
	if err != nil {
		return err
	}

	serverOpts := []api.Option{
		api.WithEpisodes(episodeRepo),
		api.WithAuth(authService),
		api.WithMiddleware(authService.Middleware(auth.MiddlewareConfig{
			RequiredPermissions: map[string][]string{
				"POST":   {auth.PermissionTasksWrite},
				"DELETE": {auth.PermissionTasksWrite},
			},
			AuditEvent: "api.request",
		})),
	}

	if len(cfg.Integrations) > 0 {
		credentialStore, err := createCredentialStore(ctx, cfg)
		if err != nil {
			return err
		}
		providers := make([]integrations.Provider, 0, len(cfg.Integrations))
		for _, entry := range cfg.Integrations {
			providers = append(providers, integrations.Provider{
				Name:         entry.Name,
				ClientID:     entry.ClientID,
				ClientSecret: entry.ClientSecret,
				AuthURL:      entry.AuthURL,
				TokenURL:     entry.TokenURL,
				RedirectURL:  entry.RedirectURL,
				Scopes:       entry.Scopes,
			})
		}
		serverOpts = append(serverOpts, api.WithIntegrations(integrations.NewManager(providers, credentialStore)))
	}

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", "error", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, taskService, serverOpts...)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" {
			apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		}
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key")
		}
		return openai.NewClient(openai.Config{
			APIKey:      apiKey,
			BaseURL:     cfg.LLM.OpenAI.BaseURL,
			Model:       cfg.LLM.OpenAI.Model,
			Temperature: cfg.LLM.OpenAI.Temperature,
			Timeout:     time.Duration(cfg.LLM.OpenAI.TimeoutSeconds) * time.Second,
		})
	case "command":
		return cmdbridge.NewClient(cfg.LLM.Command.Executable, cfg.LLM.Command.ScriptPath, cfg.LLM.Command.WorkingDir)
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func createTaskStore(cfg *config.Config) (task.Store, error) {
	switch cfg.Storage.TaskStore.Driver {
	case "", "memory":
		return task.NewMemoryStore(), nil
	case "mysql":
		return task.NewMySQLStore(cfg.Storage.TaskStore.DSN)
	default:
		return nil, mysql.ErrUnsupportedDriver
	}
}

func createEpisodeRepository(ctx context.Context, cfg *config.Config, dataDir string) (mysql.EpisodeRepository, error) {
	switch cfg.Storage.EpisodeStore.Driver {
	case "", "memory":
		return mysql.NewMemoryEpisodeRepository(dataDir)
	case "mysql":
		return mysql.NewSQLEpisodeRepository(ctx, mysql.Config{DSN: cfg.Storage.EpisodeStore.DSN})
	default:
		return nil, mysql.ErrUnsupportedDriver
	}
}

func createCredentialStore(ctx context.Context, cfg *config.Config) (integrations.Store, error) {
	switch cfg.Storage.Credentials.Driver {
	case "", "memory":
		return integrations.NewMemoryStore(), nil
	case "mysql":
		return mysql.NewCredentialStore(ctx, mysql.Config{DSN: cfg.Storage.Credentials.DSN})
	default:
		return nil, mysql.ErrUnsupportedDriver
	}
}

func createTaskQueue(cfg *config.Config) (task.Queue, error) {
	switch cfg.TaskQueue.Driver {
	case "", "memory":
		return task.NewMemoryQueue(cfg.TaskQueue.BufferSize), nil
	case "redis":
		return task.NewRedisQueue(task.RedisQueueConfig{
			Address:  cfg.TaskQueue.Redis.Address,
			Password: cfg.TaskQueue.Redis.Password,
			DB:       cfg.TaskQueue.Redis.DB,
			Queue:    cfg.TaskQueue.Redis.Queue,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.TaskQueue.RabbitMQ.URL,
			Queue:      cfg.TaskQueue.RabbitMQ.Queue,
			Prefetch:   cfg.TaskQueue.RabbitMQ.Prefetch,
			Durable:    cfg.TaskQueue.RabbitMQ.Durable,
			AutoDelete: cfg.TaskQueue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.TaskQueue.Driver)
	}
}

func createAlertDispatcher(cfg *config.Config) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Alerting.LogEnabled {
		notifiers = append(notifiers, &alerting.LogNotifier{})
	}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}
	return alerting.NewFanout(notifiers...)
}

func createAuthService(ctx context.Context, cfg *config.Config) (*auth.Service, error) {
	seeds := make([]auth.Seed, 0, len(cfg.Auth.Seeds))
	for _, seed := range cfg.Auth.Seeds {
		seeds = append(seeds, auth.Seed{
			Username:    seed.Username,
			Password:    seed.Password,
			Roles:       seed.Roles,
			Permissions: seed.Permissions,
			Disabled:    seed.Disabled,
		})
	}

	var store auth.Store
	if auth.Mode(cfg.Auth.Mode) != auth.ModeDisabled {
		switch cfg.Auth.Store.Driver {
		case "", "memory":
			memStore, err := auth.NewMemoryStore(nil)
			if err != nil {
				return nil, err
			}
			store = memStore
		case "mysql":
			sqlStore, err := mysql.NewSQLAuthStore(ctx, mysql.Config{DSN: cfg.Auth.Store.DSN})
			if err != nil {
				return nil, err
			}
			store = sqlStore
		default:
			return nil, mysql.ErrUnsupportedDriver
		}
	}

	return auth.NewService(ctx, auth.Config{
		Mode: auth.Mode(cfg.Auth.Mode),
		JWT: auth.JWTOptions{
			Secret:     cfg.Auth.JWT.Secret,
			Issuer:     cfg.Auth.JWT.Issuer,
			Audience:   cfg.Auth.JWT.Audience,
			AccessTTL:  cfg.Auth.JWT.AccessTTLSeconds,
			RefreshTTL: cfg.Auth.JWT.RefreshTTLSeconds,
		},
		OAuth: auth.OAuthOptions{
			TokenURL:         cfg.Auth.OAuth.TokenURL,
			IntrospectionURL: cfg.Auth.OAuth.IntrospectionURL,
			ClientID:         cfg.Auth.OAuth.ClientID,
			ClientSecret:     cfg.Auth.OAuth.ClientSecret,
			Scopes:           cfg.Auth.OAuth.Scopes,
			TimeoutSeconds:   cfg.Auth.OAuth.TimeoutSeconds,
			UsernameClaim:    cfg.Auth.OAuth.UsernameClaim,
		},
		Seeds: seeds,
	}, store)
}

// agentExecutor 为每个任务组装一套组件并驱动完整的提议-执行循环。
type agentExecutor struct {
	cfg       *config.Config
	llm       llm.Client
	episodes  mysql.EpisodeRepository
	knowledge knowledge.Provider

	search    *blocks.WebSearchBlock
	extract   *blocks.ExtractContentBlock
	wikipedia *blocks.WikipediaSummaryBlock
	factCheck *blocks.FactCheckBlock
	weather   *blocks.WeatherBlock
	tweet     *blocks.TweetBlock
}

func newAgentExecutor(cfg *config.Config, llmClient llm.Client, episodes mysql.EpisodeRepository) (*agentExecutor, error) {
	var httpOpts []blocks.HTTPOption
	if cfg.Blocks.Cache.Enabled {
		cache, err := redis.NewCache(redis.CacheConfig{
			Address:   cfg.Blocks.Cache.Address,
			Password:  cfg.Blocks.Cache.Password,
			DB:        cfg.Blocks.Cache.DB,
			KeyPrefix: cfg.Blocks.Cache.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		ttl := time.Duration(cfg.Blocks.Cache.TTLSeconds) * time.Second
		httpOpts = append(httpOpts, blocks.WithCache(cache, ttl))
	}
	httpClient := blocks.NewHTTPClient(httpOpts...)

	executor := &agentExecutor{
		cfg:       cfg,
		llm:       llmClient,
		episodes:  episodes,
		search:    &blocks.WebSearchBlock{HTTP: httpClient},
		extract:   &blocks.ExtractContentBlock{HTTP: httpClient},
		wikipedia: &blocks.WikipediaSummaryBlock{HTTP: httpClient},
		factCheck: &blocks.FactCheckBlock{APIKey: cfg.Blocks.JinaAPIKey, HTTP: httpClient},
		weather:   &blocks.WeatherBlock{APIKey: cfg.Blocks.WeatherAPIKey, HTTP: httpClient},
		tweet: &blocks.TweetBlock{
			BaseURL:     cfg.Blocks.Twitter.BaseURL,
			AccessToken: cfg.Blocks.Twitter.AccessToken,
			HTTP:        httpClient,
		},
	}

	if cfg.Agent.Components.Knowledge && cfg.Agent.Knowledge.Source != "" {
		provider, err := knowledge.LoadStaticProvider(cfg.Agent.Knowledge.Source, cfg.Agent.Knowledge.MaxResults)
		if err != nil {
			return nil, err
		}
		executor.knowledge = provider
	}
	return executor, nil
}

// Execute 跑完一次智能体循环并把结局折叠为任务结果。
func (e *agentExecutor) Execute(ctx context.Context, req task.Request) (*task.ExecutionResult, error) {
	profile := req.Profile
	if profile == "" {
		profile = e.cfg.Agent.Profile
	}

	ag, err := agent.New(agent.Settings{
		Task:             req.Goal,
		Profile:          profile,
		Model:            e.cfg.Agent.Model,
		MaxParseAttempts: e.cfg.Agent.MaxParseAttempts,
		SendTokenLimit:   e.cfg.Agent.SendTokenLimit,
		UseFunctions:     e.cfg.Agent.UseFunctions,
		IncludeOSInfo:    e.cfg.Agent.IncludeOSInfo,
	}, e.llm, prompt.NewOneShot(), e.buildComponents(req))
	if err != nil {
		return nil, err
	}

	maxCycles := req.MaxCycles
	if maxCycles <= 0 {
		maxCycles = e.cfg.Agent.MaxCycles
	}
	runner, err := run.NewRunner(ag, maxCycles)
	if err != nil {
		return nil, err
	}

	result, err := runner.Run(ctx)
	if err != nil {
		return nil, err
	}

	execution := &task.ExecutionResult{
		Outcome: string(result.Outcome),
		Summary: result.Summary,
		Cycles:  result.Cycles,
	}
	if n := len(result.Proposals); n > 0 {
		execution.LastCommand = result.Proposals[n-1].Command
	}
	if result.LastResult != nil {
		execution.Output = result.LastResult.String()
	}
	return execution, nil
}

func (e *agentExecutor) buildComponents(req task.Request) []agent.Component {
	toggles := e.cfg.Agent.Components
	comps := []agent.Component{components.NewSystemComponent()}

	if toggles.Web {
		comps = append(comps, components.NewWebComponent(e.search, e.extract, e.wikipedia, e.factCheck))
	}
	if toggles.Weather {
		comps = append(comps, components.NewWeatherComponent(e.weather))
	}
	if toggles.Social {
		comps = append(comps, components.NewSocialComponent(e.tweet))
	}
	if toggles.Knowledge && e.knowledge != nil {
		comps = append(comps, components.NewKnowledgeComponent(e.knowledge, req.Goal))
	}

	historyOpts := []components.HistoryOption{}
	if e.episodes != nil {
		historyOpts = append(historyOpts, components.WithEpisodeSink(mysql.NewEpisodeSink(e.episodes, req.ID)))
	}
	comps = append(comps, components.NewEventHistoryComponent(historyOpts...))
	return comps
}
