package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"OpenAgent-Loop/internal/auth"
	xerrors "OpenAgent-Loop/internal/errors"
	"OpenAgent-Loop/internal/integrations"
	"OpenAgent-Loop/internal/observability/metrics"
	"OpenAgent-Loop/internal/storage/mysql"
	"OpenAgent-Loop/internal/task"
)

// EpisodeLister 提供按任务维度查询回合的只读能力。
type EpisodeLister interface {
	ListByTask(ctx context.Context, taskID string) ([]mysql.EpisodeRecord, error)
}

// Middleware 包装 HTTP 处理器，供认证等横切逻辑接入。
type Middleware func(http.Handler) http.Handler

// Server 负责暴露 REST 接口，供外部提交与查询智能体任务。
type Server struct {
	addr         string
	tasks        *task.Service
	integrations *integrations.Manager
	episodes     EpisodeLister
	auth         *auth.Service
	middlewares  []Middleware
}

// Option 配置 Server 的可选能力。
type Option func(*Server)

// WithIntegrations 挂载集成授权路由。
func WithIntegrations(manager *integrations.Manager) Option {
	return func(s *Server) { s.integrations = manager }
}

// WithEpisodes 挂载任务回合查询路由。
func WithEpisodes(lister EpisodeLister) Option {
	return func(s *Server) { s.episodes = lister }
}

// WithAuth 挂载令牌签发路由。令牌路由不经过保护中间件。
func WithAuth(service *auth.Service) Option {
	return func(s *Server) { s.auth = service }
}

// WithMiddleware 在路由外层追加中间件，按传入顺序由外向内生效。
func WithMiddleware(middlewares ...Middleware) Option {
	return func(s *Server) { s.middlewares = append(s.middlewares, middlewares...) }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, tasks *task.Service, opts ...Option) *Server {
	server := &Server{addr: addr, tasks: tasks}
	for _, opt := range opts {
		opt(server)
	}
	return server
}

// Handler 组装完整的路由表。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/tasks", instrument("tasks", http.HandlerFunc(s.handleTasks)))
	mux.Handle("/api/v1/tasks/", instrument("task_detail", http.HandlerFunc(s.handleTaskDetail)))
	mux.Handle("/api/v1/stats", instrument("stats", http.HandlerFunc(s.handleStats)))
	if s.integrations != nil {
		mux.Handle("/api/v1/integrations/", instrument("integrations", http.HandlerFunc(s.handleIntegrations)))
	}

	var protected http.Handler = mux
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		protected = s.middlewares[i](protected)
	}

	// 令牌签发与指标暴露不受保护中间件约束。
	root := http.NewServeMux()
	if s.auth != nil && s.auth.Mode() != auth.ModeDisabled {
		root.Handle("/api/v1/auth/token", instrument("auth_token", http.HandlerFunc(s.handleAuthToken)))
	}
	root.Handle("/metrics", metrics.Handler())
	root.Handle("/", protected)
	return root
}

// handleAuthToken 用用户名密码换取访问令牌。
func (s *Server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	var req auth.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	pair, err := s.auth.Authenticate(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			http.Error(w, "用户名或密码错误", http.StatusUnauthorized)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitTask(w, r)
	case http.MethodGet:
		s.handleListTasks(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleSubmitTask 接收任务目标并入队执行。
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req task.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	created, err := s.tasks.Submit(r.Context(), req)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts, err := listOptionsFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tasks, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// handleTaskDetail 返回单个任务，或在 /episodes 子路径下返回其回合。
func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	taskID := rest
	wantEpisodes := false
	if strings.HasSuffix(rest, "/episodes") {
		taskID = strings.TrimSuffix(rest, "/episodes")
		wantEpisodes = true
	}
	taskID = strings.Trim(taskID, "/")
	if taskID == "" || strings.Contains(taskID, "/") {
		http.Error(w, "任务 ID 缺失", http.StatusBadRequest)
		return
	}

	if wantEpisodes {
		s.handleTaskEpisodes(w, r, taskID)
		return
	}

	if s.tasks == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}
	found, err := s.tasks.Get(r.Context(), taskID)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleTaskEpisodes(w http.ResponseWriter, r *http.Request, taskID string) {
	if s.episodes == nil {
		http.Error(w, "回合存储未启用", http.StatusNotFound)
		return
	}
	records, err := s.episodes.ListByTask(r.Context(), taskID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []mysql.EpisodeRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.tasks == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}
	stats, err := s.tasks.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleIntegrations 分发集成授权相关路由：
//
//	GET    /api/v1/integrations/{provider}/login
//	GET    /api/v1/integrations/{provider}/callback?code=&state=
//	GET    /api/v1/integrations/credentials?provider=
//	GET    /api/v1/integrations/credentials/{id}
//	DELETE /api/v1/integrations/credentials/{id}
func (s *Server) handleIntegrations(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/integrations/"), "/")
	parts := strings.Split(rest, "/")

	if parts[0] == "credentials" {
		s.handleCredentials(w, r, parts[1:])
		return
	}
	if len(parts) != 2 {
		http.Error(w, "未知的集成路由", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}

	provider, action := parts[0], parts[1]
	switch action {
	case "login":
		loginURL, state, err := s.integrations.LoginURL(provider)
		if err != nil {
			writeIntegrationError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": loginURL, "state": state})
	case "callback":
		query := r.URL.Query()
		credential, err := s.integrations.HandleCallback(r.Context(), provider, query.Get("code"), query.Get("state"))
		if err != nil {
			writeIntegrationError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, credentialView(*credential))
	default:
		http.Error(w, "未知的集成路由", http.StatusNotFound)
	}
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 || parts[0] == "":
		if r.Method != http.MethodGet {
			http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
			return
		}
		credentials, err := s.integrations.ListCredentials(r.Context(), r.URL.Query().Get("provider"))
		if err != nil {
			writeIntegrationError(w, err)
			return
		}
		views := make([]credentialSummary, 0, len(credentials))
		for _, credential := range credentials {
			views = append(views, credentialView(credential))
		}
		writeJSON(w, http.StatusOK, views)
	case len(parts) == 1:
		id := parts[0]
		switch r.Method {
		case http.MethodGet:
			credential, err := s.integrations.GetCredential(r.Context(), id)
			if err != nil {
				writeIntegrationError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, credentialView(*credential))
		case http.MethodDelete:
			if err := s.integrations.DeleteCredential(r.Context(), id); err != nil {
				writeIntegrationError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "仅支持 GET/DELETE", http.StatusMethodNotAllowed)
		}
	default:
		http.Error(w, "未知的集成路由", http.StatusNotFound)
	}
}

// credentialSummary 是凭据的对外视图，不携带令牌本体。
type credentialSummary struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	Scope     string `json:"scope,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

func credentialView(credential integrations.Credential) credentialSummary {
	return credentialSummary{
		ID:        credential.ID,
		Provider:  credential.Provider,
		Scope:     credential.Scope,
		ExpiresAt: credential.ExpiresAt,
		CreatedAt: credential.CreatedAt.Unix(),
	}
}

func listOptionsFromQuery(r *http.Request) ([]task.ListOption, error) {
	query := r.URL.Query()
	var opts []task.ListOption

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, errors.New("limit 参数无效")
		}
		opts = append(opts, task.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, errors.New("offset 参数无效")
		}
		opts = append(opts, task.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []task.Status
		for _, value := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(value))
			if !task.IsValidStatus(status) {
				return nil, errors.New("status 参数无效")
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := query.Get("has_result"); raw != "" {
		hasResult, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errors.New("has_result 参数无效")
		}
		opts = append(opts, task.WithResultPresence(hasResult))
	}
	if raw := query.Get("order"); raw != "" {
		switch raw {
		case "asc":
			opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
		case "desc":
			opts = append(opts, task.WithSortOrder(task.SortByUpdatedDesc))
		default:
			return nil, errors.New("order 参数无效")
		}
	}
	if raw := query.Get("q"); raw != "" {
		opts = append(opts, task.WithQuery(raw))
	}
	return opts, nil
}

func writeTaskError(w http.ResponseWriter, err error) {
	switch xerrors.CodeOf(err) {
	case task.CodeTaskNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case task.CodeTaskValidation:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case task.CodeTaskConflict:
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeIntegrationError(w http.ResponseWriter, err error) {
	switch xerrors.CodeOf(err) {
	case integrations.CodeIntegrationUnknownProvider, integrations.CodeIntegrationNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case integrations.CodeIntegrationStateMismatch:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case integrations.CodeIntegrationExchange:
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// instrument 记录每个路由的请求量与耗时。
func instrument(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.ObserveHTTPRequest(handler, r.Method, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
