package integrations

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "OpenAgent-Loop/internal/errors"
	"OpenAgent-Loop/pkg/logger"
)

const defaultStateTTL = 10 * time.Minute

// Manager 管理外部提供方的 OAuth 授权流程与凭据生命周期。
// 登录链接携带一次性的 state，回调时校验后用授权码换取令牌。
type Manager struct {
	providers map[string]Provider
	store     Store
	client    *http.Client
	stateTTL  time.Duration

	mu      sync.Mutex
	pending map[string]pendingState
	now     func() time.Time
}

type pendingState struct {
	provider  string
	createdAt time.Time
}

// ManagerOption 配置 Manager 的可选参数。
type ManagerOption func(*Manager)

// WithHTTPClient 替换底层 HTTP 客户端，主要用于测试。
func WithHTTPClient(client *http.Client) ManagerOption {
	return func(m *Manager) {
		if client != nil {
			m.client = client
		}
	}
}

// WithStateTTL 调整 state 的有效期。
func WithStateTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.stateTTL = ttl
		}
	}
}

// NewManager 根据提供方配置创建授权管理器。
func NewManager(providers []Provider, store Store, opts ...ManagerOption) *Manager {
	manager := &Manager{
		providers: make(map[string]Provider, len(providers)),
		store:     store,
		client:    &http.Client{Timeout: 15 * time.Second},
		stateTTL:  defaultStateTTL,
		pending:   make(map[string]pendingState),
		now:       time.Now,
	}
	for _, provider := range providers {
		name := strings.ToLower(strings.TrimSpace(provider.Name))
		if name == "" {
			continue
		}
		provider.Name = name
		manager.providers[name] = provider
	}
	for _, opt := range opts {
		opt(manager)
	}
	return manager
}

// Providers 返回已配置的提供方名称。
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	return names
}

// LoginURL 生成指定提供方的授权跳转地址和一次性 state。
func (m *Manager) LoginURL(provider string) (string, string, error) {
	cfg, ok := m.providers[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return "", "", ErrUnknownProvider
	}

	state := uuid.NewString()
	m.mu.Lock()
	m.pending[state] = pendingState{provider: cfg.Name, createdAt: m.now()}
	m.pruneLocked()
	m.mu.Unlock()

	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", cfg.ClientID)
	query.Set("state", state)
	if cfg.RedirectURL != "" {
		query.Set("redirect_uri", cfg.RedirectURL)
	}
	if len(cfg.Scopes) > 0 {
		query.Set("scope", strings.Join(cfg.Scopes, " "))
	}

	separator := "?"
	if strings.Contains(cfg.AuthURL, "?") {
		separator = "&"
	}
	return cfg.AuthURL + separator + query.Encode(), state, nil
}

// HandleCallback 校验 state 并用授权码换取令牌，成功后落库返回凭据。
func (m *Manager) HandleCallback(ctx context.Context, provider, code, state string) (*Credential, error) {
	cfg, ok := m.providers[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil, ErrUnknownProvider
	}
	if strings.TrimSpace(code) == "" {
		return nil, xerrors.New(CodeIntegrationExchange, "authorization code missing")
	}

	m.mu.Lock()
	pending, ok := m.pending[state]
	if ok {
		delete(m.pending, state)
	}
	m.mu.Unlock()
	if !ok || pending.provider != cfg.Name || m.now().Sub(pending.createdAt) > m.stateTTL {
		return nil, ErrStateMismatch
	}

	token, err := m.exchangeCode(ctx, cfg, code)
	if err != nil {
		return nil, err
	}

	now := m.now()
	credential := Credential{
		ID:           uuid.NewString(),
		Provider:     cfg.Name,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Scope:        token.Scope,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if token.ExpiresIn > 0 {
		credential.ExpiresAt = now.Unix() + token.ExpiresIn
	}
	if m.store != nil {
		if err := m.store.SaveCredential(ctx, credential); err != nil {
			return nil, xerrors.Wrap(CodeIntegrationStorage, err, "保存凭据失败")
		}
	}

	logger.Audit().Info("集成授权完成",
		slog.String("provider", cfg.Name),
		slog.String("credential_id", credential.ID),
		slog.String("scope", credential.Scope),
	)
	return &credential, nil
}

// GetCredential 返回指定凭据。
func (m *Manager) GetCredential(ctx context.Context, id string) (*Credential, error) {
	if m.store == nil {
		return nil, ErrCredentialNotFound
	}
	return m.store.GetCredential(ctx, id)
}

// ListCredentials 返回指定提供方的凭据，provider 为空时返回全部。
func (m *Manager) ListCredentials(ctx context.Context, provider string) ([]Credential, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.ListCredentials(ctx, strings.ToLower(strings.TrimSpace(provider)))
}

// DeleteCredential 撤销并删除凭据。
func (m *Manager) DeleteCredential(ctx context.Context, id string) error {
	if m.store == nil {
		return ErrCredentialNotFound
	}
	if err := m.store.DeleteCredential(ctx, id); err != nil {
		return err
	}
	logger.Audit().Info("集成凭据已删除", slog.String("credential_id", id))
	return nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

func (m *Manager) exchangeCode(ctx context.Context, cfg Provider, code string) (*tokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	if cfg.RedirectURL != "" {
		form.Set("redirect_uri", cfg.RedirectURL)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, xerrors.Wrap(CodeIntegrationExchange, err, "构造令牌请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cfg.ClientID != "" {
		httpReq.SetBasicAuth(cfg.ClientID, cfg.ClientSecret)
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, xerrors.Wrap(CodeIntegrationExchange, err, "令牌交换请求失败")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, xerrors.New(CodeIntegrationExchange, fmt.Sprintf("令牌交换失败: %s", resp.Status))
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, xerrors.Wrap(CodeIntegrationExchange, err, "解析令牌响应失败")
	}
	if token.AccessToken == "" {
		return nil, xerrors.New(CodeIntegrationExchange, "令牌响应缺少 access_token")
	}
	return &token, nil
}

// pruneLocked 清理过期的 state，调用方需持有锁。
func (m *Manager) pruneLocked() {
	cutoff := m.now().Add(-m.stateTTL)
	for state, pending := range m.pending {
		if pending.createdAt.Before(cutoff) {
			delete(m.pending, state)
		}
	}
}
