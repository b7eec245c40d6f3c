package integrations

import (
	"context"
	"time"

	xerrors "OpenAgent-Loop/internal/errors"
)

// Provider 描述一个外部 OAuth 提供方的接入参数。
type Provider struct {
	Name         string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	Scopes       []string
}

// Credential 表示一次授权成功后保存的凭据。
type Credential struct {
	ID           string
	Provider     string
	ExternalID   string
	AccessToken  string
	RefreshToken string
	Scope        string
	ExpiresAt    int64
	Metadata     map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired 报告凭据是否已过有效期。ExpiresAt 为零表示不过期。
func (c Credential) Expired(now time.Time) bool {
	return c.ExpiresAt > 0 && now.Unix() >= c.ExpiresAt
}

// Store 抽象凭据的持久化接口。
type Store interface {
	SaveCredential(ctx context.Context, credential Credential) error
	GetCredential(ctx context.Context, id string) (*Credential, error)
	ListCredentials(ctx context.Context, provider string) ([]Credential, error)
	DeleteCredential(ctx context.Context, id string) error
}

// 集成领域的哨兵错误。
var (
	// ErrUnknownProvider 表示请求的提供方未配置。
	ErrUnknownProvider = xerrors.New(CodeIntegrationUnknownProvider, "integration provider not configured")
	// ErrStateMismatch 表示回调携带的 state 无效或已过期。
	ErrStateMismatch = xerrors.New(CodeIntegrationStateMismatch, "oauth state invalid or expired")
	// ErrCredentialNotFound 表示目标凭据不存在。
	ErrCredentialNotFound = xerrors.New(CodeIntegrationNotFound, "integration credential not found")
)

// 集成领域错误码。
const (
	CodeIntegrationUnknownProvider xerrors.Code = "INTEGRATION_UNKNOWN_PROVIDER"
	CodeIntegrationStateMismatch   xerrors.Code = "INTEGRATION_STATE_MISMATCH"
	CodeIntegrationExchange        xerrors.Code = "INTEGRATION_EXCHANGE_FAILED"
	CodeIntegrationNotFound        xerrors.Code = "INTEGRATION_CREDENTIAL_NOT_FOUND"
	CodeIntegrationStorage         xerrors.Code = "INTEGRATION_STORAGE_FAILED"
)

func init() {
	xerrors.Register(CodeIntegrationUnknownProvider, xerrors.Attributes{
		Message:   "integration provider not configured",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeIntegrationStateMismatch, xerrors.Attributes{
		Message:   "oauth state invalid or expired",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeIntegrationExchange, xerrors.Attributes{
		Message:   "oauth token exchange failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeIntegrationNotFound, xerrors.Attributes{
		Message:   "integration credential not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeIntegrationStorage, xerrors.Attributes{
		Message:   "integration credential storage failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}
