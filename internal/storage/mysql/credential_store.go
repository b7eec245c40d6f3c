package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"OpenAgent-Loop/internal/integrations"
)

// CredentialStore 使用 MySQL 持久化集成凭据，实现 integrations.Store。
type CredentialStore struct {
	db *sql.DB
}

// NewCredentialStore 创建凭据仓库并执行缺失的迁移。
func NewCredentialStore(ctx context.Context, cfg Config) (*CredentialStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &CredentialStore{db: db}, nil
}

// Close 关闭底层数据库连接。
func (s *CredentialStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const credentialColumns = `id, provider, external_id, access_token, refresh_token, scope, expires_at, metadata, created_at, updated_at`

// SaveCredential 插入或覆盖一条凭据。
func (s *CredentialStore) SaveCredential(ctx context.Context, credential integrations.Credential) error {
	metadata, err := marshalCredentialMetadata(credential.Metadata)
	if err != nil {
		return err
	}
	const stmt = `INSERT INTO integration_credentials
    (id, provider, external_id, access_token, refresh_token, scope, expires_at, metadata, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE access_token = VALUES(access_token), refresh_token = VALUES(refresh_token), scope = VALUES(scope), expires_at = VALUES(expires_at), metadata = VALUES(metadata), updated_at = VALUES(updated_at)`
	if _, err := s.db.ExecContext(ctx, stmt,
		credential.ID,
		credential.Provider,
		credential.ExternalID,
		credential.AccessToken,
		credential.RefreshToken,
		credential.Scope,
		credential.ExpiresAt,
		metadata,
		credential.CreatedAt.Unix(),
		credential.UpdatedAt.Unix(),
	); err != nil {
		return fmt.Errorf("保存凭据失败: %w", err)
	}
	return nil
}

// GetCredential 查询指定 ID 的凭据。
func (s *CredentialStore) GetCredential(ctx context.Context, id string) (*integrations.Credential, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+credentialColumns+`
    FROM integration_credentials WHERE id = ?`, id)
	credential, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, integrations.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("查询凭据失败: %w", err)
	}
	return credential, nil
}

// ListCredentials 查询指定提供方的凭据，provider 为空时返回全部。
func (s *CredentialStore) ListCredentials(ctx context.Context, provider string) ([]integrations.Credential, error) {
	query := `SELECT ` + credentialColumns + `
    FROM integration_credentials`
	var args []any
	if provider != "" {
		query += ` WHERE provider = ?`
		args = append(args, provider)
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询凭据列表失败: %w", err)
	}
	defer rows.Close()

	var credentials []integrations.Credential
	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("解析凭据失败: %w", err)
		}
		credentials = append(credentials, *credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历凭据失败: %w", err)
	}
	return credentials, nil
}

// DeleteCredential 删除指定 ID 的凭据。
func (s *CredentialStore) DeleteCredential(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM integration_credentials WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("删除凭据失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("确认删除结果失败: %w", err)
	}
	if affected == 0 {
		return integrations.ErrCredentialNotFound
	}
	return nil
}

func scanCredential(scanner interface{ Scan(...any) error }) (*integrations.Credential, error) {
	var credential integrations.Credential
	var metadata sql.NullString
	var createdAt, updatedAt int64
	if err := scanner.Scan(
		&credential.ID,
		&credential.Provider,
		&credential.ExternalID,
		&credential.AccessToken,
		&credential.RefreshToken,
		&credential.Scope,
		&credential.ExpiresAt,
		&metadata,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	credential.CreatedAt = time.Unix(createdAt, 0)
	credential.UpdatedAt = time.Unix(updatedAt, 0)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &credential.Metadata); err != nil {
			return nil, fmt.Errorf("解析凭据元数据失败: %w", err)
		}
	}
	return &credential, nil
}

func marshalCredentialMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "", nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("序列化凭据元数据失败: %w", err)
	}
	return string(encoded), nil
}
