package integrations

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore 在进程内保存凭据，用于开发与测试。
type MemoryStore struct {
	mu          sync.RWMutex
	credentials map[string]Credential
}

// NewMemoryStore 创建一个空的内存凭据仓库。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{credentials: make(map[string]Credential)}
}

// SaveCredential 以 ID 为键保存或覆盖凭据。
func (m *MemoryStore) SaveCredential(_ context.Context, credential Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[credential.ID] = cloneCredential(credential)
	return nil
}

// GetCredential 返回指定 ID 的凭据副本。
func (m *MemoryStore) GetCredential(_ context.Context, id string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	credential, ok := m.credentials[id]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	clone := cloneCredential(credential)
	return &clone, nil
}

// ListCredentials 返回指定提供方的凭据，provider 为空时返回全部。
func (m *MemoryStore) ListCredentials(_ context.Context, provider string) ([]Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Credential
	for _, credential := range m.credentials {
		if provider != "" && credential.Provider != provider {
			continue
		}
		result = append(result, cloneCredential(credential))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteCredential 删除指定 ID 的凭据。
func (m *MemoryStore) DeleteCredential(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credentials[id]; !ok {
		return ErrCredentialNotFound
	}
	delete(m.credentials, id)
	return nil
}

func cloneCredential(credential Credential) Credential {
	clone := credential
	if credential.Metadata != nil {
		clone.Metadata = make(map[string]string, len(credential.Metadata))
		for key, value := range credential.Metadata {
			clone.Metadata[key] = value
		}
	}
	return clone
}
