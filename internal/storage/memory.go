package storage

import (
	"context"
	"strings"
	"sync"

	"github.com/org/authguard/pkg/models"
)

// MemoryBackend is an in-process Backend used for development mode and
// tests. Contents are lost on restart.
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[string]*models.CredentialItem
	audit []*models.AuditEvent
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[string]*models.CredentialItem)}
}

func (m *MemoryBackend) PutItem(ctx context.Context, item *models.CredentialItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *item
	m.items[item.Key] = &cp
	return nil
}

func (m *MemoryBackend) GetItem(ctx context.Context, key string) (*models.CredentialItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (m *MemoryBackend) DeleteItem(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *MemoryBackend) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemoryBackend) CountItems(ctx context.Context, prefix string) (int64, error) {
	keys, _ := m.ListKeys(ctx, prefix)
	return int64(len(keys)), nil
}

func (m *MemoryBackend) WriteAuditEvent(ctx context.Context, e *models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	cp.ID = int64(len(m.audit) + 1)
	m.audit = append(m.audit, &cp)
	return nil
}

func (m *MemoryBackend) QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var events []*models.AuditEvent
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if filter.DeviceID != "" && e.DeviceID != filter.DeviceID {
			continue
		}
		if filter.EventType != "" && e.EventType != filter.EventType {
			continue
		}
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		events = append(events, e)
		if filter.Limit > 0 && len(events) >= filter.Limit {
			break
		}
	}
	return events, nil
}

func (m *MemoryBackend) Close() {}
