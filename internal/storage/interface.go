package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/authguard/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Backend defines the persistence interface for Authority Guard. The
// credential store owns all persisted item bytes; the approval manager and
// the emergency lock controller are stateless logic over these operations.
type Backend interface {
	// Credential items
	PutItem(ctx context.Context, item *models.CredentialItem) error
	GetItem(ctx context.Context, key string) (*models.CredentialItem, error)
	DeleteItem(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	CountItems(ctx context.Context, prefix string) (int64, error)

	// Audit
	WriteAuditEvent(ctx context.Context, event *models.AuditEvent) error
	QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEvent, error)

	// Lifecycle
	Close()
}

// AuditFilter specifies query parameters for audit log retrieval.
type AuditFilter struct {
	DeviceID  string
	EventType string
	Since     *time.Time
	Limit     int
	Offset    int
}
