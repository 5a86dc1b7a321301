package audit

import (
	"context"
	"time"

	"github.com/org/authguard/internal/storage"
	"github.com/org/authguard/pkg/models"
	"github.com/rs/zerolog"
)

// Recorder writes structured security audit events.
type Recorder struct {
	store storage.Backend
	log   zerolog.Logger
}

// NewRecorder creates an audit Recorder.
func NewRecorder(store storage.Backend, log zerolog.Logger) *Recorder {
	return &Recorder{store: store, log: log}
}

// Record persists an audit event. Secret values must NEVER be passed here —
// only metadata. Audit failures are logged but do not break the caller;
// the permission gate itself already fails closed.
func (r *Recorder) Record(ctx context.Context, event *models.AuditEvent) {
	event.Timestamp = time.Now().UTC()
	if err := r.store.WriteAuditEvent(ctx, event); err != nil {
		r.log.Error().Err(err).Str("event_type", event.EventType).Msg("writing audit event")
	}
}

// Query retrieves filtered audit log entries.
func (r *Recorder) Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEvent, error) {
	return r.store.QueryAuditLog(ctx, filter)
}
