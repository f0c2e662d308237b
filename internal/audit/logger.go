package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/credcore/internal/storage"
	"github.com/org/credcore/pkg/models"
)

// Sink persists audit entries.
type Sink interface {
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	QueryAuditLog(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error)
}

type requestIDKey struct{}

// WithRequestID tags ctx so entries logged under it carry the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Logger writes structured audit entries.
type Logger struct {
	sink Sink
	now  func() time.Time
}

// NewLogger creates an audit Logger.
func NewLogger(sink Sink) *Logger {
	return &Logger{sink: sink, now: time.Now}
}

// Log stamps and records entry. Secret values must never be passed here,
// only identifiers and outcomes. Write failures are logged, not returned.
func (l *Logger) Log(ctx context.Context, entry *models.AuditEntry) {
	if l == nil {
		return
	}
	entry.Timestamp = l.now().UTC()
	if entry.RequestID == "" {
		entry.RequestID = RequestID(ctx)
	}
	if entry.Outcome == "" {
		entry.Outcome = "success"
	}
	if err := l.sink.WriteAuditEntry(ctx, entry); err != nil {
		log.Error().Err(err).
			Str("action", entry.Action).
			Str("credential_id", entry.CredentialID).
			Msg("failed to write audit entry")
	}
}

// Event is shorthand for Log with the common fields.
func (l *Logger) Event(ctx context.Context, action, actor, credentialID, outcome string, meta map[string]any) {
	l.Log(ctx, &models.AuditEntry{
		Action:       action,
		Actor:        actor,
		CredentialID: credentialID,
		Outcome:      outcome,
		Metadata:     meta,
	})
}

// Query retrieves paginated audit log entries.
func (l *Logger) Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error) {
	return l.sink.QueryAuditLog(ctx, filter)
}
