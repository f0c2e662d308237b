package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/org/credcore/internal/storage"
	"github.com/org/credcore/pkg/models"
)

type failingSink struct{ calls int }

func (f *failingSink) WriteAuditEntry(context.Context, *models.AuditEntry) error {
	f.calls++
	return errors.New("disk full")
}

func (f *failingSink) QueryAuditLog(context.Context, storage.AuditFilter) ([]*models.AuditEntry, error) {
	return nil, nil
}

func TestLogStampsAndPersists(t *testing.T) {
	backend := storage.NewMemoryBackend()
	l := NewLogger(backend)
	fixed := time.Date(2025, 2, 3, 4, 5, 6, 0, time.FixedZone("X", 3600))
	l.now = func() time.Time { return fixed }

	ctx := WithRequestID(context.Background(), "req-1")
	l.Event(ctx, models.AuditRotationCompleted, "alice", "c1", "", map[string]any{"rotation_id": "r1"})

	got, err := l.Query(context.Background(), storage.AuditFilter{CredentialID: "c1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "req-1", got[0].RequestID)
	assert.Equal(t, "success", got[0].Outcome)
	assert.Equal(t, "alice", got[0].Actor)
	assert.True(t, got[0].Timestamp.Equal(fixed))
	assert.Equal(t, time.UTC, got[0].Timestamp.Location())
}

func TestLogSwallowsSinkErrors(t *testing.T) {
	sink := &failingSink{}
	l := NewLogger(sink)
	assert.NotPanics(t, func() {
		l.Event(context.Background(), models.AuditBreachChecked, "bob", "", "failure", nil)
	})
	assert.Equal(t, 1, sink.calls)
}

func TestNilLogger(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() { l.Event(context.Background(), "x", "", "", "", nil) })
}
