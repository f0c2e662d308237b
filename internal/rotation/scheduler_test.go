package rotation

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/org/credcore/internal/audit"
	"github.com/org/credcore/internal/crypto"
	"github.com/org/credcore/internal/history"
	"github.com/org/credcore/internal/policy"
	"github.com/org/credcore/internal/storage"
	"github.com/org/credcore/pkg/models"
)

const (
	testKey       = "rotation-tests-key-0123456789abc"
	initialSecret = "Initial#Pass1x"
)

var now = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store  *storage.MemoryBackend
	cipher *crypto.SecretCipher
	engine *policy.Engine
	sched  *Scheduler
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	store := storage.NewMemoryBackend()
	cipher, err := crypto.NewSecretCipher(testKey, crypto.Options{})
	require.NoError(t, err)
	clock := func() time.Time { return now }
	hist := history.NewStore(store, history.Options{}).WithClock(clock)
	engine := policy.NewEngine(store, hist, cipher, policy.WithClock(clock))

	cfg := models.DefaultPasswordPolicy()
	cfg.TenantID = "acme"
	cfg.PreventReuseCount = 5
	require.NoError(t, store.PutPasswordPolicy(context.Background(), &cfg))

	return &fixture{
		store:  store,
		cipher: cipher,
		engine: engine,
		sched:  NewScheduler(store, engine, cipher, hist, audit.NewLogger(store), opts).WithClock(clock),
	}
}

// seed creates a credential holding initialSecret, created age ago.
func (f *fixture) seed(t *testing.T, id string, age time.Duration) *models.Credential {
	t.Helper()
	env, err := f.cipher.Encrypt(initialSecret, crypto.PurposePassword)
	require.NoError(t, err)
	created := now.Add(-age)
	cred := &models.Credential{
		ID: id, TenantID: "acme", Name: "db-" + id, Username: "svc",
		EncryptedSecret: env, Strength: models.StrengthStrong, OwnerID: "u1",
		CreatedAt: created, UpdatedAt: created,
	}
	entry := history.NewStore(f.store, history.Options{}).
		WithClock(func() time.Time { return created }).
		Snapshot(cred, "u1", models.ChangeCreate)
	require.NoError(t, f.store.CreateCredential(context.Background(), cred, &entry))
	return cred
}

func (f *fixture) secretOf(t *testing.T, id string) string {
	t.Helper()
	cred, err := f.store.GetCredential(context.Background(), id)
	require.NoError(t, err)
	plain, err := f.cipher.Decrypt(cred.EncryptedSecret, crypto.PurposePassword)
	require.NoError(t, err)
	return plain
}

func (f *fixture) historyLen(t *testing.T, id string) int {
	t.Helper()
	rows, err := f.store.QueryHistory(context.Background(), id, 0, false)
	require.NoError(t, err)
	return len(rows)
}

func (f *fixture) policyConfig(t *testing.T) models.PasswordPolicyConfig {
	t.Helper()
	cfg, err := f.engine.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	return cfg
}

func (f *fixture) autoPolicy(t *testing.T, tenant string, auto bool) *models.RotationPolicy {
	t.Helper()
	p, err := f.sched.CreatePolicy(context.Background(), &models.RotationPolicy{
		TenantID: tenant, Name: "quarterly", RotationDays: 90, ReminderDays: 14,
		AutoRotate: auto, IsActive: true,
	})
	require.NoError(t, err)
	return p
}

func TestScheduleAndComplete(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	f.seed(t, "c1", 24*time.Hour)

	rec, err := f.sched.ScheduleRotation(ctx, "c1", time.Time{}, "quarterly", "alice")
	require.NoError(t, err)
	assert.Equal(t, models.RotationScheduled, rec.State)
	assert.Equal(t, now, rec.ScheduledFor)

	done, err := f.sched.CompleteRotation(ctx, rec.ID, "Rotated#Pass2y", "", "alice")
	require.NoError(t, err)
	assert.Equal(t, models.RotationCompleted, done.State)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, now, *done.CompletedAt)
	assert.Equal(t, "quarterly", done.Notes)

	assert.Equal(t, "Rotated#Pass2y", f.secretOf(t, "c1"))
	assert.Equal(t, 2, f.historyLen(t, "c1"))

	hist, err := f.store.QueryHistory(ctx, "c1", 1, true)
	require.NoError(t, err)
	old, err := f.cipher.Decrypt(hist[0].EncryptedSecret, crypto.PurposePassword)
	require.NoError(t, err)
	assert.Equal(t, initialSecret, old, "history must hold the pre-rotation secret")
	assert.Equal(t, models.ChangeUpdate, hist[0].ChangeType)

	cred, err := f.store.GetCredential(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, cred.LastRotatedAt)
	assert.Equal(t, now, *cred.LastRotatedAt)

	stored, err := f.sched.GetRotation(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RotationCompleted, stored.State)

	entries, err := f.store.QueryAuditLog(ctx, storage.AuditFilter{Action: models.AuditRotationCompleted})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCompleteRejectsPolicyViolation(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	f.seed(t, "c1", time.Hour)
	rec, err := f.sched.ScheduleRotation(ctx, "c1", now, "", "alice")
	require.NoError(t, err)

	_, err = f.sched.CompleteRotation(ctx, rec.ID, "weak", "", "alice")
	var ve *policy.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.GreaterOrEqual(t, len(ve.Violations), 3)

	stored, err := f.sched.GetRotation(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RotationScheduled, stored.State)
	assert.Equal(t, initialSecret, f.secretOf(t, "c1"))
	assert.Equal(t, 1, f.historyLen(t, "c1"))

	rejected, err := f.store.QueryAuditLog(ctx, storage.AuditFilter{Action: models.AuditRotationRejected})
	require.NoError(t, err)
	assert.Len(t, rejected, 1)
}

func TestCompleteRejectsReuse(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	f.seed(t, "c1", time.Hour)
	rec, err := f.sched.ScheduleRotation(ctx, "c1", now, "", "alice")
	require.NoError(t, err)

	_, err = f.sched.CompleteRotation(ctx, rec.ID, initialSecret, "", "alice")
	var rv *policy.ReuseViolation
	require.ErrorAs(t, err, &rv)
	assert.ErrorIs(t, err, policy.ErrValidation)
	assert.Equal(t, 1, f.historyLen(t, "c1"))
}

func TestTerminalStatesRejectActions(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	f.seed(t, "c1", time.Hour)

	completed, err := f.sched.ScheduleRotation(ctx, "c1", now, "", "alice")
	require.NoError(t, err)
	_, err = f.sched.CompleteRotation(ctx, completed.ID, "Rotated#Pass2y", "", "alice")
	require.NoError(t, err)

	_, err = f.sched.CancelRotation(ctx, completed.ID, "alice")
	var ise *InvalidStateError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, models.RotationCompleted, ise.State)
	_, err = f.sched.CompleteRotation(ctx, completed.ID, "Another#Pass3z", "", "alice")
	assert.ErrorIs(t, err, ErrInvalidState)

	cancelled, err := f.sched.ScheduleRotation(ctx, "c1", now, "", "alice")
	require.NoError(t, err)
	got, err := f.sched.CancelRotation(ctx, cancelled.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.RotationCancelled, got.State)

	_, err = f.sched.CompleteRotation(ctx, cancelled.ID, "Another#Pass3z", "", "alice")
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, models.RotationCancelled, ise.State)
	_, err = f.sched.CancelRotation(ctx, cancelled.ID, "alice")
	assert.ErrorIs(t, err, ErrInvalidState)
}

// racingStore cancels the record between the scheduler's state check and
// its commit.
type racingStore struct {
	*storage.MemoryBackend
}

func (r racingStore) CommitRotation(ctx context.Context, rc *models.RotationCommit) error {
	if rc.RotationID != "" {
		if err := r.MemoryBackend.CancelRotation(ctx, rc.RotationID); err != nil {
			return err
		}
	}
	return r.MemoryBackend.CommitRotation(ctx, rc)
}

// interleavedUpdateStore commits an unrelated secret change between the
// scheduler's snapshot and its rotation commit.
type interleavedUpdateStore struct {
	*storage.MemoryBackend
	cipher *crypto.SecretCipher
	secret string
}

func (s interleavedUpdateStore) CommitRotation(ctx context.Context, rc *models.RotationCommit) error {
	cred, err := s.GetCredential(ctx, rc.CredentialID)
	if err != nil {
		return err
	}
	env, err := s.cipher.Encrypt(s.secret, crypto.PurposePassword)
	if err != nil {
		return err
	}
	err = s.CommitSecretChange(ctx, &models.SecretChange{
		History:      history.NewStore(s.MemoryBackend, history.Options{}).Snapshot(cred, "bob", models.ChangeUpdate),
		CredentialID: cred.ID, Name: cred.Name, Username: cred.Username,
		EncryptedSecret: env, Strength: models.StrengthStrong, UpdatedAt: now,
	})
	if err != nil {
		return err
	}
	return s.MemoryBackend.CommitRotation(ctx, rc)
}

func TestCompleteRejectsCredentialChangedUnderneath(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	f.seed(t, "c1", time.Hour)
	hist := history.NewStore(f.store, history.Options{})
	racing := NewScheduler(interleavedUpdateStore{f.store, f.cipher, "Mid#Secret3z"},
		f.engine, f.cipher, hist, nil, DefaultOptions())

	rec, err := racing.ScheduleRotation(ctx, "c1", now, "", "alice")
	require.NoError(t, err)

	_, err = racing.CompleteRotation(ctx, rec.ID, "Rotated#Pass2y", "", "alice")
	require.ErrorIs(t, err, storage.ErrCredentialChanged)
	assert.Equal(t, "Mid#Secret3z", f.secretOf(t, "c1"))
	assert.Equal(t, 2, f.historyLen(t, "c1"))
	got, err := f.store.GetRotation(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RotationScheduled, got.State)

	// Retrying snapshots the interleaved secret before replacing it.
	_, err = f.sched.CompleteRotation(ctx, rec.ID, "Rotated#Pass2y", "", "alice")
	require.NoError(t, err)
	rows, err := f.store.QueryHistory(ctx, "c1", 1, true)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	prior, err := f.cipher.Decrypt(rows[0].EncryptedSecret, crypto.PurposePassword)
	require.NoError(t, err)
	assert.Equal(t, "Mid#Secret3z", prior)

	reuse, err := f.engine.CheckReuse(ctx, "Mid#Secret3z", "c1", f.policyConfig(t))
	require.NoError(t, err)
	assert.False(t, reuse.CanReuse)
}

func TestCompleteLosesRaceToCancel(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	f.seed(t, "c1", time.Hour)
	hist := history.NewStore(f.store, history.Options{})
	sched := NewScheduler(racingStore{f.store}, f.engine, f.cipher, hist, nil, DefaultOptions())

	rec, err := sched.ScheduleRotation(ctx, "c1", now, "", "alice")
	require.NoError(t, err)

	_, err = sched.CompleteRotation(ctx, rec.ID, "Rotated#Pass2y", "", "alice")
	var ise *InvalidStateError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, models.RotationCancelled, ise.State)
	assert.Equal(t, initialSecret, f.secretOf(t, "c1"))
	assert.Equal(t, 1, f.historyLen(t, "c1"))
}

func TestExclusiveSchedules(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, Options{AllowConcurrentSchedules: false})
	f.seed(t, "c1", time.Hour)
	_, err := f.sched.ScheduleRotation(ctx, "c1", now, "", "alice")
	require.NoError(t, err)
	_, err = f.sched.ScheduleRotation(ctx, "c1", now, "", "alice")
	assert.ErrorIs(t, err, ErrAlreadyScheduled)

	f = newFixture(t, DefaultOptions())
	f.seed(t, "c1", time.Hour)
	for range 2 {
		_, err := f.sched.ScheduleRotation(ctx, "c1", now, "", "alice")
		require.NoError(t, err)
	}
	recs, err := f.sched.ListRotations(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestScheduleUnknownCredential(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	_, err := f.sched.ScheduleRotation(context.Background(), "missing", now, "", "alice")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAssignPolicy(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	f.seed(t, "c1", time.Hour)

	missing := "nope"
	assert.ErrorIs(t, f.sched.AssignPolicy(ctx, "c1", &missing, "alice"), storage.ErrNotFound)

	foreign := f.autoPolicy(t, "other", true)
	assert.ErrorIs(t, f.sched.AssignPolicy(ctx, "c1", &foreign.ID, "alice"), ErrTenantMismatch)

	p := f.autoPolicy(t, "acme", true)
	require.NoError(t, f.sched.AssignPolicy(ctx, "c1", &p.ID, "alice"))
	cred, err := f.store.GetCredential(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, cred.RotationPolicyID)
	assert.Equal(t, p.ID, *cred.RotationPolicyID)

	require.NoError(t, f.sched.AssignPolicy(ctx, "c1", nil, "alice"))
	cred, err = f.store.GetCredential(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, cred.RotationPolicyID)
}

func TestCreatePolicyValidates(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	_, err := f.sched.CreatePolicy(context.Background(), &models.RotationPolicy{
		TenantID: "acme", Name: "bad", RotationDays: 10, ReminderDays: 10,
	})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestAutoRotatePassword(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	f.seed(t, "c1", time.Hour)

	_, err := f.sched.AutoRotatePassword(ctx, "c1", "", "system")
	assert.ErrorIs(t, err, ErrAutoRotateDisabled)

	manual := f.autoPolicy(t, "acme", false)
	require.NoError(t, f.sched.AssignPolicy(ctx, "c1", &manual.ID, "alice"))
	_, err = f.sched.AutoRotatePassword(ctx, "c1", "", "system")
	assert.ErrorIs(t, err, ErrAutoRotateDisabled)

	auto := f.autoPolicy(t, "acme", true)
	require.NoError(t, f.sched.AssignPolicy(ctx, "c1", &auto.ID, "alice"))
	rec, err := f.sched.AutoRotatePassword(ctx, "c1", "nightly", "system")
	require.NoError(t, err)
	assert.Equal(t, models.RotationCompleted, rec.State)
	require.NotNil(t, rec.PolicyID)
	assert.Equal(t, auto.ID, *rec.PolicyID)

	secret := f.secretOf(t, "c1")
	assert.NotEqual(t, initialSecret, secret)
	cfg, err := f.engine.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, f.engine.Validate(secret, cfg).Valid)
	assert.Equal(t, 2, f.historyLen(t, "c1"))

	recs, err := f.sched.ListRotations(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ID, recs[0].ID)
}

func TestDueAndSweep(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	p := f.autoPolicy(t, "acme", true)
	for id, age := range map[string]time.Duration{"old": 100 * 24 * time.Hour, "soon": 80 * 24 * time.Hour, "fresh": 24 * time.Hour} {
		f.seed(t, id, age)
		require.NoError(t, f.sched.AssignPolicy(ctx, id, &p.ID, "alice"))
	}
	f.seed(t, "unmanaged", 400*24*time.Hour)

	due, err := f.sched.DueForRotation(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "old", due[0].Credential.ID)
	assert.Equal(t, now.Add(-10*24*time.Hour), due[0].DueAt)

	reminders, err := f.sched.DueForReminder(ctx, now)
	require.NoError(t, err)
	var ids []string
	for _, d := range reminders {
		ids = append(ids, d.Credential.ID)
	}
	assert.ElementsMatch(t, []string{"old", "soon"}, ids)

	res, err := f.sched.Sweep(ctx, now, "system")
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, res.Rotated)
	assert.Empty(t, res.Failed)

	due, err = f.sched.DueForRotation(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestDueAtAgreesWithDueAcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	// Clocks spring forward on 2025-03-09.
	last := time.Date(2025, 3, 8, 12, 0, 0, 0, ny)
	p := &models.RotationPolicy{RotationDays: 1, ReminderDays: 0, IsActive: true}

	at := p.RotationDueAt(last)
	assert.Equal(t, 24*time.Hour, at.Sub(last))
	assert.False(t, p.RotationDue(last, at.Add(-time.Nanosecond)))
	assert.True(t, p.RotationDue(last, at))
	assert.True(t, p.ReminderDue(last, p.ReminderDueAt(last)))
}

func TestSweepReportsManual(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	p := f.autoPolicy(t, "acme", false)
	f.seed(t, "c1", 200*24*time.Hour)
	require.NoError(t, f.sched.AssignPolicy(ctx, "c1", &p.ID, "alice"))

	res, err := f.sched.Sweep(ctx, now, "system")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, res.Manual)
	assert.Empty(t, res.Rotated)
}

func TestInvalidStateErrorIs(t *testing.T) {
	err := error(&InvalidStateError{RotationID: "r1", State: models.RotationCancelled, Action: "complete"})
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Contains(t, err.Error(), "CANCELLED")
}
