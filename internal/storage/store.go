package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/org/credcore/pkg/models"
)

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

type rowIter interface {
	rowScanner
	Next() bool
	Err() error
	Close()
}

// conn is the query surface shared by the pgx and database/sql adapters.
// Queries are written with ? placeholders; adapters rebind as needed and
// translate driver errors into ErrNotFound / ErrAlreadyExists.
type conn interface {
	exec(ctx context.Context, query string, args ...any) (int64, error)
	queryRow(ctx context.Context, query string, args ...any) rowScanner
	query(ctx context.Context, query string, args ...any) (rowIter, error)
}

type txConn interface {
	conn
	commit(ctx context.Context) error
	rollback(ctx context.Context) error
}

type upsertStyle int

const (
	onConflict upsertStyle = iota
	onDuplicateKey
)

// sqlStore implements Backend on top of a conn. PostgresBackend and
// SQLBackend differ only in the adapter and upsert dialect they supply.
type sqlStore struct {
	db     conn
	begin  func(ctx context.Context) (txConn, error)
	upsert upsertStyle
}

func (s *sqlStore) inTx(ctx context.Context, fn func(tx txConn) error) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

const (
	credentialCols = `id, tenant_id, name, username, encrypted_secret, encrypted_totp_secret, strength,
		expires_at, rotation_policy_id, owner_id, folder_id, last_rotated_at, created_at, updated_at`
	historyCols = `id, credential_id, name, username, encrypted_secret, encrypted_totp_secret, strength,
		expires_at, change_type, changed_by, created_at`
	rotationCols = `id, credential_id, policy_id, state, scheduled_for, completed_at, notes, created_by, created_at`
	auditCols    = `id, request_id, timestamp, actor, tenant_id, action, credential_id, outcome, metadata`
)

var (
	rotationPolicyCols = []string{"id", "tenant_id", "name", "rotation_days", "reminder_days",
		"auto_rotate", "require_approval", "is_active", "created_at", "updated_at"}
	passwordPolicyCols = []string{"tenant_id", "min_length", "require_uppercase", "require_lowercase",
		"require_numbers", "require_special", "expiration_days", "prevent_reuse_count",
		"require_change_on_first_login", "require_change_after_days", "is_active", "updated_at"}
)

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s *sqlStore) upsertSQL(table, key string, cols []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders(len(cols)))
	var sets []string
	for _, c := range cols {
		if c == key || c == "created_at" {
			continue
		}
		if s.upsert == onDuplicateKey {
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", c, c))
		} else {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	if s.upsert == onDuplicateKey {
		b.WriteString(" ON DUPLICATE KEY UPDATE ")
	} else {
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET ", key)
	}
	b.WriteString(strings.Join(sets, ", "))
	return b.String()
}

func utc(t time.Time) time.Time { return t.UTC() }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// --- Credentials ---

func (s *sqlStore) CreateCredential(ctx context.Context, c *models.Credential, created *models.HistoryEntry) error {
	return s.inTx(ctx, func(tx txConn) error {
		_, err := tx.exec(ctx,
			`INSERT INTO credentials (`+credentialCols+`) VALUES (`+placeholders(14)+`)`,
			c.ID, c.TenantID, c.Name, c.Username, c.EncryptedSecret, c.EncryptedTOTPSecret, string(c.Strength),
			utcPtr(c.ExpiresAt), c.RotationPolicyID, c.OwnerID, c.FolderID, utcPtr(c.LastRotatedAt),
			utc(c.CreatedAt), utc(c.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting credential: %w", err)
		}
		if created != nil {
			if err := insertHistory(ctx, tx, created); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqlStore) GetCredential(ctx context.Context, id string) (*models.Credential, error) {
	return scanCredential(s.db.queryRow(ctx, `SELECT `+credentialCols+` FROM credentials WHERE id = ?`, id))
}

func scanCredential(row rowScanner) (*models.Credential, error) {
	var c models.Credential
	var strength string
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Username, &c.EncryptedSecret, &c.EncryptedTOTPSecret,
		&strength, &c.ExpiresAt, &c.RotationPolicyID, &c.OwnerID, &c.FolderID, &c.LastRotatedAt,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Strength = models.Strength(strength)
	return &c, nil
}

func (s *sqlStore) ListCredentials(ctx context.Context, f CredentialFilter) ([]*models.Credential, error) {
	var q strings.Builder
	q.WriteString(`SELECT ` + credentialCols + ` FROM credentials WHERE 1=1`)
	var args []any
	if f.TenantID != "" {
		q.WriteString(` AND tenant_id = ?`)
		args = append(args, f.TenantID)
	}
	if f.OwnerID != "" {
		q.WriteString(` AND owner_id = ?`)
		args = append(args, f.OwnerID)
	}
	if f.FolderID != "" {
		q.WriteString(` AND folder_id = ?`)
		args = append(args, f.FolderID)
	}
	q.WriteString(` ORDER BY created_at, id LIMIT ? OFFSET ?`)
	args = append(args, pageSize(f.Limit), max(f.Offset, 0))
	return s.queryCredentials(ctx, q.String(), args...)
}

func (s *sqlStore) ListCredentialsWithRotationPolicy(ctx context.Context) ([]*models.Credential, error) {
	return s.queryCredentials(ctx,
		`SELECT `+credentialCols+` FROM credentials WHERE rotation_policy_id IS NOT NULL ORDER BY created_at, id`)
}

func (s *sqlStore) queryCredentials(ctx context.Context, query string, args ...any) ([]*models.Credential, error) {
	rows, err := s.db.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqlStore) SetCredentialRotationPolicy(ctx context.Context, credentialID string, policyID *string) error {
	n, err := s.db.exec(ctx,
		`UPDATE credentials SET rotation_policy_id = ?, updated_at = ? WHERE id = ?`,
		policyID, utc(time.Now()), credentialID,
	)
	if err != nil {
		return fmt.Errorf("assigning rotation policy: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) DeleteCredential(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx txConn) error {
		if _, err := tx.exec(ctx, `DELETE FROM credential_history WHERE credential_id = ?`, id); err != nil {
			return fmt.Errorf("deleting history: %w", err)
		}
		if _, err := tx.exec(ctx, `DELETE FROM rotation_records WHERE credential_id = ?`, id); err != nil {
			return fmt.Errorf("deleting rotations: %w", err)
		}
		n, err := tx.exec(ctx, `DELETE FROM credentials WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting credential: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *sqlStore) CommitSecretChange(ctx context.Context, ch *models.SecretChange) error {
	return s.inTx(ctx, func(tx txConn) error {
		if err := insertHistory(ctx, tx, &ch.History); err != nil {
			return err
		}
		n, err := tx.exec(ctx,
			`UPDATE credentials SET name = ?, username = ?, encrypted_secret = ?, encrypted_totp_secret = ?,
			 strength = ?, expires_at = ?, updated_at = ? WHERE id = ?`+snapshotGuard,
			append([]any{ch.Name, ch.Username, ch.EncryptedSecret, ch.EncryptedTOTPSecret, string(ch.Strength),
				utcPtr(ch.ExpiresAt), utc(ch.UpdatedAt), ch.CredentialID}, snapshotArgs(&ch.History)...)...,
		)
		if err != nil {
			return fmt.Errorf("updating credential: %w", err)
		}
		if n == 0 {
			return credentialChangeFailure(ctx, tx, ch.CredentialID)
		}
		return nil
	})
}

// snapshotGuard makes a credential write conditional on the row still
// holding the fields recorded in the commit's history snapshot.
const snapshotGuard = ` AND encrypted_secret = ? AND name = ? AND username = ?
	 AND COALESCE(encrypted_totp_secret, '') = ?`

func snapshotArgs(h *models.HistoryEntry) []any {
	totp := ""
	if h.EncryptedTOTPSecret != nil {
		totp = *h.EncryptedTOTPSecret
	}
	return []any{h.EncryptedSecret, h.Name, h.Username, totp}
}

// credentialChangeFailure explains a guarded credential update that matched
// no row.
func credentialChangeFailure(ctx context.Context, tx txConn, id string) error {
	var one int
	if err := tx.queryRow(ctx, `SELECT 1 FROM credentials WHERE id = ?`, id).Scan(&one); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrCredentialChanged, id)
}

// --- History ---

func (s *sqlStore) AppendHistory(ctx context.Context, e *models.HistoryEntry) error {
	return insertHistory(ctx, s.db, e)
}

func insertHistory(ctx context.Context, c conn, e *models.HistoryEntry) error {
	_, err := c.exec(ctx,
		`INSERT INTO credential_history (`+historyCols+`) VALUES (`+placeholders(11)+`)`,
		e.ID, e.CredentialID, e.Name, e.Username, e.EncryptedSecret, e.EncryptedTOTPSecret,
		string(e.Strength), utcPtr(e.ExpiresAt), string(e.ChangeType), e.ChangedBy, utc(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}
	return nil
}

func scanHistory(row rowScanner) (*models.HistoryEntry, error) {
	var e models.HistoryEntry
	var strength, change string
	err := row.Scan(&e.ID, &e.CredentialID, &e.Name, &e.Username, &e.EncryptedSecret, &e.EncryptedTOTPSecret,
		&strength, &e.ExpiresAt, &change, &e.ChangedBy, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Strength = models.Strength(strength)
	e.ChangeType = models.ChangeType(change)
	return &e, nil
}

func (s *sqlStore) GetHistoryEntry(ctx context.Context, id string) (*models.HistoryEntry, error) {
	return scanHistory(s.db.queryRow(ctx, `SELECT `+historyCols+` FROM credential_history WHERE id = ?`, id))
}

// QueryHistory orders by created_at then id; history ids are UUIDv7, so the
// id breaks ties in insertion order.
func (s *sqlStore) QueryHistory(ctx context.Context, credentialID string, limit int, newestFirst bool) ([]*models.HistoryEntry, error) {
	dir := "ASC"
	if newestFirst {
		dir = "DESC"
	}
	q := fmt.Sprintf(`SELECT %s FROM credential_history WHERE credential_id = ? ORDER BY created_at %s, id %s`,
		historyCols, dir, dir)
	args := []any{credentialID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.HistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqlStore) PruneHistory(ctx context.Context, credentialID string, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	var pruned int64
	err := s.inTx(ctx, func(tx txConn) error {
		rows, err := tx.query(ctx,
			`SELECT id FROM credential_history WHERE credential_id = ? ORDER BY created_at DESC, id DESC`,
			credentialID)
		if err != nil {
			return err
		}
		var stale []string
		for i := 0; rows.Next(); i++ {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			if i >= keep {
				stale = append(stale, id)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range stale {
			n, err := tx.exec(ctx, `DELETE FROM credential_history WHERE id = ?`, id)
			if err != nil {
				return fmt.Errorf("pruning history: %w", err)
			}
			pruned += n
		}
		return nil
	})
	return pruned, err
}

// --- Rotation policies ---

func (s *sqlStore) WriteRotationPolicy(ctx context.Context, p *models.RotationPolicy) error {
	_, err := s.db.exec(ctx, s.upsertSQL("rotation_policies", "id", rotationPolicyCols),
		p.ID, p.TenantID, p.Name, p.RotationDays, p.ReminderDays,
		p.AutoRotate, p.RequireApproval, p.IsActive, utc(p.CreatedAt), utc(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("writing rotation policy: %w", err)
	}
	return nil
}

func scanRotationPolicy(row rowScanner) (*models.RotationPolicy, error) {
	var p models.RotationPolicy
	err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.RotationDays, &p.ReminderDays,
		&p.AutoRotate, &p.RequireApproval, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *sqlStore) GetRotationPolicy(ctx context.Context, id string) (*models.RotationPolicy, error) {
	return scanRotationPolicy(s.db.queryRow(ctx,
		`SELECT `+strings.Join(rotationPolicyCols, ", ")+` FROM rotation_policies WHERE id = ?`, id))
}

func (s *sqlStore) ListRotationPolicies(ctx context.Context, tenantID string) ([]*models.RotationPolicy, error) {
	rows, err := s.db.query(ctx,
		`SELECT `+strings.Join(rotationPolicyCols, ", ")+` FROM rotation_policies WHERE tenant_id = ? ORDER BY name`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.RotationPolicy
	for rows.Next() {
		p, err := scanRotationPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Rotation records ---

func insertRotation(ctx context.Context, c conn, r *models.RotationRecord) error {
	_, err := c.exec(ctx,
		`INSERT INTO rotation_records (`+rotationCols+`) VALUES (`+placeholders(9)+`)`,
		r.ID, r.CredentialID, r.PolicyID, string(r.State), utc(r.ScheduledFor), utcPtr(r.CompletedAt),
		r.Notes, r.CreatedBy, utc(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting rotation record: %w", err)
	}
	return nil
}

func (s *sqlStore) CreateRotation(ctx context.Context, r *models.RotationRecord, exclusive bool) error {
	if !exclusive {
		return insertRotation(ctx, s.db, r)
	}
	return s.inTx(ctx, func(tx txConn) error {
		var n int64
		err := tx.queryRow(ctx,
			`SELECT COUNT(*) FROM rotation_records WHERE credential_id = ? AND state = ?`,
			r.CredentialID, string(models.RotationScheduled),
		).Scan(&n)
		if err != nil {
			return fmt.Errorf("counting scheduled rotations: %w", err)
		}
		if n > 0 {
			return ErrAlreadyExists
		}
		return insertRotation(ctx, tx, r)
	})
}

func scanRotation(row rowScanner) (*models.RotationRecord, error) {
	var r models.RotationRecord
	var state string
	err := row.Scan(&r.ID, &r.CredentialID, &r.PolicyID, &state, &r.ScheduledFor, &r.CompletedAt,
		&r.Notes, &r.CreatedBy, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.State = models.RotationState(state)
	return &r, nil
}

func (s *sqlStore) GetRotation(ctx context.Context, id string) (*models.RotationRecord, error) {
	return scanRotation(s.db.queryRow(ctx, `SELECT `+rotationCols+` FROM rotation_records WHERE id = ?`, id))
}

func (s *sqlStore) ListRotations(ctx context.Context, credentialID string) ([]*models.RotationRecord, error) {
	rows, err := s.db.query(ctx,
		`SELECT `+rotationCols+` FROM rotation_records WHERE credential_id = ? ORDER BY created_at DESC, id DESC`,
		credentialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.RotationRecord
	for rows.Next() {
		r, err := scanRotation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// transitionFailure reports why a conditional update on a SCHEDULED record
// touched no rows.
func transitionFailure(ctx context.Context, c conn, id string) error {
	var state string
	err := c.queryRow(ctx, `SELECT state FROM rotation_records WHERE id = ?`, id).Scan(&state)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: rotation %s is %s", ErrStateConflict, id, state)
}

func (s *sqlStore) CancelRotation(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx txConn) error {
		n, err := tx.exec(ctx,
			`UPDATE rotation_records SET state = ? WHERE id = ? AND state = ?`,
			string(models.RotationCancelled), id, string(models.RotationScheduled),
		)
		if err != nil {
			return fmt.Errorf("cancelling rotation: %w", err)
		}
		if n == 0 {
			return transitionFailure(ctx, tx, id)
		}
		return nil
	})
}

// CommitRotation applies the rotation triad in one transaction: complete (or
// insert) the record, append the pre-rotation snapshot, and write the new
// envelope. The record update is conditional on SCHEDULED so that a
// concurrent cancel or complete aborts the whole unit.
func (s *sqlStore) CommitRotation(ctx context.Context, rc *models.RotationCommit) error {
	return s.inTx(ctx, func(tx txConn) error {
		if rc.RotationID != "" {
			n, err := tx.exec(ctx,
				`UPDATE rotation_records SET state = ?, completed_at = ?,
				 notes = CASE WHEN ? = '' THEN notes ELSE ? END
				 WHERE id = ? AND state = ?`,
				string(models.RotationCompleted), utc(rc.RotatedAt), rc.Notes, rc.Notes,
				rc.RotationID, string(models.RotationScheduled),
			)
			if err != nil {
				return fmt.Errorf("completing rotation: %w", err)
			}
			if n == 0 {
				return transitionFailure(ctx, tx, rc.RotationID)
			}
		} else if rc.NewRecord != nil {
			if err := insertRotation(ctx, tx, rc.NewRecord); err != nil {
				return err
			}
		}
		if err := insertHistory(ctx, tx, &rc.History); err != nil {
			return err
		}
		n, err := tx.exec(ctx,
			`UPDATE credentials SET encrypted_secret = ?, strength = ?, expires_at = ?,
			 last_rotated_at = ?, updated_at = ? WHERE id = ?`+snapshotGuard,
			append([]any{rc.EncryptedSecret, string(rc.Strength), utcPtr(rc.ExpiresAt),
				utc(rc.RotatedAt), utc(rc.RotatedAt), rc.CredentialID}, snapshotArgs(&rc.History)...)...,
		)
		if err != nil {
			return fmt.Errorf("updating credential secret: %w", err)
		}
		if n == 0 {
			return credentialChangeFailure(ctx, tx, rc.CredentialID)
		}
		return nil
	})
}

// --- Password policy ---

func (s *sqlStore) GetPasswordPolicy(ctx context.Context, tenantID string) (*models.PasswordPolicyConfig, error) {
	var p models.PasswordPolicyConfig
	err := s.db.queryRow(ctx,
		`SELECT `+strings.Join(passwordPolicyCols, ", ")+` FROM password_policies WHERE tenant_id = ?`, tenantID,
	).Scan(&p.TenantID, &p.MinLength, &p.RequireUppercase, &p.RequireLowercase, &p.RequireNumbers,
		&p.RequireSpecial, &p.ExpirationDays, &p.PreventReuseCount, &p.RequireChangeOnFirstLogin,
		&p.RequireChangeAfterDays, &p.IsActive, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *sqlStore) PutPasswordPolicy(ctx context.Context, p *models.PasswordPolicyConfig) error {
	_, err := s.db.exec(ctx, s.upsertSQL("password_policies", "tenant_id", passwordPolicyCols),
		p.TenantID, p.MinLength, p.RequireUppercase, p.RequireLowercase, p.RequireNumbers,
		p.RequireSpecial, p.ExpirationDays, p.PreventReuseCount, p.RequireChangeOnFirstLogin,
		p.RequireChangeAfterDays, p.IsActive, utc(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("writing password policy: %w", err)
	}
	return nil
}

// --- Audit ---

func (s *sqlStore) WriteAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil || e.Metadata == nil {
		metaJSON = []byte("{}")
	}
	_, err = s.db.exec(ctx,
		`INSERT INTO audit_log (request_id, timestamp, actor, tenant_id, action, credential_id, outcome, metadata)
		 VALUES (`+placeholders(8)+`)`,
		e.RequestID, utc(e.Timestamp), e.Actor, e.TenantID, e.Action, e.CredentialID, e.Outcome, metaJSON,
	)
	return err
}

func (s *sqlStore) QueryAuditLog(ctx context.Context, f AuditFilter) ([]*models.AuditEntry, error) {
	var q strings.Builder
	q.WriteString(`SELECT ` + auditCols + ` FROM audit_log WHERE 1=1`)
	var args []any
	for _, cond := range []struct {
		col, val string
	}{
		{"tenant_id", f.TenantID},
		{"actor", f.Actor},
		{"action", f.Action},
		{"credential_id", f.CredentialID},
	} {
		if cond.val != "" {
			fmt.Fprintf(&q, ` AND %s = ?`, cond.col)
			args = append(args, cond.val)
		}
	}
	if f.Since != nil {
		q.WriteString(` AND timestamp >= ?`)
		args = append(args, utc(*f.Since))
	}
	q.WriteString(` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`)
	args = append(args, pageSize(f.Limit), max(f.Offset, 0))

	rows, err := s.db.query(ctx, q.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Timestamp, &e.Actor, &e.TenantID, &e.Action,
			&e.CredentialID, &e.Outcome, &metaJSON); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			json.Unmarshal(metaJSON, &e.Metadata) //nolint:errcheck
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// --- Metrics ---

func (s *sqlStore) CountCredentials(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.queryRow(ctx, `SELECT COUNT(*) FROM credentials`).Scan(&n)
	return n, err
}

func (s *sqlStore) CountRotations(ctx context.Context, state models.RotationState) (int64, error) {
	var n int64
	err := s.db.queryRow(ctx, `SELECT COUNT(*) FROM rotation_records WHERE state = ?`, string(state)).Scan(&n)
	return n, err
}

// notFound maps a driver's no-rows error onto ErrNotFound.
func notFound(err, noRows error) error {
	if errors.Is(err, noRows) {
		return ErrNotFound
	}
	return err
}
