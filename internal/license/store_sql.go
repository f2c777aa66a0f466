package license

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mind-engage/certprep-core/internal/apperr"
	"github.com/mind-engage/certprep-core/internal/db"
)

const entitlementCols = `id, user_id, exam_id, device_fingerprint, status, lock_reason, locked_at, expires_at, created_at, last_accessed_at`

// SQLStore keeps entitlements in the entitlements and access_events tables.
type SQLStore struct {
	db     *sql.DB
	driver db.Driver
}

func NewSQLStore(h *sql.DB, driver db.Driver) *SQLStore {
	return &SQLStore{db: h, driver: driver}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntitlement(r rowScanner) (Entitlement, error) {
	var (
		e                      Entitlement
		status                 string
		fp, lockReason         sql.NullString
		lockedAt, lastAccessed sql.NullInt64
		expiresAt, createdAt   int64
	)
	if err := r.Scan(&e.ID, &e.UserID, &e.ExamID, &fp, &status, &lockReason, &lockedAt, &expiresAt, &createdAt, &lastAccessed); err != nil {
		return Entitlement{}, err
	}
	e.Status = Status(status)
	e.DeviceFingerprint = strPtr(fp)
	e.LockReason = strPtr(lockReason)
	e.LockedAt = timePtr(lockedAt)
	e.LastAccessedAt = timePtr(lastAccessed)
	e.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	return e, nil
}

func (s *SQLStore) Create(ctx context.Context, e Entitlement) (Entitlement, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO entitlements (`+entitlementCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.UserID, e.ExamID, nullStr(e.DeviceFingerprint), string(e.Status), nullStr(e.LockReason),
		nullUnix(e.LockedAt), e.ExpiresAt.Unix(), e.CreatedAt.Unix(), nullUnix(e.LastAccessedAt))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Entitlement{}, fmt.Errorf("entitlement %s already exists: %w", e.ID, apperr.ErrInvalidInput)
		}
		return Entitlement{}, fmt.Errorf("insert entitlement: %w", err)
	}
	return e, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (Entitlement, error) {
	e, err := scanEntitlement(s.db.QueryRowContext(ctx, `SELECT `+entitlementCols+` FROM entitlements WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Entitlement{}, fmt.Errorf("entitlement %s: %w", id, apperr.ErrNotFound)
	}
	return e, err
}

func (s *SQLStore) ForUserExam(ctx context.Context, userID string, examID int64) (Entitlement, error) {
	e, err := scanEntitlement(s.db.QueryRowContext(ctx, `SELECT `+entitlementCols+` FROM entitlements
		WHERE user_id=$1 AND exam_id=$2 ORDER BY expires_at DESC, created_at DESC LIMIT 1`, userID, examID))
	if errors.Is(err, sql.ErrNoRows) {
		return Entitlement{}, fmt.Errorf("entitlement for user %s exam %d: %w", userID, examID, apperr.ErrNotFound)
	}
	return e, err
}

// Apply reads the row under FOR UPDATE on Postgres. On SQLite the single
// pooled connection already serializes transactions.
func (s *SQLStore) Apply(ctx context.Context, id string, fn func(cur Entitlement) (Entitlement, AccessEvent, error)) (Entitlement, error) {
	var out Entitlement
	err := db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		cur, err := scanEntitlement(tx.QueryRowContext(ctx,
			`SELECT `+entitlementCols+` FROM entitlements WHERE id=$1`+db.RowLock(s.driver, false), id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("entitlement %s: %w", id, apperr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load entitlement: %w", err)
		}

		next, ev, err := fn(cur)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `UPDATE entitlements SET device_fingerprint=$1, status=$2, lock_reason=$3,
				locked_at=$4, last_accessed_at=$5 WHERE id=$6`,
			nullStr(next.DeviceFingerprint), string(next.Status), nullStr(next.LockReason),
			nullUnix(next.LockedAt), nullUnix(next.LastAccessedAt), id)
		if err != nil {
			return fmt.Errorf("update entitlement: %w", err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO access_events
				(id, entitlement_id, action, admin_identity, reason, device_fingerprint, ip_address, user_agent, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			ev.ID, id, string(ev.Action), nullStr(ev.AdminIdentity), nullStr(ev.Reason),
			ev.DeviceFingerprint, ev.IPAddress, ev.UserAgent, ev.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("insert access event: %w", err)
		}
		out = next
		return nil
	})
	return out, err
}

func (s *SQLStore) Events(ctx context.Context, entitlementID string) ([]AccessEvent, error) {
	if _, err := s.Get(ctx, entitlementID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, entitlement_id, action, admin_identity, reason,
			device_fingerprint, ip_address, user_agent, created_at
		FROM access_events WHERE entitlement_id=$1 ORDER BY seq`, entitlementID)
	if err != nil {
		return nil, fmt.Errorf("query access events: %w", err)
	}
	defer rows.Close()

	var out []AccessEvent
	for rows.Next() {
		var (
			ev            AccessEvent
			action        string
			admin, reason sql.NullString
			createdAt     int64
		)
		if err := rows.Scan(&ev.ID, &ev.EntitlementID, &action, &admin, &reason,
			&ev.DeviceFingerprint, &ev.IPAddress, &ev.UserAgent, &createdAt); err != nil {
			return nil, fmt.Errorf("scan access event: %w", err)
		}
		ev.Action = Action(action)
		ev.AdminIdentity = strPtr(admin)
		ev.Reason = strPtr(reason)
		ev.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListLocked(ctx context.Context, lockedBefore time.Time) ([]Entitlement, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entitlementCols+` FROM entitlements
		WHERE status=$1 AND locked_at IS NOT NULL AND locked_at <= $2 ORDER BY locked_at`,
		string(StatusLocked), lockedBefore.Unix())
	if err != nil {
		return nil, fmt.Errorf("query locked entitlements: %w", err)
	}
	defer rows.Close()

	var out []Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entitlement: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func strPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).UTC()
	return &t
}
