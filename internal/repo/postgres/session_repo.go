package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/antonrudenka/blogger-api/internal/domain/model"
	sessionsvc "github.com/antonrudenka/blogger-api/internal/services/session"
)

const uniqueViolationCode = "23505"

// SessionRepo is the durable session registry. The sessions table keys on
// device_id, so the one-session-per-device invariant is enforced by the
// primary key and rotation races resolve through row counts.
type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

func (r *SessionRepo) Create(ctx context.Context, session model.Session) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(session.DeviceID) == "" || session.UserID <= 0 {
		return sessionsvc.ErrInvalidInput
	}

	_, err := r.pool.Exec(ctx, `
INSERT INTO sessions (
	device_id,
	user_id,
	device_name,
	user_agent,
	ip,
	issued_at,
	expires_at
) VALUES ($1, $2, $3, $4, $5, $6, $7)
`, session.DeviceID, session.UserID, session.DeviceName, session.UserAgent, session.IP, session.IssuedAt, session.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return sessionsvc.ErrDuplicateDevice
		}
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

func (r *SessionRepo) UpdateOnRotation(ctx context.Context, deviceID string, issuedAt, expiresAt time.Time) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(deviceID) == "" {
		return sessionsvc.ErrInvalidInput
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE sessions
SET issued_at = $2, expires_at = $3
WHERE device_id = $1
`, deviceID, issuedAt, expiresAt)
	if err != nil {
		return fmt.Errorf("update session on rotation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sessionsvc.ErrSessionNotFound
	}

	return nil
}

func (r *SessionRepo) GetByDevice(ctx context.Context, deviceID string) (model.Session, error) {
	if r.pool == nil {
		return model.Session{}, fmt.Errorf("postgres pool is nil")
	}

	var session model.Session
	err := r.pool.QueryRow(ctx, `
SELECT device_id, user_id, device_name, user_agent, ip, issued_at, expires_at
FROM sessions
WHERE device_id = $1
`, deviceID).Scan(
		&session.DeviceID,
		&session.UserID,
		&session.DeviceName,
		&session.UserAgent,
		&session.IP,
		&session.IssuedAt,
		&session.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Session{}, sessionsvc.ErrSessionNotFound
		}
		return model.Session{}, fmt.Errorf("select session: %w", err)
	}

	return session, nil
}

func (r *SessionRepo) ListByUser(ctx context.Context, userID int64) ([]model.Session, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return nil, sessionsvc.ErrInvalidInput
	}

	rows, err := r.pool.Query(ctx, `
SELECT device_id, user_id, device_name, user_agent, ip, issued_at, expires_at
FROM sessions
WHERE user_id = $1
ORDER BY issued_at DESC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("select user sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var session model.Session
		if err := rows.Scan(
			&session.DeviceID,
			&session.UserID,
			&session.DeviceName,
			&session.UserAgent,
			&session.IP,
			&session.IssuedAt,
			&session.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}

	return sessions, nil
}

func (r *SessionRepo) DeleteByDevice(ctx context.Context, deviceID string) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(deviceID) == "" {
		return false, nil
	}

	tag, err := r.pool.Exec(ctx, `
DELETE FROM sessions
WHERE device_id = $1
`, deviceID)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *SessionRepo) DeleteAllForUserExcept(ctx context.Context, userID int64, keepDeviceID string) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return 0, sessionsvc.ErrInvalidInput
	}

	tag, err := r.pool.Exec(ctx, `
DELETE FROM sessions
WHERE user_id = $1 AND device_id <> $2
`, userID, keepDeviceID)
	if err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}

	return tag.RowsAffected(), nil
}

// DeleteExpiredBefore prunes sessions whose refresh token is past its
// natural expiry. Used by the cleanup job.
func (r *SessionRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `
DELETE FROM sessions
WHERE expires_at < $1
`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}

	return tag.RowsAffected(), nil
}
