package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Repository persists sessions and tokens in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `id, course_id, faculty_id, room_lat, room_lng, scheduled_start, scheduled_end,
	status, token_id, enrolled_count, geofence_required, created_at, updated_at`

func scanSession(row *sql.Row) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.CourseID, &s.FacultyID, &s.RoomLat, &s.RoomLng,
		&s.ScheduledStart, &s.ScheduledEnd, &s.Status, &s.TokenID,
		&s.EnrolledCount, &s.GeofenceRequired, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

// SessionByID returns a single session.
func (r *Repository) SessionByID(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// ActivateWithToken revokes any live token for the session, inserts the new
// token, snapshots the enrollment count and marks the session active. All in
// one transaction so at most one live token can exist per session.
func (r *Repository) ActivateWithToken(ctx context.Context, sessionID string, tok Token, enrolledCount int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE tokens SET expires_at = NOW()
		WHERE session_id = $1 AND expires_at > NOW()
	`, sessionID); err != nil {
		return fmt.Errorf("revoke live token: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tokens (id, session_id, secret, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, tok.ID, tok.SessionID, tok.Secret, tok.IssuedAt, tok.ExpiresAt); err != nil {
		return fmt.Errorf("insert token: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET status = 'active', token_id = $2, enrolled_count = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ('scheduled', 'active')
	`, sessionID, tok.ID, enrolledCount)
	if err != nil {
		return fmt.Errorf("activate session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidState
	}

	return tx.Commit()
}

// LiveToken returns the unexpired token for the session, or nil.
func (r *Repository) LiveToken(ctx context.Context, sessionID string) (*Token, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, secret, issued_at, expires_at
		FROM tokens
		WHERE session_id = $1 AND expires_at > NOW()
		ORDER BY issued_at DESC
		LIMIT 1
	`, sessionID)
	var t Token
	if err := row.Scan(&t.ID, &t.SessionID, &t.Secret, &t.IssuedAt, &t.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// TokenBySecret resolves a scanned secret to its token. Expiry is not checked
// here; the validator enforces it against its own clock.
func (r *Repository) TokenBySecret(ctx context.Context, secret string) (Token, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, secret, issued_at, expires_at
		FROM tokens WHERE secret = $1
	`, secret)
	var t Token
	if err := row.Scan(&t.ID, &t.SessionID, &t.Secret, &t.IssuedAt, &t.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Token{}, ErrNotFound
		}
		return Token{}, err
	}
	return t, nil
}

// Complete marks a session completed and revokes its live token.
func (r *Repository) Complete(ctx context.Context, sessionID string) error {
	return r.finish(ctx, sessionID, StatusCompleted)
}

// Cancel marks a session cancelled and revokes its live token.
func (r *Repository) Cancel(ctx context.Context, sessionID string) error {
	return r.finish(ctx, sessionID, StatusCancelled)
}

func (r *Repository) finish(ctx context.Context, sessionID string, status Status) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE tokens SET expires_at = NOW()
		WHERE session_id = $1 AND expires_at > NOW()
	`, sessionID); err != nil {
		return fmt.Errorf("revoke live token: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET status = $2, token_id = NULL, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'cancelled')
	`, sessionID, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTerminalState
	}

	return tx.Commit()
}
