package checkin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Repository persists attendance records in Postgres. The unique constraint
// on (session_id, student_id) is what closes the concurrent-scan race; all
// writes go through single-statement upserts against it.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, session_id, student_id, occurred_at, status, method, flagged, created_at, updated_at`

// UpsertScan records a scan. A conflicting auto_absent or manual row is
// overwritten (the scan is authoritative over placeholders); a conflicting
// qr_scan row is returned unchanged so a second scan is a no-op.
func (r *Repository) UpsertScan(ctx context.Context, rec Record) (Record, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, session_id, student_id, occurred_at, status, method, flagged)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, student_id) DO UPDATE
		SET status = EXCLUDED.status,
		    method = EXCLUDED.method,
		    occurred_at = EXCLUDED.occurred_at,
		    flagged = EXCLUDED.flagged,
		    updated_at = NOW()
		WHERE attendance_records.method IN ('auto_absent', 'manual')
		RETURNING `+recordColumns,
		rec.ID, rec.SessionID, rec.StudentID, rec.OccurredAt, rec.Status, rec.Method, rec.Flagged)

	stored, err := scanRecord(row)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, err
	}

	// Conflict with an existing qr_scan row: idempotent success, return it.
	existing, err := r.Get(ctx, rec.SessionID, rec.StudentID)
	if err != nil {
		return Record{}, false, fmt.Errorf("fetch existing record: %w", err)
	}
	return existing, false, nil
}

// UpsertManual writes a faculty mark, overwriting any existing record for the
// pair. Manual correction is the path of last resort and always wins.
func (r *Repository) UpsertManual(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, session_id, student_id, occurred_at, status, method, flagged)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		ON CONFLICT (session_id, student_id) DO UPDATE
		SET status = EXCLUDED.status,
		    method = EXCLUDED.method,
		    occurred_at = EXCLUDED.occurred_at,
		    updated_at = NOW()
		RETURNING `+recordColumns,
		rec.ID, rec.SessionID, rec.StudentID, rec.OccurredAt, rec.Status, rec.Method)
	return scanRecordErr(row)
}

// MarkAbsent inserts an auto_absent record unless the pair already has one.
// Returns "" when an existing record made the insert a no-op.
func (r *Repository) MarkAbsent(ctx context.Context, sessionID, studentID string) (string, error) {
	id := uuid.NewString()
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, session_id, student_id, occurred_at, status, method, flagged)
		VALUES ($1, $2, $3, NOW(), 'absent', 'auto_absent', FALSE)
		ON CONFLICT (session_id, student_id) DO NOTHING
		RETURNING id
	`, id, sessionID, studentID)
	var inserted string
	if err := row.Scan(&inserted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return inserted, nil
}

// MissingStudents lists enrolled students with no record for the session.
func (r *Repository) MissingStudents(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.student_id
		FROM enrollments e
		JOIN sessions s ON s.course_id = e.course_id
		WHERE s.id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM attendance_records ar
			WHERE ar.session_id = s.id AND ar.student_id = e.student_id
		  )
		ORDER BY e.student_id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Get returns the record for a (session, student) pair.
func (r *Repository) Get(ctx context.Context, sessionID, studentID string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID)
	return scanRecordErr(row)
}

// ListBySession returns all records for a session, newest first. Clients use
// this to reconcile after a stream reconnect.
func (r *Repository) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE session_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.OccurredAt,
			&rec.Status, &rec.Method, &rec.Flagged, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row *sql.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.OccurredAt,
		&rec.Status, &rec.Method, &rec.Flagged, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

func scanRecordErr(row *sql.Row) (Record, error) {
	rec, err := scanRecord(row)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

var _ RecordStore = (*Repository)(nil)
