package stats

import (
	"context"
	"database/sql"
	"time"
)

// Repository computes attendance counts from the durable store. Cancelled
// sessions never enter the denominator; only completed ones do.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Counts returns completed-session and attended counts for the pair. Zero
// from/to bounds are treated as open-ended.
func (r *Repository) Counts(ctx context.Context, studentID, courseID string, from, to time.Time) (int, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM sessions
		WHERE course_id = $1
		  AND status = 'completed'
		  AND ($2::timestamptz IS NULL OR scheduled_start >= $2)
		  AND ($3::timestamptz IS NULL OR scheduled_start < $3)
	`, courseID, nullTime(from), nullTime(to)).Scan(&total)
	if err != nil {
		return 0, 0, err
	}

	var attended int
	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM attendance_records ar
		JOIN sessions s ON s.id = ar.session_id
		WHERE ar.student_id = $1
		  AND s.course_id = $2
		  AND s.status = 'completed'
		  AND ar.status IN ('present', 'late')
		  AND ($3::timestamptz IS NULL OR s.scheduled_start >= $3)
		  AND ($4::timestamptz IS NULL OR s.scheduled_start < $4)
	`, studentID, courseID, nullTime(from), nullTime(to)).Scan(&attended)
	if err != nil {
		return 0, 0, err
	}

	return total, attended, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

var _ Source = (*Repository)(nil)
