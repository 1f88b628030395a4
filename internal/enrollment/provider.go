package enrollment

import (
	"context"
	"database/sql"
)

// Provider answers enrollment questions. The core never manages identities;
// this is the narrow view it needs of the registrar's data.
type Provider interface {
	IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error)
	Count(ctx context.Context, courseID string) (int, error)
}

// SQLProvider reads the enrollments table kept in sync by the registrar.
type SQLProvider struct {
	db *sql.DB
}

// NewSQLProvider creates a provider over the shared database.
func NewSQLProvider(db *sql.DB) *SQLProvider {
	return &SQLProvider{db: db}
}

// IsEnrolled reports course membership.
func (p *SQLProvider) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2
		)
	`, studentID, courseID).Scan(&exists)
	return exists, err
}

// Count returns the current course enrollment size.
func (p *SQLProvider) Count(ctx context.Context, courseID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM enrollments WHERE course_id = $1
	`, courseID).Scan(&n)
	return n, err
}

var _ Provider = (*SQLProvider)(nil)
