package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"attendance/internal/events"
)

// Store is the durable state the lifecycle manager operates on.
type Store interface {
	SessionByID(ctx context.Context, id string) (Session, error)
	// ActivateWithToken revokes any live token for the session, stores the new
	// one and marks the session active, all in one transaction.
	ActivateWithToken(ctx context.Context, sessionID string, tok Token, enrolledCount int) error
	LiveToken(ctx context.Context, sessionID string) (*Token, error)
	Complete(ctx context.Context, sessionID string) error
	Cancel(ctx context.Context, sessionID string) error
}

// Sweeper materializes auto-absent records when a session ends.
type Sweeper interface {
	MissingStudents(ctx context.Context, sessionID string) ([]string, error)
	// MarkAbsent inserts an auto_absent record unless one already exists for
	// the pair. Returns the new record id, or "" when nothing was written.
	MarkAbsent(ctx context.Context, sessionID, studentID string) (string, error)
}

// Enrollment supplies the class-size snapshot taken at activation.
type Enrollment interface {
	Count(ctx context.Context, courseID string) (int, error)
}

// Manager owns session state transitions and token issuance.
type Manager struct {
	store  Store
	sweep  Sweeper
	enroll Enrollment
	gen    *Generator
	broker events.Broker
	log    zerolog.Logger
	now    func() time.Time
}

// NewManager wires the lifecycle manager.
func NewManager(store Store, sweep Sweeper, enroll Enrollment, gen *Generator, broker events.Broker, log zerolog.Logger) *Manager {
	return &Manager{
		store:  store,
		sweep:  sweep,
		enroll: enroll,
		gen:    gen,
		broker: broker,
		log:    log,
		now:    time.Now,
	}
}

// IssueToken mints a fresh token for the session, revoking any prior live
// token, and activates the session if it is still scheduled. Completed and
// cancelled sessions are rejected.
func (m *Manager) IssueToken(ctx context.Context, sessionID string, ttl time.Duration) (Token, error) {
	sess, err := m.store.SessionByID(ctx, sessionID)
	if err != nil {
		return Token{}, err
	}
	if sess.Status.Terminal() {
		return Token{}, ErrInvalidState
	}

	count, err := m.enroll.Count(ctx, sess.CourseID)
	if err != nil {
		return Token{}, err
	}

	tok, err := m.gen.Mint(sessionID, ttl)
	if err != nil {
		return Token{}, err
	}
	if err := m.store.ActivateWithToken(ctx, sessionID, tok, count); err != nil {
		return Token{}, err
	}

	m.log.Info().
		Str("session_id", sessionID).
		Time("expires_at", tok.ExpiresAt).
		Int("enrolled", count).
		Msg("token issued")
	return tok, nil
}

// Activate transitions a scheduled session to active and returns its token.
// Idempotent: an already-active session with a live token returns that token
// instead of erroring.
func (m *Manager) Activate(ctx context.Context, sessionID string, ttl time.Duration) (Token, error) {
	sess, err := m.store.SessionByID(ctx, sessionID)
	if err != nil {
		return Token{}, err
	}
	if sess.Status.Terminal() {
		return Token{}, ErrTerminalState
	}
	if sess.Status == StatusActive {
		if tok, err := m.store.LiveToken(ctx, sessionID); err != nil {
			return Token{}, err
		} else if tok != nil && tok.Live(m.now()) {
			return *tok, nil
		}
	}
	return m.IssueToken(ctx, sessionID, ttl)
}

// End transitions an active session to completed, revokes its token and
// materializes an auto_absent record for every enrolled student who never
// checked in. Returns the number of students swept absent. Calling End on an
// already-completed session re-runs just the sweep, so a transient failure
// after the status transition is recoverable by retrying.
func (m *Manager) End(ctx context.Context, sessionID string) (int, error) {
	sess, err := m.store.SessionByID(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	switch sess.Status {
	case StatusCancelled:
		return 0, ErrTerminalState
	case StatusCompleted:
		return m.sweepAbsent(ctx, sess)
	case StatusActive:
	default:
		return 0, ErrInvalidState
	}

	if err := m.store.Complete(ctx, sessionID); err != nil {
		return 0, err
	}
	return m.sweepAbsent(ctx, sess)
}

// sweepAbsent is idempotent: MarkAbsent skips pairs that already have a
// record, and only newly written rows are counted and fanned out.
func (m *Manager) sweepAbsent(ctx context.Context, sess Session) (int, error) {
	missing, err := m.sweep.MissingStudents(ctx, sess.ID)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, studentID := range missing {
		recordID, err := m.sweep.MarkAbsent(ctx, sess.ID, studentID)
		if err != nil {
			m.log.Error().Err(err).
				Str("session_id", sess.ID).
				Str("student_id", studentID).
				Msg("auto-absent write failed")
			continue
		}
		if recordID == "" {
			continue
		}
		swept++
		evt := events.RecordEvent{
			RecordID:   recordID,
			SessionID:  sess.ID,
			CourseID:   sess.CourseID,
			StudentID:  studentID,
			Status:     "absent",
			Method:     "auto_absent",
			OccurredAt: m.now().UTC(),
		}
		if err := m.broker.Publish(ctx, evt); err != nil {
			m.log.Warn().Err(err).Str("record_id", recordID).Msg("auto-absent publish failed")
		}
	}

	m.log.Info().Str("session_id", sess.ID).Int("swept_absent", swept).Msg("session completed")
	return swept, nil
}

// Cancel moves any non-terminal session to cancelled and revokes its token.
// Cancelled sessions are excluded from statistics entirely.
func (m *Manager) Cancel(ctx context.Context, sessionID string) error {
	sess, err := m.store.SessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return ErrTerminalState
	}
	if err := m.store.Cancel(ctx, sessionID); err != nil {
		return err
	}
	m.log.Info().Str("session_id", sessionID).Msg("session cancelled")
	return nil
}
