package checkin

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"attendance/internal/events"
	"attendance/internal/metrics"
	"attendance/internal/session"
)

// Geofence policies.
const (
	GeofenceSoft = "soft" // flag the record, accept the scan
	GeofenceHard = "hard" // reject with LocationMismatch
)

// TokenStore resolves scanned secrets and their sessions.
type TokenStore interface {
	TokenBySecret(ctx context.Context, secret string) (session.Token, error)
	SessionByID(ctx context.Context, id string) (session.Session, error)
}

// RecordStore performs the atomic upsert keyed by (session, student).
type RecordStore interface {
	// UpsertScan inserts the record, or overwrites an auto_absent/manual
	// placeholder. A prior qr_scan row is left untouched and returned with
	// changed=false (idempotent success).
	UpsertScan(ctx context.Context, rec Record) (Record, bool, error)
	// UpsertManual overwrites whatever exists for the pair.
	UpsertManual(ctx context.Context, rec Record) (Record, error)
}

// Enrollment answers membership for the session's course.
type Enrollment interface {
	IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error)
}

// Validator decides accept/reject for scans and writes accepted records.
type Validator struct {
	tokens  TokenStore
	records RecordStore
	enroll  Enrollment
	broker  events.Broker

	lateGrace       time.Duration
	geofencePolicy  string
	geofenceRadiusM float64

	log zerolog.Logger
	now func() time.Time
}

// NewValidator wires the check-in pipeline.
func NewValidator(tokens TokenStore, records RecordStore, enroll Enrollment, broker events.Broker,
	lateGrace time.Duration, geofencePolicy string, geofenceRadiusM float64, log zerolog.Logger) *Validator {
	if lateGrace <= 0 {
		lateGrace = 10 * time.Minute
	}
	if geofencePolicy != GeofenceHard {
		geofencePolicy = GeofenceSoft
	}
	return &Validator{
		tokens:          tokens,
		records:         records,
		enroll:          enroll,
		broker:          broker,
		lateGrace:       lateGrace,
		geofencePolicy:  geofencePolicy,
		geofenceRadiusM: geofenceRadiusM,
		log:             log,
		now:             time.Now,
	}
}

// CheckIn validates a scanned token and records attendance. Validation
// short-circuits on the first failure and returns a typed *Rejection.
// Scanning twice is an idempotent success, never an error. boundDevice is the
// fingerprint the student's JWT was registered with; when both it and the
// evidence fingerprint are present they must agree.
func (v *Validator) CheckIn(ctx context.Context, tokenSecret, studentID, boundDevice string, ev Evidence) (Record, error) {
	started := v.now()

	rec, err := v.checkIn(ctx, tokenSecret, studentID, boundDevice, ev)
	result := "accepted"
	var rej *Rejection
	if errors.As(err, &rej) {
		result = rej.Reason
	} else if err != nil {
		result = "error"
	}
	metrics.CheckinsTotal.WithLabelValues(result).Inc()
	metrics.CheckinDuration.Observe(v.now().Sub(started).Seconds())
	return rec, err
}

func (v *Validator) checkIn(ctx context.Context, tokenSecret, studentID, boundDevice string, ev Evidence) (Record, error) {
	tok, err := v.tokens.TokenBySecret(ctx, tokenSecret)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return Record{}, ErrTokenNotFound
		}
		return Record{}, err
	}

	now := v.now()
	if !tok.Live(now) {
		return Record{}, ErrTokenExpired
	}

	sess, err := v.tokens.SessionByID(ctx, tok.SessionID)
	if err != nil {
		return Record{}, err
	}
	if sess.Status != session.StatusActive {
		return Record{}, ErrSessionNotActive
	}

	ok, err := v.enroll.IsEnrolled(ctx, studentID, sess.CourseID)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, ErrNotEnrolled
	}

	if boundDevice != "" && ev.DeviceID != "" && ev.DeviceID != boundDevice {
		return Record{}, ErrDeviceMismatch
	}

	flagged := false
	if sess.GeofenceRequired && !ev.withinRadius(sess.RoomLat, sess.RoomLng, v.geofenceRadiusM) {
		if v.geofencePolicy == GeofenceHard {
			return Record{}, ErrLocationMismatch
		}
		flagged = true
		v.log.Warn().
			Str("session_id", sess.ID).
			Str("student_id", studentID).
			Bool("has_location", ev.HasLocation()).
			Msg("geofence mismatch, record flagged")
	}

	// On the boundary, scheduledStart+grace still counts as present.
	status := StatusPresent
	if now.After(sess.ScheduledStart.Add(v.lateGrace)) {
		status = StatusLate
	}

	rec, changed, err := v.records.UpsertScan(ctx, Record{
		SessionID:  sess.ID,
		StudentID:  studentID,
		OccurredAt: now.UTC(),
		Status:     status,
		Method:     MethodScan,
		Flagged:    flagged,
	})
	if err != nil {
		return Record{}, err
	}
	v.log.Info().
		Str("session_id", sess.ID).
		Str("student_id", studentID).
		Str("status", rec.Status).
		Str("device", ev.DeviceID).
		Bool("repeat", !changed).
		Msg("check-in accepted")
	if changed {
		v.publish(ctx, sess.CourseID, rec)
	}
	return rec, nil
}

// Mark is the faculty override path: it bypasses token and enrollment checks,
// writes method=manual and still goes through the shared upsert and event emit.
func (v *Validator) Mark(ctx context.Context, sessionID, studentID, status, facultyID string) (Record, error) {
	if !ValidMarkStatus(status) {
		return Record{}, ErrBadStatus
	}

	sess, err := v.tokens.SessionByID(ctx, sessionID)
	if err != nil {
		return Record{}, err
	}
	if sess.FacultyID != facultyID {
		return Record{}, ErrNotOwner
	}
	if sess.Status == session.StatusCancelled {
		return Record{}, session.ErrTerminalState
	}

	rec, err := v.records.UpsertManual(ctx, Record{
		SessionID:  sessionID,
		StudentID:  studentID,
		OccurredAt: v.now().UTC(),
		Status:     status,
		Method:     MethodManual,
	})
	if err != nil {
		return Record{}, err
	}
	metrics.ManualMarksTotal.Inc()
	v.publish(ctx, sess.CourseID, rec)
	return rec, nil
}

// publish fans out the accepted record. Delivery failures are logged, never
// propagated: the write is the durable fact, delivery is best-effort.
func (v *Validator) publish(ctx context.Context, courseID string, rec Record) {
	evt := events.RecordEvent{
		RecordID:   rec.ID,
		SessionID:  rec.SessionID,
		CourseID:   courseID,
		StudentID:  rec.StudentID,
		Status:     rec.Status,
		Method:     rec.Method,
		Flagged:    rec.Flagged,
		OccurredAt: rec.OccurredAt,
	}
	if err := v.broker.Publish(ctx, evt); err != nil {
		v.log.Error().Err(err).Str("record_id", rec.ID).Msg("record publish failed")
		return
	}
	metrics.RecordsPublishedTotal.Inc()
}
