package checkin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"attendance/internal/events"
	"attendance/internal/session"
)

var (
	start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	grace = 10 * time.Minute
)

type fakeTokens struct {
	tokens   map[string]session.Token
	sessions map[string]session.Session
}

func (f *fakeTokens) TokenBySecret(_ context.Context, secret string) (session.Token, error) {
	tok, ok := f.tokens[secret]
	if !ok {
		return session.Token{}, session.ErrNotFound
	}
	return tok, nil
}

func (f *fakeTokens) SessionByID(_ context.Context, id string) (session.Session, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	return sess, nil
}

// memRecords mirrors the repository's upsert semantics behind a mutex.
type memRecords struct {
	mu   sync.Mutex
	recs map[string]Record
}

func newMemRecords() *memRecords {
	return &memRecords{recs: map[string]Record{}}
}

func key(sessionID, studentID string) string { return sessionID + "|" + studentID }

func (m *memRecords) UpsertScan(_ context.Context, rec Record) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(rec.SessionID, rec.StudentID)
	if existing, ok := m.recs[k]; ok {
		if existing.Method == MethodScan {
			return existing, false, nil
		}
		rec.ID = existing.ID
		m.recs[k] = rec
		return rec, true, nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.recs[k] = rec
	return rec, true, nil
}

func (m *memRecords) UpsertManual(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(rec.SessionID, rec.StudentID)
	if existing, ok := m.recs[k]; ok {
		rec.ID = existing.ID
	} else if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.recs[k] = rec
	return rec, nil
}

func (m *memRecords) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

type allowAll struct{ denied map[string]bool }

func (a allowAll) IsEnrolled(_ context.Context, studentID, _ string) (bool, error) {
	return !a.denied[studentID], nil
}

type fixture struct {
	validator *Validator
	records   *memRecords
	broker    *events.InMemory
	tokens    *fakeTokens
}

func ptr(f float64) *float64 { return &f }

func newFixture(t *testing.T, geofencePolicy string, mutate func(*session.Session)) *fixture {
	t.Helper()

	sess := session.Session{
		ID:             "sess-1",
		CourseID:       "course-1",
		FacultyID:      "fac-1",
		RoomLat:        40.0,
		RoomLng:        -74.0,
		ScheduledStart: start,
		ScheduledEnd:   start.Add(time.Hour),
		Status:         session.StatusActive,
	}
	if mutate != nil {
		mutate(&sess)
	}

	tokens := &fakeTokens{
		tokens: map[string]session.Token{
			"good-secret": {
				ID:        "tok-1",
				SessionID: "sess-1",
				Secret:    "good-secret",
				IssuedAt:  start,
				ExpiresAt: start.Add(grace),
			},
		},
		sessions: map[string]session.Session{"sess-1": sess},
	}

	records := newMemRecords()
	broker := events.NewInMemory()
	v := NewValidator(tokens, records, allowAll{denied: map[string]bool{"outsider": true}},
		broker, grace, geofencePolicy, 100, zerolog.Nop())
	v.now = func() time.Time { return start.Add(5 * time.Minute) }

	return &fixture{validator: v, records: records, broker: broker, tokens: tokens}
}

func TestCheckInRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*session.Session)
		policy  string
		secret  string
		student string
		device  string
		ev      Evidence
		at      time.Time
		want    *Rejection
	}{
		{
			name:    "unknown token",
			secret:  "bogus",
			student: "stu-1",
			want:    ErrTokenNotFound,
		},
		{
			name:    "expired token",
			secret:  "good-secret",
			student: "stu-1",
			at:      start.Add(grace), // exactly expiresAt: already dead
			want:    ErrTokenExpired,
		},
		{
			name:    "session not active",
			mutate:  func(s *session.Session) { s.Status = session.StatusScheduled },
			secret:  "good-secret",
			student: "stu-1",
			want:    ErrSessionNotActive,
		},
		{
			name:    "not enrolled",
			secret:  "good-secret",
			student: "outsider",
			want:    ErrNotEnrolled,
		},
		{
			name:    "foreign device fingerprint",
			secret:  "good-secret",
			student: "stu-1",
			device:  "phone-1",
			ev:      Evidence{DeviceID: "someone-elses-device"},
			want:    ErrDeviceMismatch,
		},
		{
			name:    "geofence hard reject without location",
			mutate:  func(s *session.Session) { s.GeofenceRequired = true },
			policy:  GeofenceHard,
			secret:  "good-secret",
			student: "stu-1",
			want:    ErrLocationMismatch,
		},
		{
			name:    "geofence hard reject outside radius",
			mutate:  func(s *session.Session) { s.GeofenceRequired = true },
			policy:  GeofenceHard,
			secret:  "good-secret",
			student: "stu-1",
			ev:      Evidence{Lat: ptr(41.0), Lng: ptr(-74.0)},
			want:    ErrLocationMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := tt.policy
			if policy == "" {
				policy = GeofenceSoft
			}
			f := newFixture(t, policy, tt.mutate)
			if !tt.at.IsZero() {
				at := tt.at
				f.validator.now = func() time.Time { return at }
			}

			_, err := f.validator.CheckIn(context.Background(), tt.secret, tt.student, tt.device, tt.ev)
			var rej *Rejection
			if !errors.As(err, &rej) || rej != tt.want {
				t.Fatalf("CheckIn() error = %v, want %v", err, tt.want)
			}
			if f.records.count() != 0 {
				t.Errorf("rejected scan must not write a record")
			}
		})
	}
}

func TestCheckInStatusThreshold(t *testing.T) {
	// Token expiry is stretched so only the grace window decides the status.
	longToken := func(f *fixture) {
		tok := f.tokens.tokens["good-secret"]
		tok.ExpiresAt = start.Add(time.Hour)
		f.tokens.tokens["good-secret"] = tok
	}

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{name: "well within grace", at: start.Add(5 * time.Minute), want: StatusPresent},
		{name: "just inside grace", at: start.Add(grace - time.Second), want: StatusPresent},
		{name: "exactly at boundary", at: start.Add(grace), want: StatusPresent},
		{name: "just past grace", at: start.Add(grace + time.Second), want: StatusLate},
		{name: "very late", at: start.Add(40 * time.Minute), want: StatusLate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, GeofenceSoft, nil)
			longToken(f)
			at := tt.at
			f.validator.now = func() time.Time { return at }

			rec, err := f.validator.CheckIn(context.Background(), "good-secret", "stu-1", "", Evidence{})
			if err != nil {
				t.Fatalf("CheckIn() error = %v", err)
			}
			if rec.Status != tt.want {
				t.Errorf("status = %s, want %s", rec.Status, tt.want)
			}
			if rec.Method != MethodScan {
				t.Errorf("method = %s, want %s", rec.Method, MethodScan)
			}
		})
	}
}

func TestCheckInIsIdempotent(t *testing.T) {
	f := newFixture(t, GeofenceSoft, nil)
	ch, release, _ := f.broker.Subscribe(context.Background(), events.SessionTopic("sess-1"))
	defer release()

	first, err := f.validator.CheckIn(context.Background(), "good-secret", "stu-1", "", Evidence{})
	if err != nil {
		t.Fatalf("first CheckIn() error = %v", err)
	}
	second, err := f.validator.CheckIn(context.Background(), "good-secret", "stu-1", "", Evidence{})
	if err != nil {
		t.Fatalf("second CheckIn() must not error, got %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("second scan returned a different record: %s != %s", first.ID, second.ID)
	}
	if f.records.count() != 1 {
		t.Errorf("records = %d, want 1", f.records.count())
	}

	// Exactly one event: the no-op repeat must not be fanned out.
	<-ch
	select {
	case evt := <-ch:
		t.Fatalf("unexpected second event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScanOverwritesPlaceholders(t *testing.T) {
	for _, method := range []string{MethodAutoAbsent, MethodManual} {
		t.Run(method, func(t *testing.T) {
			f := newFixture(t, GeofenceSoft, nil)
			f.records.recs[key("sess-1", "stu-1")] = Record{
				ID:        "existing",
				SessionID: "sess-1",
				StudentID: "stu-1",
				Status:    StatusAbsent,
				Method:    method,
			}

			rec, err := f.validator.CheckIn(context.Background(), "good-secret", "stu-1", "", Evidence{})
			if err != nil {
				t.Fatalf("CheckIn() error = %v", err)
			}
			if rec.ID != "existing" {
				t.Errorf("overwrite must keep the row id, got %s", rec.ID)
			}
			if rec.Method != MethodScan || rec.Status != StatusPresent {
				t.Errorf("record = %s/%s, want qr_scan/present", rec.Method, rec.Status)
			}
		})
	}
}

func TestCheckInDeviceBinding(t *testing.T) {
	tests := []struct {
		name   string
		bound  string
		device string
	}{
		{name: "matching fingerprint", bound: "phone-1", device: "phone-1"},
		{name: "unbound token ignores fingerprint", bound: "", device: "phone-1"},
		{name: "bound token without evidence fingerprint", bound: "phone-1", device: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, GeofenceSoft, nil)
			rec, err := f.validator.CheckIn(context.Background(), "good-secret", "stu-1", tt.bound,
				Evidence{DeviceID: tt.device})
			if err != nil {
				t.Fatalf("CheckIn() error = %v", err)
			}
			if rec.Status != StatusPresent {
				t.Errorf("status = %s, want present", rec.Status)
			}
		})
	}
}

func TestGeofenceSoftFlagsRecord(t *testing.T) {
	f := newFixture(t, GeofenceSoft, func(s *session.Session) { s.GeofenceRequired = true })

	rec, err := f.validator.CheckIn(context.Background(), "good-secret", "stu-1", "", Evidence{})
	if err != nil {
		t.Fatalf("soft policy must accept, got %v", err)
	}
	if !rec.Flagged {
		t.Error("record should be flagged on geofence mismatch")
	}
}

func TestGeofenceAcceptsNearbyLocation(t *testing.T) {
	f := newFixture(t, GeofenceHard, func(s *session.Session) { s.GeofenceRequired = true })

	rec, err := f.validator.CheckIn(context.Background(), "good-secret", "stu-1", "",
		Evidence{Lat: ptr(40.0003), Lng: ptr(-74.0), AccuracyM: 20})
	if err != nil {
		t.Fatalf("nearby scan rejected: %v", err)
	}
	if rec.Flagged {
		t.Error("in-fence record must not be flagged")
	}
}

func TestConcurrentCheckInsYieldOneRecord(t *testing.T) {
	f := newFixture(t, GeofenceSoft, nil)

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.validator.CheckIn(context.Background(), "good-secret", "stu-1", "", Evidence{}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent CheckIn() error = %v", err)
	}
	if f.records.count() != 1 {
		t.Fatalf("records = %d, want exactly 1", f.records.count())
	}
}

func TestMarkRequiresOwningFaculty(t *testing.T) {
	f := newFixture(t, GeofenceSoft, nil)

	if _, err := f.validator.Mark(context.Background(), "sess-1", "stu-1", StatusLate, "other-fac"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("Mark() error = %v, want ErrNotOwner", err)
	}
}

func TestMarkWritesManualRecord(t *testing.T) {
	f := newFixture(t, GeofenceSoft, nil)
	ch, release, _ := f.broker.Subscribe(context.Background(), events.StudentTopic("stu-2"))
	defer release()

	rec, err := f.validator.Mark(context.Background(), "sess-1", "stu-2", StatusLate, "fac-1")
	if err != nil {
		t.Fatalf("Mark() error = %v", err)
	}
	if rec.Method != MethodManual || rec.Status != StatusLate {
		t.Errorf("record = %s/%s, want manual/late", rec.Method, rec.Status)
	}

	select {
	case evt := <-ch:
		if evt.Method != MethodManual {
			t.Errorf("event method = %s, want manual", evt.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("manual mark must fan out")
	}
}

func TestMarkRejectsBadStatusAndCancelledSession(t *testing.T) {
	f := newFixture(t, GeofenceSoft, nil)
	if _, err := f.validator.Mark(context.Background(), "sess-1", "stu-1", "tardy", "fac-1"); !errors.Is(err, ErrBadStatus) {
		t.Errorf("bad status: error = %v, want ErrBadStatus", err)
	}

	f = newFixture(t, GeofenceSoft, func(s *session.Session) { s.Status = session.StatusCancelled })
	if _, err := f.validator.Mark(context.Background(), "sess-1", "stu-1", StatusLate, "fac-1"); !errors.Is(err, session.ErrTerminalState) {
		t.Errorf("cancelled session: error = %v, want ErrTerminalState", err)
	}
}
