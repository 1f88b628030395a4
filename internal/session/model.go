package session

import "time"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Session is one scheduled class occurrence requiring attendance.
type Session struct {
	ID               string    `json:"id"`
	CourseID         string    `json:"course_id"`
	FacultyID        string    `json:"faculty_id"`
	RoomLat          float64   `json:"room_lat"`
	RoomLng          float64   `json:"room_lng"`
	ScheduledStart   time.Time `json:"scheduled_start"`
	ScheduledEnd     time.Time `json:"scheduled_end"`
	Status           Status    `json:"status"`
	TokenID          *string   `json:"token_id,omitempty"`
	EnrolledCount    int       `json:"enrolled_count"`
	GeofenceRequired bool      `json:"geofence_required"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Token grants check-in rights for one session within [IssuedAt, ExpiresAt).
type Token struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Secret    string    `json:"secret"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Live reports whether the token is usable at the given instant.
func (t Token) Live(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}
