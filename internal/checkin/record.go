package checkin

import "time"

// Attendance statuses. Absent is never produced by a scan; it comes from the
// end-of-session sweep or an explicit faculty mark.
const (
	StatusPresent = "present"
	StatusLate    = "late"
	StatusAbsent  = "absent"
	StatusExcused = "excused"
)

// Record methods.
const (
	MethodScan       = "qr_scan"
	MethodManual     = "manual"
	MethodAutoAbsent = "auto_absent"
)

// Record is the durable fact that a student checked in (or was marked) for a
// session. At most one record exists per (session, student) pair; corrections
// update the row in place, never delete it.
type Record struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	StudentID  string    `json:"student_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Status     string    `json:"status"`
	Method     string    `json:"method"`
	Flagged    bool      `json:"flagged,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ValidMarkStatus reports whether a faculty mark carries a known status.
func ValidMarkStatus(status string) bool {
	switch status {
	case StatusPresent, StatusLate, StatusAbsent, StatusExcused:
		return true
	}
	return false
}
