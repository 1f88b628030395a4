package checkin

// Rejection is a typed check-in refusal. Reason is machine-readable so the
// scanning client can render a specific message.
type Rejection struct {
	Reason  string
	Message string
}

func (r *Rejection) Error() string { return r.Message }

var (
	ErrTokenNotFound    = &Rejection{Reason: "token_not_found", Message: "no matching check-in token"}
	ErrTokenExpired     = &Rejection{Reason: "token_expired", Message: "check-in token has expired"}
	ErrSessionNotActive = &Rejection{Reason: "session_not_active", Message: "session is not accepting check-ins"}
	ErrNotEnrolled      = &Rejection{Reason: "not_enrolled", Message: "student is not enrolled in this course"}
	ErrLocationMismatch = &Rejection{Reason: "location_mismatch", Message: "location is outside the session geofence"}
	ErrDeviceMismatch   = &Rejection{Reason: "device_mismatch", Message: "scan came from a device other than the registered one"}
	ErrNotOwner         = &Rejection{Reason: "not_owner", Message: "only the owning faculty can mark attendance"}
	ErrBadStatus        = &Rejection{Reason: "bad_status", Message: "unknown attendance status"}
)
