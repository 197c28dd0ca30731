package enums

import "fmt"

// SessionStatus tracks one dining occupancy of a table.
type SessionStatus string

const (
	SessionStatusOpen   SessionStatus = "open"
	SessionStatusClosed SessionStatus = "closed"
)

var validSessionStatuses = []SessionStatus{
	SessionStatusOpen,
	SessionStatusClosed,
}

// String implements fmt.Stringer.
func (s SessionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known SessionStatus.
func (s SessionStatus) IsValid() bool {
	for _, candidate := range validSessionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSessionStatus converts raw input into a SessionStatus.
func ParseSessionStatus(value string) (SessionStatus, error) {
	for _, candidate := range validSessionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid session status %q", value)
}

// SessionCloseReason records why a session was closed.
type SessionCloseReason string

const (
	SessionCloseManual SessionCloseReason = "manual"
	SessionCloseAuto   SessionCloseReason = "auto"
)

// IsValid reports whether the value is a known SessionCloseReason.
func (r SessionCloseReason) IsValid() bool {
	return r == SessionCloseManual || r == SessionCloseAuto
}
