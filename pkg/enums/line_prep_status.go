package enums

import "fmt"

// LinePrepStatus is the kitchen sub-state of an order line.
type LinePrepStatus string

const (
	LinePrepQueued    LinePrepStatus = "queued"
	LinePrepPreparing LinePrepStatus = "preparing"
	LinePrepReady     LinePrepStatus = "ready"
)

var validLinePrepStatuses = []LinePrepStatus{
	LinePrepQueued,
	LinePrepPreparing,
	LinePrepReady,
}

var linePrepTransitions = map[LinePrepStatus][]LinePrepStatus{
	LinePrepQueued:    {LinePrepPreparing, LinePrepReady},
	LinePrepPreparing: {LinePrepReady},
}

// String implements fmt.Stringer.
func (s LinePrepStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known LinePrepStatus.
func (s LinePrepStatus) IsValid() bool {
	for _, candidate := range validLinePrepStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s LinePrepStatus) CanTransitionTo(next LinePrepStatus) bool {
	for _, candidate := range linePrepTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// PrepSourcesFor returns every status from which next may be reached.
func PrepSourcesFor(next LinePrepStatus) []LinePrepStatus {
	var sources []LinePrepStatus
	for _, from := range validLinePrepStatuses {
		if from.CanTransitionTo(next) {
			sources = append(sources, from)
		}
	}
	return sources
}

// ParseLinePrepStatus converts raw input into a LinePrepStatus.
func ParseLinePrepStatus(value string) (LinePrepStatus, error) {
	for _, candidate := range validLinePrepStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid line prep status %q", value)
}
