package enums

import "fmt"

// OutboxDLQErrorReason records why a lifecycle event was parked instead of
// delivered.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts: the broker kept failing until the attempt
	// budget ran out.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonUnresolvable: no registered topic or payload version
	// matches the stored event, e.g. an order event written by a newer build.
	OutboxDLQReasonUnresolvable OutboxDLQErrorReason = "unresolvable"
	// OutboxDLQReasonUnroutable: the broker rejected the message permanently.
	OutboxDLQReasonUnroutable OutboxDLQErrorReason = "unroutable"
)

var validOutboxDLQErrorReasons = []OutboxDLQErrorReason{
	OutboxDLQReasonMaxAttempts,
	OutboxDLQReasonUnresolvable,
	OutboxDLQReasonUnroutable,
}

func (r OutboxDLQErrorReason) String() string { return string(r) }

func (r OutboxDLQErrorReason) IsValid() bool {
	for _, candidate := range validOutboxDLQErrorReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// Retryable reports whether replaying the parked event can succeed without a
// code or broker change.
func (r OutboxDLQErrorReason) Retryable() bool {
	return r == OutboxDLQReasonMaxAttempts
}

func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	for _, candidate := range validOutboxDLQErrorReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox dlq error reason %q", value)
}
