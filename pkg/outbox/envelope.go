package outbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tableside-backend/pkg/enums"
)

// EnvelopeVersion is the newest envelope layout this build writes and reads.
const EnvelopeVersion = 1

// ActorRef identifies the staff member behind an event. Diner and system
// actions carry no actor.
type ActorRef struct {
	UserID *uuid.UUID      `json:"userId,omitempty"`
	Role   enums.StaffRole `json:"role,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
// SessionID names the table session the event belongs to, when the emitter
// knows it, so consumers can follow one table without decoding Data.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	SessionID  *uuid.UUID      `json:"sessionId,omitempty"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a stored or delivered lifecycle event and rejects
// envelopes no consumer can act on.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, uuid.UUID, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return PayloadEnvelope{}, uuid.Nil, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Version < 1 || envelope.Version > EnvelopeVersion {
		return PayloadEnvelope{}, uuid.Nil, fmt.Errorf("unsupported envelope version %d", envelope.Version)
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil || eventID == uuid.Nil {
		return PayloadEnvelope{}, uuid.Nil, fmt.Errorf("invalid event id %q", envelope.EventID)
	}
	trimmed := bytes.TrimSpace(envelope.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return PayloadEnvelope{}, uuid.Nil, fmt.Errorf("envelope %s has no data", eventID)
	}
	return envelope, eventID, nil
}
