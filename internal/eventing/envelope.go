package eventing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const currentSchemaVersion = 1

// Envelope is the outbox record of one event.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	CompanyID     string          `json:"company_id"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// Meta overrides envelope fields; zero fields fall back to the event or defaults.
type Meta struct {
	EventID       string
	OccurredAt    time.Time
	CorrelationID string
	CompanyID     string
	SchemaVersion int
}

// CompanyScoped events name the company they concern.
type CompanyScoped interface {
	EventCompanyID() string
}

// Timestamped events carry their own occurrence time.
type Timestamped interface {
	EventTime() time.Time
}

// BuildEnvelope serializes event and fills the envelope metadata.
func BuildEnvelope(event any, meta Meta) (Envelope, error) {
	if event == nil {
		return Envelope{}, ErrNilEvent
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, fmt.Errorf("eventing: encode %s: %w", EventType(event), err)
	}

	env := Envelope{
		EventID:       meta.EventID,
		EventType:     EventType(event),
		OccurredAt:    meta.OccurredAt,
		CorrelationID: meta.CorrelationID,
		CompanyID:     meta.CompanyID,
		SchemaVersion: meta.SchemaVersion,
		Payload:       payload,
	}
	if scoped, ok := event.(CompanyScoped); ok && env.CompanyID == "" {
		env.CompanyID = scoped.EventCompanyID()
	}
	if stamped, ok := event.(Timestamped); ok && env.OccurredAt.IsZero() {
		env.OccurredAt = stamped.EventTime()
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now()
	}
	env.OccurredAt = env.OccurredAt.UTC()
	if env.EventID == "" {
		env.EventID = uuid.NewString()
	}
	if env.CorrelationID == "" {
		env.CorrelationID = env.EventID
	}
	if env.SchemaVersion == 0 {
		env.SchemaVersion = currentSchemaVersion
	}
	return env, nil
}
