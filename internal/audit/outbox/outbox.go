// Package outbox persists audit events next to the identity mutation that
// produced them and relays them to Kafka once committed.
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"canon/internal/audit"
)

const aggregateIdentity = "identity"

// Entry is one outbox row.
type Entry struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// NewEntry wraps a sequenced audit event. The payload is the event's JSON form,
// which is also what consumers of the audit topic decode.
func NewEntry(ev audit.Event) (Entry, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal audit payload: %w", err)
	}
	return Entry{
		ID:            ev.ID,
		AggregateType: aggregateIdentity,
		AggregateID:   ev.IdentityID,
		EventType:     string(ev.Action),
		Payload:       payload,
		CreatedAt:     ev.Timestamp,
	}, nil
}
