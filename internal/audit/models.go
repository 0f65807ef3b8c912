// Package audit defines the append-only history entries recorded for every
// identity mutation and the helpers to page through them.
package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "canon/pkg/domain-errors"
)

// Action names the kind of state change an event records.
type Action string

const (
	ActionCreated      Action = "created"
	ActionVerified     Action = "verified"
	ActionUpdated      Action = "updated"
	ActionFlagged      Action = "flagged"
	ActionCleared      Action = "cleared"
	ActionRiskAssessed Action = "risk_assessed"
)

// ActorKind tags who performed a change.
type ActorKind string

const (
	KindActor    ActorKind = "actor"
	KindAgent    ActorKind = "agent"
	KindOperator ActorKind = "operator"
	KindSystem   ActorKind = "system"
)

func (k ActorKind) IsValid() bool {
	switch k {
	case KindActor, KindAgent, KindOperator, KindSystem:
		return true
	}
	return false
}

// Actor is the tagged performer of an event.
type Actor struct {
	Kind ActorKind `json:"kind"`
	ID   string    `json:"id"`
}

func ExternalActor(id string) Actor { return Actor{Kind: KindActor, ID: id} }
func Agent(id string) Actor         { return Actor{Kind: KindAgent, ID: id} }
func Operator(id string) Actor      { return Actor{Kind: KindOperator, ID: id} }
func System(id string) Actor        { return Actor{Kind: KindSystem, ID: id} }

func (a Actor) IsOperator() bool {
	return a.Kind == KindOperator && a.ID != ""
}

func (a Actor) String() string {
	return string(a.Kind) + ":" + a.ID
}

// ParseActor reads the "kind:id" form used on the wire.
func ParseActor(raw string) (Actor, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(raw), ":")
	a := Actor{Kind: ActorKind(kind), ID: strings.TrimSpace(id)}
	if !ok || !a.Kind.IsValid() || a.ID == "" {
		return Actor{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid actor %q, want kind:id", raw))
	}
	return a, nil
}

// Event is one immutable history entry. Seq is the per-identity append
// position and is authoritative for ordering; Timestamp is clamped so it
// never goes backwards within an identity.
type Event struct {
	ID            uuid.UUID       `json:"id"`
	IdentityID    string          `json:"identityId"`
	Seq           int64           `json:"seq"`
	Timestamp     time.Time       `json:"timestamp"`
	Action        Action          `json:"action"`
	Actor         Actor           `json:"actor"`
	Detail        string          `json:"detail,omitempty"`
	PreviousValue json.RawMessage `json:"previousValue,omitempty"`
	NewValue      json.RawMessage `json:"newValue,omitempty"`
	RequestID     string          `json:"requestId,omitempty"`
}

// New builds an unsequenced event. The store assigns IdentityID, Seq and the
// clamped Timestamp on append.
func New(action Action, actor Actor, detail string, previous, next any, now time.Time) *Event {
	return &Event{
		ID:            uuid.New(),
		Timestamp:     now,
		Action:        action,
		Actor:         actor,
		Detail:        detail,
		PreviousValue: Snapshot(previous),
		NewValue:      Snapshot(next),
	}
}

// Snapshot encodes a field value. A nil value encodes as no snapshot.
func Snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		// Snapshots are plain values built in this module; fall back to the Go form.
		b, _ = json.Marshal(fmt.Sprintf("%v", v))
	}
	return b
}
