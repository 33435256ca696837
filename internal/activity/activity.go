// Package activity defines the notifications the governance core emits after
// successful mutations, and the fan-out that delivers them.
package activity

import (
	"context"
	"sync"
	"time"

	"guildhall.org/internal/ids"
)

// Kind names an activity event.
type Kind string

const (
	OrganizationCreated     Kind = "organization.created"
	RoleGranted             Kind = "role.granted"
	RoleRevoked             Kind = "role.revoked"
	StakeAdded              Kind = "stake.added"
	StakeRemoved            Kind = "stake.removed"
	StakeIndexRepaired      Kind = "stake.index_repaired"
	ProposalCreated         Kind = "proposal.created"
	ProposalStatusChanged   Kind = "proposal.status_changed"
	VoteCast                Kind = "vote.cast"
	TreasuryDeposit         Kind = "treasury.deposit"
	TreasuryWithdrawal      Kind = "treasury.withdrawal"
	VaultCreated            Kind = "vault.created"
	VaultDeposit            Kind = "vault.deposit"
	VaultWithdrawal         Kind = "vault.withdrawal"
	TreasurySettingsChanged Kind = "treasury.settings_changed"
)

// Event is one activity notification.
type Event struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	OrganizationID string    `json:"organization_id"`
	Actor          string    `json:"actor"`
	Target         string    `json:"target,omitempty"`
	Amount         uint64    `json:"amount,omitempty"`
	Asset          string    `json:"asset,omitempty"`
	ProposalID     uint64    `json:"proposal_id,omitempty"`
	VaultID        string    `json:"vault_id,omitempty"`
	Option         string    `json:"option,omitempty"`
	Status         string    `json:"status,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Tier           string    `json:"tier,omitempty"`
	ExpiresAt      time.Time `json:"expires_at,omitzero"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Stamp fills ID when it is missing.
func (e Event) Stamp() Event {
	if e.ID == "" {
		e.ID = ids.New()
	}
	return e
}

// Notifier consumes activity events.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, evt Event) error

func (f NotifierFunc) Notify(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Fanout delivers every event to each notifier in order. A failing notifier
// does not stop delivery to the rest; failures go to OnError.
type Fanout struct {
	Notifiers []Notifier
	OnError   func(evt Event, err error)
}

func (f Fanout) Notify(ctx context.Context, evt Event) error {
	for _, n := range f.Notifiers {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, evt); err != nil && f.OnError != nil {
			f.OnError(evt, err)
		}
	}
	return nil
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the recorded kinds in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}
