// Package roles implements the tiered administrator registry of an organization.
//
// Tiers form a fixed hierarchy (super > standard > temporary) compared by
// rank. Assignments may expire; expiry is evaluated lazily on every read, so
// an expired assignment is indistinguishable from a missing one.
package roles

import (
	"sort"
	"strings"
	"time"

	"guildhall.org/internal/errs"
)

// Registry holds the role assignments of a single organization. It is not
// safe for concurrent use; the governance layer serializes access.
type Registry struct {
	cfg         Config
	assignments map[string]Assignment
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Registry{cfg: cfg, assignments: make(map[string]Assignment)}, nil
}

// Config returns the limits the registry enforces.
func (r *Registry) Config() Config { return r.cfg }

// Initialize installs owner as a permanent super admin. It may only run once.
func (r *Registry) Initialize(owner string, now time.Time) (Change, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return Change{}, ErrInvalidAddress
	}
	if len(r.assignments) > 0 {
		return Change{}, ErrInitialized
	}
	r.assignments[owner] = Assignment{Holder: owner, Tier: TierSuper, GrantedAt: now}
	return Change{Actor: owner, Target: owner, Action: ActionGrant, Tier: TierSuper}, nil
}

// lookup returns the live assignment of holder, treating expired ones as absent.
func (r *Registry) lookup(holder string, now time.Time) (Assignment, bool) {
	a, ok := r.assignments[holder]
	if !ok || !a.Live(now) {
		return Assignment{}, false
	}
	return a, true
}

// IsAuthorized reports whether target holds a live role of any tier.
func (r *Registry) IsAuthorized(target string, now time.Time) bool {
	_, ok := r.lookup(target, now)
	return ok
}

// TierOf returns target's live tier, or TierNone.
func (r *Registry) TierOf(target string, now time.Time) Tier {
	a, ok := r.lookup(target, now)
	if !ok {
		return TierNone
	}
	return a.Tier
}

// Assignment returns target's live assignment.
func (r *Registry) Assignment(target string, now time.Time) (Assignment, error) {
	a, ok := r.lookup(target, now)
	if !ok {
		return Assignment{}, ErrRoleNotFound
	}
	return a, nil
}

// SuperCount counts live super admins.
func (r *Registry) SuperCount(now time.Time) int {
	n := 0
	for _, a := range r.assignments {
		if a.Tier == TierSuper && a.Live(now) {
			n++
		}
	}
	return n
}

// Admins lists live assignments sorted by holder.
func (r *Registry) Admins(now time.Time) []Assignment {
	out := make([]Assignment, 0, len(r.assignments))
	for _, a := range r.assignments {
		if a.Live(now) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Holder < out[j].Holder })
	return out
}

// Grant assigns tier to target for duration (zero means permanent).
func (r *Registry) Grant(actor, target string, tier Tier, duration time.Duration, now time.Time) (Change, error) {
	actor = strings.TrimSpace(actor)
	target = strings.TrimSpace(target)
	if actor == "" || target == "" {
		return Change{}, ErrInvalidAddress
	}
	if !tier.Valid() {
		return Change{}, ErrInvalidTier
	}
	if duration < 0 {
		return Change{}, ErrNegativeDuration
	}

	caller, ok := r.lookup(actor, now)
	if !ok {
		return Change{}, ErrNotAdmin
	}
	if tier.Outranks(caller.Tier) {
		return Change{}, errs.Wrapf(ErrTierTooHigh, "%s cannot grant %s", caller.Tier, tier)
	}
	if duration == 0 && caller.Tier != TierSuper {
		return Change{}, errs.Wrapf(ErrRequiresSuper, "permanent roles")
	}
	if tier == TierTemporary {
		if duration == 0 {
			return Change{}, ErrTemporaryForever
		}
		if duration < r.cfg.MinTemporaryDuration {
			return Change{}, errs.Wrapf(ErrDurationTooShort, "%s < %s", duration, r.cfg.MinTemporaryDuration)
		}
	}

	existing, hadLive := r.lookup(target, now)
	if hadLive {
		// Re-granting replaces the assignment, so it is held to the same
		// rank rule as Revoke.
		switch {
		case existing.Tier == TierSuper && caller.Tier != TierSuper:
			return Change{}, ErrRequiresSuper
		case existing.Tier.Outranks(caller.Tier):
			return Change{}, errs.Wrapf(ErrTierTooHigh, "%s cannot regrant %s", caller.Tier, existing.Tier)
		case existing.Permanent() && duration > 0 && caller.Tier != TierSuper:
			return Change{}, errs.Wrapf(ErrRequiresSuper, "shortening a permanent role")
		}
	}
	supers := r.SuperCount(now)
	if tier == TierSuper {
		if caller.Tier != TierSuper {
			return Change{}, ErrRequiresSuper
		}
		others := supers
		if hadLive && existing.Tier == TierSuper {
			others--
		}
		if others >= r.cfg.MaxSuper {
			return Change{}, errs.Wrapf(ErrSuperCeiling, "%d of %d", others, r.cfg.MaxSuper)
		}
	}
	if hadLive && existing.Tier == TierSuper && tier != TierSuper {
		if supers-1 <= r.cfg.MinSuper {
			return Change{}, errs.Wrapf(ErrSuperFloor, "%d super admins, minimum %d", supers, r.cfg.MinSuper)
		}
	}

	a := Assignment{Holder: target, Tier: tier, GrantedAt: now, GrantedBy: actor}
	if duration > 0 {
		a.ExpiresAt = now.Add(duration)
	}
	r.assignments[target] = a
	return Change{Actor: actor, Target: target, Action: ActionGrant, Tier: tier, ExpiresAt: a.ExpiresAt}, nil
}

// Revoke removes target's role.
func (r *Registry) Revoke(actor, target string, now time.Time) (Change, error) {
	actor = strings.TrimSpace(actor)
	target = strings.TrimSpace(target)
	if actor == "" || target == "" {
		return Change{}, ErrInvalidAddress
	}
	caller, ok := r.lookup(actor, now)
	if !ok {
		return Change{}, ErrNotAdmin
	}
	existing, ok := r.lookup(target, now)
	if !ok {
		return Change{}, ErrRoleNotFound
	}
	switch {
	case existing.Tier == TierSuper:
		if caller.Tier != TierSuper {
			return Change{}, ErrRequiresSuper
		}
		supers := r.SuperCount(now)
		if supers-1 <= r.cfg.MinSuper {
			return Change{}, errs.Wrapf(ErrSuperFloor, "%d super admins, minimum %d", supers, r.cfg.MinSuper)
		}
	case existing.Tier.Outranks(caller.Tier):
		return Change{}, errs.Wrapf(ErrTierTooHigh, "%s cannot revoke %s", caller.Tier, existing.Tier)
	}
	delete(r.assignments, target)
	return Change{Actor: actor, Target: target, Action: ActionRevoke, Tier: existing.Tier}, nil
}

// Export returns every stored assignment, expired ones included, sorted by
// holder.
func (r *Registry) Export() []Assignment {
	out := make([]Assignment, 0, len(r.assignments))
	for _, a := range r.assignments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Holder < out[j].Holder })
	return out
}

// Restore replaces the registry contents with assignments read back from
// storage.
func (r *Registry) Restore(assignments []Assignment) error {
	next := make(map[string]Assignment, len(assignments))
	for _, a := range assignments {
		if strings.TrimSpace(a.Holder) == "" {
			return ErrInvalidAddress
		}
		if !a.Tier.Valid() {
			return errs.Wrapf(ErrInvalidTier, "stored role of %s", a.Holder)
		}
		next[a.Holder] = a
	}
	r.assignments = next
	return nil
}
