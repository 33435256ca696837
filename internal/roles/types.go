package roles

import (
	"strings"
	"time"

	"guildhall.org/internal/errs"
)

// HardMaxSuper caps the number of live Super holders in any organization.
const HardMaxSuper = 5

// Tier is an administrator privilege level.
type Tier uint8

const (
	TierNone Tier = iota
	TierTemporary
	TierStandard
	TierSuper
)

// Rank orders tiers; a higher rank carries more privilege.
func (t Tier) Rank() int { return int(t) }

// Outranks reports whether t ranks strictly above other.
func (t Tier) Outranks(other Tier) bool { return t.Rank() > other.Rank() }

// AtLeast reports whether t ranks at or above other.
func (t Tier) AtLeast(other Tier) bool { return t.Rank() >= other.Rank() }

func (t Tier) Valid() bool { return t >= TierTemporary && t <= TierSuper }

func (t Tier) String() string {
	switch t {
	case TierSuper:
		return "super"
	case TierStandard:
		return "standard"
	case TierTemporary:
		return "temporary"
	default:
		return "none"
	}
}

// ParseTier accepts the lower-case tier names.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "super":
		return TierSuper, nil
	case "standard":
		return TierStandard, nil
	case "temporary":
		return TierTemporary, nil
	}
	return TierNone, errs.Wrapf(ErrInvalidTier, "%q", s)
}

func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText also accepts "none" so stored records of non-admins decode.
func (t *Tier) UnmarshalText(b []byte) error {
	if string(b) == TierNone.String() {
		*t = TierNone
		return nil
	}
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Assignment is one holder's role. A zero ExpiresAt never expires.
type Assignment struct {
	Holder    string    `json:"holder"`
	Tier      Tier      `json:"tier"`
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	GrantedBy string    `json:"granted_by,omitempty"`
}

// Permanent reports whether the assignment never expires.
func (a Assignment) Permanent() bool { return a.ExpiresAt.IsZero() }

// Live reports whether the assignment is still in force at now.
func (a Assignment) Live(now time.Time) bool {
	return a.Tier.Valid() && (a.Permanent() || now.Before(a.ExpiresAt))
}

// Action names a role change.
type Action string

const (
	ActionGrant  Action = "grant"
	ActionRevoke Action = "revoke"
)

// Change describes a completed grant or revoke.
type Change struct {
	Actor     string    `json:"actor"`
	Target    string    `json:"target"`
	Action    Action    `json:"action"`
	Tier      Tier      `json:"tier"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Config holds the per-organization role limits.
type Config struct {
	MinSuper             int           `json:"min_super"`
	MaxSuper             int           `json:"max_super"`
	MinTemporaryDuration time.Duration `json:"min_temporary_duration"`
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MinSuper:             1,
		MaxSuper:             HardMaxSuper,
		MinTemporaryDuration: 5 * time.Minute,
	}
}

// Validate checks the limits are coherent.
func (c Config) Validate() error {
	if c.MinSuper < 1 {
		return errs.Wrapf(ErrInvalidConfig, "min super must be >= 1")
	}
	if c.MaxSuper < 1 || c.MaxSuper > HardMaxSuper {
		return errs.Wrapf(ErrInvalidConfig, "max super must be within [1,%d]", HardMaxSuper)
	}
	if c.MinSuper >= c.MaxSuper {
		return errs.Wrapf(ErrInvalidConfig, "min super must be below max super")
	}
	if c.MinTemporaryDuration <= 0 {
		return errs.Wrapf(ErrInvalidConfig, "min temporary duration must be > 0")
	}
	return nil
}

var (
	ErrInvalidConfig    = errs.New(errs.Validation, "invalid_role_config", "invalid role configuration")
	ErrInvalidTier      = errs.New(errs.Validation, "invalid_tier", "invalid role tier")
	ErrInvalidAddress   = errs.New(errs.Validation, "invalid_address", "address is required")
	ErrDurationTooShort = errs.New(errs.Validation, "duration_too_short", "temporary role duration below minimum")
	ErrTemporaryForever = errs.New(errs.Validation, "temporary_requires_duration", "temporary roles must expire")
	ErrNegativeDuration = errs.New(errs.Validation, "invalid_duration", "duration must not be negative")
	ErrNotAdmin         = errs.New(errs.Authorization, "not_admin", "caller holds no active role")
	ErrRequiresSuper    = errs.New(errs.Authorization, "requires_super", "operation requires a super admin")
	ErrTierTooHigh      = errs.New(errs.Authorization, "tier_above_caller", "cannot manage a tier above your own")
	ErrSuperCeiling     = errs.New(errs.State, "super_ceiling_reached", "maximum number of super admins reached")
	ErrSuperFloor       = errs.New(errs.State, "super_floor_reached", "super admin count would fall to the configured minimum")
	ErrRoleNotFound     = errs.New(errs.NotFound, "role_not_found", "no active role for address")
	ErrInitialized      = errs.New(errs.State, "already_initialized", "role registry already initialized")
)
