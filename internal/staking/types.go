package staking

import (
	"time"

	"guildhall.org/internal/errs"
)

// Config holds the per-organization staking thresholds.
type Config struct {
	MinStake      uint64        `json:"min_stake"`       // membership threshold
	MinLockPeriod time.Duration `json:"min_lock_period"` // since the last stake
}

// DefaultConfig locks stake for one hour and admits any positive stake.
func DefaultConfig() Config {
	return Config{MinStake: 1, MinLockPeriod: time.Hour}
}

func (c Config) Validate() error {
	if c.MinLockPeriod < 0 {
		return errs.Wrapf(ErrInvalidConfig, "negative lock period")
	}
	return nil
}

// Position is one staker's stake in one organization.
type Position struct {
	Staker         string    `json:"staker"`
	OrganizationID string    `json:"organization_id"`
	Amount         uint64    `json:"amount"`
	LastStakeAt    time.Time `json:"last_stake_at"`
}

// UnlocksAt is the first instant the position may be unstaken.
func (p Position) UnlocksAt(lock time.Duration) time.Time {
	return p.LastStakeAt.Add(lock)
}

// DriftKind classifies a divergence between positions and the staker index.
type DriftKind string

const (
	DriftMissingEntry   DriftKind = "missing_index_entry"
	DriftOrphanEntry    DriftKind = "orphan_index_entry"
	DriftAmountMismatch DriftKind = "amount_mismatch"
	DriftTotalMismatch  DriftKind = "total_mismatch"
)

// Drift is a single divergence reported by ValidateSync.
type Drift struct {
	Kind     DriftKind `json:"kind"`
	Staker   string    `json:"staker,omitempty"`
	Position uint64    `json:"position"`
	Indexed  uint64    `json:"indexed"`
}

var (
	ErrInvalidConfig       = errs.New(errs.Validation, "invalid_staking_config", "invalid staking configuration")
	ErrInvalidAddress      = errs.New(errs.Validation, "invalid_address", "address is required")
	ErrInvalidAmount       = errs.New(errs.Validation, "invalid_stake_amount", "stake amount must be > 0")
	ErrInsufficientBalance = errs.New(errs.Resource, "insufficient_balance", "available balance below stake amount")
	ErrInsufficientStake   = errs.New(errs.Resource, "insufficient_stake", "staked balance below requested amount")
	ErrStakeLocked         = errs.New(errs.State, "stake_locked", "stake is still within its lock period")
	ErrPositionNotFound    = errs.New(errs.NotFound, "stake_not_found", "no stake position")
	ErrIndexDrift          = errs.New(errs.Consistency, "stake_index_drift", "staker index diverges from positions")
)
