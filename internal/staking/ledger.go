// Package staking keeps per-organization stake positions that translate into
// voting power.
//
// Positions are authoritative. The staker index (member -> amount plus a
// running total) is a lookup structure updated in the same step; ValidateSync
// and RepairSync exist for when the two diverge anyway.
package staking

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"guildhall.org/internal/ledger"
	"guildhall.org/internal/safemath"
)

// CustodyAccount is the ledger address holding an organization's staked funds.
func CustodyAccount(orgID string) string { return "stake:" + orgID }

type index struct {
	members map[string]uint64
	total   uint64
}

// Ledger is the stake book of one organization. It is not safe for
// concurrent use; the governance layer serializes access.
type Ledger struct {
	orgID     string
	cfg       Config
	bank      ledger.Bank
	custody   string
	positions map[string]*Position
	idx       index
}

func NewLedger(orgID string, cfg Config, bank ledger.Bank) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Ledger{
		orgID:     orgID,
		cfg:       cfg,
		bank:      bank,
		custody:   CustodyAccount(orgID),
		positions: make(map[string]*Position),
		idx:       index{members: make(map[string]uint64)},
	}, nil
}

func (l *Ledger) Config() Config      { return l.cfg }
func (l *Ledger) Custody() string     { return l.custody }
func (l *Ledger) TotalStaked() uint64 { return l.idx.total }

// Stake moves amount from staker into custody and credits the position.
func (l *Ledger) Stake(ctx context.Context, staker string, amount uint64, now time.Time) (Position, error) {
	staker = strings.TrimSpace(staker)
	if staker == "" {
		return Position{}, ErrInvalidAddress
	}
	if amount == 0 {
		return Position{}, ErrInvalidAmount
	}
	available, err := l.bank.Balance(ctx, staker, ledger.NativeAsset)
	if err != nil {
		return Position{}, err
	}
	if available < amount {
		return Position{}, ErrInsufficientBalance
	}

	var current uint64
	if p, ok := l.positions[staker]; ok {
		current = p.Amount
	}
	nextPos, err := safemath.Add(current, amount)
	if err != nil {
		return Position{}, err
	}
	nextIdx, err := safemath.Add(l.idx.members[staker], amount)
	if err != nil {
		return Position{}, err
	}
	nextTotal, err := safemath.Add(l.idx.total, amount)
	if err != nil {
		return Position{}, err
	}

	_, err = l.bank.Transfer(ctx, staker, l.custody, ledger.Native(amount), "stake")
	if err != nil && !errors.Is(err, ledger.ErrUnreverted) {
		return Position{}, err
	}

	p, ok := l.positions[staker]
	if !ok {
		p = &Position{Staker: staker, OrganizationID: l.orgID}
		l.positions[staker] = p
	}
	p.Amount = nextPos
	p.LastStakeAt = now
	l.idx.members[staker] = nextIdx
	l.idx.total = nextTotal
	return *p, err
}

// Unstake returns amount to staker once the lock period has passed. The
// returned position has Amount 0 when it was closed.
func (l *Ledger) Unstake(ctx context.Context, staker string, amount uint64, now time.Time) (Position, error) {
	staker = strings.TrimSpace(staker)
	if staker == "" {
		return Position{}, ErrInvalidAddress
	}
	if amount == 0 {
		return Position{}, ErrInvalidAmount
	}
	p, ok := l.positions[staker]
	if !ok {
		return Position{}, ErrInsufficientStake
	}
	if p.Amount < amount {
		return Position{}, ErrInsufficientStake
	}
	if now.Before(p.UnlocksAt(l.cfg.MinLockPeriod)) {
		return Position{}, ErrStakeLocked
	}

	nextPos, err := safemath.Sub(p.Amount, amount)
	if err != nil {
		return Position{}, err
	}
	nextIdx, err := safemath.Sub(l.idx.members[staker], amount)
	if err != nil {
		return Position{}, ErrIndexDrift
	}
	nextTotal, err := safemath.Sub(l.idx.total, amount)
	if err != nil {
		return Position{}, ErrIndexDrift
	}

	// A transfer whose revert failed still left custody and is booked.
	_, err = l.bank.Transfer(ctx, l.custody, staker, ledger.Native(amount), "unstake")
	if err != nil && !errors.Is(err, ledger.ErrUnreverted) {
		return Position{}, err
	}

	l.idx.total = nextTotal
	out := *p
	out.Amount = nextPos
	if nextPos == 0 {
		delete(l.positions, staker)
		delete(l.idx.members, staker)
		return out, err
	}
	p.Amount = nextPos
	l.idx.members[staker] = nextIdx
	return out, err
}

// VotingPower is the staker's current staked balance.
func (l *Ledger) VotingPower(staker string) uint64 {
	return l.idx.members[staker]
}

func (l *Ledger) Position(staker string) (Position, error) {
	p, ok := l.positions[staker]
	if !ok {
		return Position{}, ErrPositionNotFound
	}
	return *p, nil
}

// Positions lists all open positions sorted by staker.
func (l *Ledger) Positions() []Position {
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Staker < out[j].Staker })
	return out
}

// IsMember reports whether staker holds at least the membership threshold.
func (l *Ledger) IsMember(staker string) bool {
	amt := l.idx.members[staker]
	return amt > 0 && amt >= l.cfg.MinStake
}

// Members lists members sorted by address.
func (l *Ledger) Members() []string {
	out := make([]string, 0, len(l.idx.members))
	for staker := range l.idx.members {
		if l.IsMember(staker) {
			out = append(out, staker)
		}
	}
	sort.Strings(out)
	return out
}

// ValidateSync compares the index against positions and reports every divergence.
func (l *Ledger) ValidateSync() []Drift {
	var drifts []Drift
	var sum uint64
	overflow := false
	for staker, p := range l.positions {
		next, err := safemath.Add(sum, p.Amount)
		if err != nil {
			overflow = true
		}
		sum = next
		indexed, ok := l.idx.members[staker]
		switch {
		case !ok:
			drifts = append(drifts, Drift{Kind: DriftMissingEntry, Staker: staker, Position: p.Amount})
		case indexed != p.Amount:
			drifts = append(drifts, Drift{Kind: DriftAmountMismatch, Staker: staker, Position: p.Amount, Indexed: indexed})
		}
	}
	for staker, indexed := range l.idx.members {
		if _, ok := l.positions[staker]; !ok {
			drifts = append(drifts, Drift{Kind: DriftOrphanEntry, Staker: staker, Indexed: indexed})
		}
	}
	if overflow || sum != l.idx.total {
		drifts = append(drifts, Drift{Kind: DriftTotalMismatch, Position: sum, Indexed: l.idx.total})
	}
	sort.Slice(drifts, func(i, j int) bool {
		if drifts[i].Kind != drifts[j].Kind {
			return drifts[i].Kind < drifts[j].Kind
		}
		return drifts[i].Staker < drifts[j].Staker
	})
	return drifts
}

// RepairSync rebuilds the index from positions and returns what it fixed.
func (l *Ledger) RepairSync() ([]Drift, error) {
	drifts := l.ValidateSync()
	if len(drifts) == 0 {
		return nil, nil
	}
	members := make(map[string]uint64, len(l.positions))
	amounts := make([]uint64, 0, len(l.positions))
	for staker, p := range l.positions {
		members[staker] = p.Amount
		amounts = append(amounts, p.Amount)
	}
	total, err := safemath.Sum(amounts...)
	if err != nil {
		return nil, err
	}
	l.idx = index{members: members, total: total}
	return drifts, nil
}

// Restore replaces the positions with ones read back from storage and
// rebuilds the staker index from them.
func (l *Ledger) Restore(positions []Position) error {
	next := make(map[string]*Position, len(positions))
	members := make(map[string]uint64, len(positions))
	var total uint64
	for _, p := range positions {
		if strings.TrimSpace(p.Staker) == "" {
			return ErrInvalidAddress
		}
		if p.Amount == 0 {
			continue
		}
		sum, err := safemath.Add(total, p.Amount)
		if err != nil {
			return err
		}
		total = sum
		p.OrganizationID = l.orgID
		next[p.Staker] = &p
		members[p.Staker] = p.Amount
	}
	l.positions = next
	l.idx = index{members: members, total: total}
	return nil
}
