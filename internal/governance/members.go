package governance

import (
	"context"
	"time"

	"guildhall.org/internal/activity"
	"guildhall.org/internal/ledger"
	"guildhall.org/internal/roles"
	"guildhall.org/internal/staking"
)

// GrantRole assigns tier to target. A zero duration grants a permanent role.
func (s *Service) GrantRole(ctx context.Context, orgID, actor, target string, tier roles.Tier, duration time.Duration) (roles.Assignment, error) {
	return transact(ctx, s, "grant_role", orgID, func(t *txn) (roles.Assignment, error) {
		ch, err := t.org.roles.Grant(actor, target, tier, duration, t.now)
		if err != nil {
			return roles.Assignment{}, err
		}
		t.emit(activity.Event{
			Kind:      activity.RoleGranted,
			Actor:     ch.Actor,
			Target:    ch.Target,
			Tier:      ch.Tier.String(),
			ExpiresAt: ch.ExpiresAt,
		})
		return t.org.roles.Assignment(ch.Target, t.now)
	})
}

func (s *Service) RevokeRole(ctx context.Context, orgID, actor, target string) error {
	_, err := transact(ctx, s, "revoke_role", orgID, func(t *txn) (struct{}, error) {
		ch, err := t.org.roles.Revoke(actor, target, t.now)
		if err != nil {
			return struct{}{}, err
		}
		t.emit(activity.Event{Kind: activity.RoleRevoked, Actor: ch.Actor, Target: ch.Target, Tier: ch.Tier.String()})
		return struct{}{}, nil
	})
	return err
}

func (s *Service) Role(ctx context.Context, orgID, address string) (roles.Assignment, error) {
	return view(ctx, s, orgID, func(o *org, now time.Time) (roles.Assignment, error) {
		return o.roles.Assignment(address, now)
	})
}

// Admins lists the live role assignments.
func (s *Service) Admins(ctx context.Context, orgID string) ([]roles.Assignment, error) {
	return view(ctx, s, orgID, func(o *org, now time.Time) ([]roles.Assignment, error) {
		return o.roles.Admins(now), nil
	})
}

// Stake locks amount of the native asset from staker into the organization.
func (s *Service) Stake(ctx context.Context, orgID, staker string, amount uint64) (staking.Position, error) {
	return transact(ctx, s, "stake", orgID, func(t *txn) (staking.Position, error) {
		p, err := t.org.stakes.Stake(t.ctx, staker, amount, t.now)
		if err != nil {
			return staking.Position{}, err
		}
		t.emit(activity.Event{Kind: activity.StakeAdded, Actor: p.Staker, Amount: amount, Asset: ledger.NativeAsset})
		return p, nil
	})
}

func (s *Service) Unstake(ctx context.Context, orgID, staker string, amount uint64) (staking.Position, error) {
	return transact(ctx, s, "unstake", orgID, func(t *txn) (staking.Position, error) {
		p, err := t.org.stakes.Unstake(t.ctx, staker, amount, t.now)
		if err != nil {
			return staking.Position{}, err
		}
		t.emit(activity.Event{Kind: activity.StakeRemoved, Actor: p.Staker, Amount: amount, Asset: ledger.NativeAsset})
		return p, nil
	})
}

// RepairStakeSync rebuilds the staker index from positions. Admin only.
func (s *Service) RepairStakeSync(ctx context.Context, orgID, admin string) ([]staking.Drift, error) {
	return transact(ctx, s, "repair_stake_sync", orgID, func(t *txn) ([]staking.Drift, error) {
		if !t.org.roles.IsAuthorized(admin, t.now) {
			return nil, ErrNotAdmin
		}
		fixed, err := t.org.stakes.RepairSync()
		if err != nil {
			return nil, err
		}
		if len(fixed) > 0 {
			t.emit(activity.Event{Kind: activity.StakeIndexRepaired, Actor: admin, Amount: uint64(len(fixed))})
		}
		return fixed, nil
	})
}

func (s *Service) StakeOf(ctx context.Context, orgID, address string) (staking.Position, error) {
	return view(ctx, s, orgID, func(o *org, _ time.Time) (staking.Position, error) {
		return o.stakes.Position(address)
	})
}

func (s *Service) Stakes(ctx context.Context, orgID string) ([]staking.Position, error) {
	return view(ctx, s, orgID, func(o *org, _ time.Time) ([]staking.Position, error) {
		return o.stakes.Positions(), nil
	})
}

func (s *Service) TotalStaked(ctx context.Context, orgID string) (uint64, error) {
	return view(ctx, s, orgID, func(o *org, _ time.Time) (uint64, error) {
		return o.stakes.TotalStaked(), nil
	})
}

// ValidateStakeSync reports divergence between positions and the staker index.
func (s *Service) ValidateStakeSync(ctx context.Context, orgID string) ([]staking.Drift, error) {
	return view(ctx, s, orgID, func(o *org, _ time.Time) ([]staking.Drift, error) {
		return o.stakes.ValidateSync(), nil
	})
}
