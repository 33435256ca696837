package governance

import (
	"context"
	"time"

	"guildhall.org/internal/activity"
	"guildhall.org/internal/ledger"
	"guildhall.org/internal/treasury"
)

func (s *Service) Deposit(ctx context.Context, orgID, depositor string, amount uint64) (treasury.Account, error) {
	return transact(ctx, s, "deposit", orgID, func(t *txn) (treasury.Account, error) {
		if _, err := t.org.treasury.Deposit(t.ctx, depositor, amount, t.now); err != nil {
			return treasury.Account{}, err
		}
		t.emit(activity.Event{Kind: activity.TreasuryDeposit, Actor: depositor, Amount: amount, Asset: ledger.NativeAsset})
		return t.org.treasury.Account(), nil
	})
}

// Withdraw pays amount of the native asset from the treasury to to. Admin only.
func (s *Service) Withdraw(ctx context.Context, orgID, admin, to string, amount uint64) (treasury.Account, error) {
	return transact(ctx, s, "withdraw", orgID, func(t *txn) (treasury.Account, error) {
		if _, err := t.org.treasury.Withdraw(t.ctx, admin, to, amount, t.now); err != nil {
			return treasury.Account{}, err
		}
		t.emit(activity.Event{Kind: activity.TreasuryWithdrawal, Actor: admin, Target: to, Amount: amount, Asset: ledger.NativeAsset})
		return t.org.treasury.Account(), nil
	})
}

func (s *Service) SetDailyLimit(ctx context.Context, orgID, admin string, limit uint64) (treasury.Account, error) {
	return transact(ctx, s, "set_daily_limit", orgID, func(t *txn) (treasury.Account, error) {
		acct, err := t.org.treasury.SetDailyLimit(admin, limit, t.now)
		if err != nil {
			return treasury.Account{}, err
		}
		t.emit(activity.Event{Kind: activity.TreasurySettingsChanged, Actor: admin, Reason: "daily_limit", Amount: limit})
		return acct, nil
	})
}

func (s *Service) SetPublicDeposits(ctx context.Context, orgID, admin string, public bool) (treasury.Account, error) {
	return transact(ctx, s, "set_public_deposits", orgID, func(t *txn) (treasury.Account, error) {
		acct, err := t.org.treasury.SetPublicDeposits(admin, public, t.now)
		if err != nil {
			return treasury.Account{}, err
		}
		status := "disabled"
		if public {
			status = "enabled"
		}
		t.emit(activity.Event{Kind: activity.TreasurySettingsChanged, Actor: admin, Reason: "public_deposits", Status: status})
		return acct, nil
	})
}

func (s *Service) CreateVault(ctx context.Context, orgID, admin, asset string) (treasury.TokenVault, error) {
	return transact(ctx, s, "create_vault", orgID, func(t *txn) (treasury.TokenVault, error) {
		tv, err := t.org.treasury.CreateVault(admin, asset, t.now)
		if err != nil {
			return treasury.TokenVault{}, err
		}
		t.emit(activity.Event{Kind: activity.VaultCreated, Actor: admin, VaultID: tv.ID, Asset: tv.Asset})
		return tv, nil
	})
}

func (s *Service) DepositToVault(ctx context.Context, orgID, depositor, vaultID string, amount uint64) (treasury.TokenVault, error) {
	return transact(ctx, s, "deposit_to_vault", orgID, func(t *txn) (treasury.TokenVault, error) {
		tx, err := t.org.treasury.DepositToVault(t.ctx, depositor, vaultID, amount, t.now)
		if err != nil {
			return treasury.TokenVault{}, err
		}
		t.emit(activity.Event{Kind: activity.VaultDeposit, Actor: depositor, VaultID: vaultID, Amount: amount, Asset: tx.Asset})
		return t.org.treasury.TokenVault(vaultID)
	})
}

// WithdrawFromVault pays amount of the vault's asset to to. Admin only.
func (s *Service) WithdrawFromVault(ctx context.Context, orgID, admin, vaultID, to string, amount uint64) (treasury.TokenVault, error) {
	return transact(ctx, s, "withdraw_from_vault", orgID, func(t *txn) (treasury.TokenVault, error) {
		tx, err := t.org.treasury.WithdrawFromVault(t.ctx, admin, vaultID, to, amount, t.now)
		if err != nil {
			return treasury.TokenVault{}, err
		}
		t.emit(activity.Event{Kind: activity.VaultWithdrawal, Actor: admin, Target: to, VaultID: vaultID, Amount: amount, Asset: tx.Asset})
		return t.org.treasury.TokenVault(vaultID)
	})
}

// Treasury returns the treasury account with today's remaining allowance.
func (s *Service) Treasury(ctx context.Context, orgID string) (TreasuryStatus, error) {
	return view(ctx, s, orgID, func(o *org, now time.Time) (TreasuryStatus, error) {
		remaining, limited := o.treasury.RemainingToday(now)
		return TreasuryStatus{Account: o.treasury.Account(), RemainingToday: remaining, Limited: limited}, nil
	})
}

func (s *Service) Vaults(ctx context.Context, orgID string) ([]treasury.TokenVault, error) {
	return view(ctx, s, orgID, func(o *org, _ time.Time) ([]treasury.TokenVault, error) {
		return o.treasury.Vaults(), nil
	})
}

func (s *Service) Vault(ctx context.Context, orgID, vaultID string) (treasury.TokenVault, error) {
	return view(ctx, s, orgID, func(o *org, _ time.Time) (treasury.TokenVault, error) {
		return o.treasury.TokenVault(vaultID)
	})
}
