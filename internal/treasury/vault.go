// Package treasury holds an organization's pooled funds: the native-asset
// account and a registry of per-asset token vaults.
//
// Withdrawals run under a reentrancy flag that is set before funds are
// extracted and cleared only after the external transfer and bookkeeping
// finish. A nested withdrawal issued from a transfer callback fails while
// the flag is held.
package treasury

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"guildhall.org/internal/errs"
	"guildhall.org/internal/ids"
	"guildhall.org/internal/ledger"
	"guildhall.org/internal/safemath"
)

// CustodyAccount is the ledger address holding an organization's treasury.
func CustodyAccount(orgID string) string { return "treasury:" + orgID }

// Roles reports administrator status.
type Roles interface {
	IsAuthorized(addr string, now time.Time) bool
}

// Members reports organization membership.
type Members interface {
	IsMember(addr string) bool
}

// Vault is the treasury of one organization. It is not safe for concurrent
// use; the governance layer serializes access.
type Vault struct {
	bank    ledger.Bank
	roles   Roles
	members Members
	custody string

	acct    Account
	vaults  []*TokenVault
	byAsset map[string]*TokenVault
}

func New(orgID string, cfg Config, bank ledger.Bank, r Roles, m Members) *Vault {
	return &Vault{
		bank:    bank,
		roles:   r,
		members: m,
		custody: CustodyAccount(orgID),
		acct: Account{
			OrganizationID: orgID,
			DailyLimit:     cfg.DailyLimit,
			PublicDeposits: cfg.PublicDeposits,
		},
		byAsset: make(map[string]*TokenVault),
	}
}

func (v *Vault) Custody() string  { return v.custody }
func (v *Vault) Account() Account { return v.acct }

func dayOf(now time.Time) string { return now.UTC().Format("2006-01-02") }

func (v *Vault) requireAdmin(addr string, now time.Time) error {
	if !v.roles.IsAuthorized(addr, now) {
		return ErrNotAdmin
	}
	return nil
}

func (v *Vault) canDeposit(addr string, now time.Time) error {
	if v.acct.PublicDeposits || v.members.IsMember(addr) || v.roles.IsAuthorized(addr, now) {
		return nil
	}
	return ErrDepositForbidden
}

// lock sets the reentrancy flag; the returned func clears it.
func (v *Vault) lock() (func(), error) {
	if v.acct.Locked {
		return nil, ErrLocked
	}
	v.acct.Locked = true
	return func() { v.acct.Locked = false }, nil
}

// Deposit moves amount of the native asset from depositor into the treasury.
func (v *Vault) Deposit(ctx context.Context, depositor string, amount uint64, now time.Time) (ledger.Transaction, error) {
	if strings.TrimSpace(depositor) == "" {
		return ledger.Transaction{}, ErrInvalidAddress
	}
	if amount == 0 {
		return ledger.Transaction{}, ErrInvalidAmount
	}
	if err := v.canDeposit(depositor, now); err != nil {
		return ledger.Transaction{}, err
	}
	return v.credit(ctx, depositor, amount, "treasury deposit")
}

// CollectFee credits a protocol fee paid by payer. No access rule applies.
func (v *Vault) CollectFee(ctx context.Context, payer string, amount uint64) (ledger.Transaction, error) {
	if amount == 0 {
		return ledger.Transaction{}, ErrInvalidAmount
	}
	return v.credit(ctx, payer, amount, "proposal fee")
}

func (v *Vault) credit(ctx context.Context, from string, amount uint64, memo string) (ledger.Transaction, error) {
	next, err := safemath.Add(v.acct.NativeBalance, amount)
	if err != nil {
		return ledger.Transaction{}, err
	}
	tx, err := v.bank.Transfer(ctx, from, v.custody, ledger.Native(amount), memo)
	if err != nil && !moved(err) {
		return ledger.Transaction{}, err
	}
	v.acct.NativeBalance = next
	return tx, err
}

// spentToday returns the withdrawn counter for the day of now.
func (v *Vault) spentToday(now time.Time) uint64 {
	if v.acct.LastWithdrawalDay != dayOf(now) {
		return 0
	}
	return v.acct.WithdrawnToday
}

// RemainingToday returns what may still be withdrawn today; ok is false when
// no daily limit is set.
func (v *Vault) RemainingToday(now time.Time) (remaining uint64, ok bool) {
	if v.acct.DailyLimit == 0 {
		return 0, false
	}
	left, err := safemath.Sub(v.acct.DailyLimit, v.spentToday(now))
	if err != nil {
		return 0, true
	}
	return left, true
}

// Withdraw sends amount of the native asset from the treasury to to.
func (v *Vault) Withdraw(ctx context.Context, admin, to string, amount uint64, now time.Time) (ledger.Transaction, error) {
	if err := v.requireAdmin(admin, now); err != nil {
		return ledger.Transaction{}, err
	}
	if strings.TrimSpace(to) == "" {
		return ledger.Transaction{}, ErrInvalidAddress
	}
	if amount == 0 {
		return ledger.Transaction{}, ErrInvalidAmount
	}
	unlock, err := v.lock()
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer unlock()

	spent, err := safemath.Add(v.spentToday(now), amount)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if v.acct.DailyLimit > 0 && spent > v.acct.DailyLimit {
		return ledger.Transaction{}, errs.Wrapf(ErrDailyLimit, "%d of %d already withdrawn today", v.spentToday(now), v.acct.DailyLimit)
	}
	remaining, err := safemath.Sub(v.acct.NativeBalance, amount)
	if err != nil {
		return ledger.Transaction{}, ErrInsufficientFunds
	}

	previous := v.acct.NativeBalance
	v.acct.NativeBalance = remaining
	tx, err := v.bank.Transfer(ctx, v.custody, to, ledger.Native(amount), "treasury withdrawal")
	if err != nil && !moved(err) {
		v.acct.NativeBalance = previous
		return ledger.Transaction{}, err
	}
	// Funds that left custody are booked even when the transfer reports a
	// failed revert, so the record keeps matching the custody account.
	v.acct.WithdrawnToday = spent
	v.acct.LastWithdrawalDay = dayOf(now)
	return tx, err
}

// moved reports whether a failed transfer still moved its funds.
func moved(err error) bool { return errors.Is(err, ledger.ErrUnreverted) }

// SetDailyLimit changes the daily withdrawal limit; 0 removes it.
func (v *Vault) SetDailyLimit(admin string, limit uint64, now time.Time) (Account, error) {
	if err := v.requireAdmin(admin, now); err != nil {
		return Account{}, err
	}
	v.acct.DailyLimit = limit
	return v.acct, nil
}

func (v *Vault) SetPublicDeposits(admin string, public bool, now time.Time) (Account, error) {
	if err := v.requireAdmin(admin, now); err != nil {
		return Account{}, err
	}
	v.acct.PublicDeposits = public
	return v.acct, nil
}

// CreateVault registers a token vault for asset.
func (v *Vault) CreateVault(admin, asset string, now time.Time) (TokenVault, error) {
	if err := v.requireAdmin(admin, now); err != nil {
		return TokenVault{}, err
	}
	asset, err := ledger.NormalizeAsset(asset)
	if err != nil || asset == ledger.NativeAsset {
		return TokenVault{}, ErrInvalidAsset
	}
	if _, ok := v.byAsset[asset]; ok {
		return TokenVault{}, errs.Wrapf(ErrVaultExists, "%s", asset)
	}
	tv := &TokenVault{
		ID:             ids.New(),
		OrganizationID: v.acct.OrganizationID,
		Asset:          asset,
		CreatedAt:      now,
		CreatedBy:      admin,
	}
	v.vaults = append(v.vaults, tv)
	v.byAsset[asset] = tv
	return *tv, nil
}

func (v *Vault) find(id string) (*TokenVault, error) {
	for _, tv := range v.vaults {
		if tv.ID == id {
			return tv, nil
		}
	}
	return nil, errs.Wrapf(ErrVaultNotFound, "%s", id)
}

// DepositToVault moves amount of the vault's asset from depositor into custody.
func (v *Vault) DepositToVault(ctx context.Context, depositor, vaultID string, amount uint64, now time.Time) (ledger.Transaction, error) {
	if strings.TrimSpace(depositor) == "" {
		return ledger.Transaction{}, ErrInvalidAddress
	}
	if amount == 0 {
		return ledger.Transaction{}, ErrInvalidAmount
	}
	tv, err := v.find(vaultID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if err := v.canDeposit(depositor, now); err != nil {
		return ledger.Transaction{}, err
	}
	next, err := safemath.Add(tv.Balance, amount)
	if err != nil {
		return ledger.Transaction{}, err
	}
	tx, err := v.bank.Transfer(ctx, depositor, v.custody, ledger.Money{Asset: tv.Asset, Amount: amount}, "vault deposit")
	if err != nil && !moved(err) {
		return ledger.Transaction{}, err
	}
	tv.Balance = next
	return tx, err
}

// WithdrawFromVault sends amount of the vault's asset to to under the
// treasury's reentrancy flag.
func (v *Vault) WithdrawFromVault(ctx context.Context, admin, vaultID, to string, amount uint64, now time.Time) (ledger.Transaction, error) {
	if err := v.requireAdmin(admin, now); err != nil {
		return ledger.Transaction{}, err
	}
	if strings.TrimSpace(to) == "" {
		return ledger.Transaction{}, ErrInvalidAddress
	}
	if amount == 0 {
		return ledger.Transaction{}, ErrInvalidAmount
	}
	tv, err := v.find(vaultID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	unlock, err := v.lock()
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer unlock()

	remaining, err := safemath.Sub(tv.Balance, amount)
	if err != nil {
		return ledger.Transaction{}, ErrInsufficientFunds
	}
	previous := tv.Balance
	tv.Balance = remaining
	tx, err := v.bank.Transfer(ctx, v.custody, to, ledger.Money{Asset: tv.Asset, Amount: amount}, "vault withdrawal")
	if err != nil && !moved(err) {
		tv.Balance = previous
		return ledger.Transaction{}, err
	}
	return tx, err
}

// Vaults lists the registered vaults sorted by asset.
func (v *Vault) Vaults() []TokenVault {
	out := make([]TokenVault, 0, len(v.vaults))
	for _, tv := range v.vaults {
		out = append(out, *tv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

func (v *Vault) TokenVault(id string) (TokenVault, error) {
	tv, err := v.find(id)
	if err != nil {
		return TokenVault{}, err
	}
	return *tv, nil
}

// State is the stored form of a Vault.
type State struct {
	Account Account      `json:"account"`
	Vaults  []TokenVault `json:"vaults"`
}

func (v *Vault) Export() State {
	return State{Account: v.acct, Vaults: v.Vaults()}
}

// Restore replaces the treasury contents with a stored State. The
// reentrancy flag always comes back cleared.
func (v *Vault) Restore(st State) error {
	byAsset := make(map[string]*TokenVault, len(st.Vaults))
	vaults := make([]*TokenVault, 0, len(st.Vaults))
	for _, tv := range st.Vaults {
		if _, dup := byAsset[tv.Asset]; dup {
			return errs.Wrapf(ErrVaultExists, "stored vault %s", tv.Asset)
		}
		tv.OrganizationID = v.acct.OrganizationID
		vaults = append(vaults, &tv)
		byAsset[tv.Asset] = &tv
	}
	acct := st.Account
	acct.OrganizationID = v.acct.OrganizationID
	acct.Locked = false
	v.acct = acct
	v.vaults = vaults
	v.byAsset = byAsset
	return nil
}
