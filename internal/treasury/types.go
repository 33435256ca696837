package treasury

import (
	"time"

	"guildhall.org/internal/errs"
)

// Config holds the initial treasury settings of an organization.
type Config struct {
	DailyLimit     uint64 `json:"daily_limit"` // 0 = unlimited
	PublicDeposits bool   `json:"public_deposits"`
}

// Account is the native-asset treasury of one organization.
type Account struct {
	OrganizationID    string `json:"organization_id"`
	NativeBalance     uint64 `json:"native_balance"`
	DailyLimit        uint64 `json:"daily_limit"`
	LastWithdrawalDay string `json:"last_withdrawal_day,omitempty"` // UTC, YYYY-MM-DD
	WithdrawnToday    uint64 `json:"withdrawn_today"`
	PublicDeposits    bool   `json:"public_deposits"`
	Locked            bool   `json:"locked"`
}

// TokenVault custodies one non-native asset for an organization.
type TokenVault struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Asset          string    `json:"asset"`
	Balance        uint64    `json:"balance"`
	CreatedAt      time.Time `json:"created_at"`
	CreatedBy      string    `json:"created_by"`
}

var (
	ErrInvalidAmount     = errs.New(errs.Validation, "invalid_amount", "amount must be > 0")
	ErrInvalidAddress    = errs.New(errs.Validation, "invalid_address", "address is required")
	ErrInvalidAsset      = errs.New(errs.Validation, "invalid_vault_asset", "vault asset must be a non-native asset code")
	ErrNotAdmin          = errs.New(errs.Authorization, "not_admin", "caller holds no administrator role")
	ErrDepositForbidden  = errs.New(errs.Authorization, "deposit_forbidden", "deposits are restricted to members and admins")
	ErrInsufficientFunds = errs.New(errs.Resource, "insufficient_treasury_funds", "treasury balance below requested amount")
	ErrDailyLimit        = errs.New(errs.Resource, "daily_limit_exceeded", "withdrawal exceeds the daily limit")
	ErrLocked            = errs.New(errs.Concurrency, "reentrant_withdrawal", "a withdrawal is already in progress")
	ErrVaultExists       = errs.New(errs.State, "vault_exists", "a vault for this asset already exists")
	ErrVaultNotFound     = errs.New(errs.NotFound, "vault_not_found", "vault not found")
)
