package ledger

import (
	"strings"
	"time"

	"guildhall.org/internal/errs"
	"guildhall.org/internal/ids"
)

// NativeAsset is the asset code of the chain's native currency.
const NativeAsset = "NATIVE"

// Money is represented in minor units. No floats.
type Money struct {
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

func (m Money) IsPositive() bool { return m.Amount > 0 }
func (m Money) IsZero() bool     { return m.Amount == 0 }

// Native wraps amount in the native asset.
func Native(amount uint64) Money { return Money{Asset: NativeAsset, Amount: amount} }

// Account holds per-asset balances of one address.
type Account struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Balances  map[string]uint64 `json:"balances"` // asset -> minor units
}

// Transaction is a completed transfer.
type Transaction struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	FromAccountID string    `json:"from_account_id"`
	ToAccountID   string    `json:"to_account_id"`
	Asset         string    `json:"asset"`
	Amount        uint64    `json:"amount"`
	Memo          string    `json:"memo,omitempty"`
	Sequence      uint64    `json:"sequence"` // monotonic sequence number
}

var (
	ErrNotFound          = errs.New(errs.NotFound, "account_not_found", "account not found")
	ErrInsufficientFunds = errs.New(errs.Resource, "insufficient_funds", "insufficient funds")
	ErrInvalidAmount     = errs.New(errs.Validation, "invalid_amount", "invalid amount (must be > 0)")
	ErrInvalidAsset      = errs.New(errs.Validation, "invalid_asset", "invalid asset")
	ErrInvalidAccount    = errs.New(errs.Validation, "invalid_account", "account identifier is required")
	ErrSelfTransfer      = errs.New(errs.Validation, "self_transfer", "source and destination are the same account")
	ErrUnreverted        = errs.New(errs.Consistency, "transfer_not_reverted", "receive hook failed and the transfer could not be reverted")
)

// NormalizeAsset upper-cases and validates an asset code.
func NormalizeAsset(asset string) (string, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" || len(asset) > 16 {
		return "", ErrInvalidAsset
	}
	return asset, nil
}

func newID() string {
	return ids.New()
}
