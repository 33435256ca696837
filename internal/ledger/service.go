// Package ledger is the external balance collaborator of the governance core.
// It custodies per-address, per-asset balances and moves funds between them.
// Accounts exist implicitly: any address can receive funds.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"guildhall.org/internal/safemath"
)

// Bank is the subset of the ledger the governance core depends on.
type Bank interface {
	Balance(ctx context.Context, account, asset string) (uint64, error)
	Transfer(ctx context.Context, fromID, toID string, amt Money, memo string) (Transaction, error)
}

// Service defines ledger operations.
type Service interface {
	Bank
	Mint(ctx context.Context, toID string, amt Money) (Transaction, error)
	GetAccount(ctx context.Context, id string) (Account, error)
	ListTransactions(ctx context.Context, limit int, afterSeq uint64) ([]Transaction, uint64, error)
}

// ReceiveHook runs after an account has been credited by a transfer, outside
// the ledger lock, with the transfer's context. It models contract callbacks:
// a hook may call back into the system, and an error reverts the transfer.
// When the receiver has already moved the funds on, the revert is impossible
// and Transfer fails with ErrUnreverted while returning the transaction.
type ReceiveHook func(ctx context.Context, tx Transaction) error

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu    sync.RWMutex
	accts map[string]*Account
	seq   uint64
	txs   []Transaction
	hooks map[string]ReceiveHook
	now   func() time.Time
}

// NewInMemory creates a fresh ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		accts: make(map[string]*Account),
		hooks: make(map[string]ReceiveHook),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// OnReceive installs hook for incoming transfers to account. A nil hook removes it.
func (s *InMemory) OnReceive(account string, hook ReceiveHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hook == nil {
		delete(s.hooks, account)
		return
	}
	s.hooks[account] = hook
}

func (s *InMemory) account(id string) *Account {
	acc, ok := s.accts[id]
	if !ok {
		acc = &Account{ID: id, CreatedAt: s.now(), Balances: map[string]uint64{}}
		s.accts[id] = acc
	}
	return acc
}

func (s *InMemory) GetAccount(ctx context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	// return copy
	out := *acc
	out.Balances = make(map[string]uint64, len(acc.Balances))
	for k, v := range acc.Balances {
		out.Balances[k] = v
	}
	return out, nil
}

func (s *InMemory) Balance(ctx context.Context, id, asset string) (uint64, error) {
	asset, err := NormalizeAsset(asset)
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accts[id]
	if !ok {
		return 0, nil
	}
	return acc.Balances[asset], nil
}

func (s *InMemory) Mint(ctx context.Context, toID string, amt Money) (Transaction, error) {
	if strings.TrimSpace(toID) == "" {
		return Transaction{}, ErrInvalidAccount
	}
	if !amt.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}
	asset, err := NormalizeAsset(amt.Asset)
	if err != nil {
		return Transaction{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	to := s.account(toID)
	next, err := safemath.Add(to.Balances[asset], amt.Amount)
	if err != nil {
		return Transaction{}, err
	}
	to.Balances[asset] = next
	return s.record("", toID, asset, amt.Amount, "mint"), nil
}

func (s *InMemory) Transfer(ctx context.Context, fromID, toID string, amt Money, memo string) (Transaction, error) {
	if !amt.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}
	if strings.TrimSpace(fromID) == "" || strings.TrimSpace(toID) == "" {
		return Transaction{}, ErrInvalidAccount
	}
	if fromID == toID {
		return Transaction{}, ErrSelfTransfer
	}
	asset, err := NormalizeAsset(amt.Asset)
	if err != nil {
		return Transaction{}, err
	}

	s.mu.Lock()
	from, ok := s.accts[fromID]
	if !ok || from.Balances[asset] < amt.Amount {
		s.mu.Unlock()
		return Transaction{}, fmt.Errorf("%w: %s holds less than %d %s", ErrInsufficientFunds, fromID, amt.Amount, asset)
	}
	to := s.account(toID)
	credited, err := safemath.Add(to.Balances[asset], amt.Amount)
	if err != nil {
		s.mu.Unlock()
		return Transaction{}, err
	}
	from.Balances[asset] -= amt.Amount
	to.Balances[asset] = credited
	tx := s.record(fromID, toID, asset, amt.Amount, memo)
	hook := s.hooks[toID]
	s.mu.Unlock()

	if hook == nil {
		return tx, nil
	}
	if err := hook(ctx, tx); err != nil {
		if rerr := s.revert(tx); rerr != nil {
			// The funds stay moved; tx is returned so callers can book it.
			return tx, fmt.Errorf("%w: receive hook: %w (revert: %v)", ErrUnreverted, err, rerr)
		}
		return Transaction{}, fmt.Errorf("receive hook: %w", err)
	}
	return tx, nil
}

// revert undoes tx after a failed receive hook.
func (s *InMemory) revert(tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	to := s.account(tx.ToAccountID)
	from := s.account(tx.FromAccountID)
	remaining, err := safemath.Sub(to.Balances[tx.Asset], tx.Amount)
	if err != nil {
		return fmt.Errorf("%w: receiver spent the transfer", ErrInsufficientFunds)
	}
	restored, err := safemath.Add(from.Balances[tx.Asset], tx.Amount)
	if err != nil {
		return err
	}
	to.Balances[tx.Asset] = remaining
	from.Balances[tx.Asset] = restored
	for i := range s.txs {
		if s.txs[i].ID == tx.ID {
			s.txs = append(s.txs[:i], s.txs[i+1:]...)
			break
		}
	}
	return nil
}

// record appends a transaction; callers hold s.mu.
func (s *InMemory) record(fromID, toID, asset string, amount uint64, memo string) Transaction {
	s.seq++
	tx := Transaction{
		ID:            newID(),
		CreatedAt:     s.now(),
		FromAccountID: fromID,
		ToAccountID:   toID,
		Asset:         asset,
		Amount:        amount,
		Memo:          memo,
		Sequence:      s.seq,
	}
	s.txs = append(s.txs, tx)
	return tx
}

func (s *InMemory) ListTransactions(ctx context.Context, limit int, afterSeq uint64) ([]Transaction, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Transaction
	var last uint64
	for _, tx := range s.txs {
		if tx.Sequence <= afterSeq {
			continue
		}
		res = append(res, tx)
		last = tx.Sequence
		if len(res) >= limit {
			break
		}
	}
	return res, last, nil
}
