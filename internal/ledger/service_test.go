package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"guildhall.org/internal/errs"
)

func TestTransferSuccessAndBalance(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if _, err := s.Mint(ctx, "alice", Native(1000)); err != nil {
		t.Fatal(err)
	}

	tx, err := s.Transfer(ctx, "alice", "bob", Native(600), "payment")
	if err != nil {
		t.Fatal(err)
	}
	if tx.Sequence != 2 || tx.Memo != "payment" {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
	ba, _ := s.Balance(ctx, "alice", NativeAsset)
	bb, _ := s.Balance(ctx, "bob", "native")

	if ba != 400 || bb != 600 {
		t.Fatalf("unexpected balances: a=%d b=%d", ba, bb)
	}
}

func TestInsufficientFunds(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	_, _ = s.Mint(ctx, "alice", Native(100))

	if _, err := s.Transfer(ctx, "alice", "bob", Native(200), ""); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := s.Transfer(ctx, "ghost", "bob", Native(1), ""); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds for unknown sender, got %v", err)
	}
}

func TestTransferValidation(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	cases := []struct {
		name     string
		from, to string
		amt      Money
		want     error
	}{
		{"zero", "a", "b", Native(0), ErrInvalidAmount},
		{"self", "a", "a", Native(1), ErrSelfTransfer},
		{"no asset", "a", "b", Money{Amount: 1}, ErrInvalidAsset},
		{"no account", "", "b", Native(1), ErrInvalidAccount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.Transfer(ctx, tc.from, tc.to, tc.amt, ""); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestReceiveHookFailureRevertsTransfer(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	_, _ = s.Mint(ctx, "alice", Native(500))

	boom := errors.New("rejected by receiver")
	s.OnReceive("contract", func(ctx context.Context, tx Transaction) error { return boom })

	if _, err := s.Transfer(ctx, "alice", "contract", Native(200), ""); !errors.Is(err, boom) {
		t.Fatalf("expected hook error, got %v", err)
	}
	ba, _ := s.Balance(ctx, "alice", NativeAsset)
	bc, _ := s.Balance(ctx, "contract", NativeAsset)
	if ba != 500 || bc != 0 {
		t.Fatalf("transfer not reverted: alice=%d contract=%d", ba, bc)
	}
	txs, _, _ := s.ListTransactions(ctx, 10, 0)
	if len(txs) != 1 {
		t.Fatalf("expected only the mint to remain, got %d transactions", len(txs))
	}
}

func TestSpentTransferCannotBeReverted(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	_, _ = s.Mint(ctx, "alice", Native(500))

	boom := errors.New("rejected after forwarding")
	s.OnReceive("contract", func(ctx context.Context, tx Transaction) error {
		if _, err := s.Transfer(ctx, "contract", "carol", Native(tx.Amount), "forward"); err != nil {
			return err
		}
		return boom
	})

	tx, err := s.Transfer(ctx, "alice", "contract", Native(200), "")
	if !errors.Is(err, ErrUnreverted) || !errors.Is(err, boom) {
		t.Fatalf("expected ErrUnreverted wrapping the hook error, got %v", err)
	}
	if errs.CategoryOf(err) != errs.Consistency {
		t.Fatalf("expected consistency category, got %s", errs.CategoryOf(err))
	}
	if tx.Amount != 200 || tx.ToAccountID != "contract" {
		t.Fatalf("unreverted transfer should be returned, got %+v", tx)
	}
	ba, _ := s.Balance(ctx, "alice", NativeAsset)
	bc, _ := s.Balance(ctx, "carol", NativeAsset)
	if ba != 300 || bc != 200 {
		t.Fatalf("alice=%d carol=%d", ba, bc)
	}
}

func TestReceiveHookCanReenter(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	_, _ = s.Mint(ctx, "alice", Native(500))

	var nested error
	s.OnReceive("contract", func(ctx context.Context, tx Transaction) error {
		_, nested = s.Transfer(ctx, "contract", "carol", Native(tx.Amount/2), "forward")
		return nil
	})
	if _, err := s.Transfer(ctx, "alice", "contract", Native(200), ""); err != nil {
		t.Fatal(err)
	}
	if nested != nil {
		t.Fatalf("nested transfer failed: %v", nested)
	}
	bc, _ := s.Balance(ctx, "carol", NativeAsset)
	if bc != 100 {
		t.Fatalf("unexpected forwarded balance: %d", bc)
	}
}

func TestConcurrentTransfers(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	_, _ = s.Mint(ctx, "a", Native(10000))

	var wg sync.WaitGroup
	N := 50
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Transfer(ctx, "a", "b", Native(100), "")
		}()
	}
	wg.Wait()

	ba, _ := s.Balance(ctx, "a", NativeAsset)
	bb, _ := s.Balance(ctx, "b", NativeAsset)
	if ba+bb != 10000 {
		t.Fatalf("conservation violated: a+b=%d", ba+bb)
	}
}
