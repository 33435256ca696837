// Package pg is the durable ledger and activity sink on PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"guildhall.org/internal/ids"
	"guildhall.org/internal/ledger"
	"guildhall.org/internal/safemath"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the schema migrations understood by internal/migrate.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// maxRetries bounds retries of serialization failures.
const maxRetries = 3

// Store implements ledger.Service. It has no receive hooks.
type Store struct {
	db *sql.DB
}

var _ ledger.Service = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Balance(ctx context.Context, id, asset string) (uint64, error) {
	asset, err := ledger.NormalizeAsset(asset)
	if err != nil {
		return 0, err
	}
	var raw string
	err = s.db.QueryRowContext(ctx, `select amount::text from balances where account_id=$1 and asset=$2`, id, asset).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", id, err)
	}
	return parseAmount(raw)
}

func (s *Store) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		select asset, amount::text, created_at
		from balances
		where account_id=$1
		order by asset
	`, id)
	if err != nil {
		return ledger.Account{}, err
	}
	defer rows.Close()

	acc := ledger.Account{ID: id, Balances: map[string]uint64{}}
	for rows.Next() {
		var asset, raw string
		var created time.Time
		if err := rows.Scan(&asset, &raw, &created); err != nil {
			return ledger.Account{}, err
		}
		amt, err := parseAmount(raw)
		if err != nil {
			return ledger.Account{}, err
		}
		acc.Balances[asset] = amt
		if acc.CreatedAt.IsZero() || created.Before(acc.CreatedAt) {
			acc.CreatedAt = created
		}
	}
	if err := rows.Err(); err != nil {
		return ledger.Account{}, err
	}
	if len(acc.Balances) == 0 {
		return ledger.Account{}, ledger.ErrNotFound
	}
	return acc, nil
}

func (s *Store) Mint(ctx context.Context, toID string, amt ledger.Money) (ledger.Transaction, error) {
	if strings.TrimSpace(toID) == "" {
		return ledger.Transaction{}, ledger.ErrInvalidAccount
	}
	if !amt.IsPositive() {
		return ledger.Transaction{}, ledger.ErrInvalidAmount
	}
	asset, err := ledger.NormalizeAsset(amt.Asset)
	if err != nil {
		return ledger.Transaction{}, err
	}
	var out ledger.Transaction
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		bal, err := lockBalance(ctx, tx, toID, asset, true)
		if err != nil {
			return err
		}
		if _, err := safemath.Add(bal, amt.Amount); err != nil {
			return err
		}
		if err := adjust(ctx, tx, toID, asset, "+", amt.Amount); err != nil {
			return err
		}
		out, err = insertTx(ctx, tx, "", toID, asset, amt.Amount, "mint")
		return err
	})
	return out, err
}

func (s *Store) Transfer(ctx context.Context, fromID, toID string, amt ledger.Money, memo string) (ledger.Transaction, error) {
	if !amt.IsPositive() {
		return ledger.Transaction{}, ledger.ErrInvalidAmount
	}
	if strings.TrimSpace(fromID) == "" || strings.TrimSpace(toID) == "" {
		return ledger.Transaction{}, ledger.ErrInvalidAccount
	}
	if fromID == toID {
		return ledger.Transaction{}, ledger.ErrSelfTransfer
	}
	asset, err := ledger.NormalizeAsset(amt.Asset)
	if err != nil {
		return ledger.Transaction{}, err
	}

	var out ledger.Transaction
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		// Lock in stable order to avoid deadlocks
		bals := map[string]uint64{}
		for _, acc := range sorted(fromID, toID) {
			bal, err := lockBalance(ctx, tx, acc, asset, acc == toID)
			if errors.Is(err, sql.ErrNoRows) {
				bal, err = 0, nil
			}
			if err != nil {
				return err
			}
			bals[acc] = bal
		}
		if bals[fromID] < amt.Amount {
			return fmt.Errorf("%w: %s holds less than %d %s", ledger.ErrInsufficientFunds, fromID, amt.Amount, asset)
		}
		if _, err := safemath.Add(bals[toID], amt.Amount); err != nil {
			return err
		}
		if err := adjust(ctx, tx, fromID, asset, "-", amt.Amount); err != nil {
			return err
		}
		if err := adjust(ctx, tx, toID, asset, "+", amt.Amount); err != nil {
			return err
		}
		var err error
		out, err = insertTx(ctx, tx, fromID, toID, asset, amt.Amount, memo)
		return err
	})
	return out, err
}

func (s *Store) ListTransactions(ctx context.Context, limit int, afterSeq uint64) ([]ledger.Transaction, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, created_at, from_account_id, to_account_id, asset, amount::text, memo, sequence
		from transactions
		where sequence > $1
		order by sequence asc
		limit $2
	`, int64(afterSeq), limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []ledger.Transaction
	var last uint64
	for rows.Next() {
		var tx ledger.Transaction
		var raw string
		var seq int64
		if err := rows.Scan(&tx.ID, &tx.CreatedAt, &tx.FromAccountID, &tx.ToAccountID, &tx.Asset, &raw, &tx.Memo, &seq); err != nil {
			return nil, 0, err
		}
		if tx.Amount, err = parseAmount(raw); err != nil {
			return nil, 0, err
		}
		tx.Sequence = uint64(seq)
		res = append(res, tx)
		last = tx.Sequence
	}
	return res, last, rows.Err()
}

// inTx runs fn in a serializable transaction and retries serialization
// failures and deadlocks.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = s.attempt(ctx, fn)
		if !retryable(err) {
			return err
		}
	}
	return fmt.Errorf("ledger transaction: %w", err)
}

func (s *Store) attempt(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// lockBalance returns the locked balance row of account. With create set a
// missing row is inserted first.
func lockBalance(ctx context.Context, tx *sql.Tx, account, asset string, create bool) (uint64, error) {
	if create {
		if _, err := tx.ExecContext(ctx, `
			insert into balances(account_id, asset, amount)
			values ($1,$2,0) on conflict do nothing
		`, account, asset); err != nil {
			return 0, err
		}
	}
	var raw string
	if err := tx.QueryRowContext(ctx, `
		select amount::text from balances where account_id=$1 and asset=$2 for update
	`, account, asset).Scan(&raw); err != nil {
		return 0, err
	}
	return parseAmount(raw)
}

func adjust(ctx context.Context, tx *sql.Tx, account, asset, op string, amount uint64) error {
	_, err := tx.ExecContext(ctx, `
		update balances set amount = amount `+op+` $3::numeric
		where account_id=$1 and asset=$2
	`, account, asset, formatAmount(amount))
	return err
}

func insertTx(ctx context.Context, tx *sql.Tx, fromID, toID, asset string, amount uint64, memo string) (ledger.Transaction, error) {
	t := ledger.Transaction{
		ID:            ids.New(),
		FromAccountID: fromID,
		ToAccountID:   toID,
		Asset:         asset,
		Amount:        amount,
		Memo:          memo,
	}
	var seq int64
	if err := tx.QueryRowContext(ctx, `
		insert into transactions(id, from_account_id, to_account_id, asset, amount, memo)
		values ($1,$2,$3,$4,$5::numeric,$6) returning sequence, created_at
	`, t.ID, fromID, toID, asset, formatAmount(amount), memo).Scan(&seq, &t.CreatedAt); err != nil {
		return ledger.Transaction{}, err
	}
	t.Sequence = uint64(seq)
	return t, nil
}

// Amounts travel as decimal text: numeric(20,0) holds the full uint64 range.
func formatAmount(v uint64) string { return strconv.FormatUint(v, 10) }

func parseAmount(raw string) (uint64, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("stored amount %q: %w", raw, err)
	}
	return v, nil
}

func sorted(a, b string) []string {
	if a <= b {
		return []string{a, b}
	}
	return []string{b, a}
}
