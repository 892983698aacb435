package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"loanflow/money"
)

// ErrNotFound signals the requested account does not exist.
var ErrNotFound = errors.New("account: not found")

// Repository provides access to account balances. Credit and Debit run
// inside the caller's transaction: balance deltas from a repayment must
// commit atomically with the ledger write-back.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches an account by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Account, error) {
	const query = `
		SELECT id, owner_id, kind::text, balance::text, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`
	return scanAccount(r.pool.QueryRow(ctx, query, id))
}

// ListByOwner fetches all accounts held by one owner, oldest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]Account, error) {
	const query = `
		SELECT id, owner_id, kind::text, balance::text, created_at, updated_at
		FROM accounts
		WHERE owner_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("account: list by owner: %w", err)
	}
	defer rows.Close()

	out := make([]Account, 0, 4)
	for rows.Next() {
		acct, err := scanAccountRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("account: iterate: %w", err)
	}
	return out, nil
}

// CreditTx adds amount to the account balance inside the given transaction.
func (r *Repository) CreditTx(ctx context.Context, tx pgx.Tx, id string, amount decimal.Decimal) error {
	return applyDelta(ctx, tx, id, amount)
}

// DebitTx subtracts amount from the account balance inside the given
// transaction. Loan accounts may not go below zero; the row constraint
// enforces it and the error surfaces to the caller's rollback.
func (r *Repository) DebitTx(ctx context.Context, tx pgx.Tx, id string, amount decimal.Decimal) error {
	return applyDelta(ctx, tx, id, amount.Neg())
}

func applyDelta(ctx context.Context, tx pgx.Tx, id string, delta decimal.Decimal) error {
	const updateSQL = `
		UPDATE accounts
		SET balance = balance + $2,
		    updated_at = now()
		WHERE id = $1
	`
	tag, err := tx.Exec(ctx, updateSQL, id, money.String(delta))
	if err != nil {
		return fmt.Errorf("account: apply delta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		acct    Account
		balance string
	)
	err := row.Scan(&acct.ID, &acct.OwnerID, &acct.Kind, &balance, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("account: scan: %w", err)
	}
	if acct.Balance, err = money.FromString(balance); err != nil {
		return Account{}, err
	}
	return acct, nil
}

func scanAccountRows(rows pgx.Rows) (Account, error) {
	var (
		acct    Account
		balance string
	)
	if err := rows.Scan(&acct.ID, &acct.OwnerID, &acct.Kind, &balance, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return Account{}, fmt.Errorf("account: scan: %w", err)
	}
	var err error
	if acct.Balance, err = money.FromString(balance); err != nil {
		return Account{}, err
	}
	return acct, nil
}
