package repayment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"loanflow/loan"
	"loanflow/money"
)

var (
	// ErrLoanNotFound is returned when no loan exists for the identifier.
	ErrLoanNotFound = errors.New("repayment: loan not found")
	// ErrDuplicateReference signals the payment reference was already
	// processed; the original unit of work committed and must not repeat.
	ErrDuplicateReference = errors.New("repayment: duplicate payment reference")
	// ErrVersionConflict signals a concurrent writer advanced the ledger
	// between read and write-back.
	ErrVersionConflict = errors.New("repayment: ledger version conflict")
)

// PGRepository executes the data access of the repayment unit of work. All
// methods run inside the transaction owned by the Service.
type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

// ReserveReference claims the payment reference inside the active
// transaction so a replayed request cannot apply the same payment twice.
func (r *PGRepository) ReserveReference(ctx context.Context, tx pgx.Tx, reference string) error {
	if reference == "" {
		return fmt.Errorf("repayment: empty payment reference")
	}

	if _, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, reference); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateReference
		}
		return fmt.Errorf("repayment: reserve reference: %w", err)
	}
	return nil
}

// GetLedgerForUpdate loads the loan's ledger row and locks it for the
// remainder of the transaction. The row lock serializes concurrent
// repayments against the same loan; ledgers of different loans stay fully
// parallel.
func (r *PGRepository) GetLedgerForUpdate(ctx context.Context, tx pgx.Tx, loanID string) (loan.Ledger, error) {
	const query = `
		SELECT loan_id, version, total_paid::text, interest_paid::text,
		       guarantor_reimbursed::text, principal_remaining::text,
		       completed, last_payment_amount::text, last_payment_at, updated_at
		FROM loan_ledgers
		WHERE loan_id = $1
		FOR UPDATE
	`

	var (
		l           loan.Ledger
		totalPaid   string
		interest    string
		reimbursed  string
		principal   string
		lastPayment *string
	)
	err := tx.QueryRow(ctx, query, loanID).Scan(
		&l.LoanID,
		&l.Version,
		&totalPaid,
		&interest,
		&reimbursed,
		&principal,
		&l.Completed,
		&lastPayment,
		&l.LastPaymentAt,
		&l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return loan.Ledger{}, ErrLoanNotFound
		}
		return loan.Ledger{}, fmt.Errorf("repayment: load ledger: %w", err)
	}

	if l.TotalPaid, err = money.FromString(totalPaid); err != nil {
		return loan.Ledger{}, err
	}
	if l.TotalInterestPaid, err = money.FromString(interest); err != nil {
		return loan.Ledger{}, err
	}
	if l.GuarantorReimbursed, err = money.FromString(reimbursed); err != nil {
		return loan.Ledger{}, err
	}
	if l.PrincipalRemaining, err = money.FromString(principal); err != nil {
		return loan.Ledger{}, err
	}
	if lastPayment != nil {
		if l.LastPaymentAmount, err = money.FromString(*lastPayment); err != nil {
			return loan.Ledger{}, err
		}
	}
	return l, nil
}

// GetTermsTx loads the immutable loan terms and the guarantor list in
// origination order.
func (r *PGRepository) GetTermsTx(ctx context.Context, tx pgx.Tx, loanID string) (loan.Terms, error) {
	const loanSQL = `
		SELECT id, borrower_id, account_id, principal::text, flat_rate::text, created_at
		FROM loans
		WHERE id = $1
	`

	var (
		t         loan.Terms
		principal string
		rate      string
	)
	err := tx.QueryRow(ctx, loanSQL, loanID).Scan(
		&t.LoanID,
		&t.BorrowerID,
		&t.AccountID,
		&principal,
		&rate,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return loan.Terms{}, ErrLoanNotFound
		}
		return loan.Terms{}, fmt.Errorf("repayment: load terms: %w", err)
	}
	if t.Principal, err = money.FromString(principal); err != nil {
		return loan.Terms{}, err
	}
	if t.FlatRate, err = money.FromString(rate); err != nil {
		return loan.Terms{}, err
	}

	const guarantorSQL = `
		SELECT guarantor_id, account_id, pledge_percent::text
		FROM loan_guarantors
		WHERE loan_id = $1
		ORDER BY position ASC
	`
	rows, err := tx.Query(ctx, guarantorSQL, loanID)
	if err != nil {
		return loan.Terms{}, fmt.Errorf("repayment: load guarantors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			g       loan.Guarantor
			percent string
		)
		if err := rows.Scan(&g.GuarantorID, &g.AccountID, &percent); err != nil {
			return loan.Terms{}, fmt.Errorf("repayment: scan guarantor: %w", err)
		}
		if g.PledgePercent, err = money.FromString(percent); err != nil {
			return loan.Terms{}, err
		}
		t.Guarantors = append(t.Guarantors, g)
	}
	if err := rows.Err(); err != nil {
		return loan.Terms{}, fmt.Errorf("repayment: iterate guarantors: %w", err)
	}
	return t, nil
}

// UpdateLedger writes the new ledger value, guarded by the version the unit
// of work read. Under the FOR UPDATE lock the guard cannot fire, but it
// keeps an optimistic-retry caller honest.
func (r *PGRepository) UpdateLedger(ctx context.Context, tx pgx.Tx, l loan.Ledger, expectedVersion int64) error {
	const updateSQL = `
		UPDATE loan_ledgers
		SET version = $2,
		    total_paid = $3,
		    interest_paid = $4,
		    guarantor_reimbursed = $5,
		    principal_remaining = $6,
		    completed = $7,
		    last_payment_amount = $8,
		    last_payment_at = $9,
		    updated_at = now()
		WHERE loan_id = $1 AND version = $10
	`

	tag, err := tx.Exec(ctx, updateSQL,
		l.LoanID,
		l.Version,
		money.String(l.TotalPaid),
		money.String(l.TotalInterestPaid),
		money.String(l.GuarantorReimbursed),
		money.String(l.PrincipalRemaining),
		l.Completed,
		money.String(l.LastPaymentAmount),
		l.LastPaymentAt,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("repayment: update ledger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}
