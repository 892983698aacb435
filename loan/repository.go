package loan

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"loanflow/money"
)

var (
	// ErrNotFound signals the loan does not exist.
	ErrNotFound = errors.New("loan: not found")
	// ErrDuplicate signals a loan with the same id already exists.
	ErrDuplicate = errors.New("loan: already exists")
)

// Repository defines the data access required by the service.
type Repository interface {
	CreateTx(ctx context.Context, tx pgx.Tx, terms Terms, ledger Ledger) (Terms, error)
	GetTerms(ctx context.Context, loanID string) (Terms, error)
	GetLedger(ctx context.Context, loanID string) (Ledger, error)
	List(ctx context.Context, filters Filters) ([]Terms, int, error)
}

// Filters narrows List results.
type Filters struct {
	BorrowerID string
	Page       int
	PageSize   int
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateTx inserts the loan, its guarantor list, the loan account carrying
// the outstanding debt, and the zeroed ledger, all inside the caller's
// transaction.
func (r *PGRepository) CreateTx(ctx context.Context, tx pgx.Tx, terms Terms, ledger Ledger) (Terms, error) {
	const accountSQL = `
		INSERT INTO accounts (owner_id, kind, balance)
		VALUES ($1, 'loan', $2)
		RETURNING id
	`
	if err := tx.QueryRow(ctx, accountSQL, terms.BorrowerID, money.String(terms.TotalRepayable())).Scan(&terms.AccountID); err != nil {
		return Terms{}, fmt.Errorf("loan: open loan account: %w", err)
	}

	const loanSQL = `
		INSERT INTO loans (id, borrower_id, account_id, principal, flat_rate)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	if err := tx.QueryRow(ctx, loanSQL,
		terms.LoanID,
		terms.BorrowerID,
		terms.AccountID,
		money.String(terms.Principal),
		terms.FlatRate.String(),
	).Scan(&terms.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Terms{}, ErrDuplicate
		}
		return Terms{}, fmt.Errorf("loan: insert: %w", err)
	}

	const guarantorSQL = `
		INSERT INTO loan_guarantors (loan_id, position, guarantor_id, account_id, pledge_percent)
		VALUES ($1, $2, $3, $4, $5)
	`
	for i, g := range terms.Guarantors {
		if _, err := tx.Exec(ctx, guarantorSQL,
			terms.LoanID,
			i,
			g.GuarantorID,
			g.AccountID,
			g.PledgePercent.String(),
		); err != nil {
			return Terms{}, fmt.Errorf("loan: insert guarantor %s: %w", g.GuarantorID, err)
		}
	}

	const ledgerSQL = `
		INSERT INTO loan_ledgers (loan_id, version, total_paid, interest_paid, guarantor_reimbursed, principal_remaining, completed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := tx.Exec(ctx, ledgerSQL,
		ledger.LoanID,
		ledger.Version,
		money.String(ledger.TotalPaid),
		money.String(ledger.TotalInterestPaid),
		money.String(ledger.GuarantorReimbursed),
		money.String(ledger.PrincipalRemaining),
		ledger.Completed,
	); err != nil {
		return Terms{}, fmt.Errorf("loan: insert ledger: %w", err)
	}

	return terms, nil
}

// GetTerms loads the immutable terms and guarantor list for a loan.
func (r *PGRepository) GetTerms(ctx context.Context, loanID string) (Terms, error) {
	const loanSQL = `
		SELECT id, borrower_id, account_id, principal::text, flat_rate::text, created_at
		FROM loans
		WHERE id = $1
	`

	var (
		t         Terms
		principal string
		rate      string
	)
	err := r.pool.QueryRow(ctx, loanSQL, loanID).Scan(
		&t.LoanID,
		&t.BorrowerID,
		&t.AccountID,
		&principal,
		&rate,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Terms{}, ErrNotFound
		}
		return Terms{}, fmt.Errorf("loan: get terms: %w", err)
	}
	if t.Principal, err = money.FromString(principal); err != nil {
		return Terms{}, err
	}
	if t.FlatRate, err = money.FromString(rate); err != nil {
		return Terms{}, err
	}

	const guarantorSQL = `
		SELECT guarantor_id, account_id, pledge_percent::text
		FROM loan_guarantors
		WHERE loan_id = $1
		ORDER BY position ASC
	`
	rows, err := r.pool.Query(ctx, guarantorSQL, loanID)
	if err != nil {
		return Terms{}, fmt.Errorf("loan: list guarantors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			g       Guarantor
			percent string
		)
		if err := rows.Scan(&g.GuarantorID, &g.AccountID, &percent); err != nil {
			return Terms{}, fmt.Errorf("loan: scan guarantor: %w", err)
		}
		if g.PledgePercent, err = money.FromString(percent); err != nil {
			return Terms{}, err
		}
		t.Guarantors = append(t.Guarantors, g)
	}
	if err := rows.Err(); err != nil {
		return Terms{}, fmt.Errorf("loan: iterate guarantors: %w", err)
	}
	return t, nil
}

// GetLedger loads the current ledger snapshot without locking it.
func (r *PGRepository) GetLedger(ctx context.Context, loanID string) (Ledger, error) {
	const query = `
		SELECT loan_id, version, total_paid::text, interest_paid::text,
		       guarantor_reimbursed::text, principal_remaining::text,
		       completed, last_payment_amount::text, last_payment_at, updated_at
		FROM loan_ledgers
		WHERE loan_id = $1
	`

	var (
		l           Ledger
		totalPaid   string
		interest    string
		reimbursed  string
		principal   string
		lastPayment *string
	)
	err := r.pool.QueryRow(ctx, query, loanID).Scan(
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
			return Ledger{}, ErrNotFound
		}
		return Ledger{}, fmt.Errorf("loan: get ledger: %w", err)
	}

	if l.TotalPaid, err = money.FromString(totalPaid); err != nil {
		return Ledger{}, err
	}
	if l.TotalInterestPaid, err = money.FromString(interest); err != nil {
		return Ledger{}, err
	}
	if l.GuarantorReimbursed, err = money.FromString(reimbursed); err != nil {
		return Ledger{}, err
	}
	if l.PrincipalRemaining, err = money.FromString(principal); err != nil {
		return Ledger{}, err
	}
	if lastPayment != nil {
		if l.LastPaymentAmount, err = money.FromString(*lastPayment); err != nil {
			return Ledger{}, err
		}
	}
	return l, nil
}

// List returns a page of loans, newest first, optionally filtered by
// borrower.
func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Terms, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	query := `
		SELECT id, borrower_id, account_id, principal::text, flat_rate::text, created_at
		FROM loans
	`
	countQuery := `SELECT COUNT(*) FROM loans`
	args := []any{}
	if filters.BorrowerID != "" {
		query += ` WHERE borrower_id = $1`
		countQuery += ` WHERE borrower_id = $1`
		args = append(args, filters.BorrowerID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("loan: list: %w", err)
	}
	defer rows.Close()

	out := []Terms{}
	for rows.Next() {
		var (
			t         Terms
			principal string
			rate      string
		)
		if err := rows.Scan(&t.LoanID, &t.BorrowerID, &t.AccountID, &principal, &rate, &t.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("loan: scan: %w", err)
		}
		if t.Principal, err = money.FromString(principal); err != nil {
			return nil, 0, err
		}
		if t.FlatRate, err = money.FromString(rate); err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("loan: iterate: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("loan: count: %w", err)
	}
	return out, total, nil
}
