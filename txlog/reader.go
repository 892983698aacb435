package txlog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"loanflow/money"
)

// Reader serves audit queries over the transactions table.
type Reader struct {
	pool *pgxpool.Pool
}

func NewReader(pool *pgxpool.Pool) *Reader {
	return &Reader{pool: pool}
}

// ListByLoan returns the most recent transaction records for a loan, newest
// first.
func (r *Reader) ListByLoan(ctx context.Context, loanID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	const query = `
		SELECT id, loan_id, kind::text, reference,
		       amount::text, interest_amount::text, guarantor_amount::text, principal_amount::text,
		       guarantor_id, account_id, created_at
		FROM transactions
		WHERE loan_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, loanID, limit)
	if err != nil {
		return nil, fmt.Errorf("txlog: list by loan: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		var (
			rec                                Record
			amount, interest, guarantor, princ string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.LoanID,
			&rec.Kind,
			&rec.Reference,
			&amount,
			&interest,
			&guarantor,
			&princ,
			&rec.GuarantorID,
			&rec.AccountID,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("txlog: scan record: %w", err)
		}
		if rec.Amount, err = money.FromString(amount); err != nil {
			return nil, err
		}
		if rec.InterestAmount, err = money.FromString(interest); err != nil {
			return nil, err
		}
		if rec.GuarantorAmount, err = money.FromString(guarantor); err != nil {
			return nil, err
		}
		if rec.PrincipalAmount, err = money.FromString(princ); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("txlog: iterate records: %w", err)
	}
	return out, nil
}
