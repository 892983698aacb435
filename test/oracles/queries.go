package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant queries. Each query selects violating rows, so
// an empty result set means the invariant holds.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_total_paid_cap",
			SQL: `SELECT l.loan_id, l.total_paid
                  FROM loan_ledgers l
                  JOIN loans ln ON ln.id = l.loan_id
                  WHERE l.total_paid > ln.principal + round(ln.principal * ln.flat_rate, 2)`,
		},
		{
			Name: "O2_interest_cap",
			SQL: `SELECT l.loan_id, l.interest_paid
                  FROM loan_ledgers l
                  JOIN loans ln ON ln.id = l.loan_id
                  WHERE l.interest_paid > round(ln.principal * ln.flat_rate, 2)`,
		},
		{
			Name: "O3_reimbursement_cap",
			SQL: `SELECT l.loan_id, l.guarantor_reimbursed
                  FROM loan_ledgers l
                  JOIN (SELECT g.loan_id, SUM(round(ln.principal * g.pledge_percent / 100, 2)) AS pool
                        FROM loan_guarantors g
                        JOIN loans ln ON ln.id = g.loan_id
                        GROUP BY g.loan_id) p ON p.loan_id = l.loan_id
                  WHERE l.guarantor_reimbursed > p.pool`,
		},
		{
			Name: "O4_payment_component_sum",
			SQL: `SELECT reference, amount, interest_amount, guarantor_amount, principal_amount
                  FROM transactions
                  WHERE kind = 'loan_payment'
                    AND interest_amount + guarantor_amount + principal_amount <> amount`,
		},
		{
			Name: "O5_ledger_matches_audit",
			SQL: `SELECT l.loan_id
                  FROM loan_ledgers l
                  LEFT JOIN (SELECT loan_id,
                                    SUM(amount) AS paid,
                                    SUM(interest_amount) AS interest,
                                    SUM(guarantor_amount) AS reimbursed
                             FROM transactions
                             WHERE kind = 'loan_payment'
                             GROUP BY loan_id) t ON t.loan_id = l.loan_id
                  WHERE COALESCE(t.paid, 0) <> l.total_paid
                     OR COALESCE(t.interest, 0) <> l.interest_paid
                     OR COALESCE(t.reimbursed, 0) <> l.guarantor_reimbursed`,
		},
		{
			Name: "O6_disbursement_conservation",
			SQL: `SELECT p.reference, p.guarantor_amount
                  FROM transactions p
                  WHERE p.kind = 'loan_payment'
                    AND p.guarantor_amount <> COALESCE(
                        (SELECT SUM(d.amount) FROM transactions d
                         WHERE d.kind = 'guarantor_disbursement'
                           AND d.parent_reference = p.reference), 0)`,
		},
		{
			Name: "O7_completed_within_tolerance",
			SQL: `SELECT l.loan_id, l.total_paid
                  FROM loan_ledgers l
                  JOIN loans ln ON ln.id = l.loan_id
                  WHERE l.completed
                    AND ln.principal + round(ln.principal * ln.flat_rate, 2) - l.total_paid > 0.01`,
		},
		{
			Name: "O8_version_tracks_payments",
			SQL: `SELECT l.loan_id, l.version
                  FROM loan_ledgers l
                  WHERE l.version <> 1 + (SELECT COUNT(*) FROM transactions t
                                          WHERE t.loan_id = l.loan_id AND t.kind = 'loan_payment')`,
		},
		{
			Name: "O9_loan_account_balance",
			SQL: `SELECT a.id, a.balance
                  FROM loans ln
                  JOIN accounts a ON a.id = ln.account_id
                  JOIN loan_ledgers l ON l.loan_id = ln.id
                  WHERE a.balance <> ln.principal + round(ln.principal * ln.flat_rate, 2) - l.total_paid`,
		},
		{
			Name: "O10_guarantor_account_balance",
			SQL: `SELECT a.id, a.balance
                  FROM accounts a
                  WHERE a.kind = 'deposit'
                    AND a.balance <> COALESCE(
                        (SELECT SUM(t.amount) FROM transactions t
                         WHERE t.account_id = a.id AND t.kind = 'guarantor_disbursement'), 0)`,
		},
		{
			Name: "O11_outbox_not_stale",
			SQL: `SELECT id, topic, created_at
                  FROM outbox
                  WHERE processed_at IS NULL
                    AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample
// row text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
