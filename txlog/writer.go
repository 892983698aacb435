// Package txlog is the transaction/audit sink: an append-only record of
// every payment and disbursement share, plus the transactional outbox used
// for downstream delivery. Writers run inside the caller's transaction so
// audit rows commit or roll back together with the ledger they describe.
package txlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"loanflow/money"
)

type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// RecordPaymentTx appends the audit row for one accepted payment.
func (w *Writer) RecordPaymentTx(ctx context.Context, tx pgx.Tx, rec PaymentRecord) error {
	if rec.LoanID == "" {
		return fmt.Errorf("txlog: payment record missing loan id")
	}
	if rec.Reference == "" {
		return fmt.Errorf("txlog: payment record missing reference")
	}

	const insertSQL = `
INSERT INTO transactions (loan_id, kind, reference, amount, interest_amount, guarantor_amount, principal_amount)
VALUES ($1, 'loan_payment', $2, $3, $4, $5, $6)
`
	if _, err := tx.Exec(ctx, insertSQL,
		rec.LoanID,
		rec.Reference,
		money.String(rec.Amount),
		money.String(rec.Interest),
		money.String(rec.Guarantor),
		money.String(rec.Principal),
	); err != nil {
		return fmt.Errorf("txlog: insert payment record: %w", err)
	}
	return nil
}

// RecordDisbursementTx appends the audit row for one guarantor share.
func (w *Writer) RecordDisbursementTx(ctx context.Context, tx pgx.Tx, rec DisbursementRecord) error {
	if rec.LoanID == "" || rec.GuarantorID == "" {
		return fmt.Errorf("txlog: disbursement record missing ids")
	}
	if rec.Reference == "" {
		return fmt.Errorf("txlog: disbursement record missing reference")
	}

	const insertSQL = `
INSERT INTO transactions (loan_id, kind, reference, amount, guarantor_amount, guarantor_id, account_id, parent_reference)
VALUES ($1, 'guarantor_disbursement', $2, $3, $3, $4, $5, $6)
`
	if _, err := tx.Exec(ctx, insertSQL,
		rec.LoanID,
		rec.Reference,
		money.String(rec.Share),
		rec.GuarantorID,
		rec.AccountID,
		rec.PaymentReference,
	); err != nil {
		return fmt.Errorf("txlog: insert disbursement record: %w", err)
	}
	return nil
}

// EnqueueTx stores an outbox message for downstream delivery.
func (w *Writer) EnqueueTx(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("txlog: marshal outbox payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("txlog: enqueue outbox: %w", err)
	}
	return nil
}
