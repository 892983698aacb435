package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"loanflow/loan"
	"loanflow/repayment"
)

// Payer fires randomly sized payments at one loan, racing other payers for
// the ledger row lock. Domain rejections are expected under contention;
// transient connection errors are tolerated because chaos kills backends.
func Payer(ctx context.Context, svc *repayment.Service, loanID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		amount := decimal.New(int64(100+rand.Intn(20000)), -2)
		_, err := svc.Apply(ctx, repayment.ApplyParams{
			LoanID:    loanID,
			Amount:    amount,
			Reference: fmt.Sprintf("stress-%d-%d", time.Now().UnixNano(), rand.Int63()),
		})
		if err != nil {
			switch {
			case errors.Is(err, repayment.ErrAlreadySettled):
				// loan paid off, keep probing so the terminal state is exercised
			case errors.Is(err, repayment.ErrDuplicateReference):
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return nil
			default:
				// chaos terminates backends mid-flight; the oracles catch
				// any partial effect such a failure could leave behind
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Replayer hammers one fixed reference. Exactly one attempt may ever apply;
// every other must come back as a duplicate.
func Replayer(ctx context.Context, svc *repayment.Service, loanID, reference string, stop <-chan struct{}) error {
	applied := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := svc.Apply(ctx, repayment.ApplyParams{
			LoanID:    loanID,
			Amount:    decimal.NewFromInt(25),
			Reference: reference,
		})
		switch {
		case err == nil:
			applied++
			if applied > 1 {
				return fmt.Errorf("replayer: reference %s applied %d times", reference, applied)
			}
		case errors.Is(err, repayment.ErrDuplicateReference),
			errors.Is(err, repayment.ErrAlreadySettled):
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Originator keeps creating small loans with guarantor pledges so the
// oracles see ledgers at every stage of life.
func Originator(ctx context.Context, svc *loan.Service, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var guarantorAccount string
		err := pool.QueryRow(ctx, `INSERT INTO accounts (owner_id, kind, balance) VALUES ($1, 'deposit', 0) RETURNING id`,
			fmt.Sprintf("guarantor-%d", rand.Int63())).Scan(&guarantorAccount)
		if err == nil {
			_, err = svc.Originate(ctx, loan.OriginateParams{
				BorrowerID: fmt.Sprintf("borrower-%d", rand.Int63()),
				Principal:  decimal.NewFromInt(int64(100 + rand.Intn(900))),
				FlatRate:   decimal.New(int64(rand.Intn(20)), -2),
				Guarantors: []loan.GuarantorParams{
					{
						GuarantorID:   fmt.Sprintf("guarantor-%d", rand.Int63()),
						AccountID:     guarantorAccount,
						PledgePercent: decimal.NewFromInt(int64(10 + rand.Intn(40))),
					},
				},
			})
		}
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return nil
		}
		time.Sleep(time.Duration(200+rand.Intn(300)) * time.Millisecond)
	}
}

// SummaryReader polls the read side while payments land, exercising the
// cache fill/invalidate path.
func SummaryReader(ctx context.Context, svc *loan.Service, loanID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		summary, err := svc.Summary(ctx, loanID)
		if err == nil {
			if summary.TotalPaid.GreaterThan(summary.TotalRepayable.Add(decimal.New(1, -2))) {
				return fmt.Errorf("summary reader: total paid %s exceeds repayable %s", summary.TotalPaid, summary.TotalRepayable)
			}
		} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// OutboxWorker drains pending outbox messages with SKIP LOCKED so multiple
// workers never double-deliver.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE processed_at IS NULL ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]int64, 0, 10)
		for rows.Next() {
			var id int64
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			_, _ = tx.Exec(ctx, `UPDATE outbox SET processed_at = NOW() WHERE id = $1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
