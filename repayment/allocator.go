// Package repayment implements the repayment-allocation engine: the
// waterfall split of an incoming payment into interest, guarantor
// reimbursement, and principal reduction, the proportional disbursement of
// the reimbursement share, and the tolerance-based settlement check.
//
// Allocate, Distribute and Complete are pure; the Service at the bottom of
// the package is the orchestration boundary that wraps them in one atomic
// unit of work against Postgres.
package repayment

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"loanflow/loan"
	"loanflow/money"
)

var (
	// ErrInvalidAmount rejects non-positive payment amounts.
	ErrInvalidAmount = errors.New("repayment: amount must be positive")
	// ErrAlreadySettled rejects payments against a settled loan.
	ErrAlreadySettled = errors.New("repayment: loan already settled")
)

// Allocation is the ephemeral result of applying one payment. The three
// applied components always sum exactly to AppliedPayment.
type Allocation struct {
	AppliedPayment   decimal.Decimal
	InterestApplied  decimal.Decimal
	GuarantorApplied decimal.Decimal
	PrincipalApplied decimal.Decimal
	// RemainingBalance is what is still owed after this payment.
	RemainingBalance decimal.Decimal
	// Ledger is the resulting ledger value; the input ledger is never
	// mutated.
	Ledger loan.Ledger
}

var half = decimal.New(5, -1)

// Allocate applies a payment to the loan's ledger.
//
// The payment is capped at the outstanding balance, then split pro rata
// between interest and the rest using the loan's interest ratio. The
// non-interest remainder is halved between guarantor reimbursement and
// principal reduction. Each bucket is capped at its headroom and any
// overflow redirects to the next bucket, so no money is ever dropped.
// Every split rounds one half and derives the other by subtraction, which
// keeps the parts summing exactly despite cent rounding.
func Allocate(ledger loan.Ledger, terms loan.Terms, amount decimal.Decimal, at time.Time) (Allocation, error) {
	if !amount.IsPositive() {
		return Allocation{}, ErrInvalidAmount
	}
	if ledger.Completed {
		return Allocation{}, ErrAlreadySettled
	}

	totalInterest := terms.TotalInterest()
	totalRepayable := terms.TotalRepayable()

	remaining := money.MaxZero(totalRepayable.Sub(ledger.TotalPaid))
	applied := money.Min(money.Round(amount), remaining)

	interestRatio := totalInterest.Div(totalRepayable)
	rawInterest := money.Round(applied.Mul(interestRatio))
	rawPrincipal := applied.Sub(rawInterest)

	interestHeadroom := totalInterest.Sub(ledger.TotalInterestPaid)
	interestApplied := money.Min(rawInterest, interestHeadroom)
	principalPool := rawPrincipal.Add(rawInterest.Sub(interestApplied))

	guarantorPortion := money.Round(principalPool.Mul(half))
	loanReduction := principalPool.Sub(guarantorPortion)

	guarantorHeadroom := terms.PledgePool().Sub(ledger.GuarantorReimbursed)
	guarantorApplied := money.Min(guarantorPortion, guarantorHeadroom)
	principalApplied := loanReduction.Add(guarantorPortion.Sub(guarantorApplied))

	paidAt := at
	next := loan.Ledger{
		LoanID:              ledger.LoanID,
		Version:             ledger.Version + 1,
		TotalPaid:           ledger.TotalPaid.Add(applied),
		TotalInterestPaid:   ledger.TotalInterestPaid.Add(interestApplied),
		GuarantorReimbursed: ledger.GuarantorReimbursed.Add(guarantorApplied),
		PrincipalRemaining:  money.MaxZero(ledger.PrincipalRemaining.Sub(principalApplied)),
		LastPaymentAmount:   applied,
		LastPaymentAt:       &paidAt,
	}
	next.Completed = Complete(next, terms)

	return Allocation{
		AppliedPayment:   applied,
		InterestApplied:  interestApplied,
		GuarantorApplied: guarantorApplied,
		PrincipalApplied: principalApplied,
		RemainingBalance: money.MaxZero(totalRepayable.Sub(next.TotalPaid)),
		Ledger:           next,
	}, nil
}
