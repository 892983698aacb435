package loan

import (
	"time"

	"github.com/shopspring/decimal"

	"loanflow/money"
)

// Guarantor is a third party that pledged a percentage of the principal at
// origination. AccountID is the deposit account credited when reimbursement
// shares are disbursed.
type Guarantor struct {
	GuarantorID   string
	AccountID     string
	PledgePercent decimal.Decimal // 0-100
}

// Pledge is the amount this guarantor committed against the principal.
func (g Guarantor) Pledge(principal decimal.Decimal) decimal.Decimal {
	return money.Round(g.PledgePercent.Div(decimal.NewFromInt(100)).Mul(principal))
}

// Terms is the immutable loan configuration fixed at origination. Interest
// is a one-time flat fee (principal x rate), not accrued over time. Nothing
// in the repayment path ever mutates Terms.
type Terms struct {
	LoanID     string
	BorrowerID string
	// AccountID is the borrower's loan account, reduced as principal is
	// repaid.
	AccountID  string
	Principal  decimal.Decimal
	FlatRate   decimal.Decimal // e.g. 0.10 for 10%
	Guarantors []Guarantor
	CreatedAt  time.Time
}

// TotalInterest returns the flat interest fee owed over the loan's life.
func (t Terms) TotalInterest() decimal.Decimal {
	return money.Round(t.Principal.Mul(t.FlatRate))
}

// TotalRepayable is principal plus flat interest.
func (t Terms) TotalRepayable() decimal.Decimal {
	return t.Principal.Add(t.TotalInterest())
}

// PledgePool is the aggregate amount pledged by all guarantors, the ceiling
// for guarantor reimbursement across the loan's life.
func (t Terms) PledgePool() decimal.Decimal {
	pool := decimal.Zero
	for _, g := range t.Guarantors {
		pool = pool.Add(g.Pledge(t.Principal))
	}
	return pool
}

// ActiveGuarantors returns the guarantors with a positive pledge, in their
// origination order. Order matters: the distributor assigns the rounding
// residual to the last one.
func (t Terms) ActiveGuarantors() []Guarantor {
	active := make([]Guarantor, 0, len(t.Guarantors))
	for _, g := range t.Guarantors {
		if g.PledgePercent.IsPositive() {
			active = append(active, g)
		}
	}
	return active
}

// Ledger is the running-totals record of one loan's repayment progress.
// There is exactly one per loan; it is replaced wholesale once per accepted
// payment and never mutated in place. Version backs the optimistic
// write-back in the persistence layer.
type Ledger struct {
	LoanID              string
	Version             int64
	TotalPaid           decimal.Decimal
	TotalInterestPaid   decimal.Decimal
	GuarantorReimbursed decimal.Decimal
	PrincipalRemaining  decimal.Decimal
	Completed           bool
	LastPaymentAmount   decimal.Decimal
	LastPaymentAt       *time.Time
	UpdatedAt           time.Time
}

// NewLedger returns the zeroed ledger created at origination.
func NewLedger(terms Terms) Ledger {
	return Ledger{
		LoanID:              terms.LoanID,
		Version:             1,
		TotalPaid:           decimal.Zero,
		TotalInterestPaid:   decimal.Zero,
		GuarantorReimbursed: decimal.Zero,
		PrincipalRemaining:  terms.Principal,
	}
}

// Outstanding is the balance still owed against the total repayable.
func (l Ledger) Outstanding(terms Terms) decimal.Decimal {
	return money.MaxZero(terms.TotalRepayable().Sub(l.TotalPaid))
}
