package repayment

import (
	"github.com/shopspring/decimal"

	"loanflow/loan"
	"loanflow/money"
)

// Disbursement is one guarantor's share of a reimbursement, credited to
// their deposit account by the orchestration boundary.
type Disbursement struct {
	GuarantorID string
	AccountID   string
	Share       decimal.Decimal
}

// Distribute splits a reimbursement amount among the guarantors with a
// positive pledge, proportionally to their pledge percentages. Rounding each
// share independently could lose or invent cents, so the last active
// guarantor receives the residual instead of its own rounded value; the
// shares therefore always sum exactly to amount. Output order follows
// guarantor order, making the split deterministic.
//
// A zero amount or an empty guarantor list yields nil; the allocator's
// pledge-pool headroom check upstream guarantees no money reaches here when
// there is nobody to receive it.
func Distribute(amount decimal.Decimal, guarantors []loan.Guarantor) []Disbursement {
	if !amount.IsPositive() {
		return nil
	}

	active := make([]loan.Guarantor, 0, len(guarantors))
	totalPercent := decimal.Zero
	for _, g := range guarantors {
		if g.PledgePercent.IsPositive() {
			active = append(active, g)
			totalPercent = totalPercent.Add(g.PledgePercent)
		}
	}
	if len(active) == 0 {
		return nil
	}

	out := make([]Disbursement, 0, len(active))
	allocated := decimal.Zero
	for i, g := range active {
		var share decimal.Decimal
		if i == len(active)-1 {
			share = amount.Sub(allocated)
		} else {
			share = money.Round(amount.Mul(g.PledgePercent).Div(totalPercent))
		}
		allocated = allocated.Add(share)
		out = append(out, Disbursement{
			GuarantorID: g.GuarantorID,
			AccountID:   g.AccountID,
			Share:       share,
		})
	}
	return out
}
