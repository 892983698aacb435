package repayment

import (
	"loanflow/loan"
	"loanflow/money"
)

// Complete reports whether the ledger has reached all three of its ceilings:
// total paid against total repayable, interest paid against the flat
// interest fee, and guarantor reimbursement against the pledge pool. Each
// comparison tolerates a one-cent shortfall so that residues left by cent
// rounding across many small payments cannot keep a fully repaid loan open.
//
// A true result is terminal: the allocator refuses further payments once the
// ledger is marked completed.
func Complete(ledger loan.Ledger, terms loan.Terms) bool {
	return money.WithinTolerance(ledger.TotalPaid, terms.TotalRepayable()) &&
		money.WithinTolerance(ledger.TotalInterestPaid, terms.TotalInterest()) &&
		money.WithinTolerance(ledger.GuarantorReimbursed, terms.PledgePool())
}
