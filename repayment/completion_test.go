package repayment

import (
	"testing"

	"loanflow/loan"
)

func settledLedger(terms loan.Terms) loan.Ledger {
	l := loan.NewLedger(terms)
	l.TotalPaid = terms.TotalRepayable()
	l.TotalInterestPaid = terms.TotalInterest()
	l.GuarantorReimbursed = terms.PledgePool()
	l.PrincipalRemaining = dec("500.00")
	return l
}

func TestCompleteAtCeilings(t *testing.T) {
	terms := demoTerms()
	if !Complete(settledLedger(terms), terms) {
		t.Errorf("ledger at all ceilings must be complete")
	}
}

func TestCompleteWithinTolerance(t *testing.T) {
	terms := demoTerms()
	l := settledLedger(terms)
	l.TotalPaid = l.TotalPaid.Sub(dec("0.01"))
	l.TotalInterestPaid = l.TotalInterestPaid.Sub(dec("0.01"))
	l.GuarantorReimbursed = l.GuarantorReimbursed.Sub(dec("0.01"))
	if !Complete(l, terms) {
		t.Errorf("one-cent residues must still read as settled")
	}
}

func TestCompleteRequiresAllThree(t *testing.T) {
	terms := demoTerms()

	short := dec("0.02")
	cases := map[string]func(*loan.Ledger){
		"total paid short":    func(l *loan.Ledger) { l.TotalPaid = l.TotalPaid.Sub(short) },
		"interest short":      func(l *loan.Ledger) { l.TotalInterestPaid = l.TotalInterestPaid.Sub(short) },
		"reimbursement short": func(l *loan.Ledger) { l.GuarantorReimbursed = l.GuarantorReimbursed.Sub(short) },
	}
	for name, mutate := range cases {
		l := settledLedger(terms)
		mutate(&l)
		if Complete(l, terms) {
			t.Errorf("%s: must not be complete", name)
		}
	}
}

func TestCompleteFreshLedger(t *testing.T) {
	terms := demoTerms()
	if Complete(loan.NewLedger(terms), terms) {
		t.Errorf("fresh ledger must not be complete")
	}
}

func TestCompleteZeroPrincipalEdge(t *testing.T) {
	// A loan with no guarantors and no interest settles purely on total
	// paid; the other two ceilings are zero and trivially reached.
	terms := demoTerms()
	terms.Guarantors = nil
	terms.FlatRate = dec("0")

	l := loan.NewLedger(terms)
	if Complete(l, terms) {
		t.Fatalf("unpaid loan must not be complete")
	}
	l.TotalPaid = terms.Principal
	l.PrincipalRemaining = dec("0")
	if !Complete(l, terms) {
		t.Errorf("fully paid zero-rate loan must be complete")
	}
}
