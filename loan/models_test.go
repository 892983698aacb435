package loan

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func sampleTerms() Terms {
	return Terms{
		LoanID:     "loan-1",
		BorrowerID: "borrower-1",
		AccountID:  "acct-loan",
		Principal:  dec("1000"),
		FlatRate:   dec("0.10"),
		Guarantors: []Guarantor{
			{GuarantorID: "g1", AccountID: "acct-g1", PledgePercent: dec("25")},
			{GuarantorID: "g2", AccountID: "acct-g2", PledgePercent: dec("25")},
		},
	}
}

func TestTermsDerivedAmounts(t *testing.T) {
	terms := sampleTerms()

	if got := terms.TotalInterest(); !got.Equal(dec("100.00")) {
		t.Errorf("TotalInterest = %s, want 100.00", got)
	}
	if got := terms.TotalRepayable(); !got.Equal(dec("1100.00")) {
		t.Errorf("TotalRepayable = %s, want 1100.00", got)
	}
	if got := terms.PledgePool(); !got.Equal(dec("500.00")) {
		t.Errorf("PledgePool = %s, want 500.00", got)
	}
}

func TestGuarantorPledge(t *testing.T) {
	g := Guarantor{PledgePercent: dec("33.33")}
	if got := g.Pledge(dec("1000")); !got.Equal(dec("333.30")) {
		t.Errorf("Pledge = %s, want 333.30", got)
	}
}

func TestPledgePoolSumsRoundedShares(t *testing.T) {
	terms := Terms{
		Principal: dec("100"),
		Guarantors: []Guarantor{
			{GuarantorID: "g1", PledgePercent: dec("33.335")},
			{GuarantorID: "g2", PledgePercent: dec("33.335")},
		},
	}
	// Each pledge rounds to 33.34 before summing.
	if got := terms.PledgePool(); !got.Equal(dec("66.68")) {
		t.Errorf("PledgePool = %s, want 66.68", got)
	}
}

func TestActiveGuarantorsFiltersZeroPledges(t *testing.T) {
	terms := sampleTerms()
	terms.Guarantors = append(terms.Guarantors, Guarantor{GuarantorID: "g3", PledgePercent: decimal.Zero})

	active := terms.ActiveGuarantors()
	if len(active) != 2 {
		t.Fatalf("got %d active guarantors, want 2", len(active))
	}
	if active[0].GuarantorID != "g1" || active[1].GuarantorID != "g2" {
		t.Errorf("origination order not preserved: %+v", active)
	}
}

func TestNewLedger(t *testing.T) {
	terms := sampleTerms()
	ledger := NewLedger(terms)

	if ledger.LoanID != terms.LoanID {
		t.Errorf("LoanID = %s", ledger.LoanID)
	}
	if ledger.Version != 1 {
		t.Errorf("Version = %d, want 1", ledger.Version)
	}
	if !ledger.TotalPaid.IsZero() || !ledger.TotalInterestPaid.IsZero() || !ledger.GuarantorReimbursed.IsZero() {
		t.Errorf("fresh ledger must start at zero: %+v", ledger)
	}
	if !ledger.PrincipalRemaining.Equal(terms.Principal) {
		t.Errorf("PrincipalRemaining = %s, want %s", ledger.PrincipalRemaining, terms.Principal)
	}
	if ledger.Completed {
		t.Errorf("fresh ledger must not be completed")
	}
}

func TestOutstanding(t *testing.T) {
	terms := sampleTerms()
	ledger := NewLedger(terms)

	if got := ledger.Outstanding(terms); !got.Equal(dec("1100.00")) {
		t.Errorf("Outstanding = %s, want 1100.00", got)
	}

	ledger.TotalPaid = dec("110")
	if got := ledger.Outstanding(terms); !got.Equal(dec("990.00")) {
		t.Errorf("Outstanding = %s, want 990.00", got)
	}

	// Outstanding never goes negative even if totals drift past the ceiling.
	ledger.TotalPaid = dec("1100.01")
	if got := ledger.Outstanding(terms); !got.IsZero() {
		t.Errorf("Outstanding = %s, want 0", got)
	}
}
