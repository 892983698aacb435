package account

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind distinguishes deposit accounts (borrower and guarantor funds) from
// loan accounts (outstanding debt).
type Kind string

const (
	KindDeposit Kind = "deposit"
	KindLoan    Kind = "loan"
)

// Account is the balance record touched by the repayment unit of work. The
// balance of a loan account is the debt still carried against it.
type Account struct {
	ID        string
	OwnerID   string
	Kind      Kind
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}
