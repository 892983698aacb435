package loan

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"loanflow/money"
)

// SummaryCache abstracts the read-side store for loan summaries.
type SummaryCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// SummaryCacheKey is shared with the repayment boundary, which invalidates
// the entry after every applied payment.
func SummaryCacheKey(loanID string) string {
	return "loan:summary:" + loanID
}

// Summary is the status view served to callers: repayment progress against
// the loan's ceilings plus the settlement flag.
type Summary struct {
	LoanID              string          `json:"loan_id"`
	BorrowerID          string          `json:"borrower_id"`
	Principal           decimal.Decimal `json:"principal"`
	TotalInterest       decimal.Decimal `json:"total_interest"`
	TotalRepayable      decimal.Decimal `json:"total_repayable"`
	PledgePool          decimal.Decimal `json:"pledge_pool"`
	TotalPaid           decimal.Decimal `json:"total_paid"`
	TotalInterestPaid   decimal.Decimal `json:"total_interest_paid"`
	GuarantorReimbursed decimal.Decimal `json:"guarantor_reimbursed"`
	PrincipalRemaining  decimal.Decimal `json:"principal_remaining"`
	Outstanding         decimal.Decimal `json:"outstanding"`
	Completed           bool            `json:"completed"`
	Guarantors          int             `json:"guarantors"`
	LastPaymentAmount   decimal.Decimal `json:"last_payment_amount"`
	LastPaymentAt       *time.Time      `json:"last_payment_at,omitempty"`
}

// Summary builds the status view for a loan, consulting the cache first.
// Cache misses and errors fall through to the database; entries carry a TTL
// and are additionally invalidated after every applied payment.
func (s *Service) Summary(ctx context.Context, loanID string) (Summary, error) {
	key := SummaryCacheKey(loanID)
	if s.cache != nil {
		if raw, ok := s.cache.Get(ctx, key); ok {
			var cached Summary
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return cached, nil
			}
			// Unreadable entry: drop it and rebuild.
			_ = s.cache.Del(ctx, key)
		}
	}

	terms, err := s.repo.GetTerms(ctx, loanID)
	if err != nil {
		return Summary{}, err
	}
	ledger, err := s.repo.GetLedger(ctx, loanID)
	if err != nil {
		return Summary{}, err
	}

	completed := ledger.Completed
	if s.complete != nil {
		completed = s.complete(ledger, terms)
	}

	summary := Summary{
		LoanID:              terms.LoanID,
		BorrowerID:          terms.BorrowerID,
		Principal:           money.Round(terms.Principal),
		TotalInterest:       terms.TotalInterest(),
		TotalRepayable:      money.Round(terms.TotalRepayable()),
		PledgePool:          terms.PledgePool(),
		TotalPaid:           money.Round(ledger.TotalPaid),
		TotalInterestPaid:   money.Round(ledger.TotalInterestPaid),
		GuarantorReimbursed: money.Round(ledger.GuarantorReimbursed),
		PrincipalRemaining:  money.Round(ledger.PrincipalRemaining),
		Outstanding:         ledger.Outstanding(terms),
		Completed:           completed,
		Guarantors:          len(terms.ActiveGuarantors()),
		LastPaymentAmount:   money.Round(ledger.LastPaymentAmount),
		LastPaymentAt:       ledger.LastPaymentAt,
	}

	if s.cache != nil {
		if raw, err := json.Marshal(summary); err == nil {
			_ = s.cache.Set(ctx, key, string(raw), s.cacheTTL)
		}
	}
	return summary, nil
}
