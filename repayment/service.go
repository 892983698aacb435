package repayment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"loanflow/loan"
	"loanflow/money"
	"loanflow/txlog"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// LedgerRepository defines the data access required by the unit of work.
type LedgerRepository interface {
	ReserveReference(ctx context.Context, tx pgx.Tx, reference string) error
	GetLedgerForUpdate(ctx context.Context, tx pgx.Tx, loanID string) (loan.Ledger, error)
	GetTermsTx(ctx context.Context, tx pgx.Tx, loanID string) (loan.Terms, error)
	UpdateLedger(ctx context.Context, tx pgx.Tx, l loan.Ledger, expectedVersion int64) error
}

// AccountWriter applies balance deltas inside the unit of work.
type AccountWriter interface {
	CreditTx(ctx context.Context, tx pgx.Tx, accountID string, amount decimal.Decimal) error
	DebitTx(ctx context.Context, tx pgx.Tx, accountID string, amount decimal.Decimal) error
}

// AuditWriter records payment and disbursement audit rows and outbox
// messages inside the unit of work.
type AuditWriter interface {
	RecordPaymentTx(ctx context.Context, tx pgx.Tx, rec txlog.PaymentRecord) error
	RecordDisbursementTx(ctx context.Context, tx pgx.Tx, rec txlog.DisbursementRecord) error
	EnqueueTx(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// SummaryInvalidator drops cached read-side state after a commit.
type SummaryInvalidator interface {
	Del(ctx context.Context, key string) error
}

// Service is the orchestration boundary around the pure engine: it owns the
// transaction in which the ledger write-back, account balance deltas, audit
// rows, and outbox messages commit as one atomic unit, or not at all.
type Service struct {
	pool     TxBeginner
	repo     LedgerRepository
	accounts AccountWriter
	audit    AuditWriter
	cache    SummaryInvalidator
	now      func() time.Time
	idGen    func() string
}

func NewService(pool TxBeginner, repo LedgerRepository, accounts AccountWriter, audit AuditWriter) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:     pool,
		repo:     repo,
		accounts: accounts,
		audit:    audit,
		now:      time.Now,
		idGen:    func() string { return uuid.NewString() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

// WithSummaryCache wires the read-side cache invalidated after each apply.
func (s *Service) WithSummaryCache(cache SummaryInvalidator) *Service {
	s.cache = cache
	return s
}

// ApplyParams captures one repayment request normalized for the service.
// Reference is the caller's idempotency key; a replay with the same
// reference is rejected without touching any state.
type ApplyParams struct {
	LoanID    string
	Amount    decimal.Decimal
	Reference string
}

// Receipt bundles everything the unit of work committed for one payment.
type Receipt struct {
	Reference     string
	Allocation    Allocation
	Disbursements []Disbursement
	// SettledNow is true when this payment moved the loan to its terminal
	// settled state.
	SettledNow bool
}

// Apply runs the full repayment unit of work: reserve the reference, lock
// the ledger row, allocate, distribute, write the new ledger, move account
// balances, and record audit and outbox rows, in one transaction.
//
// Precondition failures (ErrInvalidAmount, ErrAlreadySettled,
// ErrDuplicateReference) surface before any state is written; there are no
// partial effects to roll back beyond the transaction itself.
func (s *Service) Apply(ctx context.Context, params ApplyParams) (Receipt, error) {
	if params.LoanID == "" {
		return Receipt{}, fmt.Errorf("repayment: missing loan id")
	}
	reference := params.Reference
	if reference == "" {
		reference = s.idGen()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("repayment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.ReserveReference(ctx, tx, reference); err != nil {
		return Receipt{}, err
	}

	ledger, err := s.repo.GetLedgerForUpdate(ctx, tx, params.LoanID)
	if err != nil {
		return Receipt{}, err
	}
	terms, err := s.repo.GetTermsTx(ctx, tx, params.LoanID)
	if err != nil {
		return Receipt{}, err
	}

	alloc, err := Allocate(ledger, terms, params.Amount, s.now())
	if err != nil {
		return Receipt{}, err
	}
	disbursements := Distribute(alloc.GuarantorApplied, terms.Guarantors)

	if err := s.repo.UpdateLedger(ctx, tx, alloc.Ledger, ledger.Version); err != nil {
		return Receipt{}, err
	}

	if alloc.AppliedPayment.IsPositive() {
		if err := s.accounts.DebitTx(ctx, tx, terms.AccountID, alloc.AppliedPayment); err != nil {
			return Receipt{}, fmt.Errorf("repayment: reduce loan account: %w", err)
		}
	}
	for _, d := range disbursements {
		if err := s.accounts.CreditTx(ctx, tx, d.AccountID, d.Share); err != nil {
			return Receipt{}, fmt.Errorf("repayment: credit guarantor %s: %w", d.GuarantorID, err)
		}
	}

	if err := s.audit.RecordPaymentTx(ctx, tx, txlog.PaymentRecord{
		LoanID:    params.LoanID,
		Reference: reference,
		Amount:    alloc.AppliedPayment,
		Interest:  alloc.InterestApplied,
		Guarantor: alloc.GuarantorApplied,
		Principal: alloc.PrincipalApplied,
	}); err != nil {
		return Receipt{}, err
	}
	for _, d := range disbursements {
		if err := s.audit.RecordDisbursementTx(ctx, tx, txlog.DisbursementRecord{
			LoanID:           params.LoanID,
			Reference:        s.idGen(),
			PaymentReference: reference,
			GuarantorID:      d.GuarantorID,
			AccountID:        d.AccountID,
			Share:            d.Share,
		}); err != nil {
			return Receipt{}, err
		}
	}

	settledNow := alloc.Ledger.Completed && !ledger.Completed

	payload := map[string]any{
		"loan_id":   params.LoanID,
		"reference": reference,
		"applied":   money.String(alloc.AppliedPayment),
		"remaining": money.String(alloc.RemainingBalance),
	}
	if err := s.audit.EnqueueTx(ctx, tx, txlog.TopicPaymentApplied, payload); err != nil {
		return Receipt{}, err
	}
	if settledNow {
		if err := s.audit.EnqueueTx(ctx, tx, txlog.TopicLoanSettled, map[string]any{
			"loan_id":    params.LoanID,
			"total_paid": money.String(alloc.Ledger.TotalPaid),
		}); err != nil {
			return Receipt{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Receipt{}, fmt.Errorf("repayment: commit tx: %w", err)
	}

	if s.cache != nil {
		// Best effort: a stale summary expires on its own TTL.
		_ = s.cache.Del(ctx, loan.SummaryCacheKey(params.LoanID))
	}

	return Receipt{
		Reference:     reference,
		Allocation:    alloc,
		Disbursements: disbursements,
		SettledNow:    settledNow,
	}, nil
}
