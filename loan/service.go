package loan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"loanflow/txlog"
)

var (
	// ErrInvalidPrincipal rejects non-positive principals.
	ErrInvalidPrincipal = errors.New("loan: principal must be positive")
	// ErrInvalidRate rejects negative flat rates.
	ErrInvalidRate = errors.New("loan: flat rate must not be negative")
	// ErrInvalidPledge rejects pledge percentages outside 0-100 or a
	// combined pledge above the principal.
	ErrInvalidPledge = errors.New("loan: invalid guarantor pledge")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OutboxWriter stores messages for downstream delivery inside the
// origination transaction.
type OutboxWriter interface {
	EnqueueTx(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service owns loan origination and the read side (terms, ledger snapshots,
// summaries).
type Service struct {
	pool     TxBeginner
	repo     Repository
	outbox   OutboxWriter
	cache    SummaryCache
	cacheTTL time.Duration
	complete func(Ledger, Terms) bool
	idGen    func() string
	now      func() time.Time
}

func NewService(pool TxBeginner, repo Repository, outbox OutboxWriter) *Service {
	return &Service{
		pool:     pool,
		repo:     repo,
		outbox:   outbox,
		cacheTTL: 30 * time.Second,
		idGen:    func() string { return uuid.NewString() },
		now:      time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithSummaryCache wires the read-side cache for Summary.
func (s *Service) WithSummaryCache(cache SummaryCache, ttl time.Duration) *Service {
	s.cache = cache
	if ttl > 0 {
		s.cacheTTL = ttl
	}
	return s
}

// WithCompletionCheck injects the settlement predicate used by Summary to
// recompute completion from the ledger instead of trusting the stored flag.
func (s *Service) WithCompletionCheck(fn func(Ledger, Terms) bool) *Service {
	s.complete = fn
	return s
}

// GuarantorParams declares one guarantor pledge at origination.
type GuarantorParams struct {
	GuarantorID   string
	AccountID     string
	PledgePercent decimal.Decimal
}

// OriginateParams enumerates everything fixed at origination.
type OriginateParams struct {
	BorrowerID string
	Principal  decimal.Decimal
	FlatRate   decimal.Decimal
	Guarantors []GuarantorParams
}

// Originate creates the loan, its guarantor pledges, the loan account and
// the zeroed ledger in one transaction. Terms are immutable afterwards.
func (s *Service) Originate(ctx context.Context, params OriginateParams) (Terms, error) {
	if params.BorrowerID == "" {
		return Terms{}, fmt.Errorf("loan: missing borrower id")
	}
	if !params.Principal.IsPositive() {
		return Terms{}, ErrInvalidPrincipal
	}
	if params.FlatRate.IsNegative() {
		return Terms{}, ErrInvalidRate
	}

	hundred := decimal.NewFromInt(100)
	totalPercent := decimal.Zero
	guarantors := make([]Guarantor, 0, len(params.Guarantors))
	for _, g := range params.Guarantors {
		if g.GuarantorID == "" || g.AccountID == "" {
			return Terms{}, fmt.Errorf("loan: guarantor id and account required")
		}
		if g.PledgePercent.IsNegative() || g.PledgePercent.GreaterThan(hundred) {
			return Terms{}, ErrInvalidPledge
		}
		totalPercent = totalPercent.Add(g.PledgePercent)
		guarantors = append(guarantors, Guarantor{
			GuarantorID:   g.GuarantorID,
			AccountID:     g.AccountID,
			PledgePercent: g.PledgePercent,
		})
	}
	if totalPercent.GreaterThan(hundred) {
		return Terms{}, ErrInvalidPledge
	}

	terms := Terms{
		LoanID:     s.idGen(),
		BorrowerID: params.BorrowerID,
		Principal:  params.Principal,
		FlatRate:   params.FlatRate,
		Guarantors: guarantors,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Terms{}, fmt.Errorf("loan: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.CreateTx(ctx, tx, terms, NewLedger(terms))
	if err != nil {
		return Terms{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"loan_id":     created.LoanID,
			"borrower_id": created.BorrowerID,
			"principal":   created.Principal.StringFixed(2),
			"repayable":   created.TotalRepayable().StringFixed(2),
		}
		if err := s.outbox.EnqueueTx(ctx, tx, txlog.TopicLoanOriginated, payload); err != nil {
			return Terms{}, fmt.Errorf("loan: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Terms{}, fmt.Errorf("loan: commit tx: %w", err)
	}
	return created, nil
}

// Get returns the immutable terms for a loan.
func (s *Service) Get(ctx context.Context, loanID string) (Terms, error) {
	return s.repo.GetTerms(ctx, loanID)
}

// Ledger returns the current ledger snapshot for a loan.
func (s *Service) Ledger(ctx context.Context, loanID string) (Ledger, error) {
	return s.repo.GetLedger(ctx, loanID)
}

// List returns a page of loans.
func (s *Service) List(ctx context.Context, filters Filters) ([]Terms, int, error) {
	return s.repo.List(ctx, filters)
}
