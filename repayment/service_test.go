package repayment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"loanflow/loan"
	"loanflow/txlog"
)

func newTestService(repo *fakeRepo) (*Service, *fakePool, *fakeAccounts, *fakeAudit) {
	pool := &fakePool{}
	accounts := &fakeAccounts{}
	audit := &fakeAudit{}
	seq := 0
	svc := NewService(pool, repo, accounts, audit).
		WithClock(func() time.Time { return paidAt }).
		WithIDGenerator(func() string {
			seq++
			return "ref-" + string(rune('a'+seq-1))
		})
	return svc, pool, accounts, audit
}

func TestApplySuccess(t *testing.T) {
	terms := demoTerms()
	repo := &fakeRepo{terms: terms, ledger: loan.NewLedger(terms)}
	svc, pool, accounts, audit := newTestService(repo)

	receipt, err := svc.Apply(context.Background(), ApplyParams{
		LoanID:    "loan-1",
		Amount:    dec("110"),
		Reference: "pay-001",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if pool.tx == nil || !pool.tx.committed {
		t.Fatalf("expected transaction commit")
	}
	if repo.updated == nil {
		t.Fatalf("expected ledger write-back")
	}
	if repo.updatedExpectedVersion != 1 {
		t.Errorf("write-back guarded by version %d, want 1", repo.updatedExpectedVersion)
	}
	if !repo.updated.TotalPaid.Equal(dec("110.00")) {
		t.Errorf("ledger TotalPaid = %s, want 110.00", repo.updated.TotalPaid)
	}

	if len(accounts.debits) != 1 || accounts.debits[0].account != terms.AccountID || !accounts.debits[0].amount.Equal(dec("110.00")) {
		t.Errorf("unexpected loan account debits: %+v", accounts.debits)
	}
	if len(accounts.credits) != 2 {
		t.Fatalf("expected 2 guarantor credits, got %d", len(accounts.credits))
	}
	for _, c := range accounts.credits {
		if !c.amount.Equal(dec("25.00")) {
			t.Errorf("guarantor credit = %s, want 25.00", c.amount)
		}
	}

	if len(audit.payments) != 1 || audit.payments[0].Reference != "pay-001" {
		t.Errorf("unexpected payment records: %+v", audit.payments)
	}
	if len(audit.disbursements) != 2 {
		t.Errorf("expected 2 disbursement records, got %d", len(audit.disbursements))
	}
	for _, d := range audit.disbursements {
		if d.PaymentReference != "pay-001" {
			t.Errorf("disbursement not linked to payment: %+v", d)
		}
	}
	if len(audit.topics) != 1 || audit.topics[0] != txlog.TopicPaymentApplied {
		t.Errorf("unexpected outbox topics: %v", audit.topics)
	}

	if receipt.SettledNow {
		t.Errorf("first payment must not settle the loan")
	}
	if receipt.Reference != "pay-001" {
		t.Errorf("receipt reference = %s", receipt.Reference)
	}
}

func TestApplySettlingPayment(t *testing.T) {
	terms := demoTerms()
	ledger := loan.NewLedger(terms)
	ledger.TotalPaid = dec("1090.00")
	ledger.TotalInterestPaid = dec("99.09")
	ledger.GuarantorReimbursed = dec("495.45")
	ledger.PrincipalRemaining = dec("504.54")
	ledger.Version = 11
	repo := &fakeRepo{terms: terms, ledger: ledger}
	svc, _, _, audit := newTestService(repo)

	inval := &fakeInvalidator{}
	svc.WithSummaryCache(inval)

	receipt, err := svc.Apply(context.Background(), ApplyParams{
		LoanID:    "loan-1",
		Amount:    dec("110"),
		Reference: "pay-final",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !receipt.Allocation.AppliedPayment.Equal(dec("10.00")) {
		t.Errorf("applied = %s, want capped 10.00", receipt.Allocation.AppliedPayment)
	}
	if !receipt.SettledNow {
		t.Errorf("final payment should settle the loan")
	}
	if len(audit.topics) != 2 || audit.topics[1] != txlog.TopicLoanSettled {
		t.Errorf("expected settled outbox message, got %v", audit.topics)
	}
	if len(inval.deleted) != 1 || inval.deleted[0] != loan.SummaryCacheKey("loan-1") {
		t.Errorf("expected summary cache invalidation, got %v", inval.deleted)
	}
}

func TestApplyDuplicateReference(t *testing.T) {
	terms := demoTerms()
	repo := &fakeRepo{terms: terms, ledger: loan.NewLedger(terms), reserveErr: ErrDuplicateReference}
	svc, pool, accounts, audit := newTestService(repo)

	_, err := svc.Apply(context.Background(), ApplyParams{LoanID: "loan-1", Amount: dec("110"), Reference: "pay-001"})
	if !errors.Is(err, ErrDuplicateReference) {
		t.Fatalf("err = %v, want ErrDuplicateReference", err)
	}
	if pool.tx == nil {
		t.Fatalf("expected Begin to provide transaction")
	}
	if pool.tx.committed {
		t.Errorf("expected commit to be skipped on replay")
	}
	if !pool.tx.rolled {
		t.Errorf("expected rollback")
	}
	if repo.updated != nil || len(accounts.debits) != 0 || len(audit.payments) != 0 {
		t.Errorf("replay must not touch any state")
	}
}

func TestApplyRejectsInvalidAmount(t *testing.T) {
	terms := demoTerms()
	repo := &fakeRepo{terms: terms, ledger: loan.NewLedger(terms)}
	svc, pool, _, _ := newTestService(repo)

	_, err := svc.Apply(context.Background(), ApplyParams{LoanID: "loan-1", Amount: decimal.Zero, Reference: "pay-001"})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
	if pool.tx.committed {
		t.Errorf("nothing must commit for an invalid amount")
	}
	if repo.updated != nil {
		t.Errorf("ledger must not be written")
	}
}

func TestApplyRejectsSettledLoan(t *testing.T) {
	terms := demoTerms()
	ledger := loan.NewLedger(terms)
	ledger.Completed = true
	repo := &fakeRepo{terms: terms, ledger: ledger}
	svc, pool, accounts, _ := newTestService(repo)

	for _, amount := range []string{"0.01", "110", "99999"} {
		_, err := svc.Apply(context.Background(), ApplyParams{LoanID: "loan-1", Amount: dec(amount), Reference: "pay-" + amount})
		if !errors.Is(err, ErrAlreadySettled) {
			t.Fatalf("amount %s: err = %v, want ErrAlreadySettled", amount, err)
		}
	}
	if pool.tx.committed || repo.updated != nil || len(accounts.debits) != 0 {
		t.Errorf("settled loan must stay untouched")
	}
}

func TestApplyGeneratesReferenceWhenMissing(t *testing.T) {
	terms := demoTerms()
	repo := &fakeRepo{terms: terms, ledger: loan.NewLedger(terms)}
	svc, _, _, _ := newTestService(repo)

	receipt, err := svc.Apply(context.Background(), ApplyParams{LoanID: "loan-1", Amount: dec("110")})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if receipt.Reference == "" {
		t.Errorf("expected generated reference")
	}
	if repo.reservedReference != receipt.Reference {
		t.Errorf("reserved %q, receipt says %q", repo.reservedReference, receipt.Reference)
	}
}

func TestApplyMissingLoanID(t *testing.T) {
	svc, pool, _, _ := newTestService(&fakeRepo{})
	if _, err := svc.Apply(context.Background(), ApplyParams{Amount: dec("110")}); err == nil {
		t.Fatalf("expected error for missing loan id")
	}
	if pool.tx != nil {
		t.Errorf("no transaction should be opened")
	}
}

type balanceDelta struct {
	account string
	amount  decimal.Decimal
}

type fakeAccounts struct {
	credits []balanceDelta
	debits  []balanceDelta
	err     error
}

func (f *fakeAccounts) CreditTx(_ context.Context, _ pgx.Tx, accountID string, amount decimal.Decimal) error {
	if f.err != nil {
		return f.err
	}
	f.credits = append(f.credits, balanceDelta{accountID, amount})
	return nil
}

func (f *fakeAccounts) DebitTx(_ context.Context, _ pgx.Tx, accountID string, amount decimal.Decimal) error {
	if f.err != nil {
		return f.err
	}
	f.debits = append(f.debits, balanceDelta{accountID, amount})
	return nil
}

type fakeAudit struct {
	payments      []txlog.PaymentRecord
	disbursements []txlog.DisbursementRecord
	topics        []string
}

func (f *fakeAudit) RecordPaymentTx(_ context.Context, _ pgx.Tx, rec txlog.PaymentRecord) error {
	f.payments = append(f.payments, rec)
	return nil
}

func (f *fakeAudit) RecordDisbursementTx(_ context.Context, _ pgx.Tx, rec txlog.DisbursementRecord) error {
	f.disbursements = append(f.disbursements, rec)
	return nil
}

func (f *fakeAudit) EnqueueTx(_ context.Context, _ pgx.Tx, topic string, _ map[string]any) error {
	f.topics = append(f.topics, topic)
	return nil
}

type fakeInvalidator struct {
	deleted []string
}

func (f *fakeInvalidator) Del(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeRepo struct {
	terms      loan.Terms
	ledger     loan.Ledger
	reserveErr error

	reservedReference      string
	updated                *loan.Ledger
	updatedExpectedVersion int64
}

func (f *fakeRepo) ReserveReference(_ context.Context, _ pgx.Tx, reference string) error {
	if f.reserveErr != nil {
		return f.reserveErr
	}
	f.reservedReference = reference
	return nil
}

func (f *fakeRepo) GetLedgerForUpdate(_ context.Context, _ pgx.Tx, _ string) (loan.Ledger, error) {
	return f.ledger, nil
}

func (f *fakeRepo) GetTermsTx(_ context.Context, _ pgx.Tx, _ string) (loan.Terms, error) {
	return f.terms, nil
}

func (f *fakeRepo) UpdateLedger(_ context.Context, _ pgx.Tx, l loan.Ledger, expectedVersion int64) error {
	f.updated = &l
	f.updatedExpectedVersion = expectedVersion
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
