package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"loanflow/account"
	"loanflow/auth"
	"loanflow/loan"
	"loanflow/money"
	"loanflow/repayment"
	"loanflow/txlog"
)

type ctxKey string

const (
	ctxKeyUserID ctxKey = "user_id"
	ctxKeyRole   ctxKey = "role"
)

type loanAPI interface {
	Originate(ctx context.Context, params loan.OriginateParams) (loan.Terms, error)
	Get(ctx context.Context, loanID string) (loan.Terms, error)
	Ledger(ctx context.Context, loanID string) (loan.Ledger, error)
	List(ctx context.Context, filters loan.Filters) ([]loan.Terms, int, error)
	Summary(ctx context.Context, loanID string) (loan.Summary, error)
}

type paymentAPI interface {
	Apply(ctx context.Context, params repayment.ApplyParams) (repayment.Receipt, error)
}

type accountAPI interface {
	GetByID(ctx context.Context, id string) (account.Account, error)
	ListByOwner(ctx context.Context, ownerID string) ([]account.Account, error)
}

type authAPI interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

type auditAPI interface {
	ListByLoan(ctx context.Context, loanID string, limit int) ([]txlog.Record, error)
}

// Server wires the HTTP surface to the domain services.
type Server struct {
	authService    authAPI
	loanService    loanAPI
	paymentService paymentAPI
	accountService accountAPI
	auditService   auditAPI
	logger         *slog.Logger
}

func NewServer(authSvc authAPI, loanSvc loanAPI, paymentSvc paymentAPI, accountSvc accountAPI, auditSvc auditAPI, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		authService:    authSvc,
		loanService:    loanSvc,
		paymentService: paymentSvc,
		accountService: accountSvc,
		auditService:   auditSvc,
		logger:         logger,
	}
}

// Routes builds the request multiplexer with auth applied to every endpoint
// except registration and login.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/loans", s.withAuth(s.handleLoans))
	mux.HandleFunc("/api/loans/", s.withAuth(s.handleLoanDetail))
	mux.HandleFunc("/api/accounts/", s.withAuth(s.handleAccount))
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, role, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, auth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":    user.ID,
		"email": user.Email,
		"role":  string(user.Role),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token": result.Token,
		"role":  string(result.User.Role),
	})
}

type guarantorRequest struct {
	GuarantorID   string `json:"guarantorId"`
	AccountID     string `json:"accountId"`
	PledgePercent string `json:"pledgePercent"`
}

type createLoanRequest struct {
	BorrowerID string             `json:"borrowerId"`
	Principal  string             `json:"principal"`
	FlatRate   string             `json:"flatRate"`
	Guarantors []guarantorRequest `json:"guarantors"`
}

func (s *Server) handleLoans(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateLoan(w, r)
	case http.MethodGet:
		s.handleListLoans(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCreateLoan(w http.ResponseWriter, r *http.Request) {
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	if role != auth.RoleLoanOfficer && role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "loan origination requires loan officer role")
		return
	}

	var req createLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	params := loan.OriginateParams{BorrowerID: req.BorrowerID}
	var err error
	if params.Principal, err = decimal.NewFromString(req.Principal); err != nil {
		writeError(w, http.StatusBadRequest, "invalid principal")
		return
	}
	if params.FlatRate, err = decimal.NewFromString(req.FlatRate); err != nil {
		writeError(w, http.StatusBadRequest, "invalid flat rate")
		return
	}
	for _, g := range req.Guarantors {
		pct, err := decimal.NewFromString(g.PledgePercent)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid pledge percent")
			return
		}
		params.Guarantors = append(params.Guarantors, loan.GuarantorParams{
			GuarantorID:   g.GuarantorID,
			AccountID:     g.AccountID,
			PledgePercent: pct,
		})
	}

	terms, err := s.loanService.Originate(r.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, loan.ErrInvalidPrincipal),
			errors.Is(err, loan.ErrInvalidRate),
			errors.Is(err, loan.ErrInvalidPledge):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, loan.ErrDuplicate):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.logger.Error("originate loan", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusCreated, toLoanResponse(terms))
}

func (s *Server) handleListLoans(w http.ResponseWriter, r *http.Request) {
	filters := loan.Filters{BorrowerID: r.URL.Query().Get("borrower_id")}
	if page, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		filters.Page = page
	}
	if size, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil {
		filters.PageSize = size
	}

	items, total, err := s.loanService.List(r.Context(), filters)
	if err != nil {
		s.logger.Error("list loans", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]loanResponse, 0, len(items))
	for _, t := range items {
		out = append(out, toLoanResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out, "total": total})
}

// handleLoanDetail dispatches /api/loans/{id}[/summary|/payments|/transactions].
func (s *Server) handleLoanDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/loans/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "missing loan id")
		return
	}
	loanID := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleLoan(w, r, loanID)
	case len(parts) == 2 && parts[1] == "summary":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleSummary(w, r, loanID)
	case len(parts) == 2 && parts[1] == "payments":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleApplyPayment(w, r, loanID)
	case len(parts) == 2 && parts[1] == "transactions":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleTransactions(w, r, loanID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleLoan(w http.ResponseWriter, r *http.Request, loanID string) {
	terms, err := s.loanService.Get(r.Context(), loanID)
	if err != nil {
		if errors.Is(err, loan.ErrNotFound) {
			writeError(w, http.StatusNotFound, "loan not found")
			return
		}
		s.logger.Error("get loan", "loan_id", loanID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	ledger, err := s.loanService.Ledger(r.Context(), loanID)
	if err != nil {
		if errors.Is(err, loan.ErrNotFound) {
			writeError(w, http.StatusNotFound, "loan not found")
			return
		}
		s.logger.Error("get ledger", "loan_id", loanID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp := toLoanResponse(terms)
	resp.Ledger = toLedgerResponse(ledger)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request, loanID string) {
	summary, err := s.loanService.Summary(r.Context(), loanID)
	if err != nil {
		if errors.Is(err, loan.ErrNotFound) {
			writeError(w, http.StatusNotFound, "loan not found")
			return
		}
		s.logger.Error("loan summary", "loan_id", loanID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type paymentRequest struct {
	Amount    string `json:"amount"`
	Reference string `json:"reference"`
}

func (s *Server) handleApplyPayment(w http.ResponseWriter, r *http.Request, loanID string) {
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	if role != auth.RoleTeller && role != auth.RoleLoanOfficer && role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "payments require staff role")
		return
	}

	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	receipt, err := s.paymentService.Apply(r.Context(), repayment.ApplyParams{
		LoanID:    loanID,
		Amount:    amount,
		Reference: req.Reference,
	})
	if err != nil {
		switch {
		case errors.Is(err, repayment.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, repayment.ErrAlreadySettled):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, repayment.ErrDuplicateReference):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, repayment.ErrLoanNotFound), errors.Is(err, loan.ErrNotFound):
			writeError(w, http.StatusNotFound, "loan not found")
		default:
			s.logger.Error("apply payment", "loan_id", loanID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, toReceiptResponse(receipt))
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request, loanID string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.auditService.ListByLoan(r.Context(), loanID, limit)
	if err != nil {
		s.logger.Error("list transactions", "loan_id", loanID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]transactionResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toTransactionResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/accounts/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}
	acct, err := s.accountService.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		s.logger.Error("get account", "account_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		ID:        acct.ID,
		OwnerID:   acct.OwnerID,
		Kind:      string(acct.Kind),
		Balance:   money.String(acct.Balance),
		CreatedAt: acct.CreatedAt.Format(time.RFC3339),
	})
}

type guarantorResponse struct {
	GuarantorID   string `json:"guarantorId"`
	AccountID     string `json:"accountId"`
	PledgePercent string `json:"pledgePercent"`
	Pledge        string `json:"pledge"`
}

type ledgerResponse struct {
	Version             int64  `json:"version"`
	TotalPaid           string `json:"totalPaid"`
	TotalInterestPaid   string `json:"totalInterestPaid"`
	GuarantorReimbursed string `json:"guarantorReimbursed"`
	PrincipalRemaining  string `json:"principalRemaining"`
	Completed           bool   `json:"completed"`
}

type loanResponse struct {
	ID             string              `json:"id"`
	BorrowerID     string              `json:"borrowerId"`
	AccountID      string              `json:"accountId"`
	Principal      string              `json:"principal"`
	FlatRate       string              `json:"flatRate"`
	TotalInterest  string              `json:"totalInterest"`
	TotalRepayable string              `json:"totalRepayable"`
	Guarantors     []guarantorResponse `json:"guarantors"`
	CreatedAt      string              `json:"createdAt"`
	Ledger         ledgerResponse      `json:"ledger,omitempty"`
}

type allocationResponse struct {
	Applied          string `json:"applied"`
	Interest         string `json:"interest"`
	Guarantor        string `json:"guarantor"`
	Principal        string `json:"principal"`
	RemainingBalance string `json:"remainingBalance"`
}

type disbursementResponse struct {
	GuarantorID string `json:"guarantorId"`
	AccountID   string `json:"accountId"`
	Share       string `json:"share"`
}

type receiptResponse struct {
	Reference     string                 `json:"reference"`
	Allocation    allocationResponse     `json:"allocation"`
	Disbursements []disbursementResponse `json:"disbursements"`
	Settled       bool                   `json:"settled"`
}

type transactionResponse struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	Reference   string  `json:"reference"`
	Amount      string  `json:"amount"`
	Interest    string  `json:"interest"`
	Guarantor   string  `json:"guarantor"`
	Principal   string  `json:"principal"`
	GuarantorID *string `json:"guarantorId,omitempty"`
	AccountID   *string `json:"accountId,omitempty"`
	CreatedAt   string  `json:"createdAt"`
}

type accountResponse struct {
	ID        string `json:"id"`
	OwnerID   string `json:"ownerId"`
	Kind      string `json:"kind"`
	Balance   string `json:"balance"`
	CreatedAt string `json:"createdAt"`
}

func toLoanResponse(t loan.Terms) loanResponse {
	guarantors := make([]guarantorResponse, 0, len(t.Guarantors))
	for _, g := range t.Guarantors {
		guarantors = append(guarantors, guarantorResponse{
			GuarantorID:   g.GuarantorID,
			AccountID:     g.AccountID,
			PledgePercent: g.PledgePercent.String(),
			Pledge:        money.String(g.Pledge(t.Principal)),
		})
	}
	return loanResponse{
		ID:             t.LoanID,
		BorrowerID:     t.BorrowerID,
		AccountID:      t.AccountID,
		Principal:      money.String(t.Principal),
		FlatRate:       t.FlatRate.String(),
		TotalInterest:  money.String(t.TotalInterest()),
		TotalRepayable: money.String(t.TotalRepayable()),
		Guarantors:     guarantors,
		CreatedAt:      t.CreatedAt.Format(time.RFC3339),
	}
}

func toLedgerResponse(l loan.Ledger) ledgerResponse {
	return ledgerResponse{
		Version:             l.Version,
		TotalPaid:           money.String(l.TotalPaid),
		TotalInterestPaid:   money.String(l.TotalInterestPaid),
		GuarantorReimbursed: money.String(l.GuarantorReimbursed),
		PrincipalRemaining:  money.String(l.PrincipalRemaining),
		Completed:           l.Completed,
	}
}

func toReceiptResponse(r repayment.Receipt) receiptResponse {
	disbursements := make([]disbursementResponse, 0, len(r.Disbursements))
	for _, d := range r.Disbursements {
		disbursements = append(disbursements, disbursementResponse{
			GuarantorID: d.GuarantorID,
			AccountID:   d.AccountID,
			Share:       money.String(d.Share),
		})
	}
	return receiptResponse{
		Reference: r.Reference,
		Allocation: allocationResponse{
			Applied:          money.String(r.Allocation.AppliedPayment),
			Interest:         money.String(r.Allocation.InterestApplied),
			Guarantor:        money.String(r.Allocation.GuarantorApplied),
			Principal:        money.String(r.Allocation.PrincipalApplied),
			RemainingBalance: money.String(r.Allocation.RemainingBalance),
		},
		Disbursements: disbursements,
		Settled:       r.SettledNow,
	}
}

func toTransactionResponse(rec txlog.Record) transactionResponse {
	return transactionResponse{
		ID:          rec.ID,
		Kind:        string(rec.Kind),
		Reference:   rec.Reference,
		Amount:      money.String(rec.Amount),
		Interest:    money.String(rec.InterestAmount),
		Guarantor:   money.String(rec.GuarantorAmount),
		Principal:   money.String(rec.PrincipalAmount),
		GuarantorID: rec.GuarantorID,
		AccountID:   rec.AccountID,
		CreatedAt:   rec.CreatedAt.Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
