package account

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// BalanceStore abstracts repository operations for the service.
type BalanceStore interface {
	GetByID(ctx context.Context, id string) (Account, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Account, error)
	CreditTx(ctx context.Context, tx pgx.Tx, id string, amount decimal.Decimal) error
	DebitTx(ctx context.Context, tx pgx.Tx, id string, amount decimal.Decimal) error
}

// Service exposes business-level account operations.
type Service struct {
	repo BalanceStore
}

// NewService builds a Service using the provided repository.
func NewService(repo BalanceStore) *Service {
	return &Service{repo: repo}
}

// GetByID returns the account for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Account, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByOwner returns all accounts held by the owner.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]Account, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}
