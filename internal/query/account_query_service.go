package query

import (
	"context"

	"github.com/eaglebank/transfer-service/internal/repository"
	"github.com/eaglebank/transfer-service/shared/cqrs"
	"github.com/eaglebank/transfer-service/shared/models"
)

// AccountQueryService serves balance and transfer-history reads.
type AccountQueryService struct {
	accountRepo  *repository.AccountReadRepository
	transferRepo *repository.TransferReadRepository
}

func NewAccountQueryService(accountRepo *repository.AccountReadRepository, transferRepo *repository.TransferReadRepository) *AccountQueryService {
	return &AccountQueryService{accountRepo: accountRepo, transferRepo: transferRepo}
}

func (s *AccountQueryService) GetAccount(ctx context.Context, q cqrs.GetAccountQuery) (*models.AccountView, error) {
	return s.accountRepo.GetAccount(ctx, q.AccountID)
}

// ListTransfers returns the transfers of an existing account, newest first.
func (s *AccountQueryService) ListTransfers(ctx context.Context, q cqrs.ListTransfersQuery) ([]models.TransferRecord, error) {
	if _, err := s.accountRepo.GetAccount(ctx, q.AccountID); err != nil {
		return nil, err
	}
	return s.transferRepo.ListByAccount(ctx, q.AccountID, q.Limit)
}

func (s *AccountQueryService) GetTransfer(ctx context.Context, reference string) (*models.TransferRecord, error) {
	return s.transferRepo.GetByReference(ctx, reference)
}
