package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/eaglebank/transfer-service/internal/ledger"
	"github.com/eaglebank/transfer-service/shared/events"
	"github.com/eaglebank/transfer-service/shared/models"
	"go.uber.org/zap"
)

// AccountViewRefresher rebuilds a cached account view from the ledger store.
type AccountViewRefresher interface {
	RefreshAccount(ctx context.Context, id int64) (*models.AccountView, error)
}

// AccountProjector keeps the account read model warm by reacting to
// transfer.completed events. Refreshing is idempotent, so redelivery is harmless.
type AccountProjector struct {
	views  AccountViewRefresher
	logger *zap.Logger
}

func NewAccountProjector(views AccountViewRefresher, logger *zap.Logger) *AccountProjector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountProjector{views: views, logger: logger}
}

// HandleTransferEvent is an events.Handler.
func (p *AccountProjector) HandleTransferEvent(ctx context.Context, event events.Event) error {
	if event.Type != events.TransferCompleted {
		return nil
	}

	var data events.TransferCompletedEvent
	if err := events.DecodeData(event, &data); err != nil {
		return err
	}

	for _, id := range []int64{data.FromAccountID, data.ToAccountID} {
		view, err := p.views.RefreshAccount(ctx, id)
		if errors.Is(err, ledger.ErrAccountNotFound) {
			p.logger.Warn("account from transfer event no longer exists", zap.Int64("account_id", id))
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to refresh account %d: %w", id, err)
		}
		p.logger.Debug("account view refreshed",
			zap.Int64("account_id", id),
			zap.String("balance", view.Balance.String()),
			zap.String("reference", data.Reference),
		)
	}
	return nil
}
