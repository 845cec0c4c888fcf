package command

import (
	"context"
	"errors"

	"github.com/eaglebank/transfer-service/internal/ledger"
	"github.com/eaglebank/transfer-service/internal/repository"
	"github.com/eaglebank/transfer-service/shared/cqrs"
	"github.com/eaglebank/transfer-service/shared/events"
	"github.com/eaglebank/transfer-service/shared/models"
	"github.com/eaglebank/transfer-service/shared/utils"
	"go.uber.org/zap"
)

// AccountViewInvalidator drops cached account views once balances change.
type AccountViewInvalidator interface {
	InvalidateAccounts(ctx context.Context, ids ...int64)
}

// EventPublisher appends domain events to a stream.
type EventPublisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) (string, error)
}

type TransferOptions struct {
	// BalancePrecheck reads the source balance before the guarded debit so a
	// failure can say which of "not found" and "insufficient" applies.
	BalancePrecheck bool
}

// TransferCommandService moves funds between two accounts as one
// all-or-nothing ledger transaction.
type TransferCommandService struct {
	ledger    *repository.LedgerRepository
	views     AccountViewInvalidator
	publisher EventPublisher
	logger    *zap.Logger
	opts      TransferOptions
}

// NewTransferCommandService wires the service. views and publisher may be nil.
func NewTransferCommandService(
	ledgerRepo *repository.LedgerRepository,
	views AccountViewInvalidator,
	publisher EventPublisher,
	logger *zap.Logger,
	opts TransferOptions,
) *TransferCommandService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransferCommandService{
		ledger:    ledgerRepo,
		views:     views,
		publisher: publisher,
		logger:    logger,
		opts:      opts,
	}
}

// Transfer debits cmd.FromAccountID and credits cmd.ToAccountID by cmd.Amount
// and appends the audit record, all in one transaction. The returned record
// is the committed one; on error nothing was applied.
func (s *TransferCommandService) Transfer(ctx context.Context, cmd cqrs.TransferCommand) (*models.TransferRecord, error) {
	if err := validateTransfer(cmd); err != nil {
		return nil, err
	}

	rec := &models.TransferRecord{
		Reference:     utils.GenerateID("trf"),
		FromAccountID: cmd.FromAccountID,
		ToAccountID:   cmd.ToAccountID,
		Amount:        cmd.Amount,
	}
	log := s.logger.With(
		zap.String("reference", rec.Reference),
		zap.Int64("from_account_id", rec.FromAccountID),
		zap.Int64("to_account_id", rec.ToAccountID),
		zap.String("amount", rec.Amount.String()),
	)

	err := s.ledger.WithinTransaction(ctx, func(ctx context.Context, tx *repository.LedgerTx) error {
		if s.opts.BalancePrecheck {
			if err := precheckSource(ctx, tx, cmd); err != nil {
				return err
			}
		}

		debited, err := tx.DebitIfSufficient(ctx, cmd.FromAccountID, cmd.Amount)
		if err != nil {
			return err
		}
		if !debited {
			return ledger.ErrInsufficientFundsOrAccountNotFound
		}

		credited, err := tx.Credit(ctx, cmd.ToAccountID, cmd.Amount)
		if err != nil {
			return err
		}
		if !credited {
			return ledger.ErrDestinationAccountNotFound
		}

		return tx.AppendTransfer(ctx, rec)
	})
	if err != nil {
		logFailure(log, err)
		return nil, err
	}

	log.Info("transfer completed", zap.Int64("transfer_id", rec.ID))
	s.afterCommit(ctx, rec, log)
	return rec, nil
}

// afterCommit runs the best-effort side effects of a committed transfer.
// Failures are logged and never change the outcome.
func (s *TransferCommandService) afterCommit(ctx context.Context, rec *models.TransferRecord, log *zap.Logger) {
	ctx = context.WithoutCancel(ctx)

	if s.views != nil {
		s.views.InvalidateAccounts(ctx, rec.FromAccountID, rec.ToAccountID)
	}

	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.Publish(ctx, events.TransferEventsStream, events.TransferCompleted, events.TransferCompletedEvent{
		TransferID:    rec.ID,
		Reference:     rec.Reference,
		FromAccountID: rec.FromAccountID,
		ToAccountID:   rec.ToAccountID,
		Amount:        rec.Amount.String(),
	}); err != nil {
		log.Warn("failed to publish transfer.completed event", zap.Error(err))
	}
}

func validateTransfer(cmd cqrs.TransferCommand) error {
	if cmd.FromAccountID <= 0 || cmd.ToAccountID <= 0 {
		return ledger.ErrInvalidAccount
	}
	if cmd.FromAccountID == cmd.ToAccountID {
		return ledger.ErrSameAccount
	}
	return ledger.ValidateAmount(cmd.Amount)
}

// precheckSource is advisory. The balance may change before the debit runs.
func precheckSource(ctx context.Context, tx *repository.LedgerTx, cmd cqrs.TransferCommand) error {
	balance, found, err := tx.Balance(ctx, cmd.FromAccountID)
	if err != nil {
		return err
	}
	if !found {
		return ledger.ErrSourceAccountNotFound
	}
	if balance.LessThan(cmd.Amount) {
		return ledger.ErrInsufficientFunds
	}
	return nil
}

func logFailure(log *zap.Logger, err error) {
	var rbErr *ledger.RollbackError
	var storeErr *ledger.StoreError
	switch {
	case errors.As(err, &rbErr):
		log.Error("transfer failed and rollback failed", zap.Error(err))
	case errors.Is(err, ledger.ErrTransactionConflict):
		log.Warn("transfer aborted by a concurrent transfer", zap.Error(err))
	case errors.As(err, &storeErr):
		log.Error("transfer rolled back", zap.Error(err))
	default:
		log.Info("transfer rejected", zap.Error(err))
	}
}
