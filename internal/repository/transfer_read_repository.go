package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/eaglebank/transfer-service/shared/models"
)

const (
	DefaultTransferListLimit = 50
	MaxTransferListLimit     = 500
)

var ErrTransferNotFound = errors.New("transfer not found")

// TransferReadRepository reads the transfer audit log. Rows are immutable so
// nothing here is cached.
type TransferReadRepository struct {
	db *sql.DB
}

func NewTransferReadRepository(db *sql.DB) *TransferReadRepository {
	return &TransferReadRepository{db: db}
}

func (r *TransferReadRepository) GetByReference(ctx context.Context, reference string) (*models.TransferRecord, error) {
	query := `
		SELECT id, reference, from_account_id, to_account_id, amount, created_at
		FROM transfers
		WHERE reference = $1
	`
	rec, err := scanTransfer(r.db.QueryRowContext(ctx, query, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return rec, nil
}

// ListByAccount returns transfers where the account is source or destination, newest first.
func (r *TransferReadRepository) ListByAccount(ctx context.Context, accountID int64, limit int) ([]models.TransferRecord, error) {
	if limit <= 0 {
		limit = DefaultTransferListLimit
	}
	if limit > MaxTransferListLimit {
		limit = MaxTransferListLimit
	}

	query := `
		SELECT id, reference, from_account_id, to_account_id, amount, created_at
		FROM transfers
		WHERE from_account_id = $1 OR to_account_id = $1
		ORDER BY id DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	transfers := make([]models.TransferRecord, 0)
	for rows.Next() {
		rec, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	return transfers, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (*models.TransferRecord, error) {
	var rec models.TransferRecord
	var createdAt dbTime
	if err := row.Scan(
		&rec.ID, &rec.Reference, &rec.FromAccountID,
		&rec.ToAccountID, &rec.Amount, &createdAt,
	); err != nil {
		return nil, err
	}
	rec.CreatedAt = createdAt.Time
	return &rec, nil
}
