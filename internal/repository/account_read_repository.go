package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/eaglebank/transfer-service/internal/ledger"
	"github.com/eaglebank/transfer-service/shared/models"
	sharedredis "github.com/eaglebank/transfer-service/shared/redis"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	accountViewKeyPrefix = "account:view:"
	accountViewTTL       = 5 * time.Minute
)

// AccountReadRepository serves account balances. Redis is the primary read
// store; PostgreSQL is the fallback and every cold read warms the cache.
type AccountReadRepository struct {
	db    *sql.DB
	cache *sharedredis.ViewCache[models.AccountView]
}

func NewAccountReadRepository(db *sql.DB, redisClient *goredis.Client, logger *zap.Logger) *AccountReadRepository {
	return &AccountReadRepository{
		db:    db,
		cache: sharedredis.NewViewCache[models.AccountView](redisClient, logger, accountViewKeyPrefix, accountViewTTL),
	}
}

// GetAccount returns an AccountView, trying Redis first then the ledger store.
func (r *AccountReadRepository) GetAccount(ctx context.Context, id int64) (*models.AccountView, error) {
	if view, ok := r.cache.Get(ctx, accountKey(id)); ok {
		return view, nil
	}
	return r.RefreshAccount(ctx, id)
}

// RefreshAccount reads the account from the ledger store and overwrites the cached view.
func (r *AccountReadRepository) RefreshAccount(ctx context.Context, id int64) (*models.AccountView, error) {
	query := `SELECT id, balance, updated_at FROM accounts WHERE id = $1`

	var account models.Account
	var updatedAt dbTime
	err := r.db.QueryRowContext(ctx, query, id).Scan(&account.ID, &account.Balance, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	account.UpdatedAt = updatedAt.Time

	view := account.View()
	r.cache.Set(ctx, accountKey(id), &view)
	return &view, nil
}

// InvalidateAccounts drops cached views so the next read goes to the ledger store.
func (r *AccountReadRepository) InvalidateAccounts(ctx context.Context, ids ...int64) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = accountKey(id)
	}
	r.cache.Delete(ctx, keys...)
}

func accountKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
