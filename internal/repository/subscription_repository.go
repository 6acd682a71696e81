package repository

import (
	"context"
	"database/sql"

	"dealroom-payments/internal/models"
)

type SubscriptionRepository struct {
	db *sql.DB
}

func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// ExistsByTransaction reports whether a subscription already references the
// given payment transaction.
func (r *SubscriptionRepository) ExistsByTransaction(ctx context.Context, transactionID string) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM user_subscriptions WHERE transaction_id = $1`
	if err := r.db.QueryRowContext(ctx, query, transactionID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *SubscriptionRepository) Create(ctx context.Context, sub *models.UserSubscription) error {
	query := `
		INSERT INTO user_subscriptions (id, user_id, transaction_id, feature, starts_at, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		sub.ID,
		sub.UserID,
		sub.TransactionID,
		sub.Feature,
		sub.StartsAt,
		sub.ExpiresAt,
		sub.CreatedAt,
	)
	return err
}
