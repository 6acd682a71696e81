package repository

import (
	"context"
	"database/sql"

	"dealroom-payments/internal/models"
)

type LogRepository struct {
	db *sql.DB
}

func NewLogRepository(db *sql.DB) *LogRepository {
	return &LogRepository{db: db}
}

// Append inserts an audit row. Logs are append-only; there is no update or
// delete path.
func (r *LogRepository) Append(ctx context.Context, entry *models.PaymentLog) error {
	query := `
		INSERT INTO payment_logs (id, order_reference, action, detail, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.OrderReference,
		entry.Action,
		entry.Detail,
		nullBytes(entry.Metadata),
		entry.CreatedAt,
	)
	return err
}

// HasAction reports whether an action was already logged for an order.
// Used as an idempotency guard before side effects.
func (r *LogRepository) HasAction(ctx context.Context, orderRef string, action models.LogAction) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM payment_logs WHERE order_reference = $1 AND action = $2`
	if err := r.db.QueryRowContext(ctx, query, orderRef, action).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *LogRepository) ListByOrderReference(ctx context.Context, orderRef string) ([]*models.PaymentLog, error) {
	query := `
		SELECT id, order_reference, action, detail, metadata, created_at
		FROM payment_logs WHERE order_reference = $1 ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, orderRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.PaymentLog
	for rows.Next() {
		entry := &models.PaymentLog{}
		var detail sql.NullString
		var metadata []byte
		if err := rows.Scan(&entry.ID, &entry.OrderReference, &entry.Action, &detail, &metadata, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Detail = detail.String
		if len(metadata) > 0 {
			entry.Metadata = metadata
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
