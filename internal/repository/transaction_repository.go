package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"dealroom-payments/internal/models"
)

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, txn *models.PaymentTransaction) error {
	metadata, err := json.Marshal(txn.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payment_transactions (
			id, order_reference, gateway_transaction_id, amount, currency,
			status, gateway_provider, description, customer_email,
			customer_name, user_id, metadata, gateway_response,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = r.db.ExecContext(ctx, query,
		txn.ID,
		txn.OrderReference,
		nullString(txn.GatewayTransactionID),
		txn.Amount,
		txn.Currency,
		txn.Status,
		txn.GatewayProvider,
		txn.Description,
		txn.CustomerEmail,
		txn.CustomerName,
		txn.UserID,
		metadata,
		nullBytes(txn.GatewayResponse),
		txn.CreatedAt,
		txn.UpdatedAt,
	)

	return err
}

func (r *TransactionRepository) GetByOrderReference(ctx context.Context, orderRef string) (*models.PaymentTransaction, error) {
	query := `
		SELECT id, order_reference, gateway_transaction_id, amount, currency,
			   status, gateway_provider, description, customer_email,
			   customer_name, user_id, metadata, gateway_response,
			   created_at, updated_at, completed_at
		FROM payment_transactions WHERE order_reference = $1
	`

	txn := &models.PaymentTransaction{}
	var gatewayTxnID sql.NullString
	var metadata, gatewayResponse []byte
	var completedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, orderRef).Scan(
		&txn.ID,
		&txn.OrderReference,
		&gatewayTxnID,
		&txn.Amount,
		&txn.Currency,
		&txn.Status,
		&txn.GatewayProvider,
		&txn.Description,
		&txn.CustomerEmail,
		&txn.CustomerName,
		&txn.UserID,
		&metadata,
		&gatewayResponse,
		&txn.CreatedAt,
		&txn.UpdatedAt,
		&completedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	txn.GatewayTransactionID = gatewayTxnID.String
	if completedAt.Valid {
		txn.CompletedAt = &completedAt.Time
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &txn.Metadata)
	}
	if len(gatewayResponse) > 0 {
		txn.GatewayResponse = gatewayResponse
	}

	return txn, nil
}

// SetGatewayReference records the provider-assigned reference after a
// successful order creation and retains the raw create response.
func (r *TransactionRepository) SetGatewayReference(ctx context.Context, orderRef, gatewayRef string, raw []byte) error {
	query := `
		UPDATE payment_transactions
		SET gateway_transaction_id = $2, gateway_response = $3, updated_at = $4
		WHERE order_reference = $1
	`

	_, err := r.db.ExecContext(ctx, query, orderRef, gatewayRef, nullBytes(raw), time.Now())
	return err
}

// TransitionStatus moves a pending transaction to a new status. The WHERE
// clause is the serialization primitive for racing channels: only one of a
// concurrent webhook and poll can flip the row out of pending, and a
// terminal row can never be flipped again. Returns true when this caller
// performed the transition.
func (r *TransactionRepository) TransitionStatus(ctx context.Context, orderRef string, to models.PaymentStatus, raw []byte) (bool, error) {
	query := `
		UPDATE payment_transactions
		SET status = $2,
			gateway_response = COALESCE($3, gateway_response),
			updated_at = $4,
			completed_at = CASE WHEN $2 = 'completed' THEN $4 ELSE completed_at END
		WHERE order_reference = $1
		  AND status = 'pending'
		  AND status <> $2
	`

	res, err := r.db.ExecContext(ctx, query, orderRef, to, nullBytes(raw), time.Now())
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
