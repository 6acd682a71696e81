package models

import (
	"encoding/json"
	"time"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusExpired   PaymentStatus = "expired"
	// PaymentStatusUnknown means the provider could not resolve the
	// transaction. It is a read-only sentinel and is never persisted.
	PaymentStatusUnknown PaymentStatus = "unknown"
)

// IsTerminal reports whether the status can no longer change
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusExpired:
		return true
	}
	return false
}

type PaymentTransaction struct {
	ID                   string                 `json:"id" db:"id"`
	OrderReference       string                 `json:"order_reference" db:"order_reference"`
	GatewayTransactionID string                 `json:"gateway_transaction_id,omitempty" db:"gateway_transaction_id"`
	Amount               float64                `json:"amount" db:"amount"`
	Currency             string                 `json:"currency" db:"currency"`
	Status               PaymentStatus          `json:"status" db:"status"`
	GatewayProvider      string                 `json:"gateway_provider" db:"gateway_provider"`
	Description          string                 `json:"description,omitempty" db:"description"`
	CustomerEmail        string                 `json:"customer_email,omitempty" db:"customer_email"`
	CustomerName         string                 `json:"customer_name,omitempty" db:"customer_name"`
	UserID               string                 `json:"user_id,omitempty" db:"user_id"`
	Metadata             map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	GatewayResponse      json.RawMessage        `json:"gateway_response,omitempty" db:"gateway_response"`
	CreatedAt            time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at" db:"updated_at"`
	CompletedAt          *time.Time             `json:"completed_at,omitempty" db:"completed_at"`
}

// Metadata keys for the settlement side of a conversion. Amount/Currency on
// the transaction itself always hold what was displayed to the user.
const (
	MetaPaymentAmount   = "payment_amount"
	MetaPaymentCurrency = "payment_currency"
	MetaFXRate          = "fx_rate"
	MetaFXSource        = "fx_source"
)

type PaymentRequest struct {
	Amount        float64                `json:"amount" binding:"required,gt=0"`
	Currency      string                 `json:"currency" binding:"required,len=3"`
	Description   string                 `json:"description"`
	Provider      string                 `json:"provider"`
	UserID        string                 `json:"user_id"`
	CustomerEmail string                 `json:"customer_email" binding:"omitempty,email"`
	CustomerName  string                 `json:"customer_name"`
	Metadata      map[string]interface{} `json:"metadata"`
}

type PaymentCreateResponse struct {
	Success        bool   `json:"success"`
	OrderReference string `json:"orderReference"`
	PaymentURL     string `json:"paymentUrl"`
}

// Database schema
const TransactionSchema = `
CREATE TABLE IF NOT EXISTS payment_transactions (
    id VARCHAR(36) PRIMARY KEY,
    order_reference VARCHAR(64) NOT NULL UNIQUE,
    gateway_transaction_id VARCHAR(128),
    amount DECIMAL(19, 4) NOT NULL,
    currency VARCHAR(3) NOT NULL,
    status VARCHAR(20) NOT NULL,
    gateway_provider VARCHAR(32) NOT NULL,
    description TEXT,
    customer_email VARCHAR(255),
    customer_name VARCHAR(255),
    user_id VARCHAR(36),
    metadata JSONB,
    gateway_response JSONB,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_payment_transactions_status ON payment_transactions (status);
CREATE INDEX IF NOT EXISTS idx_payment_transactions_user ON payment_transactions (user_id);
`
