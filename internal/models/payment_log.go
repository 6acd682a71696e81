package models

import (
	"encoding/json"
	"time"
)

type LogAction string

const (
	LogActionCreated             LogAction = "created"
	LogActionOrderCreated        LogAction = "order_created"
	LogActionCreationFailed      LogAction = "creation_failed"
	LogActionStatusUpdated       LogAction = "status_updated"
	LogActionWebhookReceived     LogAction = "webhook_received"
	LogActionSubscriptionCreated LogAction = "subscription_created"
	LogActionEmailsSent          LogAction = "emails_sent"
)

// PaymentLog is an append-only audit record of an action taken on a
// transaction. Rows are never updated or deleted.
type PaymentLog struct {
	ID             string          `json:"id" db:"id"`
	OrderReference string          `json:"order_reference" db:"order_reference"`
	Action         LogAction       `json:"action" db:"action"`
	Detail         string          `json:"detail,omitempty" db:"detail"`
	Metadata       json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

const PaymentLogSchema = `
CREATE TABLE IF NOT EXISTS payment_logs (
    id VARCHAR(36) PRIMARY KEY,
    order_reference VARCHAR(64) NOT NULL,
    action VARCHAR(32) NOT NULL,
    detail TEXT,
    metadata JSONB,
    created_at TIMESTAMP NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_payment_logs_order_ref ON payment_logs (order_reference);
CREATE INDEX IF NOT EXISTS idx_payment_logs_action ON payment_logs (action);
`
