package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dealroom-payments/internal/models"
)

// ReturnURLs carries the three browser redirect targets the hosted page can
// land on, plus the server-to-server callback endpoint.
type ReturnURLs struct {
	Authorised string
	Declined   string
	Cancelled  string
	Callback   string
}

// OrderData is the provider-agnostic input to CreateOrder. Amount and
// Currency are the settlement values actually charged to the card, which may
// differ from what the user saw.
type OrderData struct {
	OrderReference string
	Amount         float64
	Currency       string
	Description    string
	CustomerEmail  string
	CustomerName   string
	ReturnURLs     ReturnURLs
}

type CreateOrderResult struct {
	Success bool
	// OrderReference echoes the reference we supplied.
	OrderReference string
	// GatewayReference is the provider-side reference to use for subsequent
	// status queries. Some providers reassign their own value here; the
	// orchestrator persists it and threads it through CheckStatus.
	GatewayReference string
	PaymentURL       string
	ExpiresAt        *time.Time
	Raw              json.RawMessage
	ErrorMessage     string
}

type StatusResult struct {
	Success       bool
	Status        models.PaymentStatus
	GatewayStatus string
	TransactionID string
	Amount        float64
	Currency      string
	Raw           json.RawMessage
}

type WebhookResult struct {
	Success        bool
	OrderReference string
	Status         models.PaymentStatus
	GatewayStatus  string
	TransactionID  string
	Raw            json.RawMessage
}

// Gateway is the capability contract every payment provider implements.
// Implementations are stateless apart from configuration and never touch
// storage; the orchestration service owns persistence.
type Gateway interface {
	Name() string

	// CreateOrder registers a hosted-page order with the provider. Network
	// and parse failures come back as Success=false with the raw error
	// embedded; the method itself never retries.
	CreateOrder(ctx context.Context, order OrderData) (*CreateOrderResult, error)

	// CheckStatus polls the provider for the current transaction state.
	// A provider-side "transaction not found" yields canonical unknown,
	// not failed: an expired or garbage-collected order is not a decline.
	CheckStatus(ctx context.Context, providerRef string) (*StatusResult, error)

	// ProcessWebhook transforms a raw notification payload into canonical
	// form. Pure transformation, no storage.
	ProcessWebhook(payload map[string]interface{}, signature string) (*WebhookResult, error)

	// ValidateWebhook verifies notification authenticity. With a configured
	// secret this is the HMAC check; without one it degrades to a structural
	// check, loudly.
	ValidateWebhook(payload map[string]interface{}, signature string) bool
}

// Registry selects a Gateway implementation by provider name.
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

func (r *Registry) Register(gw Gateway) {
	r.gateways[gw.Name()] = gw
}

func (r *Registry) Get(name string) (Gateway, error) {
	gw, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("unsupported payment provider: %s", name)
	}
	return gw, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	return names
}
