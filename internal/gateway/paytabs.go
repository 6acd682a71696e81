package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"dealroom-payments/internal/models"
)

const payTabsDefaultBaseURL = "https://secure.paytabs.com"

// PayTabsConfig holds the PayTabs merchant profile credentials.
type PayTabsConfig struct {
	ProfileID     string
	ServerKey     string
	WebhookSecret string
	BaseURL       string
}

// PayTabsGateway speaks PayTabs' hosted payment page API: separate JSON
// create and query endpoints, a form-encoded synchronous return post and a
// JSON IPN with a nested payment_result block. PayTabs assigns its own
// tran_ref at order creation; that reference, not our cart_id, is what the
// query endpoint understands.
type PayTabsGateway struct {
	cfg       PayTabsConfig
	profileID int
	client    *http.Client
	mapper    *StatusMapper
	logger    *zap.Logger
}

func NewPayTabsGateway(cfg PayTabsConfig, logger *zap.Logger) *PayTabsGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = payTabsDefaultBaseURL
	}
	profileID, err := strconv.Atoi(cfg.ProfileID)
	if err != nil {
		logger.Warn("paytabs profile id is not numeric", zap.String("profile_id", cfg.ProfileID))
	}
	return &PayTabsGateway{
		cfg:       cfg,
		profileID: profileID,
		client:    &http.Client{Timeout: 15 * time.Second},
		mapper:    NewStatusMapper(logger),
		logger:    logger,
	}
}

func (g *PayTabsGateway) Name() string { return "paytabs" }

type payTabsCreateRequest struct {
	ProfileID       int                     `json:"profile_id"`
	TranType        string                  `json:"tran_type"`
	TranClass       string                  `json:"tran_class"`
	CartID          string                  `json:"cart_id"`
	CartDescription string                  `json:"cart_description"`
	CartCurrency    string                  `json:"cart_currency"`
	CartAmount      float64                 `json:"cart_amount"`
	Callback        string                  `json:"callback"`
	Return          string                  `json:"return"`
	HideShipping    bool                    `json:"hide_shipping"`
	CustomerDetails *payTabsCustomerDetails `json:"customer_details,omitempty"`
}

type payTabsCustomerDetails struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type payTabsQueryRequest struct {
	ProfileID int    `json:"profile_id"`
	TranRef   string `json:"tran_ref"`
}

type payTabsResponse struct {
	TranRef       string `json:"tran_ref"`
	CartID        string `json:"cart_id"`
	CartAmount    string `json:"cart_amount"`
	CartCurrency  string `json:"cart_currency"`
	RedirectURL   string `json:"redirect_url"`
	PaymentResult struct {
		ResponseStatus  string `json:"response_status"`
		ResponseCode    string `json:"response_code"`
		ResponseMessage string `json:"response_message"`
	} `json:"payment_result"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (g *PayTabsGateway) CreateOrder(ctx context.Context, order OrderData) (*CreateOrderResult, error) {
	req := payTabsCreateRequest{
		ProfileID:       g.profileID,
		TranType:        "sale",
		TranClass:       "ecom",
		CartID:          order.OrderReference,
		CartDescription: order.Description,
		CartCurrency:    order.Currency,
		CartAmount:      order.Amount,
		Callback:        order.ReturnURLs.Callback,
		Return:          order.ReturnURLs.Authorised,
		HideShipping:    true,
	}
	if order.CustomerEmail != "" || order.CustomerName != "" {
		req.CustomerDetails = &payTabsCustomerDetails{
			Name:  order.CustomerName,
			Email: order.CustomerEmail,
		}
	}

	raw, resp, err := g.post(ctx, "/payment/request", req)
	if err != nil {
		return &CreateOrderResult{
			Success:        false,
			OrderReference: order.OrderReference,
			Raw:            raw,
			ErrorMessage:   err.Error(),
		}, nil
	}

	if resp.TranRef == "" || resp.RedirectURL == "" {
		msg := resp.Message
		if msg == "" {
			msg = "paytabs payment request returned no transaction reference"
		}
		return &CreateOrderResult{
			Success:        false,
			OrderReference: order.OrderReference,
			Raw:            raw,
			ErrorMessage:   msg,
		}, nil
	}

	expires := time.Now().Add(30 * time.Minute)
	return &CreateOrderResult{
		Success:          true,
		OrderReference:   order.OrderReference,
		GatewayReference: resp.TranRef,
		PaymentURL:       resp.RedirectURL,
		ExpiresAt:        &expires,
		Raw:              raw,
	}, nil
}

func (g *PayTabsGateway) CheckStatus(ctx context.Context, providerRef string) (*StatusResult, error) {
	req := payTabsQueryRequest{ProfileID: g.profileID, TranRef: providerRef}

	raw, resp, err := g.post(ctx, "/payment/query", req)
	if err != nil {
		g.logger.Warn("paytabs status query failed", zap.String("tran_ref", providerRef), zap.Error(err))
		return &StatusResult{Success: false, Status: models.PaymentStatusUnknown, Raw: raw}, nil
	}

	// Expired transactions are garbage-collected on the PayTabs side; a
	// query for them errors out rather than reporting a final state.
	if resp.TranRef == "" || isNotFoundMessage(resp.Message) {
		g.logger.Warn("paytabs transaction not resolvable, reporting unknown",
			zap.String("tran_ref", providerRef),
			zap.String("message", resp.Message))
		return &StatusResult{Success: true, Status: models.PaymentStatusUnknown, Raw: raw}, nil
	}

	amount, _ := strconv.ParseFloat(resp.CartAmount, 64)
	return &StatusResult{
		Success:       true,
		Status:        g.mapper.MapPayTabsAPIStatus(resp.PaymentResult.ResponseStatus, resp.PaymentResult.ResponseMessage),
		GatewayStatus: resp.PaymentResult.ResponseStatus,
		TransactionID: resp.TranRef,
		Amount:        amount,
		Currency:      resp.CartCurrency,
		Raw:           raw,
	}, nil
}

func (g *PayTabsGateway) ProcessWebhook(payload map[string]interface{}, signature string) (*WebhookResult, error) {
	raw, _ := json.Marshal(payload)

	orderRef, _ := scalarString(payload["cart_id"])
	if orderRef == "" {
		// synchronous return post uses camelCase field names
		orderRef, _ = scalarString(payload["cartId"])
	}
	tranRef, _ := scalarString(payload["tran_ref"])
	if tranRef == "" {
		tranRef, _ = scalarString(payload["tranRef"])
	}

	status, _ := scalarString(payload["respStatus"])
	if status == "" {
		if result, ok := payload["payment_result"].(map[string]interface{}); ok {
			status, _ = scalarString(result["response_status"])
		}
	}

	if orderRef == "" {
		return &WebhookResult{Success: false, Raw: raw}, fmt.Errorf("paytabs notification missing cart id")
	}

	return &WebhookResult{
		Success:        true,
		OrderReference: orderRef,
		Status:         g.mapper.MapPayTabsWebhookStatus(status),
		GatewayStatus:  status,
		TransactionID:  tranRef,
		Raw:            raw,
	}, nil
}

func (g *PayTabsGateway) ValidateWebhook(payload map[string]interface{}, signature string) bool {
	if signature == "" {
		signature, _ = scalarString(payload["signature"])
	}
	if g.cfg.WebhookSecret == "" {
		g.logger.Warn("paytabs webhook secret not configured, falling back to structural validation")
		if !hasStructuralFields(payload, []string{"cart_id", "cartId"}, []string{"respStatus", "tran_status"}) {
			_, nested := payload["payment_result"].(map[string]interface{})
			ref, _ := scalarString(payload["cart_id"])
			return nested && ref != ""
		}
		return true
	}
	return VerifySignature(payload, signature, g.cfg.WebhookSecret)
}

func (g *PayTabsGateway) post(ctx context.Context, path string, body interface{}) (json.RawMessage, *payTabsResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("paytabs request encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("paytabs request build: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", g.cfg.ServerKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("paytabs request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("paytabs response read: %w", err)
	}

	var parsed payTabsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return raw, nil, fmt.Errorf("paytabs response parse: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		if isNotFoundMessage(parsed.Message) {
			return raw, &parsed, nil
		}
		return raw, &parsed, fmt.Errorf("paytabs returned status %d: %s", resp.StatusCode, parsed.Message)
	}

	return raw, &parsed, nil
}
