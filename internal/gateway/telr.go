package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"dealroom-payments/internal/models"
)

const telrDefaultBaseURL = "https://secure.telr.com/gateway"

// TelrConfig holds the Telr merchant credentials.
type TelrConfig struct {
	StoreID       string
	AuthKey       string
	WebhookSecret string
	BaseURL       string
	TestMode      bool
}

// TelrGateway speaks Telr's hosted payment page API: a single JSON endpoint
// where create and check requests are disambiguated by a method field, and a
// form-encoded transaction advice webhook with a single-character status.
type TelrGateway struct {
	cfg    TelrConfig
	client *http.Client
	mapper *StatusMapper
	logger *zap.Logger
}

func NewTelrGateway(cfg TelrConfig, logger *zap.Logger) *TelrGateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = telrDefaultBaseURL
	}
	return &TelrGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		mapper: NewStatusMapper(logger),
		logger: logger,
	}
}

func (g *TelrGateway) Name() string { return "telr" }

type telrOrderRequest struct {
	Method  string           `json:"method"`
	Store   string           `json:"store"`
	AuthKey string           `json:"authkey"`
	Order   telrOrderDetails `json:"order"`
	Return  *telrReturnBlock `json:"return,omitempty"`
}

type telrOrderDetails struct {
	CartID      string `json:"cartid,omitempty"`
	Ref         string `json:"ref,omitempty"`
	Test        string `json:"test,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Description string `json:"description,omitempty"`
}

type telrReturnBlock struct {
	Authorised string `json:"authorised"`
	Declined   string `json:"declined"`
	Cancelled  string `json:"cancelled"`
	Callback   string `json:"callback"`
}

type telrOrderResponse struct {
	Order struct {
		Ref    string `json:"ref"`
		URL    string `json:"url"`
		CartID string `json:"cartid"`
		Status struct {
			Code int    `json:"code"`
			Text string `json:"text"`
		} `json:"status"`
		Transaction struct {
			Ref string `json:"ref"`
		} `json:"transaction"`
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	} `json:"order"`
	Error struct {
		Message string `json:"message"`
		Note    string `json:"note"`
	} `json:"error"`
}

func (g *TelrGateway) CreateOrder(ctx context.Context, order OrderData) (*CreateOrderResult, error) {
	test := "0"
	if g.cfg.TestMode {
		test = "1"
	}

	req := telrOrderRequest{
		Method:  "create",
		Store:   g.cfg.StoreID,
		AuthKey: g.cfg.AuthKey,
		Order: telrOrderDetails{
			CartID:      order.OrderReference,
			Test:        test,
			Amount:      strconv.FormatFloat(order.Amount, 'f', 2, 64),
			Currency:    order.Currency,
			Description: order.Description,
		},
		Return: &telrReturnBlock{
			Authorised: order.ReturnURLs.Authorised,
			Declined:   order.ReturnURLs.Declined,
			Cancelled:  order.ReturnURLs.Cancelled,
			Callback:   order.ReturnURLs.Callback,
		},
	}

	raw, resp, err := g.post(ctx, req)
	if err != nil {
		return &CreateOrderResult{
			Success:        false,
			OrderReference: order.OrderReference,
			Raw:            raw,
			ErrorMessage:   err.Error(),
		}, nil
	}

	if resp.Order.Ref == "" || resp.Order.URL == "" {
		msg := resp.Error.Message
		if resp.Error.Note != "" {
			msg = msg + ": " + resp.Error.Note
		}
		if msg == "" {
			msg = "telr order creation returned no order reference"
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
		GatewayReference: resp.Order.Ref,
		PaymentURL:       resp.Order.URL,
		ExpiresAt:        &expires,
		Raw:              raw,
	}, nil
}

func (g *TelrGateway) CheckStatus(ctx context.Context, providerRef string) (*StatusResult, error) {
	req := telrOrderRequest{
		Method:  "check",
		Store:   g.cfg.StoreID,
		AuthKey: g.cfg.AuthKey,
		Order:   telrOrderDetails{Ref: providerRef},
	}

	raw, resp, err := g.post(ctx, req)
	if err != nil {
		// Timeouts and transport failures are "can't tell", never "failed"
		g.logger.Warn("telr status check failed", zap.String("ref", providerRef), zap.Error(err))
		return &StatusResult{Success: false, Status: models.PaymentStatusUnknown, Raw: raw}, nil
	}

	if resp.Error.Message != "" || resp.Order.Ref == "" {
		if isNotFoundMessage(resp.Error.Message) || resp.Order.Ref == "" {
			g.logger.Warn("telr order not resolvable, reporting unknown",
				zap.String("ref", providerRef),
				zap.String("error", resp.Error.Message))
			return &StatusResult{Success: true, Status: models.PaymentStatusUnknown, Raw: raw}, nil
		}
		return &StatusResult{Success: false, Status: models.PaymentStatusUnknown, Raw: raw}, nil
	}

	amount, _ := strconv.ParseFloat(resp.Order.Amount, 64)
	return &StatusResult{
		Success:       true,
		Status:        g.mapper.MapTelrAPIStatus(resp.Order.Status.Code, resp.Order.Status.Text),
		GatewayStatus: fmt.Sprintf("%d (%s)", resp.Order.Status.Code, resp.Order.Status.Text),
		TransactionID: resp.Order.Transaction.Ref,
		Amount:        amount,
		Currency:      resp.Order.Currency,
		Raw:           raw,
	}, nil
}

func (g *TelrGateway) ProcessWebhook(payload map[string]interface{}, signature string) (*WebhookResult, error) {
	raw, _ := json.Marshal(payload)

	orderRef, _ := scalarString(payload["cart_id"])
	if orderRef == "" {
		orderRef, _ = scalarString(payload["cartid"])
	}
	tranStatus, _ := scalarString(payload["tran_status"])
	tranRef, _ := scalarString(payload["tran_ref"])

	if orderRef == "" {
		return &WebhookResult{Success: false, Raw: raw}, fmt.Errorf("telr webhook missing cart reference")
	}

	return &WebhookResult{
		Success:        true,
		OrderReference: orderRef,
		Status:         g.mapper.MapTelrWebhookStatus(tranStatus),
		GatewayStatus:  tranStatus,
		TransactionID:  tranRef,
		Raw:            raw,
	}, nil
}

func (g *TelrGateway) ValidateWebhook(payload map[string]interface{}, signature string) bool {
	if g.cfg.WebhookSecret == "" {
		g.logger.Warn("telr webhook secret not configured, falling back to structural validation")
		return hasStructuralFields(payload,
			[]string{"cart_id", "cartid", "order_ref"},
			[]string{"tran_status"})
	}
	return VerifySignature(payload, signature, g.cfg.WebhookSecret)
}

func (g *TelrGateway) post(ctx context.Context, body telrOrderRequest) (json.RawMessage, *telrOrderResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("telr request encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/order.json", bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("telr request build: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("telr request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("telr response read: %w", err)
	}

	var parsed telrOrderResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return raw, nil, fmt.Errorf("telr response parse: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return raw, &parsed, fmt.Errorf("telr returned status %d", resp.StatusCode)
	}

	return raw, &parsed, nil
}

func isNotFoundMessage(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "not found")
}
