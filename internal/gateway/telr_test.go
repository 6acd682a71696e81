package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"dealroom-payments/internal/models"
)

func newTelrTestServer(t *testing.T, handler func(method string, req telrOrderRequest, w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req telrOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode telr request: %v", err)
		}
		if r.URL.Path != "/order.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		handler(req.Method, req, w)
	}))
}

func TestTelrCreateOrder(t *testing.T) {
	srv := newTelrTestServer(t, func(method string, req telrOrderRequest, w http.ResponseWriter) {
		if method != "create" {
			t.Errorf("expected method create, got %s", method)
		}
		if req.Order.CartID != "dr-1" {
			t.Errorf("expected cartid dr-1, got %s", req.Order.CartID)
		}
		if req.Order.Amount != "367.25" {
			t.Errorf("expected amount 367.25, got %s", req.Order.Amount)
		}
		if req.Return == nil || req.Return.Callback == "" {
			t.Error("expected callback return url")
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"order": map[string]interface{}{
				"ref": "TELR-REF-1",
				"url": "https://secure.telr.test/pay/TELR-REF-1",
			},
		})
	})
	defer srv.Close()

	gw := NewTelrGateway(TelrConfig{StoreID: "1234", AuthKey: "key", BaseURL: srv.URL}, zap.NewNop())

	result, err := gw.CreateOrder(context.Background(), OrderData{
		OrderReference: "dr-1",
		Amount:         367.25,
		Currency:       "AED",
		ReturnURLs: ReturnURLs{
			Authorised: "https://app.test/ok",
			Declined:   "https://app.test/declined",
			Cancelled:  "https://app.test/cancelled",
			Callback:   "https://app.test/webhook",
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("CreateOrder() not successful: %s", result.ErrorMessage)
	}
	if result.GatewayReference != "TELR-REF-1" {
		t.Errorf("gateway reference = %s, want TELR-REF-1", result.GatewayReference)
	}
	if result.PaymentURL == "" {
		t.Error("expected payment url")
	}
}

func TestTelrCreateOrderGatewayError(t *testing.T) {
	srv := newTelrTestServer(t, func(method string, req telrOrderRequest, w http.ResponseWriter) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{
				"message": "E04: Invalid store",
			},
		})
	})
	defer srv.Close()

	gw := NewTelrGateway(TelrConfig{StoreID: "bad", AuthKey: "key", BaseURL: srv.URL}, zap.NewNop())

	result, err := gw.CreateOrder(context.Background(), OrderData{OrderReference: "dr-2", Amount: 10, Currency: "AED"})
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	if result.Success {
		t.Fatal("expected failure result")
	}
	if result.ErrorMessage == "" {
		t.Error("expected error message embedded in result")
	}
	if len(result.Raw) == 0 {
		t.Error("expected raw response retained for audit")
	}
}

func TestTelrCheckStatus(t *testing.T) {
	srv := newTelrTestServer(t, func(method string, req telrOrderRequest, w http.ResponseWriter) {
		if method != "check" {
			t.Errorf("expected method check, got %s", method)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"order": map[string]interface{}{
				"ref":      req.Order.Ref,
				"status":   map[string]interface{}{"code": 3, "text": "Paid"},
				"amount":   "367.25",
				"currency": "AED",
				"transaction": map[string]interface{}{
					"ref": "TXN-77",
				},
			},
		})
	})
	defer srv.Close()

	gw := NewTelrGateway(TelrConfig{StoreID: "1234", AuthKey: "key", BaseURL: srv.URL}, zap.NewNop())

	result, err := gw.CheckStatus(context.Background(), "TELR-REF-1")
	if err != nil {
		t.Fatalf("CheckStatus() error = %v", err)
	}
	if result.Status != models.PaymentStatusCompleted {
		t.Errorf("status = %v, want completed", result.Status)
	}
	if result.TransactionID != "TXN-77" {
		t.Errorf("transaction id = %s, want TXN-77", result.TransactionID)
	}
	if result.Amount != 367.25 {
		t.Errorf("amount = %f, want 367.25", result.Amount)
	}
}

func TestTelrCheckStatusNotFound(t *testing.T) {
	srv := newTelrTestServer(t, func(method string, req telrOrderRequest, w http.ResponseWriter) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"message": "Order not found"},
		})
	})
	defer srv.Close()

	gw := NewTelrGateway(TelrConfig{StoreID: "1234", AuthKey: "key", BaseURL: srv.URL}, zap.NewNop())

	result, err := gw.CheckStatus(context.Background(), "gone")
	if err != nil {
		t.Fatalf("CheckStatus() error = %v", err)
	}
	// expired/GC'd orders must read as unknown, never failed
	if result.Status != models.PaymentStatusUnknown {
		t.Errorf("status = %v, want unknown", result.Status)
	}
}

func TestTelrCheckStatusUnreachable(t *testing.T) {
	gw := NewTelrGateway(TelrConfig{StoreID: "1234", AuthKey: "key", BaseURL: "http://127.0.0.1:1"}, zap.NewNop())

	result, err := gw.CheckStatus(context.Background(), "TELR-REF-1")
	if err != nil {
		t.Fatalf("CheckStatus() error = %v", err)
	}
	if result.Status != models.PaymentStatusUnknown {
		t.Errorf("transport failure should read unknown, got %v", result.Status)
	}
	if result.Success {
		t.Error("transport failure should not be a successful read")
	}
}

func TestTelrProcessWebhook(t *testing.T) {
	gw := NewTelrGateway(TelrConfig{StoreID: "1234"}, zap.NewNop())

	result, err := gw.ProcessWebhook(map[string]interface{}{
		"cart_id":     "dr-1",
		"tran_status": "A",
		"tran_ref":    "TXN-77",
	}, "")
	if err != nil {
		t.Fatalf("ProcessWebhook() error = %v", err)
	}
	if result.OrderReference != "dr-1" {
		t.Errorf("order reference = %s, want dr-1", result.OrderReference)
	}
	if result.Status != models.PaymentStatusCompleted {
		t.Errorf("status = %v, want completed", result.Status)
	}

	if _, err := gw.ProcessWebhook(map[string]interface{}{"tran_status": "A"}, ""); err == nil {
		t.Error("webhook without cart reference should error")
	}
}
