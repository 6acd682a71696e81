package currency

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

func testSource(name, url string) Source {
	return Source{
		Name:  name,
		URL:   func(from, to string) string { return url },
		Parse: parseERAPI,
	}
}

func TestConvertUsesLiveRate(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"rates": map[string]float64{"AED": 3.67},
		})
	}))
	defer srv.Close()

	c := NewConverter("USD", "AED", 3.6725, nil, zap.NewNop()).
		WithSources([]Source{testSource("test", srv.URL)})

	conv := c.Convert(context.Background(), 100, "AED")
	if conv.Amount != 367.00 {
		t.Errorf("converted amount = %f, want 367.00", conv.Amount)
	}
	if conv.Rate != 3.67 {
		t.Errorf("rate = %f, want 3.67", conv.Rate)
	}
	if conv.Source != "test" {
		t.Errorf("source = %s, want test", conv.Source)
	}
	if conv.OriginalAmount != 100 || conv.OriginalCurrency != "USD" {
		t.Errorf("original side not recorded: %+v", conv)
	}

	// second conversion inside the TTL must come from cache
	c.Convert(context.Background(), 50, "AED")
	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Errorf("source hit %d times, want 1 (cached)", got)
	}
}

func TestConvertFallsBackWhenAllSourcesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewConverter("USD", "AED", 3.6725, nil, zap.NewNop()).
		WithSources([]Source{
			testSource("down-primary", srv.URL),
			testSource("down-secondary", "http://127.0.0.1:1"),
		})

	conv := c.Convert(context.Background(), 100, "AED")
	if conv.Amount <= 0 {
		t.Fatalf("fallback conversion must still yield a positive amount, got %f", conv.Amount)
	}
	if conv.Amount != 367.25 {
		t.Errorf("converted amount = %f, want 367.25", conv.Amount)
	}
	// the fallback must be auditable
	if conv.Source != fallbackSource {
		t.Errorf("source = %s, want %s", conv.Source, fallbackSource)
	}
	if conv.Rate != 3.6725 {
		t.Errorf("rate = %f, want fallback 3.6725", conv.Rate)
	}
}

func TestConvertTriesSourcesInOrder(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"rates": map[string]float64{"AED": 3.68},
		})
	}))
	defer good.Close()

	c := NewConverter("USD", "AED", 3.6725, nil, zap.NewNop()).
		WithSources([]Source{
			testSource("primary", bad.URL),
			testSource("secondary", good.URL),
		})

	rate, source := c.GetRate(context.Background())
	if rate != 3.68 {
		t.Errorf("rate = %f, want 3.68 from secondary", rate)
	}
	if source != "secondary" {
		t.Errorf("source = %s, want secondary", source)
	}
}

func TestConvertRejectsNonPositiveRate(t *testing.T) {
	zero := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"rates": map[string]float64{"AED": 0},
		})
	}))
	defer zero.Close()

	c := NewConverter("USD", "AED", 3.6725, nil, zap.NewNop()).
		WithSources([]Source{testSource("zero", zero.URL)})

	rate, source := c.GetRate(context.Background())
	if rate != 3.6725 || source != fallbackSource {
		t.Errorf("non-positive source rate should fall back, got %f from %s", rate, source)
	}
}

func TestIdentityConversion(t *testing.T) {
	c := NewConverter("USD", "AED", 3.6725, nil, zap.NewNop()).
		WithSources(nil)

	conv := c.Convert(context.Background(), 42, "USD")
	if conv.Rate != 1 || conv.Amount != 42 {
		t.Errorf("identity conversion changed the amount: %+v", conv)
	}
}
