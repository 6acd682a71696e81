package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"dealroom-payments/pkg/redis"
)

// Conversion records a single currency conversion, including which rate and
// source produced it so settlement amounts stay auditable.
type Conversion struct {
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	OriginalAmount   float64 `json:"originalAmount"`
	OriginalCurrency string  `json:"originalCurrency"`
	Rate             float64 `json:"rate"`
	Source           string  `json:"source"`
}

// Source is one external FX rate provider. Sources are tried in order and
// the first positive rate wins.
type Source struct {
	Name  string
	URL   func(from, to string) string
	Parse func(body []byte, to string) (float64, error)
}

const fallbackSource = "hardcoded_fallback"

// Converter caches a live FX rate with a TTL and degrades to a hardcoded
// rate when every source fails: a stale-but-reasonable conversion beats a
// hard failure for a user mid-checkout.
type Converter struct {
	mu        sync.RWMutex
	rate      float64
	source    string
	fetchedAt time.Time

	from     string
	to       string
	ttl      time.Duration
	fallback float64
	sources  []Source

	redis  *redis.Client
	client *http.Client
	logger *zap.Logger
}

// NewConverter builds a converter for a fixed currency pair. redisClient may
// be nil; the in-memory layer then stands alone.
func NewConverter(from, to string, fallback float64, redisClient *redis.Client, logger *zap.Logger) *Converter {
	return &Converter{
		from:     from,
		to:       to,
		ttl:      time.Hour,
		fallback: fallback,
		sources:  defaultSources(),
		redis:    redisClient,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

func defaultSources() []Source {
	return []Source{
		{
			Name: "open.er-api.com",
			URL: func(from, to string) string {
				return fmt.Sprintf("https://open.er-api.com/v6/latest/%s", from)
			},
			Parse: parseERAPI,
		},
		{
			Name: "exchangerate-api.com",
			URL: func(from, to string) string {
				return fmt.Sprintf("https://api.exchangerate-api.com/v4/latest/%s", from)
			},
			Parse: parseERAPI,
		},
	}
}

// WithSources replaces the source list. Used by tests and by deployments
// with a paid FX feed.
func (c *Converter) WithSources(sources []Source) *Converter {
	c.sources = sources
	return c
}

// GetRate returns the current rate and the source it came from. A cached
// value inside its TTL is served without blocking on a refresh.
func (c *Converter) GetRate(ctx context.Context) (float64, string) {
	c.mu.RLock()
	if c.rate > 0 && time.Since(c.fetchedAt) < c.ttl {
		rate, source := c.rate, c.source
		c.mu.RUnlock()
		return rate, source
	}
	c.mu.RUnlock()

	// Redis layer: another instance may have refreshed already
	if rate, source, ok := c.getRedis(ctx); ok {
		c.store(rate, source)
		return rate, source
	}

	rate, source, err := c.fetch(ctx)
	if err != nil {
		c.logger.Warn("all fx rate sources failed, using hardcoded fallback",
			zap.String("pair", c.from+"/"+c.to),
			zap.Float64("fallback", c.fallback),
			zap.Error(err))
		return c.fallback, fallbackSource
	}

	c.store(rate, source)
	c.setRedis(ctx, rate, source)
	return rate, source
}

// Convert converts an amount into the target settlement currency, rounding
// to two decimal places.
func (c *Converter) Convert(ctx context.Context, amount float64, targetCurrency string) *Conversion {
	if targetCurrency == c.from {
		return &Conversion{
			Amount:           amount,
			Currency:         c.from,
			OriginalAmount:   amount,
			OriginalCurrency: c.from,
			Rate:             1,
			Source:           "identity",
		}
	}

	rate, source := c.GetRate(ctx)
	return &Conversion{
		Amount:           math.Round(amount*rate*100) / 100,
		Currency:         targetCurrency,
		OriginalAmount:   amount,
		OriginalCurrency: c.from,
		Rate:             rate,
		Source:           source,
	}
}

func (c *Converter) fetch(ctx context.Context) (float64, string, error) {
	var lastErr error
	for _, source := range c.sources {
		rate, err := c.fetchOne(ctx, source)
		if err != nil {
			c.logger.Warn("fx rate source failed",
				zap.String("source", source.Name),
				zap.Error(err))
			lastErr = err
			continue
		}
		if rate <= 0 {
			lastErr = fmt.Errorf("source %s returned non-positive rate %f", source.Name, rate)
			continue
		}
		return rate, source.Name, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no fx rate sources configured")
	}
	return 0, "", lastErr
}

func (c *Converter) fetchOne(ctx context.Context, source Source) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL(c.from, c.to), nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("source returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}

	return source.Parse(body, c.to)
}

// parseERAPI handles the { "rates": { "AED": 3.6725, ... } } shape shared by
// both default sources.
func parseERAPI(body []byte, to string) (float64, error) {
	var resp struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("failed to parse rate response: %w", err)
	}
	rate, ok := resp.Rates[to]
	if !ok {
		return 0, fmt.Errorf("rate response missing target currency %s", to)
	}
	return rate, nil
}

func (c *Converter) store(rate float64, source string) {
	c.mu.Lock()
	c.rate = rate
	c.source = source
	c.fetchedAt = time.Now()
	c.mu.Unlock()
}

type cachedRate struct {
	Rate   float64 `json:"rate"`
	Source string  `json:"source"`
}

func (c *Converter) redisKey() string {
	return fmt.Sprintf("fx:%s:%s", c.from, c.to)
}

func (c *Converter) getRedis(ctx context.Context) (float64, string, bool) {
	if c.redis == nil {
		return 0, "", false
	}
	data, err := c.redis.Get(ctx, c.redisKey())
	if err != nil {
		return 0, "", false
	}
	var cached cachedRate
	if err := json.Unmarshal([]byte(data), &cached); err != nil || cached.Rate <= 0 {
		return 0, "", false
	}
	return cached.Rate, cached.Source, true
}

func (c *Converter) setRedis(ctx context.Context, rate float64, source string) {
	if c.redis == nil {
		return
	}
	data, _ := json.Marshal(cachedRate{Rate: rate, Source: source})
	if err := c.redis.Set(ctx, c.redisKey(), data, c.ttl); err != nil {
		c.logger.Error("failed to cache fx rate in redis", zap.Error(err))
	}
}
