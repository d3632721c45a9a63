package fx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	pkghttp "FareCast/pkg/http"
	"FareCast/pkg/logger"
)

var (
	ErrUnknownCurrency = errors.New("unknown currency")
	ErrInvalidRate     = errors.New("rate must be positive")
)

// RatesSource fetches conversion rates to the base currency.
type RatesSource interface {
	GetJSON(ctx context.Context, rawURL string, headers map[string]string, dest interface{}) error
}

// Converter converts amounts into the base currency. A rate is the number of
// base units per one unit of the foreign currency. Safe for concurrent use.
type Converter struct {
	base  string
	mu    sync.RWMutex
	rates map[string]decimal.Decimal

	source RatesSource
	url    string
	log    *logger.Logger
}

// Option configures Converter.
type Option func(*Converter)

// WithRemoteRates refreshes rates from a JSON endpoint returning
// {"base":"PHP","rates":{"USD":"56.10"}}.
func WithRemoteRates(src RatesSource, url string) Option {
	return func(c *Converter) {
		c.source = src
		c.url = url
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Converter) {
		c.log = l
	}
}

// NewConverter builds a converter from textual rates, e.g. {"USD": "56.10"}.
func NewConverter(base string, rates map[string]string, opts ...Option) (*Converter, error) {
	c := &Converter{
		base:  strings.ToUpper(base),
		rates: make(map[string]decimal.Decimal, len(rates)+1),
		log:   logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	parsed := make(map[string]decimal.Decimal, len(rates))
	for cur, raw := range rates {
		r, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("rate %s: %w", cur, err)
		}
		parsed[cur] = r
	}
	if err := c.SetRates(parsed); err != nil {
		return nil, err
	}
	return c, nil
}

// Base is the currency every amount is converted into.
func (c *Converter) Base() string { return c.base }

// SetRates replaces the rate table. The base currency always converts at 1.
func (c *Converter) SetRates(rates map[string]decimal.Decimal) error {
	next := make(map[string]decimal.Decimal, len(rates)+1)
	for cur, r := range rates {
		if !r.IsPositive() {
			return fmt.Errorf("%s: %w", cur, ErrInvalidRate)
		}
		next[strings.ToUpper(cur)] = r
	}
	next[c.base] = decimal.NewFromInt(1)

	c.mu.Lock()
	c.rates = next
	c.mu.Unlock()
	return nil
}

// Convert returns amount expressed in the base currency.
func (c *Converter) Convert(amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	c.mu.RLock()
	r, ok := c.rates[strings.ToUpper(currency)]
	c.mu.RUnlock()
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownCurrency, currency)
	}
	return amount.Mul(r), nil
}

// Supports reports whether currency has a rate.
func (c *Converter) Supports(currency string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rates[strings.ToUpper(currency)]
	return ok
}

type ratesResponse struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// Refresh pulls the remote rate table once. Without a remote source it is a no-op.
func (c *Converter) Refresh(ctx context.Context) error {
	if c.source == nil || c.url == "" {
		return nil
	}
	var resp ratesResponse
	if err := c.source.GetJSON(ctx, c.url, nil, &resp); err != nil {
		return fmt.Errorf("fetch rates: %w", err)
	}
	if !strings.EqualFold(resp.Base, c.base) {
		return fmt.Errorf("rates base %q does not match %q", resp.Base, c.base)
	}
	if err := c.SetRates(resp.Rates); err != nil {
		return fmt.Errorf("apply rates: %w", err)
	}
	c.log.Info("fx rates refreshed", logger.Int("currencies", len(resp.Rates)))
	return nil
}

// Run refreshes on every interval until ctx is done. Failed refreshes keep
// the previous table.
func (c *Converter) Run(ctx context.Context, interval time.Duration) {
	if c.source == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.log.Warn("fx refresh failed", logger.Error(err))
			}
		}
	}
}

var _ RatesSource = (*pkghttp.Client)(nil)
