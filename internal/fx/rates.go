// Package fx normalizes foreign-currency amounts into the base currency
// using time-aligned exchange-rate lookups.
//
// Rate series are cached process-wide; reads are safe to share, and
// invalidation must be serialized by the embedding application against
// in-flight reads (single-writer discipline). The reconciliation core never
// fetches rates over the network; series are already-resolved inputs.
package fx

import (
	"sort"
	"sync"
	"time"

	"portfolio-consolidation-service/internal/models"
	"portfolio-consolidation-service/pkg/errors"
	"portfolio-consolidation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// Resolution describes how a rate lookup was satisfied.
type Resolution int

const (
	// ResolvedExact: an observation exists for the requested date.
	ResolvedExact Resolution = iota
	// ResolvedPrevious: the latest observation strictly before the date.
	ResolvedPrevious
	// ResolvedEarliest: the series starts after the date; its earliest
	// observation was used.
	ResolvedEarliest
	// ResolvedFallback: no series exists; a configured constant was used.
	ResolvedFallback
	// ResolvedNone: no rate could be resolved at all.
	ResolvedNone
)

// RateSeries is a chronological series of exchange-rate observations for
// one currency pair, queried via as-of lookup.
type RateSeries struct {
	Currency string
	dates    []time.Time
	rates    []decimal.Decimal
}

// NewRateSeries creates an empty series for a currency.
func NewRateSeries(currency string) *RateSeries {
	return &RateSeries{Currency: currency}
}

// Add inserts an observation, replacing any existing one on the same date.
func (s *RateSeries) Add(date time.Time, rate decimal.Decimal) {
	date = models.Midnight(date)
	i := sort.Search(len(s.dates), func(i int) bool { return !s.dates[i].Before(date) })
	if i < len(s.dates) && s.dates[i].Equal(date) {
		s.rates[i] = rate
		return
	}
	s.dates = append(s.dates, time.Time{})
	s.rates = append(s.rates, decimal.Decimal{})
	copy(s.dates[i+1:], s.dates[i:])
	copy(s.rates[i+1:], s.rates[i:])
	s.dates[i] = date
	s.rates[i] = rate
}

// Len returns the number of observations.
func (s *RateSeries) Len() int { return len(s.dates) }

// RateAsOf resolves the rate for a date: exact observation if present,
// else the latest observation before the date, else the earliest
// observation in the series.
func (s *RateSeries) RateAsOf(date time.Time) (decimal.Decimal, Resolution) {
	if len(s.dates) == 0 {
		return decimal.Decimal{}, ResolvedNone
	}
	date = models.Midnight(date)
	i := sort.Search(len(s.dates), func(i int) bool { return s.dates[i].After(date) })
	if i > 0 {
		if s.dates[i-1].Equal(date) {
			return s.rates[i-1], ResolvedExact
		}
		return s.rates[i-1], ResolvedPrevious
	}
	return s.rates[0], ResolvedEarliest
}

// Config holds currency normalization settings.
type Config struct {
	// BaseCurrency is the currency all values aggregate in.
	BaseCurrency string
	// FallbackRates are constant rates used when a currency has no series
	// at all. Converted values are flagged.
	FallbackRates map[string]decimal.Decimal
}

// DefaultConfig normalizes into CNY with no fallback constants.
func DefaultConfig() *Config {
	return &Config{
		BaseCurrency:  "CNY",
		FallbackRates: map[string]decimal.Decimal{},
	}
}

// Validate checks currency codes against the ISO registry.
func (c *Config) Validate() error {
	if !models.IsKnownCurrency(c.BaseCurrency) {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "base_currency", c.BaseCurrency)
	}
	for code := range c.FallbackRates {
		if !models.IsKnownCurrency(code) {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "fallback_rates", code)
		}
	}
	return nil
}

// Converter resolves rates and converts canonical rows into the base
// currency. Series are cached until Invalidate.
type Converter struct {
	mu     sync.RWMutex
	config *Config
	series map[string]*RateSeries
	logger logger.Logger
}

// NewConverter creates a converter. A nil config uses the default.
func NewConverter(config *Config) (*Converter, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Converter{
		config: config,
		series: map[string]*RateSeries{},
		logger: logger.GetGlobalLogger().WithComponent("fx_converter"),
	}, nil
}

// BaseCurrency returns the configured base currency.
func (c *Converter) BaseCurrency() string {
	return c.config.BaseCurrency
}

// SetSeries installs the rate series for a currency.
func (c *Converter) SetSeries(currency string, series *RateSeries) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.series[currency] = series
}

// Series returns the cached series for a currency, or nil.
func (c *Converter) Series(currency string) *RateSeries {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.series[currency]
}

// Invalidate drops all cached series. Single-writer: do not call
// concurrently with conversions that matter.
func (c *Converter) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.series = map[string]*RateSeries{}
	c.logger.Debug("FX rate series cache invalidated")
}

// Resolve returns the conversion rate from a currency into the base
// currency as of a date, with how it was resolved.
func (c *Converter) Resolve(currency string, date time.Time) (decimal.Decimal, Resolution) {
	if currency == "" || currency == c.config.BaseCurrency {
		return decimal.NewFromInt(1), ResolvedExact
	}

	c.mu.RLock()
	series := c.series[currency]
	c.mu.RUnlock()

	if series != nil && series.Len() > 0 {
		rate, resolution := series.RateAsOf(date)
		if resolution == ResolvedEarliest {
			c.logger.WithFields(logger.Fields{
				"currency": currency,
				"date":     date.Format(models.DateFormat),
			}).Warn("FX series starts after requested date, using earliest observation")
		}
		return rate, resolution
	}

	if rate, ok := c.config.FallbackRates[currency]; ok {
		c.logger.WithFields(logger.Fields{
			"currency": currency,
			"rate":     rate.String(),
		}).Warn("No FX series for currency, using configured fallback rate")
		return rate, ResolvedFallback
	}

	c.logger.WithError(errors.New(errors.CategoryFx, errors.CodeRateUnavailable,
		"no exchange rate for "+currency)).
		Warn("No FX rate available, value left unconverted")
	return decimal.NewFromInt(1), ResolvedNone
}

// ConvertHolding converts a holding's market value and cost basis into the
// base currency with one resolved rate, recording the rate on the row for
// auditability.
func (c *Converter) ConvertHolding(h *models.CanonicalHolding) {
	rate, resolution := c.Resolve(h.Currency, h.SnapshotDate)
	h.FxRate = rate
	h.FxFallback = resolution == ResolvedFallback || resolution == ResolvedNone
	h.MarketValueBase = h.MarketValueRaw.Mul(rate)
	if h.Quantity != nil && !h.CostPriceUnit.IsZero() {
		h.CostBasisBase = h.CostPriceUnit.Mul(*h.Quantity).Mul(rate)
	}
}
