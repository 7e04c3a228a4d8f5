// Package models defines the canonical data model of the consolidation
// engine: raw tabular input, canonical holdings keyed by (snapshot date,
// asset id), and the chronologically ordered canonical transaction ledger.
//
// Canonical datasets are produced fresh by one pipeline run and handed to
// callers as read-only; nothing in this package mutates a dataset after the
// run that built it.
package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DateFormat is the canonical ISO date layout used throughout the engine.
const DateFormat = "2006-01-02"

// TransactionType is the canonical transaction classification.
type TransactionType string

const (
	TypeBuy              TransactionType = "BUY"
	TypeSell             TransactionType = "SELL"
	TypeCashDividend     TransactionType = "CASH_DIVIDEND"
	TypeDividendReinvest TransactionType = "DIVIDEND_REINVEST"
	TypeInterest         TransactionType = "INTEREST"
	TypeFee              TransactionType = "FEE"
	TypePremiumPayment   TransactionType = "PREMIUM_PAYMENT"
	TypeVestAcquire      TransactionType = "VEST_ACQUIRE"
)

// String returns the string representation of the type.
func (t TransactionType) String() string {
	return string(t)
}

// IsValid checks if the transaction type is one of the canonical values.
func (t TransactionType) IsValid() bool {
	switch t {
	case TypeBuy, TypeSell, TypeCashDividend, TypeDividendReinvest,
		TypeInterest, TypeFee, TypePremiumPayment, TypeVestAcquire:
		return true
	}
	return false
}

// ParseTransactionType folds an operator-supplied spelling onto the canonical
// constants. The second return is false when the value matches none of them.
func ParseTransactionType(s string) (TransactionType, bool) {
	t := TransactionType(strings.ToUpper(strings.TrimSpace(s)))
	return t, t.IsValid()
}

// RawRecord is one row of a source dataset in source-native field names.
// It is never persisted and never leaves the ingestion stage.
type RawRecord map[string]string

// Get returns the trimmed value of a field, empty when absent.
func (r RawRecord) Get(field string) string {
	return strings.TrimSpace(r[field])
}

// RawTable is an ordered tabular dataset as delivered by a source
// collaborator. Column order is preserved for deterministic processing.
type RawTable struct {
	Name    string
	Columns []string
	Rows    []RawRecord
}

// HasColumn reports whether the table carries the given column.
func (t *RawTable) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// AddColumn appends a column if it is not already present.
func (t *RawTable) AddColumn(name string) {
	if !t.HasColumn(name) {
		t.Columns = append(t.Columns, name)
	}
}

// HoldingKey is the unique canonical holding key.
type HoldingKey struct {
	SnapshotDate string `json:"snapshot_date"`
	AssetID      string `json:"asset_id"`
}

// CanonicalHolding is one reconciled position for one asset on one date.
// Invariant: at most one row per (SnapshotDate, AssetID); MarketValueBase
// equals MarketValueRaw times FxRate when Currency differs from the base
// currency, and MarketValueRaw otherwise.
type CanonicalHolding struct {
	SnapshotDate    time.Time        `json:"snapshot_date"`
	AssetID         string           `json:"asset_id"`
	AssetName       string           `json:"asset_name"`
	AssetType       string           `json:"asset_type"`
	Quantity        *decimal.Decimal `json:"quantity"`
	Unit            string           `json:"unit"`
	CostPriceUnit   decimal.Decimal  `json:"cost_price_unit"`
	MarketPriceUnit decimal.Decimal  `json:"market_price_unit"`
	MarketValueRaw  decimal.Decimal  `json:"market_value_raw"`
	Currency        string           `json:"currency"`
	Account         string           `json:"account"`
	FxRate          decimal.Decimal  `json:"fx_rate"`
	MarketValueBase decimal.Decimal  `json:"market_value_base"`
	CostBasisBase   decimal.Decimal  `json:"cost_basis_base"`
	Derived         bool             `json:"derived,omitempty"`
	FxFallback      bool             `json:"fx_fallback,omitempty"`
}

// Key returns the canonical holding key.
func (h *CanonicalHolding) Key() HoldingKey {
	return HoldingKey{
		SnapshotDate: h.SnapshotDate.Format(DateFormat),
		AssetID:      h.AssetID,
	}
}

// Validate performs basic sanity checks on the holding.
func (h *CanonicalHolding) Validate() error {
	if strings.TrimSpace(h.AssetID) == "" {
		return fmt.Errorf("holding asset id cannot be empty")
	}
	if h.SnapshotDate.IsZero() {
		return fmt.Errorf("holding snapshot date cannot be zero")
	}
	if h.Currency != "" && !IsKnownCurrency(h.Currency) {
		return fmt.Errorf("unknown currency code %q", h.Currency)
	}
	return nil
}

// Equal compares two holdings, ignoring storage metadata.
func (h *CanonicalHolding) Equal(other *CanonicalHolding) bool {
	if other == nil {
		return false
	}
	if h.Key() != other.Key() || h.AssetName != other.AssetName ||
		h.AssetType != other.AssetType || h.Unit != other.Unit ||
		h.Currency != other.Currency || h.Account != other.Account ||
		h.Derived != other.Derived {
		return false
	}
	if (h.Quantity == nil) != (other.Quantity == nil) {
		return false
	}
	if h.Quantity != nil && !h.Quantity.Equal(*other.Quantity) {
		return false
	}
	return h.CostPriceUnit.Equal(other.CostPriceUnit) &&
		h.MarketPriceUnit.Equal(other.MarketPriceUnit) &&
		h.MarketValueRaw.Equal(other.MarketValueRaw) &&
		h.FxRate.Equal(other.FxRate) &&
		h.MarketValueBase.Equal(other.MarketValueBase) &&
		h.CostBasisBase.Equal(other.CostBasisBase)
}

// MarshalJSON renders dates as ISO date strings.
func (h CanonicalHolding) MarshalJSON() ([]byte, error) {
	type Alias CanonicalHolding
	return json.Marshal(&struct {
		SnapshotDate string `json:"snapshot_date"`
		Alias
	}{
		SnapshotDate: h.SnapshotDate.Format(DateFormat),
		Alias:        (Alias)(h),
	})
}

// UnmarshalJSON parses the ISO date representation.
func (h *CanonicalHolding) UnmarshalJSON(data []byte) error {
	type Alias CanonicalHolding
	aux := &struct {
		SnapshotDate string `json:"snapshot_date"`
		*Alias
	}{Alias: (*Alias)(h)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if aux.SnapshotDate != "" {
		d, err := time.Parse(DateFormat, aux.SnapshotDate)
		if err != nil {
			return fmt.Errorf("invalid snapshot date: %w", err)
		}
		h.SnapshotDate = d
	}
	return nil
}

// CanonicalTransaction is one reconciled entry of the transaction ledger.
// Invariant: the sign of AmountNet matches the cash-flow direction of Type,
// and Quantity carries the position direction for position-changing types
// and is nil for types with no position concept.
type CanonicalTransaction struct {
	AssetID         string           `json:"asset_id"`
	AssetName       string           `json:"asset_name"`
	Type            TransactionType  `json:"transaction_type"`
	TransactionDate time.Time        `json:"transaction_date"`
	Quantity        *decimal.Decimal `json:"quantity"`
	Unit            string           `json:"unit"`
	PriceUnit       decimal.Decimal  `json:"price_unit"`
	AmountGross     decimal.Decimal  `json:"amount_gross"`
	CommissionFee   decimal.Decimal  `json:"commission_fee"`
	AmountNet       decimal.Decimal  `json:"amount_net"`
	Currency        string           `json:"currency"`
	Account         string           `json:"account"`
	Memo            string           `json:"memo,omitempty"`
	RawType         string           `json:"raw_type,omitempty"`
	Bootstrap       bool             `json:"bootstrap,omitempty"`
}

// Validate performs basic sanity checks on the transaction.
func (t *CanonicalTransaction) Validate() error {
	if strings.TrimSpace(t.AssetID) == "" {
		return fmt.Errorf("transaction asset id cannot be empty")
	}
	if !t.Type.IsValid() {
		return fmt.Errorf("invalid transaction type: %s", t.Type)
	}
	if t.TransactionDate.IsZero() {
		return fmt.Errorf("transaction date cannot be zero")
	}
	if t.Currency != "" && !IsKnownCurrency(t.Currency) {
		return fmt.Errorf("unknown currency code %q", t.Currency)
	}
	return nil
}

// String returns a compact representation for log context.
func (t *CanonicalTransaction) String() string {
	return fmt.Sprintf("Transaction{Asset: %s, Type: %s, Date: %s, Net: %s}",
		t.AssetID, t.Type, t.TransactionDate.Format(DateFormat), t.AmountNet.String())
}

// MarshalJSON renders dates as ISO date strings.
func (t CanonicalTransaction) MarshalJSON() ([]byte, error) {
	type Alias CanonicalTransaction
	return json.Marshal(&struct {
		TransactionDate string `json:"transaction_date"`
		Alias
	}{
		TransactionDate: t.TransactionDate.Format(DateFormat),
		Alias:           (Alias)(t),
	})
}

// UnmarshalJSON parses the ISO date representation.
func (t *CanonicalTransaction) UnmarshalJSON(data []byte) error {
	type Alias CanonicalTransaction
	aux := &struct {
		TransactionDate string `json:"transaction_date"`
		*Alias
	}{Alias: (*Alias)(t)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if aux.TransactionDate != "" {
		d, err := time.Parse(DateFormat, aux.TransactionDate)
		if err != nil {
			return fmt.Errorf("invalid transaction date: %w", err)
		}
		t.TransactionDate = d
	}
	return nil
}

// IsKnownCurrency reports whether code is a known ISO currency.
func IsKnownCurrency(code string) bool {
	return money.GetCurrency(strings.ToUpper(strings.TrimSpace(code))) != nil
}

// DecimalPtr returns a pointer to d. Convenience for nullable quantities.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// SortTransactions orders the ledger chronologically, with asset id as a
// deterministic tie-breaker.
func SortTransactions(txs []*CanonicalTransaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].TransactionDate.Equal(txs[j].TransactionDate) {
			return txs[i].TransactionDate.Before(txs[j].TransactionDate)
		}
		return txs[i].AssetID < txs[j].AssetID
	})
}
