// Package txtype maps raw, possibly localized transaction tokens to the
// canonical transaction type.
//
// Resolution order per record: asset-scoped override rules, memo-substring
// rules, plain token lookup, then any pre-assigned canonical type. Records
// that resolve to nothing are dropped from the ledger by the caller; the
// standardizer logs enough context (asset, date, raw token) to add the
// missing mapping.
package txtype

import (
	"strings"

	"portfolio-consolidation-service/internal/models"
	"portfolio-consolidation-service/pkg/logger"
)

// OverrideRule maps a record to a canonical type ahead of the plain token
// lookup. Rules are evaluated in order; the first match wins. AssetPattern
// and MemoContains are case-insensitive substring matches; RawToken, when
// set, additionally requires an exact (case-folded) raw token.
type OverrideRule struct {
	AssetPattern string                 `json:"asset_pattern,omitempty" mapstructure:"asset_pattern"`
	MemoContains string                 `json:"memo_contains,omitempty" mapstructure:"memo_contains"`
	RawToken     string                 `json:"raw_token,omitempty" mapstructure:"raw_token"`
	Type         models.TransactionType `json:"type" mapstructure:"type"`
}

func (r *OverrideRule) matches(tx *models.CanonicalTransaction) bool {
	if r.AssetPattern != "" &&
		!strings.Contains(strings.ToLower(tx.AssetID), strings.ToLower(r.AssetPattern)) {
		return false
	}
	if r.MemoContains != "" &&
		!strings.Contains(strings.ToLower(tx.Memo), strings.ToLower(r.MemoContains)) {
		return false
	}
	if r.RawToken != "" && !strings.EqualFold(strings.TrimSpace(tx.RawType), r.RawToken) {
		return false
	}
	return r.AssetPattern != "" || r.MemoContains != "" || r.RawToken != ""
}

// TypeMap is a raw-token table plus ordered override rules.
type TypeMap struct {
	Tokens    map[string]models.TransactionType `json:"tokens" mapstructure:"tokens"`
	Overrides []OverrideRule                    `json:"overrides,omitempty" mapstructure:"overrides"`
}

// DefaultTypeMap covers the English and CJK broker tokens seen across the
// supported export formats.
func DefaultTypeMap() *TypeMap {
	return &TypeMap{
		Tokens: map[string]models.TransactionType{
			"buy":          models.TypeBuy,
			"purchase":     models.TypeBuy,
			"subscription": models.TypeBuy,
			"申购":           models.TypeBuy,
			"买入":           models.TypeBuy,
			"认购":           models.TypeBuy,
			"sell":         models.TypeSell,
			"redeem":       models.TypeSell,
			"redemption":   models.TypeSell,
			"赎回":           models.TypeSell,
			"卖出":           models.TypeSell,
			"dividend":     models.TypeCashDividend,
			"cash div":     models.TypeCashDividend,
			"现金分红":         models.TypeCashDividend,
			"分红":           models.TypeCashDividend,
			"reinvest":     models.TypeDividendReinvest,
			"reinvestment": models.TypeDividendReinvest,
			"红利再投":         models.TypeDividendReinvest,
			"红利再投资":        models.TypeDividendReinvest,
			"interest":     models.TypeInterest,
			"利息":           models.TypeInterest,
			"fee":          models.TypeFee,
			"charge":       models.TypeFee,
			"管理费":          models.TypeFee,
			"手续费":          models.TypeFee,
			"premium":      models.TypePremiumPayment,
			"保费":           models.TypePremiumPayment,
			"缴费":           models.TypePremiumPayment,
			"vest":         models.TypeVestAcquire,
			"release":      models.TypeVestAcquire,
			"归属":           models.TypeVestAcquire,
		},
		Overrides: []OverrideRule{
			// Fund dividends arrive with a generic "dividend" token that is
			// ambiguous between cash payout and reinvestment; explicit memo
			// text decides.
			{MemoContains: "cash dividend", Type: models.TypeCashDividend},
			{MemoContains: "reinvest", Type: models.TypeDividendReinvest},
			{MemoContains: "红利再投", Type: models.TypeDividendReinvest},
			{MemoContains: "现金分红", Type: models.TypeCashDividend},
		},
	}
}

// Standardizer resolves canonical transaction types.
type Standardizer struct {
	typeMap *TypeMap
	logger  logger.Logger
}

// NewStandardizer creates a standardizer over the given map. A nil map
// uses the default.
func NewStandardizer(typeMap *TypeMap) *Standardizer {
	if typeMap == nil {
		typeMap = DefaultTypeMap()
	}
	return &Standardizer{
		typeMap: typeMap,
		logger:  logger.GetGlobalLogger().WithComponent("type_standardizer"),
	}
}

// Standardize resolves the canonical type for a transaction and stores it
// on the record. It returns false when no mapping resolved; such records
// must be excluded from the canonical ledger, never guessed.
func (s *Standardizer) Standardize(tx *models.CanonicalTransaction) bool {
	// Asset-scoped overrides outrank memo rules: a synthetic asset id plus
	// raw token maps deterministically, bypassing memo ambiguity.
	for i := range s.typeMap.Overrides {
		rule := &s.typeMap.Overrides[i]
		if rule.AssetPattern != "" && rule.matches(tx) {
			tx.Type = rule.Type
			return true
		}
	}
	for i := range s.typeMap.Overrides {
		rule := &s.typeMap.Overrides[i]
		if rule.AssetPattern == "" && rule.matches(tx) {
			tx.Type = rule.Type
			return true
		}
	}

	token := strings.ToLower(strings.TrimSpace(tx.RawType))
	if token != "" {
		if t, ok := s.typeMap.Tokens[token]; ok {
			tx.Type = t
			return true
		}
	}

	// A type pre-assigned upstream (synthetic or bootstrap records) stands
	// when nothing else matched.
	if tx.Type.IsValid() {
		return true
	}

	s.logger.WithFields(logger.Fields{
		"asset_id": tx.AssetID,
		"date":     tx.TransactionDate.Format(models.DateFormat),
		"raw_type": tx.RawType,
	}).Warn("No canonical type for raw transaction token, record will be dropped")
	return false
}
