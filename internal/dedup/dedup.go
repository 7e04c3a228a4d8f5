// Package dedup collapses multiple holdings rows per (date, asset) into one
// canonical row.
//
// Composable behaviors: batch windowing over vendor report dates,
// per-account duplicate collapse, per-key aggregation, and cross-account
// consolidation that keeps the account labels of asset classes tracked
// without per-account granularity.
package dedup

import (
	"sort"
	"strings"
	"time"

	"portfolio-consolidation-service/internal/models"
	"portfolio-consolidation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// Config holds deduplication settings.
type Config struct {
	// WindowDays is the report-date tolerance: rows within this many days
	// of the most recent report date form one logical batch.
	WindowDays int
}

// DefaultConfig uses a five day batch window, wide enough for weekend and
// holiday reporting lag.
func DefaultConfig() *Config {
	return &Config{WindowDays: 5}
}

// LatestBatch returns the rows belonging to the most recent reporting
// batch: every row whose snapshot date falls within windowDays of the
// maximum snapshot date. Rows in the batch are realigned on the batch date
// so slightly lagged vendor rows share one canonical key.
func LatestBatch(rows []*models.CanonicalHolding, windowDays int) []*models.CanonicalHolding {
	if len(rows) == 0 {
		return nil
	}

	var latest time.Time
	for _, row := range rows {
		if row.SnapshotDate.After(latest) {
			latest = row.SnapshotDate
		}
	}
	cutoff := latest.AddDate(0, 0, -windowDays)

	batch := make([]*models.CanonicalHolding, 0, len(rows))
	for _, row := range rows {
		if row.SnapshotDate.After(cutoff) || row.SnapshotDate.Equal(cutoff) {
			clone := *row
			clone.SnapshotDate = latest
			batch = append(batch, &clone)
		}
	}

	if len(batch) < len(rows) {
		logger.GetGlobalLogger().WithComponent("dedup").WithFields(logger.Fields{
			"batch_date":   latest.Format(models.DateFormat),
			"window_days":  windowDays,
			"rows_in":      len(rows),
			"rows_batched": len(batch),
		}).Debug("Selected latest reporting batch")
	}
	return batch
}

// AggregateByAccount collapses rows sharing (snapshot date, asset id,
// account), such as overlapping vendor exports of one account. Quantities
// and market values sum, unit price becomes a quantity-weighted mean,
// qualitative fields take the first non-empty value. Row order of first
// appearance is preserved.
func AggregateByAccount(rows []*models.CanonicalHolding) []*models.CanonicalHolding {
	type aggKey struct {
		models.HoldingKey
		account string
	}
	return aggregate(rows, func(h *models.CanonicalHolding) interface{} {
		return aggKey{h.Key(), h.Account}
	}, false)
}

// AggregateByKey collapses rows sharing the canonical (snapshot date,
// asset id) key into one row, regardless of account. The merged row keeps
// the first non-empty account label. This is the final guarantee that one
// key maps to one row in the consolidated output.
func AggregateByKey(rows []*models.CanonicalHolding) []*models.CanonicalHolding {
	return aggregate(rows, func(h *models.CanonicalHolding) interface{} {
		return h.Key()
	}, false)
}

// ConsolidateAccounts collapses rows sharing (snapshot date, asset id)
// across accounts into a single row, concatenating account identifiers for
// traceability. Used for asset classes tracked without per-account
// granularity, such as a physical commodity spread over several accounts.
func ConsolidateAccounts(rows []*models.CanonicalHolding) []*models.CanonicalHolding {
	return aggregate(rows, func(h *models.CanonicalHolding) interface{} {
		return h.Key()
	}, true)
}

func aggregate(rows []*models.CanonicalHolding, keyOf func(*models.CanonicalHolding) interface{}, mergeAccounts bool) []*models.CanonicalHolding {
	if len(rows) == 0 {
		return nil
	}

	order := make([]interface{}, 0, len(rows))
	groups := map[interface{}][]*models.CanonicalHolding{}
	for _, row := range rows {
		k := keyOf(row)
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], row)
	}

	out := make([]*models.CanonicalHolding, 0, len(order))
	for _, k := range order {
		out = append(out, merge(groups[k], mergeAccounts))
	}
	return out
}

// merge folds a group of rows for one key into a single canonical row.
func merge(group []*models.CanonicalHolding, mergeAccounts bool) *models.CanonicalHolding {
	if len(group) == 1 {
		return group[0]
	}

	result := *group[0]
	quantity := decimal.Zero
	hasQuantity := false
	valueRaw := decimal.Zero
	valueBase := decimal.Zero
	costBase := decimal.Zero
	weightedPrice := decimal.Zero

	accounts := make([]string, 0, len(group))
	seenAccounts := map[string]bool{}

	for _, row := range group {
		if row.Quantity != nil {
			hasQuantity = true
			quantity = quantity.Add(*row.Quantity)
			weightedPrice = weightedPrice.Add(row.MarketPriceUnit.Mul(*row.Quantity))
		}
		valueRaw = valueRaw.Add(row.MarketValueRaw)
		valueBase = valueBase.Add(row.MarketValueBase)
		costBase = costBase.Add(row.CostBasisBase)

		if mergeAccounts && row.Account != "" && !seenAccounts[row.Account] {
			seenAccounts[row.Account] = true
			accounts = append(accounts, row.Account)
		}

		// Qualitative fields: first non-empty wins.
		if result.Account == "" {
			result.Account = row.Account
		}
		if result.AssetName == "" {
			result.AssetName = row.AssetName
		}
		if result.AssetType == "" {
			result.AssetType = row.AssetType
		}
		if result.Unit == "" {
			result.Unit = row.Unit
		}
		if result.Currency == "" {
			result.Currency = row.Currency
		}
		result.Derived = result.Derived || row.Derived
		result.FxFallback = result.FxFallback || row.FxFallback
	}

	if hasQuantity {
		result.Quantity = &quantity
		if !quantity.IsZero() {
			price := weightedPrice.Div(quantity)
			result.MarketPriceUnit = price
		}
	}
	result.MarketValueRaw = valueRaw
	result.MarketValueBase = valueBase
	result.CostBasisBase = costBase
	if mergeAccounts && len(accounts) > 0 {
		sort.Strings(accounts)
		result.Account = strings.Join(accounts, "+")
	}
	return &result
}
