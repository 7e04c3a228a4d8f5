// Package integrate unions holdings and transactions from per-provider
// collaborators into the canonical tables.
//
// It fills in deterministic asset identifiers where a provider lacks one,
// derives synthetic holdings for positions that exist only as transaction
// history, and injects explicitly configured bootstrap transactions.
package integrate

import (
	"fmt"
	"strings"
	"time"

	"portfolio-consolidation-service/internal/models"
	"portfolio-consolidation-service/internal/signs"
	"portfolio-consolidation-service/pkg/errors"
	"portfolio-consolidation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// BootstrapEntry is an explicitly configured transaction for a position
// with no recoverable history. These are documented exceptions supplied by
// the operator, never fabricated by the engine.
type BootstrapEntry struct {
	AssetID     string  `mapstructure:"asset_id" json:"asset_id"`
	AssetName   string  `mapstructure:"asset_name" json:"asset_name"`
	Type        string  `mapstructure:"type" json:"type"`
	Date        string  `mapstructure:"date" json:"date"`
	Quantity    string  `mapstructure:"quantity" json:"quantity"`
	PriceUnit   string  `mapstructure:"price_unit" json:"price_unit"`
	AmountGross string  `mapstructure:"amount_gross" json:"amount_gross"`
	Fee         string  `mapstructure:"fee" json:"fee"`
	Currency    string  `mapstructure:"currency" json:"currency"`
	Account     string  `mapstructure:"account" json:"account"`
	Memo        string  `mapstructure:"memo" json:"memo"`
}

// Config holds integration settings.
type Config struct {
	// Bootstrap lists operator-supplied transactions injected into the
	// canonical ledger with an explicit bootstrap flag.
	Bootstrap []BootstrapEntry `mapstructure:"bootstrap"`

	// DeriveTypes names asset types whose holdings are not reported
	// directly and must be derived from transaction history.
	DeriveTypes []string `mapstructure:"derive_types"`

	// AssetTypes maps asset identifiers to an asset type for positions
	// whose transaction history alone does not reveal one.
	AssetTypes map[string]string `mapstructure:"asset_types"`
}

// DefaultConfig derives equity compensation positions and injects nothing.
func DefaultConfig() *Config {
	return &Config{
		DeriveTypes: []string{"equity_compensation"},
	}
}

// Integrator merges per-provider results into the canonical tables.
type Integrator struct {
	config *Config
	logger logger.Logger
}

// NewIntegrator creates an Integrator. A nil config selects DefaultConfig.
func NewIntegrator(config *Config) *Integrator {
	if config == nil {
		config = DefaultConfig()
	}
	return &Integrator{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("integrate"),
	}
}

// AssignAssetID fills in a deterministic asset identifier when the row
// lacks one. Rule order: an external code or ticker wins, then an asset
// type plus name heuristic, then the normalized name alone.
func AssignAssetID(externalCode, assetType, assetName string) string {
	if externalCode != "" {
		return models.NormalizeAssetID(externalCode)
	}
	if assetType != "" && assetName != "" {
		return models.NormalizeAssetID(assetType + "_" + assetName)
	}
	return models.NormalizeAssetID(assetName)
}

// MergeHoldings unions per-provider holdings in provider order, assigning
// asset identifiers to rows that lack one. Rows that still have no
// identity after the naming rules are dropped with a warning.
func (in *Integrator) MergeHoldings(batches ...[]*models.CanonicalHolding) []*models.CanonicalHolding {
	var out []*models.CanonicalHolding
	for _, batch := range batches {
		for _, h := range batch {
			if h.AssetID == "" {
				h.AssetID = AssignAssetID("", h.AssetType, h.AssetName)
			}
			if h.AssetID == "" {
				in.logger.WithFields(logger.Fields{
					"asset_name":    h.AssetName,
					"snapshot_date": h.SnapshotDate.Format(models.DateFormat),
				}).Warn("Dropping holding with no resolvable asset identity")
				continue
			}
			out = append(out, h)
		}
	}
	return out
}

// MergeTransactions unions per-provider transactions and returns the
// ledger sorted by transaction date.
func (in *Integrator) MergeTransactions(batches ...[]*models.CanonicalTransaction) []*models.CanonicalTransaction {
	var out []*models.CanonicalTransaction
	for _, batch := range batches {
		for _, tx := range batch {
			if tx.AssetID == "" {
				tx.AssetID = AssignAssetID("", "", tx.AssetName)
			}
			if tx.AssetID == "" {
				in.logger.WithFields(logger.Fields{
					"asset_name": tx.AssetName,
					"date":       tx.TransactionDate.Format(models.DateFormat),
				}).Warn("Dropping transaction with no resolvable asset identity")
				continue
			}
			out = append(out, tx)
		}
	}
	models.SortTransactions(out)
	return out
}

// DeriveHoldings synthesizes holding rows for configured asset types whose
// positions exist only as transaction history. The derived quantity is the
// signed sum of transaction quantities; the value is that quantity times
// the most recent transaction price that resolves. Zero or negative net
// positions produce no row.
func (in *Integrator) DeriveHoldings(holdings []*models.CanonicalHolding, txs []*models.CanonicalTransaction, asOf time.Time) []*models.CanonicalHolding {
	if len(in.config.DeriveTypes) == 0 {
		return holdings
	}
	derive := map[string]bool{}
	for _, t := range in.config.DeriveTypes {
		derive[strings.ToLower(t)] = true
	}

	held := map[string]bool{}
	for _, h := range holdings {
		held[h.AssetID] = true
	}

	type position struct {
		name      string
		quantity  decimal.Decimal
		unit      string
		lastPrice decimal.Decimal
		currency  string
		account   string
		vested    bool
	}
	positions := map[string]*position{}
	var order []string

	for _, tx := range txs {
		if held[tx.AssetID] {
			continue
		}
		pos, ok := positions[tx.AssetID]
		if !ok {
			pos = &position{name: tx.AssetName, unit: tx.Unit, currency: tx.Currency, account: tx.Account}
			positions[tx.AssetID] = pos
			order = append(order, tx.AssetID)
		}
		if tx.Type == models.TypeVestAcquire {
			pos.vested = true
		}
		if tx.Quantity != nil {
			pos.quantity = pos.quantity.Add(*tx.Quantity)
		}
		// Transactions are date-sorted, so the last positive price wins.
		if tx.PriceUnit.IsPositive() {
			pos.lastPrice = tx.PriceUnit
		}
	}

	for _, assetID := range order {
		pos := positions[assetID]
		assetType := in.typeFor(assetID, pos.vested)
		if !derive[assetType] {
			in.logger.WithFields(logger.Fields{
				"asset_id":   assetID,
				"asset_type": assetType,
			}).Debug("Transaction-only position is not a derivable type")
			continue
		}
		if !pos.quantity.IsPositive() {
			in.logger.WithFields(logger.Fields{
				"asset_id": assetID,
				"quantity": pos.quantity.String(),
			}).Debug("Skipping derived holding with non-positive net position")
			continue
		}
		if pos.lastPrice.IsZero() {
			in.logger.WithField("asset_id", assetID).
				Warn("No resolvable price for derived holding, valuing at zero")
		}

		quantity := pos.quantity
		h := &models.CanonicalHolding{
			SnapshotDate:    models.Midnight(asOf),
			AssetID:         assetID,
			AssetName:       pos.name,
			AssetType:       assetType,
			Quantity:        &quantity,
			Unit:            pos.unit,
			MarketPriceUnit: pos.lastPrice,
			MarketValueRaw:  quantity.Mul(pos.lastPrice),
			Currency:        pos.currency,
			Account:         pos.account,
			Derived:         true,
		}
		holdings = append(holdings, h)
		in.logger.WithFields(logger.Fields{
			"asset_id": assetID,
			"quantity": quantity.String(),
			"value":    h.MarketValueRaw.String(),
		}).Info("Derived holding from transaction history")
	}
	return holdings
}

// typeFor infers an asset type for a transaction-only position. A
// configured per-asset override wins; otherwise vesting history marks the
// position as equity compensation. Positions with neither stay untyped and
// are never derived.
func (in *Integrator) typeFor(assetID string, vested bool) string {
	if t, ok := in.config.AssetTypes[assetID]; ok {
		return strings.ToLower(strings.TrimSpace(t))
	}
	if vested {
		return "equity_compensation"
	}
	return ""
}

// BootstrapTransactions builds canonical transactions from the configured
// bootstrap entries. Each carries the bootstrap flag and canonical signs.
// Malformed entries are returned as errors, not silently dropped.
func (in *Integrator) BootstrapTransactions() ([]*models.CanonicalTransaction, []*errors.ConsolidationError) {
	var out []*models.CanonicalTransaction
	var errs []*errors.ConsolidationError

	for i, entry := range in.config.Bootstrap {
		tx, err := in.buildBootstrap(&entry)
		if err != nil {
			errs = append(errs, errors.Wrap(err, errors.CategoryConfiguration, errors.CodeInvalidConfig,
				fmt.Sprintf("bootstrap entry %d is invalid", i)).
				WithContext("asset_id", entry.AssetID))
			continue
		}
		out = append(out, tx)
		in.logger.WithFields(logger.Fields{
			"asset_id": tx.AssetID,
			"type":     tx.Type.String(),
			"date":     tx.TransactionDate.Format(models.DateFormat),
		}).Info("Injected bootstrap transaction")
	}
	return out, errs
}

func (in *Integrator) buildBootstrap(entry *BootstrapEntry) (*models.CanonicalTransaction, error) {
	if entry.AssetID == "" {
		return nil, fmt.Errorf("asset_id is required")
	}
	txType, ok := models.ParseTransactionType(entry.Type)
	if !ok {
		return nil, fmt.Errorf("unknown transaction type %q", entry.Type)
	}
	date, err := models.ParseDate(entry.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", entry.Date, err)
	}

	tx := &models.CanonicalTransaction{
		AssetID:         models.NormalizeAssetID(entry.AssetID),
		AssetName:       entry.AssetName,
		Type:            txType,
		TransactionDate: date,
		Currency:        entry.Currency,
		Account:         entry.Account,
		Memo:            entry.Memo,
		Bootstrap:       true,
	}
	if entry.Quantity != "" {
		qty, ok := models.ParseAmount(entry.Quantity)
		if !ok {
			return nil, fmt.Errorf("invalid quantity %q", entry.Quantity)
		}
		tx.Quantity = &qty
	}
	if entry.PriceUnit != "" {
		price, ok := models.ParseAmount(entry.PriceUnit)
		if !ok {
			return nil, fmt.Errorf("invalid price_unit %q", entry.PriceUnit)
		}
		tx.PriceUnit = price
	}
	if entry.AmountGross != "" {
		gross, ok := models.ParseAmount(entry.AmountGross)
		if !ok {
			return nil, fmt.Errorf("invalid amount_gross %q", entry.AmountGross)
		}
		tx.AmountGross = gross
	} else if tx.Quantity != nil {
		tx.AmountGross = tx.Quantity.Abs().Mul(tx.PriceUnit)
	}
	if entry.Fee != "" {
		fee, ok := models.ParseAmount(entry.Fee)
		if !ok {
			return nil, fmt.Errorf("invalid fee %q", entry.Fee)
		}
		tx.CommissionFee = fee
	}

	if err := signs.Apply(tx); err != nil {
		return nil, err
	}
	return tx, nil
}
