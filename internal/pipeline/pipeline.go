// Package pipeline wires the consolidation stages into one synchronous,
// batch-oriented run.
//
// A run ingests every source, cleans and transforms its tables, applies
// type standardization and sign conventions, deduplicates and merges
// holdings, converts to the base currency, validates, and optionally
// persists a snapshot. Per-source failures degrade the run with logged
// errors; only a fully unusable input set fails it.
package pipeline

import (
	"time"

	"portfolio-consolidation-service/internal/cleaner"
	"portfolio-consolidation-service/internal/dedup"
	"portfolio-consolidation-service/internal/fx"
	"portfolio-consolidation-service/internal/integrate"
	"portfolio-consolidation-service/internal/mapping"
	"portfolio-consolidation-service/internal/models"
	"portfolio-consolidation-service/internal/signs"
	"portfolio-consolidation-service/internal/snapshot"
	"portfolio-consolidation-service/internal/tabular"
	"portfolio-consolidation-service/internal/txtype"
	"portfolio-consolidation-service/internal/validate"
	"portfolio-consolidation-service/pkg/errors"
	"portfolio-consolidation-service/pkg/logger"

	"github.com/google/uuid"
)

// Config holds run-level settings not owned by a single stage.
type Config struct {
	// Profile names the column mapping profile to resolve.
	Profile string `mapstructure:"profile"`

	// AlignPeriodEnd normalizes holding snapshot dates to month-end and
	// collapses duplicate periods by keep-last.
	AlignPeriodEnd bool `mapstructure:"align_period_end"`

	// ConsolidateTypes lists asset types tracked without per-account
	// granularity; their merged rows keep every contributing account
	// label, concatenated.
	ConsolidateTypes []string `mapstructure:"consolidate_types"`

	// WriteSnapshot persists the consolidated holdings after validation.
	WriteSnapshot bool `mapstructure:"write_snapshot"`

	// ReplaceSnapshot allows overwriting a snapshot already stored for
	// the run's date.
	ReplaceSnapshot bool `mapstructure:"replace_snapshot"`
}

// DefaultConfig aligns snapshots on month-end and writes no snapshot.
func DefaultConfig() *Config {
	return &Config{AlignPeriodEnd: true}
}

// SourceStats records what one source contributed to a run.
type SourceStats struct {
	Source              string `json:"source"`
	HoldingsLoaded      int    `json:"holdings_loaded"`
	TransactionsLoaded  int    `json:"transactions_loaded"`
	TransactionsDropped int    `json:"transactions_dropped"`
	Failed              bool   `json:"failed"`
	Error               string `json:"error,omitempty"`
}

// Stats summarizes a whole run.
type Stats struct {
	Sources           []*SourceStats `json:"sources"`
	HoldingsTotal     int            `json:"holdings_total"`
	TransactionsTotal int            `json:"transactions_total"`
	DerivedHoldings   int            `json:"derived_holdings"`
	BootstrapInjected int            `json:"bootstrap_injected"`
	SnapshotWritten   bool           `json:"snapshot_written"`
	SnapshotsPruned   []string       `json:"snapshots_pruned,omitempty"`
	Duration          time.Duration  `json:"duration"`
}

// Result is the immutable outcome of one run.
type Result struct {
	RunID        string                         `json:"run_id"`
	GeneratedAt  time.Time                      `json:"generated_at"`
	SnapshotDate time.Time                      `json:"snapshot_date"`
	Holdings     []*models.CanonicalHolding     `json:"holdings"`
	Transactions []*models.CanonicalTransaction `json:"transactions"`
	Report       *validate.Report               `json:"report"`
	Stats        *Stats                         `json:"stats"`
}

// Pipeline orchestrates one consolidation run from its stage components.
type Pipeline struct {
	config       *Config
	resolver     *mapping.Resolver
	standardizer *txtype.Standardizer
	converter    *fx.Converter
	dedupConfig  *dedup.Config
	integrator   *integrate.Integrator
	engine       *validate.Engine
	store        *snapshot.Store
	logger       logger.Logger
}

// Options collects the stage components a Pipeline runs with. Nil fields
// select stage defaults; a nil Store disables snapshot persistence.
type Options struct {
	Config       *Config
	Resolver     *mapping.Resolver
	Standardizer *txtype.Standardizer
	Converter    *fx.Converter
	Dedup        *dedup.Config
	Integrator   *integrate.Integrator
	Engine       *validate.Engine
	Store        *snapshot.Store
}

// New assembles a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Config == nil {
		opts.Config = DefaultConfig()
	}
	if opts.Resolver == nil {
		opts.Resolver = mapping.NewResolver(func() (map[string]*mapping.Profile, error) {
			return nil, nil
		})
	}
	if opts.Standardizer == nil {
		opts.Standardizer = txtype.NewStandardizer(nil)
	}
	if opts.Converter == nil {
		converter, err := fx.NewConverter(nil)
		if err != nil {
			return nil, err
		}
		opts.Converter = converter
	}
	if opts.Dedup == nil {
		opts.Dedup = dedup.DefaultConfig()
	}
	if opts.Integrator == nil {
		opts.Integrator = integrate.NewIntegrator(nil)
	}
	if opts.Engine == nil {
		engine, err := validate.NewEngine(nil)
		if err != nil {
			return nil, err
		}
		opts.Engine = engine
	}
	return &Pipeline{
		config:       opts.Config,
		resolver:     opts.Resolver,
		standardizer: opts.Standardizer,
		converter:    opts.Converter,
		dedupConfig:  opts.Dedup,
		integrator:   opts.Integrator,
		engine:       opts.Engine,
		store:        opts.Store,
		logger:       logger.GetGlobalLogger().WithComponent("pipeline"),
	}, nil
}

// Run executes one consolidation over the given sources.
func (p *Pipeline) Run(sources []tabular.Source) (*Result, error) {
	start := time.Now()
	runID := uuid.New().String()
	log := p.logger.WithField("run_id", runID)
	log.WithField("sources", len(sources)).Info("Starting consolidation run")

	stats := &Stats{}
	var holdingBatches [][]*models.CanonicalHolding
	var txBatches [][]*models.CanonicalTransaction

	for _, source := range sources {
		srcStats := &SourceStats{Source: source.Name()}
		stats.Sources = append(stats.Sources, srcStats)

		holdings, txs, err := p.ingestSource(source, srcStats)
		if err != nil {
			srcStats.Failed = true
			srcStats.Error = err.Error()
			log.WithError(err).WithField("source", source.Name()).
				Error("Source failed, continuing with remaining sources")
			continue
		}
		holdingBatches = append(holdingBatches, holdings)
		txBatches = append(txBatches, txs)
	}

	if len(holdingBatches) == 0 && len(txBatches) == 0 {
		return nil, errors.New(errors.CategorySource, errors.CodeMissingSourceData,
			"no source produced any usable data").
			WithSuggestion("Check the source directory and the per-source errors in the log")
	}

	// Bootstrap entries join the ledger before sorting so derived
	// positions see their full history.
	bootstrap, bootErrs := p.integrator.BootstrapTransactions()
	if len(bootErrs) > 0 {
		summary := errors.NewErrorSummary(bootErrs)
		entry := log.WithError(summary)
		if summary.HasCategory(errors.CategoryConfiguration) {
			entry = entry.WithField("suggestion", "review the bootstrap entries in the configuration")
		}
		entry.Warn("Skipping invalid bootstrap entries")
	}
	if len(bootstrap) > 0 {
		txBatches = append(txBatches, bootstrap)
		stats.BootstrapInjected = len(bootstrap)
	}

	holdings := p.integrator.MergeHoldings(holdingBatches...)
	transactions := p.integrator.MergeTransactions(txBatches...)

	snapshotDate := p.snapshotDate(holdings, transactions)

	before := len(holdings)
	holdings = p.integrator.DeriveHoldings(holdings, transactions, snapshotDate)
	stats.DerivedHoldings = len(holdings) - before

	holdings = p.collapseHoldings(holdings)

	for _, h := range holdings {
		p.converter.ConvertHolding(h)
	}

	report := p.engine.Run(holdings, transactions)

	if p.config.WriteSnapshot && p.store != nil {
		if err := p.store.Write(snapshotDate, holdings, p.config.ReplaceSnapshot); err != nil {
			log.WithError(err).Error("Snapshot write failed")
		} else {
			stats.SnapshotWritten = true
			pruned, err := p.store.Prune(snapshotDate)
			if err != nil {
				log.WithError(err).Warn("Snapshot pruning failed")
			}
			stats.SnapshotsPruned = pruned
		}
	}

	stats.HoldingsTotal = len(holdings)
	stats.TransactionsTotal = len(transactions)
	stats.Duration = time.Since(start)

	log.WithFields(logger.Fields{
		"holdings":     stats.HoldingsTotal,
		"transactions": stats.TransactionsTotal,
		"issues":       len(report.Issues),
		"duration":     stats.Duration.String(),
	}).Info("Consolidation run complete")

	return &Result{
		RunID:        runID,
		GeneratedAt:  start.UTC(),
		SnapshotDate: snapshotDate,
		Holdings:     holdings,
		Transactions: transactions,
		Report:       report,
		Stats:        stats,
	}, nil
}

// ingestSource loads, cleans and transforms one source's tables.
func (p *Pipeline) ingestSource(source tabular.Source, srcStats *SourceStats) ([]*models.CanonicalHolding, []*models.CanonicalTransaction, error) {
	rawHoldings, err := source.Holdings()
	if err != nil {
		return nil, nil, err
	}
	rawTxs, err := source.Transactions()
	if err != nil {
		return nil, nil, err
	}
	if rawHoldings == nil && rawTxs == nil {
		return nil, nil, errors.MissingSourceData(source.Name(), "holdings or transaction")
	}

	holdings := p.transformHoldings(source.Name(), rawHoldings)
	srcStats.HoldingsLoaded = len(holdings)

	txs, dropped := p.transformTransactions(source.Name(), rawTxs)
	srcStats.TransactionsLoaded = len(txs)
	srcStats.TransactionsDropped = dropped

	// Window and collapse per-account duplicates per source so lagged
	// vendor report dates align before the cross-source merge. Account
	// identity survives here; the cross-source collapse after the merge
	// owns the one-row-per-key guarantee.
	holdings = dedup.LatestBatch(holdings, p.dedupConfig.WindowDays)
	holdings = dedup.AggregateByAccount(holdings)
	return holdings, txs, nil
}

func (p *Pipeline) transformHoldings(sourceName string, raw *models.RawTable) []*models.CanonicalHolding {
	if raw == nil {
		return nil
	}
	opts := cleaner.Options{
		Name:        sourceName + "_holdings",
		Renames:     p.resolver.Resolve("holdings", p.config.Profile),
		DateColumns: []string{"snapshot_date"},
	}
	if p.config.AlignPeriodEnd {
		opts.PeriodEndColumn = "snapshot_date"
		opts.DateColumns = nil
	}
	table, _ := cleaner.Clean(raw, opts)

	log := p.logger.WithField("source", sourceName)
	var out []*models.CanonicalHolding
	for i := 0; i < table.Len(); i++ {
		date, ok := table.Date(i, "snapshot_date")
		if !ok {
			log.WithField("row", i).Warn("Skipping holding row without a snapshot date")
			continue
		}
		h := &models.CanonicalHolding{
			SnapshotDate:    date,
			AssetID:         models.NormalizeAssetID(table.Text(i, "asset_id")),
			AssetName:       table.Text(i, "asset_name"),
			AssetType:       table.Text(i, "asset_type"),
			Unit:            table.Text(i, "unit"),
			CostPriceUnit:   table.Decimal(i, "cost_price_unit"),
			MarketPriceUnit: table.Decimal(i, "market_price_unit"),
			MarketValueRaw:  table.Decimal(i, "market_value_raw"),
			Currency:        table.Text(i, "currency"),
			Account:         table.Text(i, "account"),
		}
		if table.Text(i, "quantity") != "" {
			h.Quantity = models.DecimalPtr(table.Decimal(i, "quantity"))
		}
		if h.MarketValueRaw.IsZero() && h.Quantity != nil && !h.MarketPriceUnit.IsZero() {
			h.MarketValueRaw = h.Quantity.Mul(h.MarketPriceUnit)
		}
		out = append(out, h)
	}
	return out
}

func (p *Pipeline) transformTransactions(sourceName string, raw *models.RawTable) ([]*models.CanonicalTransaction, int) {
	if raw == nil {
		return nil, 0
	}
	table, _ := cleaner.Clean(raw, cleaner.Options{
		Name:        sourceName + "_transactions",
		Renames:     p.resolver.Resolve("transactions", p.config.Profile),
		DateColumns: []string{"transaction_date"},
	})

	log := p.logger.WithField("source", sourceName)
	var out []*models.CanonicalTransaction
	dropped := 0
	for i := 0; i < table.Len(); i++ {
		date, ok := table.Date(i, "transaction_date")
		if !ok {
			log.WithField("row", i).Warn("Skipping transaction row without a date")
			dropped++
			continue
		}
		tx := &models.CanonicalTransaction{
			AssetID:         models.NormalizeAssetID(table.Text(i, "asset_id")),
			AssetName:       table.Text(i, "asset_name"),
			TransactionDate: date,
			Unit:            table.Text(i, "unit"),
			PriceUnit:       table.Decimal(i, "price_unit"),
			AmountGross:     table.Decimal(i, "amount_gross"),
			CommissionFee:   table.Decimal(i, "commission_fee"),
			Currency:        table.Text(i, "currency"),
			Account:         table.Text(i, "account"),
			Memo:            table.Text(i, "memo"),
			RawType:         table.Text(i, "raw_type"),
		}
		if table.Text(i, "quantity") != "" {
			tx.Quantity = models.DecimalPtr(table.Decimal(i, "quantity"))
		}
		if tx.AmountGross.IsZero() && tx.Quantity != nil && !tx.PriceUnit.IsZero() {
			tx.AmountGross = tx.Quantity.Abs().Mul(tx.PriceUnit)
		}

		if !p.standardizer.Standardize(tx) {
			dropped++
			continue
		}
		if err := signs.Apply(tx); err != nil {
			log.WithError(err).WithField("asset_id", tx.AssetID).
				Warn("Dropping transaction with no sign convention")
			dropped++
			continue
		}
		out = append(out, tx)
	}
	return out, dropped
}

// collapseHoldings folds the merged holdings down to one row per
// canonical (snapshot date, asset id) key. Configured asset types keep
// their account labels concatenated; everything else aggregates with the
// first non-empty account label.
func (p *Pipeline) collapseHoldings(holdings []*models.CanonicalHolding) []*models.CanonicalHolding {
	if len(p.config.ConsolidateTypes) == 0 {
		return dedup.AggregateByKey(holdings)
	}
	consolidate := map[string]bool{}
	for _, t := range p.config.ConsolidateTypes {
		consolidate[t] = true
	}

	var subject, rest []*models.CanonicalHolding
	for _, h := range holdings {
		if consolidate[h.AssetType] {
			subject = append(subject, h)
		} else {
			rest = append(rest, h)
		}
	}
	return append(dedup.AggregateByKey(rest), dedup.ConsolidateAccounts(subject)...)
}

// snapshotDate picks the run's snapshot date: the latest holding date,
// else the latest transaction date, else today.
func (p *Pipeline) snapshotDate(holdings []*models.CanonicalHolding, txs []*models.CanonicalTransaction) time.Time {
	var latest time.Time
	for _, h := range holdings {
		if h.SnapshotDate.After(latest) {
			latest = h.SnapshotDate
		}
	}
	if latest.IsZero() {
		for _, tx := range txs {
			if tx.TransactionDate.After(latest) {
				latest = tx.TransactionDate
			}
		}
	}
	if latest.IsZero() {
		latest = models.Midnight(time.Now().UTC())
	}
	return latest
}
