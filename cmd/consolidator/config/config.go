// Package config assembles component configurations from CLI flags and
// the viper configuration file.
package config

import (
	"fmt"
	"strings"

	"portfolio-consolidation-service/internal/dedup"
	"portfolio-consolidation-service/internal/fx"
	"portfolio-consolidation-service/internal/integrate"
	"portfolio-consolidation-service/internal/models"
	"portfolio-consolidation-service/internal/pipeline"
	"portfolio-consolidation-service/internal/report"
	"portfolio-consolidation-service/internal/snapshot"
	"portfolio-consolidation-service/internal/txtype"
	"portfolio-consolidation-service/internal/validate"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// CreateFxConverter builds the currency converter from the base currency
// flag and the fx section of the configuration file:
//
//	fx:
//	  fallback_rates: {USD: 7.1}
//	  rates:
//	    USD:
//	      2024-01-01: 7.0
func CreateFxConverter(v *viper.Viper, baseCurrency string) (*fx.Converter, error) {
	cfg := fx.DefaultConfig()
	if baseCurrency != "" {
		cfg.BaseCurrency = baseCurrency
	}

	fallback := v.GetStringMap("fx.fallback_rates")
	if len(fallback) > 0 {
		cfg.FallbackRates = map[string]decimal.Decimal{}
		for currency := range fallback {
			rate := v.GetFloat64("fx.fallback_rates." + currency)
			cfg.FallbackRates[normalizeCurrency(currency)] = decimal.NewFromFloat(rate)
		}
	}

	converter, err := fx.NewConverter(cfg)
	if err != nil {
		return nil, err
	}

	rates := v.GetStringMap("fx.rates")
	for currency := range rates {
		code := normalizeCurrency(currency)
		series := fx.NewRateSeries(code)
		observations := v.GetStringMapString("fx.rates." + currency)
		for dateStr, rateStr := range observations {
			date, err := models.ParseDate(dateStr)
			if err != nil {
				return nil, fmt.Errorf("fx.rates.%s: invalid date %q: %w", currency, dateStr, err)
			}
			rate, err := decimal.NewFromString(rateStr)
			if err != nil {
				return nil, fmt.Errorf("fx.rates.%s.%s: invalid rate %q: %w", currency, dateStr, rateStr, err)
			}
			series.Add(date, rate)
		}
		if series.Len() > 0 {
			converter.SetSeries(code, series)
		}
	}
	return converter, nil
}

// CreateTypeMap builds the transaction type standardizer inputs from the
// transaction_types section, merged over the built-in defaults.
func CreateTypeMap(v *viper.Viper) *txtype.TypeMap {
	typeMap := txtype.DefaultTypeMap()

	extra := v.GetStringMapString("transaction_types.tokens")
	for token, name := range extra {
		typeMap.Tokens[token] = models.TransactionType(name)
	}

	var overrides []txtype.OverrideRule
	if err := v.UnmarshalKey("transaction_types.overrides", &overrides); err == nil && len(overrides) > 0 {
		typeMap.Overrides = append(overrides, typeMap.Overrides...)
	}
	return typeMap
}

// CreateIntegratorConfig reads bootstrap entries and derived-type settings
// from the integration section.
func CreateIntegratorConfig(v *viper.Viper) (*integrate.Config, error) {
	cfg := integrate.DefaultConfig()
	if err := v.UnmarshalKey("integration.bootstrap", &cfg.Bootstrap); err != nil {
		return nil, fmt.Errorf("integration.bootstrap: %w", err)
	}
	if types := v.GetStringSlice("integration.derive_types"); len(types) > 0 {
		cfg.DeriveTypes = types
	}
	if overrides := v.GetStringMapString("integration.asset_types"); len(overrides) > 0 {
		cfg.AssetTypes = overrides
	}
	return cfg, nil
}

// CreateValidateConfig builds the validation engine configuration.
func CreateValidateConfig(tolerancePercent float64, externalTotal string) (*validate.Config, error) {
	cfg := validate.DefaultConfig()
	if tolerancePercent > 0 {
		cfg.ReconciliationTolerancePercent = tolerancePercent
	}
	if externalTotal != "" {
		total, err := decimal.NewFromString(externalTotal)
		if err != nil {
			return nil, fmt.Errorf("invalid external total %q: %w", externalTotal, err)
		}
		cfg.ExternalTotal = &total
	}
	return cfg, nil
}

// CreateDedupConfig builds the deduplication configuration.
func CreateDedupConfig(windowDays int) *dedup.Config {
	cfg := dedup.DefaultConfig()
	if windowDays > 0 {
		cfg.WindowDays = windowDays
	}
	return cfg
}

// CreateSnapshotStore builds the snapshot store, or nil when no directory
// is configured.
func CreateSnapshotStore(dir string, retentionMonths int) (*snapshot.Store, error) {
	if dir == "" {
		return nil, nil
	}
	return snapshot.NewStore(&snapshot.Config{
		Dir:             dir,
		RetentionMonths: retentionMonths,
	})
}

// CreatePipelineConfig builds the run-level pipeline configuration.
func CreatePipelineConfig(v *viper.Viper, profile string, writeSnapshot, replaceSnapshot bool) *pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Profile = profile
	cfg.WriteSnapshot = writeSnapshot
	cfg.ReplaceSnapshot = replaceSnapshot
	if v.IsSet("pipeline.align_period_end") {
		cfg.AlignPeriodEnd = v.GetBool("pipeline.align_period_end")
	}
	cfg.ConsolidateTypes = v.GetStringSlice("pipeline.consolidate_types")
	return cfg
}

// CreateReportConfig builds the report configuration for an output format.
func CreateReportConfig(format string) *report.Config {
	cfg := report.DefaultConfig()
	cfg.Format = report.OutputFormat(format)
	if cfg.Format == report.FormatJSON || cfg.Format == report.FormatCSV {
		cfg.IncludeTransactions = true
	}
	return cfg
}

func normalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
