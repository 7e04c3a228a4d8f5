// Package validate runs independent invariant checks over the canonical
// datasets and reports severity-graded issues.
//
// Checks are pure functions of the input data. They never mutate the
// datasets and never abort the run; every anomaly becomes an Issue.
package validate

import (
	"fmt"
	"sort"
	"strings"

	"portfolio-consolidation-service/internal/models"
	"portfolio-consolidation-service/internal/signs"
	"portfolio-consolidation-service/pkg/errors"
	"portfolio-consolidation-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Severity grades how serious an issue is.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityMajor    Severity = "MAJOR"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
)

// rank orders severities for sorting, most serious first.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityMajor:
		return 1
	case SeverityWarning:
		return 2
	default:
		return 3
	}
}

// Issue is one validation finding. Issues are immutable once emitted.
type Issue struct {
	ID          string                 `json:"id"`
	Severity    Severity               `json:"severity"`
	Check       string                 `json:"check"`
	Description string                 `json:"description"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Suggestion  string                 `json:"suggestion,omitempty"`
}

func newIssue(severity Severity, check, description, suggestion string, details map[string]interface{}) *Issue {
	return &Issue{
		ID:          uuid.New().String(),
		Severity:    severity,
		Check:       check,
		Description: description,
		Details:     details,
		Suggestion:  suggestion,
	}
}

// Report is the outcome of one validation run.
type Report struct {
	Issues []*Issue         `json:"issues"`
	Counts map[Severity]int `json:"counts"`
	Checks []string         `json:"checks"`
	Passed bool             `json:"passed"`
}

// HasCritical reports whether any CRITICAL issue was raised.
func (r *Report) HasCritical() bool {
	return r.Counts[SeverityCritical] > 0
}

func (r *Report) String() string {
	return fmt.Sprintf("%d issues (%d critical, %d major, %d warning, %d info)",
		len(r.Issues), r.Counts[SeverityCritical], r.Counts[SeverityMajor],
		r.Counts[SeverityWarning], r.Counts[SeverityInfo])
}

// Config holds validation thresholds.
type Config struct {
	// ReconciliationTolerancePercent bounds the allowed deviation between
	// the consolidated total and an externally reported total.
	ReconciliationTolerancePercent float64 `mapstructure:"reconciliation_tolerance_percent"`

	// NumericNullRatioThreshold bounds the fraction of missing values a
	// numeric field may carry before the schema check flags it.
	NumericNullRatioThreshold float64 `mapstructure:"numeric_null_ratio_threshold"`

	// RequiredHoldingFields lists fields the schema check requires on
	// every holding. Empty selects the defaults.
	RequiredHoldingFields []string `mapstructure:"required_holding_fields"`

	// ExternalTotal is an externally reported portfolio total in base
	// currency, used by the value reconciliation check. Nil skips it.
	ExternalTotal *decimal.Decimal `mapstructure:"-"`
}

// DefaultConfig applies a 1.5 percent reconciliation tolerance and a 20
// percent numeric null-ratio threshold.
func DefaultConfig() *Config {
	return &Config{
		ReconciliationTolerancePercent: 1.5,
		NumericNullRatioThreshold:      0.2,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ReconciliationTolerancePercent < 0 || c.ReconciliationTolerancePercent > 100 {
		return errors.ConfigurationError(errors.CodeInvalidConfig,
			"validation.reconciliation_tolerance_percent", c.ReconciliationTolerancePercent)
	}
	if c.NumericNullRatioThreshold < 0 || c.NumericNullRatioThreshold > 1 {
		return errors.ConfigurationError(errors.CodeInvalidConfig,
			"validation.numeric_null_ratio_threshold", c.NumericNullRatioThreshold)
	}
	return nil
}

// Engine runs the validation checks.
type Engine struct {
	config *Config
	logger logger.Logger
}

// NewEngine creates an Engine. A nil config selects DefaultConfig.
func NewEngine(config *Config) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("validate"),
	}, nil
}

// Run executes every check against the canonical datasets.
func (e *Engine) Run(holdings []*models.CanonicalHolding, txs []*models.CanonicalTransaction) *Report {
	report := &Report{Counts: map[Severity]int{}}

	checks := []struct {
		name string
		fn   func([]*models.CanonicalHolding, []*models.CanonicalTransaction) []*Issue
	}{
		{"classification_coverage", e.checkClassificationCoverage},
		{"schema_integrity", e.checkSchemaIntegrity},
		{"referential_integrity", e.checkReferentialIntegrity},
		{"sign_coherence", e.checkSignCoherence},
		{"value_reconciliation", e.checkValueReconciliation},
	}

	for _, check := range checks {
		issues := check.fn(holdings, txs)
		report.Checks = append(report.Checks, check.name)
		for _, issue := range issues {
			report.Issues = append(report.Issues, issue)
			report.Counts[issue.Severity]++
		}
	}

	sort.SliceStable(report.Issues, func(i, j int) bool {
		return report.Issues[i].Severity.rank() < report.Issues[j].Severity.rank()
	})
	report.Passed = report.Counts[SeverityCritical] == 0 && report.Counts[SeverityMajor] == 0

	e.logger.WithFields(logger.Fields{
		"issues":   len(report.Issues),
		"critical": report.Counts[SeverityCritical],
		"major":    report.Counts[SeverityMajor],
	}).Info("Validation run complete")
	return report
}

// checkClassificationCoverage measures the fraction of portfolio value
// with no asset-type classification. Severity scales with the value
// affected, not the row count.
func (e *Engine) checkClassificationCoverage(holdings []*models.CanonicalHolding, _ []*models.CanonicalTransaction) []*Issue {
	total := decimal.Zero
	unclassified := decimal.Zero
	var missing []string

	for _, h := range holdings {
		value := h.MarketValueBase.Abs()
		total = total.Add(value)
		if strings.TrimSpace(h.AssetType) == "" {
			unclassified = unclassified.Add(value)
			missing = append(missing, h.AssetID)
		}
	}
	if len(missing) == 0 || total.IsZero() {
		return nil
	}

	ratio, _ := unclassified.Div(total).Float64()
	severity := SeverityInfo
	switch {
	case ratio > 0.25:
		severity = SeverityMajor
	case ratio > 0.05:
		severity = SeverityWarning
	}

	return []*Issue{newIssue(severity, "classification_coverage",
		fmt.Sprintf("%.1f%% of portfolio value has no asset-type classification", ratio*100),
		"Add asset-type overrides for the listed assets",
		map[string]interface{}{
			"unclassified_value": unclassified.String(),
			"total_value":        total.String(),
			"asset_ids":          missing,
		})}
}

// checkSchemaIntegrity verifies required fields and numeric null ratios,
// and raises CRITICAL issues for surviving duplicate keys and impossible
// negative quantities.
func (e *Engine) checkSchemaIntegrity(holdings []*models.CanonicalHolding, _ []*models.CanonicalTransaction) []*Issue {
	var issues []*Issue

	seen := map[models.HoldingKey]int{}
	nullQuantity := 0
	var negatives []string

	for _, h := range holdings {
		seen[h.Key()]++
		if h.Quantity == nil {
			nullQuantity++
		} else if h.Quantity.IsNegative() {
			negatives = append(negatives, h.AssetID)
		}
		if h.AssetID == "" {
			issues = append(issues, newIssue(SeverityMajor, "schema_integrity",
				fmt.Sprintf("holding %q has no asset identifier", h.AssetName),
				"Check the source mapping profile for the identifier column", nil))
		}
	}

	for key, count := range seen {
		if count > 1 {
			issues = append(issues, newIssue(SeverityCritical, "schema_integrity",
				fmt.Sprintf("duplicate holding key survived deduplication: %s on %s (%d rows)",
					key.AssetID, key.SnapshotDate, count),
				"Inspect the deduplication window and source report dates",
				map[string]interface{}{
					"code":          string(errors.CodeCriticalDataCorruption),
					"asset_id":      key.AssetID,
					"snapshot_date": key.SnapshotDate,
					"rows":          count,
				}))
		}
	}
	if len(negatives) > 0 {
		issues = append(issues, newIssue(SeverityCritical, "schema_integrity",
			fmt.Sprintf("%d holdings carry a negative quantity", len(negatives)),
			"Negative held quantities indicate corrupted source data or a sign error upstream",
			map[string]interface{}{
				"code":      string(errors.CodeCriticalDataCorruption),
				"asset_ids": negatives,
			}))
	}

	if n := len(holdings); n > 0 {
		ratio := float64(nullQuantity) / float64(n)
		if ratio > e.config.NumericNullRatioThreshold {
			issues = append(issues, newIssue(SeverityWarning, "schema_integrity",
				fmt.Sprintf("%.1f%% of holdings have no quantity, above the %.1f%% threshold",
					ratio*100, e.config.NumericNullRatioThreshold*100),
				"Check whether a source stopped reporting quantities",
				map[string]interface{}{"null_quantity": nullQuantity, "holdings": n}))
		}
	}
	return issues
}

// checkReferentialIntegrity cross-references holdings and transactions.
// A transacted asset with no holding is acceptable only when its net
// position reconciles to zero. A holding with no transaction history is a
// soft warning.
func (e *Engine) checkReferentialIntegrity(holdings []*models.CanonicalHolding, txs []*models.CanonicalTransaction) []*Issue {
	var issues []*Issue

	held := map[string]bool{}
	for _, h := range holdings {
		held[h.AssetID] = true
	}
	netByAsset := map[string]decimal.Decimal{}
	var txOrder []string
	for _, tx := range txs {
		if _, ok := netByAsset[tx.AssetID]; !ok {
			txOrder = append(txOrder, tx.AssetID)
		}
		if tx.Quantity != nil {
			netByAsset[tx.AssetID] = netByAsset[tx.AssetID].Add(*tx.Quantity)
		} else if _, ok := netByAsset[tx.AssetID]; !ok {
			netByAsset[tx.AssetID] = decimal.Zero
		}
	}

	for _, assetID := range txOrder {
		if held[assetID] {
			continue
		}
		net := netByAsset[assetID]
		if net.IsZero() {
			continue
		}
		issues = append(issues, newIssue(SeverityMajor, "referential_integrity",
			fmt.Sprintf("asset %s has a net transacted position of %s but no holding row", assetID, net.String()),
			"Check whether the holdings source covers this asset or enable derived holdings for its type",
			map[string]interface{}{"asset_id": assetID, "net_quantity": net.String()}))
	}

	var unhistoried []string
	for _, h := range holdings {
		if h.Derived {
			continue
		}
		if _, ok := netByAsset[h.AssetID]; !ok {
			unhistoried = append(unhistoried, h.AssetID)
		}
	}
	if len(unhistoried) > 0 {
		issues = append(issues, newIssue(SeverityWarning, "referential_integrity",
			fmt.Sprintf("%d holdings have no transaction history", len(unhistoried)),
			"Consider adding bootstrap entries for long-held positions",
			map[string]interface{}{"asset_ids": unhistoried}))
	}
	return issues
}

// checkSignCoherence verifies that amount_net signs match the canonical
// convention for each transaction type. Severity scales with the
// violation ratio.
func (e *Engine) checkSignCoherence(_ []*models.CanonicalHolding, txs []*models.CanonicalTransaction) []*Issue {
	checked := 0
	var violations []map[string]interface{}

	for _, tx := range txs {
		expected := signs.ExpectedNetSign(tx.Type)
		if expected == 0 || tx.AmountNet.IsZero() {
			continue
		}
		checked++
		if tx.AmountNet.Sign() != expected {
			violations = append(violations, map[string]interface{}{
				"asset_id":   tx.AssetID,
				"type":       tx.Type.String(),
				"date":       tx.TransactionDate.Format(models.DateFormat),
				"amount_net": tx.AmountNet.String(),
			})
		}
	}
	if len(violations) == 0 {
		return nil
	}

	ratio := float64(len(violations)) / float64(checked)
	severity := SeverityWarning
	if ratio > 0.1 {
		severity = SeverityMajor
	}
	return []*Issue{newIssue(severity, "sign_coherence",
		fmt.Sprintf("%d of %d transactions violate the canonical sign convention", len(violations), checked),
		"Run the sign convention engine over the ledger or fix the type map",
		map[string]interface{}{"violations": violations})}
}

// checkValueReconciliation compares the consolidated total against an
// externally reported total within the configured tolerance.
func (e *Engine) checkValueReconciliation(holdings []*models.CanonicalHolding, _ []*models.CanonicalTransaction) []*Issue {
	if e.config.ExternalTotal == nil {
		return nil
	}
	external := *e.config.ExternalTotal
	if external.IsZero() {
		return nil
	}

	total := decimal.Zero
	for _, h := range holdings {
		total = total.Add(h.MarketValueBase)
	}

	deviation, _ := total.Sub(external).Div(external).Abs().Float64()
	deviationPct := deviation * 100
	if deviationPct <= e.config.ReconciliationTolerancePercent {
		return []*Issue{newIssue(SeverityInfo, "value_reconciliation",
			fmt.Sprintf("consolidated total reconciles within %.2f%% of the reported total", deviationPct),
			"",
			map[string]interface{}{
				"consolidated_total": total.String(),
				"external_total":     external.String(),
				"deviation_percent":  deviationPct,
			})}
	}

	severity := SeverityMajor
	if deviationPct > 2*e.config.ReconciliationTolerancePercent {
		severity = SeverityCritical
	}
	return []*Issue{newIssue(severity, "value_reconciliation",
		fmt.Sprintf("consolidated total %s deviates %.2f%% from reported total %s, tolerance %.2f%%",
			total.String(), deviationPct, external.String(), e.config.ReconciliationTolerancePercent),
		"Check for missing sources, stale FX rates, or unreported accounts",
		map[string]interface{}{
			"code":               string(errors.CodeReconciliationMismatch),
			"consolidated_total": total.String(),
			"external_total":     external.String(),
			"deviation_percent":  deviationPct,
			"tolerance_percent":  e.config.ReconciliationTolerancePercent,
		})}
}
