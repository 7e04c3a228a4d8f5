package validate

import (
	"testing"
	"time"

	"portfolio-consolidation-service/internal/models"

	"github.com/shopspring/decimal"
)

func date(s string) time.Time {
	d, err := time.Parse(models.DateFormat, s)
	if err != nil {
		panic(err)
	}
	return d
}

func holding(assetID, assetType string, valueBase float64, quantity *float64) *models.CanonicalHolding {
	h := &models.CanonicalHolding{
		SnapshotDate:    date("2024-03-31"),
		AssetID:         assetID,
		AssetName:       assetID,
		AssetType:       assetType,
		MarketValueBase: decimal.NewFromFloat(valueBase),
		Currency:        "CNY",
	}
	if quantity != nil {
		q := decimal.NewFromFloat(*quantity)
		h.Quantity = &q
	}
	return h
}

func qty(v float64) *float64 { return &v }

func newEngine(t *testing.T, config *Config) *Engine {
	t.Helper()
	e, err := NewEngine(config)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func issuesFor(report *Report, check string) []*Issue {
	var out []*Issue
	for _, issue := range report.Issues {
		if issue.Check == check {
			out = append(out, issue)
		}
	}
	return out
}

func TestRun_CleanPortfolioPasses(t *testing.T) {
	e := newEngine(t, nil)
	holdings := []*models.CanonicalHolding{
		holding("FUND_X", "fund", 10000, qty(100)),
	}
	netQty := decimal.NewFromInt(100)
	txs := []*models.CanonicalTransaction{
		{
			AssetID:         "FUND_X",
			Type:            models.TypeBuy,
			TransactionDate: date("2024-01-10"),
			Quantity:        &netQty,
			AmountNet:       decimal.NewFromInt(-10000),
		},
	}

	report := e.Run(holdings, txs)

	if !report.Passed {
		t.Errorf("Passed = false, issues: %v", report.Issues)
	}
	if len(report.Checks) != 5 {
		t.Errorf("Checks = %v, want all five", report.Checks)
	}
}

func TestClassificationCoverage_SeverityScalesWithValue(t *testing.T) {
	e := newEngine(t, nil)

	tests := []struct {
		name             string
		unclassifiedPart float64
		classifiedPart   float64
		want             Severity
	}{
		{"major above quarter", 30000, 70000, SeverityMajor},
		{"warning above five percent", 10000, 90000, SeverityWarning},
		{"info below five percent", 2000, 98000, SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			holdings := []*models.CanonicalHolding{
				holding("UNTYPED", "", tt.unclassifiedPart, qty(1)),
				holding("TYPED", "fund", tt.classifiedPart, qty(1)),
			}
			issues := issuesFor(e.Run(holdings, nil), "classification_coverage")
			if len(issues) != 1 {
				t.Fatalf("issues = %d, want 1", len(issues))
			}
			if issues[0].Severity != tt.want {
				t.Errorf("severity = %s, want %s", issues[0].Severity, tt.want)
			}
		})
	}
}

func TestSchemaIntegrity_DuplicateKeyIsCritical(t *testing.T) {
	e := newEngine(t, nil)
	holdings := []*models.CanonicalHolding{
		holding("FUND_X", "fund", 5000, qty(50)),
		holding("FUND_X", "fund", 5000, qty(50)),
	}

	report := e.Run(holdings, nil)

	if !report.HasCritical() {
		t.Fatal("duplicate holding key should raise a CRITICAL issue")
	}
	if report.Passed {
		t.Error("Passed = true with a critical issue")
	}
}

func TestSchemaIntegrity_NegativeQuantityIsCritical(t *testing.T) {
	e := newEngine(t, nil)
	holdings := []*models.CanonicalHolding{
		holding("SHORTED", "fund", 5000, qty(-10)),
	}

	issues := issuesFor(e.Run(holdings, nil), "schema_integrity")
	if len(issues) != 1 || issues[0].Severity != SeverityCritical {
		t.Errorf("issues = %v, want one CRITICAL", issues)
	}
}

func TestSchemaIntegrity_NullQuantityRatio(t *testing.T) {
	e := newEngine(t, &Config{
		ReconciliationTolerancePercent: 1.5,
		NumericNullRatioThreshold:      0.2,
	})
	// 2 of 4 holdings without quantity, above the 20% threshold.
	holdings := []*models.CanonicalHolding{
		holding("A", "fund", 1000, qty(1)),
		holding("B", "fund", 1000, qty(1)),
		holding("POLICY_1", "insurance", 1000, nil),
		holding("POLICY_2", "insurance", 1000, nil),
	}

	issues := issuesFor(e.Run(holdings, nil), "schema_integrity")
	if len(issues) != 1 || issues[0].Severity != SeverityWarning {
		t.Errorf("issues = %v, want one WARNING for the null-quantity ratio", issues)
	}
}

func TestReferentialIntegrity_NetZeroPositionIsExempt(t *testing.T) {
	e := newEngine(t, nil)
	holdings := []*models.CanonicalHolding{
		holding("FUND_X", "fund", 1000, qty(10)),
	}
	buy := decimal.NewFromInt(50)
	sell := decimal.NewFromInt(-50)
	open := decimal.NewFromInt(10)
	txs := []*models.CanonicalTransaction{
		{AssetID: "FUND_X", Type: models.TypeBuy, TransactionDate: date("2024-01-01"), Quantity: &open, AmountNet: decimal.NewFromInt(-1000)},
		{AssetID: "CLOSED", Type: models.TypeBuy, TransactionDate: date("2024-01-01"), Quantity: &buy, AmountNet: decimal.NewFromInt(-500)},
		{AssetID: "CLOSED", Type: models.TypeSell, TransactionDate: date("2024-02-01"), Quantity: &sell, AmountNet: decimal.NewFromInt(520)},
	}

	issues := issuesFor(e.Run(holdings, txs), "referential_integrity")
	if len(issues) != 0 {
		t.Errorf("issues = %v, want none for a closed position", issues)
	}
}

func TestReferentialIntegrity_OpenPositionWithoutHolding(t *testing.T) {
	e := newEngine(t, nil)
	open := decimal.NewFromInt(50)
	txs := []*models.CanonicalTransaction{
		{AssetID: "ORPHAN", Type: models.TypeBuy, TransactionDate: date("2024-01-01"), Quantity: &open, AmountNet: decimal.NewFromInt(-500)},
	}

	issues := issuesFor(e.Run(nil, txs), "referential_integrity")
	if len(issues) != 1 || issues[0].Severity != SeverityMajor {
		t.Errorf("issues = %v, want one MAJOR for the orphan position", issues)
	}
}

func TestReferentialIntegrity_UnhistoriedHoldingWarns(t *testing.T) {
	e := newEngine(t, nil)
	legacy := holding("LEGACY", "fund", 1000, qty(10))
	derived := holding("RSU_ACME", "equity_compensation", 900, qty(60))
	derived.Derived = true

	issues := issuesFor(e.Run([]*models.CanonicalHolding{legacy, derived}, nil), "referential_integrity")
	if len(issues) != 1 || issues[0].Severity != SeverityWarning {
		t.Fatalf("issues = %v, want one WARNING", issues)
	}
	ids, _ := issues[0].Details["asset_ids"].([]string)
	if len(ids) != 1 || ids[0] != "LEGACY" {
		t.Errorf("flagged assets = %v, want only LEGACY (derived rows exempt)", ids)
	}
}

func TestSignCoherence(t *testing.T) {
	e := newEngine(t, nil)
	txs := []*models.CanonicalTransaction{
		{AssetID: "A", Type: models.TypeBuy, TransactionDate: date("2024-01-01"), AmountNet: decimal.NewFromInt(500)},
		{AssetID: "B", Type: models.TypeSell, TransactionDate: date("2024-01-02"), AmountNet: decimal.NewFromInt(480)},
	}

	issues := issuesFor(e.Run(nil, txs), "sign_coherence")
	if len(issues) != 1 {
		t.Fatalf("issues = %d, want 1", len(issues))
	}
	// One violation out of two checked is above the 10% ratio.
	if issues[0].Severity != SeverityMajor {
		t.Errorf("severity = %s, want MAJOR", issues[0].Severity)
	}
}

func TestSignCoherence_ZeroNetSkipped(t *testing.T) {
	e := newEngine(t, nil)
	txs := []*models.CanonicalTransaction{
		{AssetID: "A", Type: models.TypeBuy, TransactionDate: date("2024-01-01"), AmountNet: decimal.Zero},
	}

	if issues := issuesFor(e.Run(nil, txs), "sign_coherence"); len(issues) != 0 {
		t.Errorf("issues = %v, want none for zero-net transactions", issues)
	}
}

func TestValueReconciliation(t *testing.T) {
	external := decimal.NewFromInt(1000000)

	tests := []struct {
		name         string
		consolidated float64
		want         Severity
	}{
		// 0.5% off at a 1.5% tolerance.
		{"within tolerance", 995000, SeverityInfo},
		// 2% off: over tolerance but under twice it.
		{"major deviation", 980000, SeverityMajor},
		// 5% off: beyond twice the tolerance.
		{"critical deviation", 950000, SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, &Config{
				ReconciliationTolerancePercent: 1.5,
				NumericNullRatioThreshold:      0.2,
				ExternalTotal:                  &external,
			})
			holdings := []*models.CanonicalHolding{
				holding("PORTFOLIO", "fund", tt.consolidated, qty(1)),
			}

			issues := issuesFor(e.Run(holdings, nil), "value_reconciliation")
			if len(issues) != 1 {
				t.Fatalf("issues = %d, want 1", len(issues))
			}
			if issues[0].Severity != tt.want {
				t.Errorf("severity = %s, want %s", issues[0].Severity, tt.want)
			}
		})
	}
}

func TestValueReconciliation_SkippedWithoutExternalTotal(t *testing.T) {
	e := newEngine(t, nil)
	holdings := []*models.CanonicalHolding{holding("A", "fund", 1000, qty(1))}

	if issues := issuesFor(e.Run(holdings, nil), "value_reconciliation"); len(issues) != 0 {
		t.Errorf("issues = %v, want none without an external total", issues)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"defaults", *DefaultConfig(), false},
		{"tolerance too high", Config{ReconciliationTolerancePercent: 150, NumericNullRatioThreshold: 0.2}, true},
		{"negative tolerance", Config{ReconciliationTolerancePercent: -1, NumericNullRatioThreshold: 0.2}, true},
		{"null ratio above one", Config{ReconciliationTolerancePercent: 1.5, NumericNullRatioThreshold: 1.5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
