// Package report renders consolidation results for people and machines.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"portfolio-consolidation-service/internal/models"
	"portfolio-consolidation-service/internal/pipeline"
	"portfolio-consolidation-service/internal/validate"
)

// OutputFormat selects how a result is rendered.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported.
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// Config holds report rendering options.
type Config struct {
	Format OutputFormat `json:"format"`

	IncludeHoldings     bool `json:"include_holdings"`
	IncludeTransactions bool `json:"include_transactions"`
	IncludeIssues       bool `json:"include_issues"`
	IncludeSourceStats  bool `json:"include_source_stats"`

	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultConfig renders a console report with holdings and issues.
func DefaultConfig() *Config {
	return &Config{
		Format:              FormatConsole,
		IncludeHoldings:     true,
		IncludeTransactions: false,
		IncludeIssues:       true,
		IncludeSourceStats:  true,
		CSVDelimiter:        ',',
		CSVHeaders:          true,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	return nil
}

// Generator renders pipeline results.
type Generator struct {
	config *Config
}

// NewGenerator creates a Generator. A nil config selects DefaultConfig.
func NewGenerator(config *Config) (*Generator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &Generator{config: config}, nil
}

// Generate renders the result to the writer in the configured format.
func (g *Generator) Generate(result *pipeline.Result, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}
	switch g.config.Format {
	case FormatConsole:
		return g.generateConsole(result, writer)
	case FormatJSON:
		return g.generateJSON(result, writer)
	case FormatCSV:
		return g.generateCSV(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", g.config.Format)
	}
}

func (g *Generator) generateConsole(result *pipeline.Result, writer io.Writer) error {
	fmt.Fprintf(writer, "CONSOLIDATION REPORT\n")
	fmt.Fprintf(writer, "Run: %s\n", result.RunID)
	fmt.Fprintf(writer, "Generated: %s\n", result.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Snapshot Date: %s\n\n", result.SnapshotDate.Format(models.DateFormat))

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	fmt.Fprintf(writer, "Holdings:       %d\n", result.Stats.HoldingsTotal)
	fmt.Fprintf(writer, "Transactions:   %d\n", result.Stats.TransactionsTotal)
	fmt.Fprintf(writer, "Derived:        %d\n", result.Stats.DerivedHoldings)
	fmt.Fprintf(writer, "Bootstrap:      %d\n", result.Stats.BootstrapInjected)
	fmt.Fprintf(writer, "Validation:     %s\n\n", result.Report.String())

	if g.config.IncludeSourceStats && len(result.Stats.Sources) > 0 {
		fmt.Fprintf(writer, "=== SOURCES ===\n")
		for _, src := range result.Stats.Sources {
			status := "ok"
			if src.Failed {
				status = "FAILED: " + src.Error
			}
			fmt.Fprintf(writer, "%-20s holdings=%-6d transactions=%-6d dropped=%-4d %s\n",
				src.Source, src.HoldingsLoaded, src.TransactionsLoaded, src.TransactionsDropped, status)
		}
		fmt.Fprintf(writer, "\n")
	}

	if g.config.IncludeHoldings && len(result.Holdings) > 0 {
		fmt.Fprintf(writer, "=== HOLDINGS ===\n")
		fmt.Fprintf(writer, "%-20s %-12s %14s %16s %8s %s\n",
			"ASSET", "TYPE", "QUANTITY", "VALUE (BASE)", "CCY", "FLAGS")
		for _, h := range result.Holdings {
			quantity := "-"
			if h.Quantity != nil {
				quantity = h.Quantity.StringFixed(2)
			}
			fmt.Fprintf(writer, "%-20s %-12s %14s %16s %8s %s\n",
				truncate(h.AssetID, 20), truncate(h.AssetType, 12), quantity,
				h.MarketValueBase.StringFixed(2), h.Currency, holdingFlags(h))
		}
		fmt.Fprintf(writer, "\n")
	}

	if g.config.IncludeTransactions && len(result.Transactions) > 0 {
		fmt.Fprintf(writer, "=== TRANSACTIONS ===\n")
		for _, tx := range result.Transactions {
			fmt.Fprintf(writer, "%s %-20s %-18s net=%s\n",
				tx.TransactionDate.Format(models.DateFormat), truncate(tx.AssetID, 20),
				tx.Type.String(), tx.AmountNet.StringFixed(2))
		}
		fmt.Fprintf(writer, "\n")
	}

	if g.config.IncludeIssues && len(result.Report.Issues) > 0 {
		fmt.Fprintf(writer, "=== VALIDATION ISSUES ===\n")
		g.printIssues(result.Report.Issues, writer)
	}
	return nil
}

// printIssues renders issues in severity order, most serious first. The
// report already sorts them that way.
func (g *Generator) printIssues(issues []*validate.Issue, writer io.Writer) {
	for _, issue := range issues {
		fmt.Fprintf(writer, "[%s] %s: %s\n", issue.Severity, issue.Check, issue.Description)
		if issue.Suggestion != "" {
			fmt.Fprintf(writer, "         suggestion: %s\n", issue.Suggestion)
		}
	}
}

func (g *Generator) generateJSON(result *pipeline.Result, writer io.Writer) error {
	filtered := map[string]interface{}{
		"run_id":        result.RunID,
		"generated_at":  result.GeneratedAt,
		"snapshot_date": result.SnapshotDate.Format(models.DateFormat),
		"report":        result.Report,
	}
	if g.config.IncludeHoldings {
		filtered["holdings"] = result.Holdings
	}
	if g.config.IncludeTransactions {
		filtered["transactions"] = result.Transactions
	}
	if g.config.IncludeSourceStats {
		filtered["stats"] = result.Stats
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(filtered)
}

func (g *Generator) generateCSV(result *pipeline.Result, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = g.config.CSVDelimiter
	defer csvWriter.Flush()

	if g.config.CSVHeaders {
		headers := []string{
			"Record_Type",
			"Date",
			"Asset_ID",
			"Asset_Name",
			"Asset_Type",
			"Quantity",
			"Value_Base",
			"Currency",
			"Account",
			"Flags",
		}
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	if g.config.IncludeHoldings {
		for _, h := range result.Holdings {
			quantity := ""
			if h.Quantity != nil {
				quantity = h.Quantity.String()
			}
			record := []string{
				"Holding",
				h.SnapshotDate.Format(models.DateFormat),
				h.AssetID,
				h.AssetName,
				h.AssetType,
				quantity,
				h.MarketValueBase.String(),
				h.Currency,
				h.Account,
				holdingFlags(h),
			}
			if err := csvWriter.Write(record); err != nil {
				return fmt.Errorf("failed to write holding record: %w", err)
			}
		}
	}

	if g.config.IncludeTransactions {
		for _, tx := range result.Transactions {
			quantity := ""
			if tx.Quantity != nil {
				quantity = tx.Quantity.String()
			}
			record := []string{
				"Transaction",
				tx.TransactionDate.Format(models.DateFormat),
				tx.AssetID,
				tx.AssetName,
				tx.Type.String(),
				quantity,
				tx.AmountNet.String(),
				tx.Currency,
				tx.Account,
				transactionFlags(tx),
			}
			if err := csvWriter.Write(record); err != nil {
				return fmt.Errorf("failed to write transaction record: %w", err)
			}
		}
	}

	if g.config.IncludeIssues {
		for _, issue := range result.Report.Issues {
			record := []string{
				"Issue",
				result.SnapshotDate.Format(models.DateFormat),
				"",
				"",
				string(issue.Severity),
				"",
				"",
				"",
				"",
				issue.Check + ": " + issue.Description,
			}
			if err := csvWriter.Write(record); err != nil {
				return fmt.Errorf("failed to write issue record: %w", err)
			}
		}
	}
	return nil
}

func holdingFlags(h *models.CanonicalHolding) string {
	switch {
	case h.Derived && h.FxFallback:
		return "derived,fx_fallback"
	case h.Derived:
		return "derived"
	case h.FxFallback:
		return "fx_fallback"
	default:
		return ""
	}
}

func transactionFlags(tx *models.CanonicalTransaction) string {
	if tx.Bootstrap {
		return "bootstrap"
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
