package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"portfolio-consolidation-service/cmd/consolidator/config"
	"portfolio-consolidation-service/internal/integrate"
	"portfolio-consolidation-service/internal/mapping"
	"portfolio-consolidation-service/internal/pipeline"
	"portfolio-consolidation-service/internal/report"
	"portfolio-consolidation-service/internal/tabular"
	"portfolio-consolidation-service/internal/txtype"
	"portfolio-consolidation-service/internal/validate"
	"portfolio-consolidation-service/pkg/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the consolidate command
var (
	sourcesDir      string
	profile         string
	baseCurrency    string
	tolerance       float64
	externalTotal   string
	windowDays      int
	snapshotDir     string
	retentionMonths int
	writeSnapshot   bool
	replaceSnapshot bool
	outputFormat    string
	outputFile      string
)

// consolidateCmd represents the consolidate command
var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Consolidate holdings and transactions from source exports",
	Long: `Consolidate reads per-source CSV exports from a directory, normalizes
them into canonical holdings and transactions, and reports validation
issues found along the way.

Source files follow the naming convention <source>_holdings.csv and
<source>_transactions.csv. A source may supply either file or both.

Examples:
  # Basic consolidation
  consolidator consolidate --sources-dir ./exports

  # Reconcile against an externally reported total
  consolidator consolidate --sources-dir ./exports \
    --external-total 1000000 --tolerance 1.5

  # Persist a snapshot and prune old ones
  consolidator consolidate --sources-dir ./exports \
    --snapshot-dir ./snapshots --write-snapshot --retention-months 24

  # Machine-readable output
  consolidator consolidate --sources-dir ./exports \
    --output-format json --output-file result.json`,

	PreRunE: validateConsolidateFlags,
	RunE:    runConsolidate,
}

func init() {
	rootCmd.AddCommand(consolidateCmd)

	consolidateCmd.Flags().StringVarP(&sourcesDir, "sources-dir", "s", "", "directory with per-source CSV exports (required)")
	consolidateCmd.Flags().StringVarP(&profile, "profile", "p", "", "column mapping profile name")
	consolidateCmd.Flags().StringVar(&baseCurrency, "base-currency", "", "base currency for value normalization")
	consolidateCmd.Flags().Float64VarP(&tolerance, "tolerance", "t", 0, "reconciliation tolerance percentage (0-100)")
	consolidateCmd.Flags().StringVar(&externalTotal, "external-total", "", "externally reported total for value reconciliation")
	consolidateCmd.Flags().IntVarP(&windowDays, "window-days", "w", 0, "snapshot batch window tolerance in days")
	consolidateCmd.Flags().StringVar(&snapshotDir, "snapshot-dir", "", "directory for historical snapshots")
	consolidateCmd.Flags().IntVar(&retentionMonths, "retention-months", 0, "snapshot retention horizon in months (0 disables pruning)")
	consolidateCmd.Flags().BoolVar(&writeSnapshot, "write-snapshot", false, "persist the consolidated holdings as a snapshot")
	consolidateCmd.Flags().BoolVar(&replaceSnapshot, "replace-snapshot", false, "overwrite a snapshot already stored for the date")
	consolidateCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	consolidateCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")

	consolidateCmd.MarkFlagRequired("sources-dir")

	viper.BindPFlag("sources-dir", consolidateCmd.Flags().Lookup("sources-dir"))
	viper.BindPFlag("profile", consolidateCmd.Flags().Lookup("profile"))
	viper.BindPFlag("base-currency", consolidateCmd.Flags().Lookup("base-currency"))
	viper.BindPFlag("tolerance", consolidateCmd.Flags().Lookup("tolerance"))
	viper.BindPFlag("external-total", consolidateCmd.Flags().Lookup("external-total"))
	viper.BindPFlag("window-days", consolidateCmd.Flags().Lookup("window-days"))
	viper.BindPFlag("snapshot-dir", consolidateCmd.Flags().Lookup("snapshot-dir"))
	viper.BindPFlag("retention-months", consolidateCmd.Flags().Lookup("retention-months"))
	viper.BindPFlag("write-snapshot", consolidateCmd.Flags().Lookup("write-snapshot"))
	viper.BindPFlag("replace-snapshot", consolidateCmd.Flags().Lookup("replace-snapshot"))
	viper.BindPFlag("output-format", consolidateCmd.Flags().Lookup("output-format"))
	viper.BindPFlag("output-file", consolidateCmd.Flags().Lookup("output-file"))
}

func validateConsolidateFlags(cmd *cobra.Command, args []string) error {
	// Viper values allow overrides from the config file.
	sourcesDir = viper.GetString("sources-dir")
	profile = viper.GetString("profile")
	baseCurrency = viper.GetString("base-currency")
	tolerance = viper.GetFloat64("tolerance")
	externalTotal = viper.GetString("external-total")
	windowDays = viper.GetInt("window-days")
	snapshotDir = viper.GetString("snapshot-dir")
	retentionMonths = viper.GetInt("retention-months")
	writeSnapshot = viper.GetBool("write-snapshot")
	replaceSnapshot = viper.GetBool("replace-snapshot")
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")

	if sourcesDir == "" {
		return fmt.Errorf("sources-dir is required")
	}
	info, err := os.Stat(sourcesDir)
	if os.IsNotExist(err) {
		return fmt.Errorf("sources directory does not exist: %s", sourcesDir)
	}
	if err != nil {
		return fmt.Errorf("error accessing sources directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("sources-dir is not a directory: %s", sourcesDir)
	}

	if !report.OutputFormat(outputFormat).IsValid() {
		return fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", outputFormat)
	}
	if tolerance < 0 || tolerance > 100 {
		return fmt.Errorf("tolerance must be between 0.0 and 100.0")
	}
	if windowDays < 0 {
		return fmt.Errorf("window-days cannot be negative")
	}
	if retentionMonths < 0 {
		return fmt.Errorf("retention-months cannot be negative")
	}
	if writeSnapshot && snapshotDir == "" {
		return fmt.Errorf("write-snapshot requires snapshot-dir")
	}

	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("output directory does not exist: %s", dir)
			}
		}
	}
	return nil
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()

	converter, err := config.CreateFxConverter(v, baseCurrency)
	if err != nil {
		return fmt.Errorf("failed to create currency converter: %w", err)
	}
	integratorCfg, err := config.CreateIntegratorConfig(v)
	if err != nil {
		return fmt.Errorf("failed to read integration config: %w", err)
	}
	validateCfg, err := config.CreateValidateConfig(tolerance, externalTotal)
	if err != nil {
		return fmt.Errorf("failed to create validation config: %w", err)
	}
	engine, err := validate.NewEngine(validateCfg)
	if err != nil {
		return fmt.Errorf("failed to create validation engine: %w", err)
	}
	store, err := config.CreateSnapshotStore(snapshotDir, retentionMonths)
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}

	p, err := pipeline.New(pipeline.Options{
		Config:       config.CreatePipelineConfig(v, profile, writeSnapshot, replaceSnapshot),
		Resolver:     mapping.NewViperResolver(v),
		Standardizer: txtype.NewStandardizer(config.CreateTypeMap(v)),
		Converter:    converter,
		Dedup:        config.CreateDedupConfig(windowDays),
		Integrator:   integrate.NewIntegrator(integratorCfg),
		Engine:       engine,
		Store:        store,
	})
	if err != nil {
		return fmt.Errorf("failed to assemble pipeline: %w", err)
	}

	sources, err := tabular.DiscoverSources(sourcesDir, nil)
	if err != nil {
		return fmt.Errorf("failed to discover sources: %w", err)
	}

	result, err := p.Run(sources)
	if err != nil {
		return fmt.Errorf("consolidation failed: %w", err)
	}

	generator, err := report.NewGenerator(config.CreateReportConfig(outputFormat))
	if err != nil {
		return fmt.Errorf("failed to create report generator: %w", err)
	}

	output := os.Stdout
	if outputFile != "" {
		output, err = os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer output.Close()
	}
	if err := generator.Generate(result, output); err != nil {
		return errors.InternalError("report generation", err)
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "\nConsolidation completed.\n")
		fmt.Fprintf(os.Stderr, "Produced %d holdings and %d transactions.\n",
			result.Stats.HoldingsTotal, result.Stats.TransactionsTotal)
		fmt.Fprintf(os.Stderr, "Validation: %s\n", result.Report.String())
	}

	if result.Report.HasCritical() {
		return fmt.Errorf("validation raised %d critical issue(s)",
			result.Report.Counts[validate.SeverityCritical])
	}
	return nil
}
