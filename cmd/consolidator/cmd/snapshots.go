package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"portfolio-consolidation-service/internal/models"
	"portfolio-consolidation-service/internal/snapshot"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	snapStoreDir  string
	snapRetention int
	snapPruneAsOf string
	snapShowDate  string
)

// snapshotsCmd groups the snapshot store subcommands
var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Inspect and maintain the historical snapshot store",
}

var snapshotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored snapshot dates",
	RunE:  runSnapshotsList,
}

var snapshotsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the holdings of one stored snapshot",
	Long: `Show prints the holdings of the snapshot stored for --date, or the
latest stored snapshot when no date is given.`,
	RunE: runSnapshotsShow,
}

var snapshotsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove snapshots older than the retention horizon",
	RunE:  runSnapshotsPrune,
}

func init() {
	rootCmd.AddCommand(snapshotsCmd)
	snapshotsCmd.AddCommand(snapshotsListCmd, snapshotsShowCmd, snapshotsPruneCmd)

	snapshotsCmd.PersistentFlags().StringVar(&snapStoreDir, "snapshot-dir", "", "directory for historical snapshots (required)")
	snapshotsCmd.MarkPersistentFlagRequired("snapshot-dir")

	snapshotsShowCmd.Flags().StringVar(&snapShowDate, "date", "", "snapshot date (YYYY-MM-DD, default: latest)")
	snapshotsPruneCmd.Flags().IntVar(&snapRetention, "retention-months", 0, "retention horizon in months (required)")
	snapshotsPruneCmd.Flags().StringVar(&snapPruneAsOf, "as-of", "", "reference date for the horizon (YYYY-MM-DD, default: today)")
	snapshotsPruneCmd.MarkFlagRequired("retention-months")
}

func openStore(retentionMonths int) (*snapshot.Store, error) {
	return snapshot.NewStore(&snapshot.Config{
		Dir:             snapStoreDir,
		RetentionMonths: retentionMonths,
	})
}

func runSnapshotsList(cmd *cobra.Command, args []string) error {
	store, err := openStore(0)
	if err != nil {
		return err
	}
	keys, err := store.List()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Println("No snapshots stored.")
		return nil
	}
	for _, key := range keys {
		fmt.Println(key)
	}
	return nil
}

func runSnapshotsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore(0)
	if err != nil {
		return err
	}

	var snap *snapshot.Snapshot
	if snapShowDate == "" {
		snap, err = store.Latest()
	} else {
		var date time.Time
		date, err = models.ParseDate(snapShowDate)
		if err != nil {
			return fmt.Errorf("invalid date format. Use YYYY-MM-DD: %w", err)
		}
		snap, err = store.Load(date)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Snapshot %s (written %s, %d holdings)\n\n",
		snap.Date, snap.WrittenAt.Format(time.RFC3339), len(snap.Holdings))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ASSET\tTYPE\tQUANTITY\tVALUE (BASE)\tCCY\tACCOUNT")
	for _, h := range snap.Holdings {
		quantity := "-"
		if h.Quantity != nil {
			quantity = h.Quantity.StringFixed(2)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			h.AssetID, h.AssetType, quantity, h.MarketValueBase.StringFixed(2), h.Currency, h.Account)
	}
	return w.Flush()
}

func runSnapshotsPrune(cmd *cobra.Command, args []string) error {
	store, err := openStore(snapRetention)
	if err != nil {
		return err
	}

	asOf := time.Now().UTC()
	if snapPruneAsOf != "" {
		asOf, err = models.ParseDate(snapPruneAsOf)
		if err != nil {
			return fmt.Errorf("invalid as-of date format. Use YYYY-MM-DD: %w", err)
		}
	}

	removed, err := store.Prune(asOf)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		fmt.Println("Nothing to prune.")
		return nil
	}
	for _, key := range removed {
		fmt.Printf("Removed %s\n", key)
	}
	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Pruned %d snapshot(s) older than %d months.\n", len(removed), snapRetention)
	}
	return nil
}
