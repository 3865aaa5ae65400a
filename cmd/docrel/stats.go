package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andreyvit/docrel"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print row counts per doc part",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().Bool("dump", false, "also print every doc part with its columns, indexes and rows")
	statsCmd.Flags().Bool("metrics", false, "also print metrics in Prometheus format")
}

func runStats(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	stats, size, err := db.DocPartStats(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATABASE\tCOLLECTION\tDOC PART\tROWS")
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", s.Database, s.Collection, s.DocPart, s.Rows)
	}
	w.Flush()
	fmt.Fprintf(out, "\ncatalog version %d, %d bytes\n", db.Snapshot().Version(), size)

	if viper.GetBool("dump") {
		dump, err := db.Dump(ctx, docrel.DumpAll)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%s", dump)
	}
	if viper.GetBool("metrics") {
		fmt.Fprintln(out)
		db.WriteMetrics(out)
	}
	return nil
}
