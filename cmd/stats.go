package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	skeinerrors "github.com/jmurray2011/skein/internal/errors"
	"github.com/jmurray2011/skein/internal/output"
	"github.com/jmurray2011/skein/internal/stats"
	"github.com/jmurray2011/skein/internal/ui"
)

var statsCmd = &cobra.Command{
	Use:   "stats [backend]",
	Short: "Show a backend's all-time event counts",
	Long: `Fetch one statistics summary from the backend: the total number of
events it holds and the count per level.

These are backend totals, not the contents of a local buffer. Backends that
cannot report totals say so.

Examples:
  skein stats http://localhost:8000
  skein stats @prod -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	app := GetApp(cmd)

	format, err := output.ParseFormat(app.GetOutputFormat())
	if err != nil {
		return skeinerrors.UnknownFormatError(app.GetOutputFormat(), formatNames())
	}

	b, err := app.OpenBackend(args, "stats")
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	fetcher, ok := b.(stats.Fetcher)
	if !ok {
		return fmt.Errorf("%s backends do not report statistics", b.Kind())
	}

	app.Render.Status("Fetching statistics from %s...", b)
	summary, err := fetcher.FetchSummary(cmd.Context())
	if err != nil {
		return fmt.Errorf("fetching statistics: %w", err)
	}

	agg := stats.NewAggregator()
	agg.MergeBackendSummary(summary)
	snap := agg.Snapshot()

	switch format {
	case output.FormatJSON, output.FormatCSV:
		return output.NewFormatter(string(format), os.Stdout).FormatStats(snap)
	}
	renderSummary(app.Render, summary)
	return nil
}

// renderSummary prints backend totals as a level table.
func renderSummary(r *ui.Renderer, s stats.Summary) {
	r.Section("Backend totals (all time)")
	levels := make([]string, 0, len(s.ByLevel))
	for k := range s.ByLevel {
		levels = append(levels, k)
	}
	sort.Strings(levels)
	rows := make([][]string, 0, len(levels))
	for _, k := range levels {
		rows = append(rows, []string{k, fmt.Sprint(s.ByLevel[k])})
	}
	r.Table([]string{"LEVEL", "COUNT"}, rows)
	r.KeyValue("Total", fmt.Sprint(s.Total))
}
