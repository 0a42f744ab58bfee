package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmurray2011/skein/internal/backend"
	skeinerrors "github.com/jmurray2011/skein/internal/errors"
	"github.com/jmurray2011/skein/internal/filter"
	"github.com/jmurray2011/skein/internal/output"
	"github.com/jmurray2011/skein/internal/ui"
)

// maxQueryAllPages bounds --all so a huge history cannot run forever.
const maxQueryAllPages = 100

var (
	queryFilter  filterFlags
	queryPage    int
	querySize    int
	queryAll     bool
	queryFile    string
	queryDetails bool
)

var queryCmd = &cobra.Command{
	Use:   "query [backend]",
	Short: "Page through historical events",
	Long: `Query a backend's history with the same filters watch uses.

Results are newest first. Use --page and --size to move through them, or
--all to fetch every page.

Examples:
  # Last hour of errors from a log service
  skein query http://localhost:8000 --level error --since 1h

  # Second page of 50 timeouts from a file
  skein query ./app.log --search timeout --page 2 --size 50

  # CloudWatch history as CSV
  skein query "cloudwatch:///app/api?profile=prod" --since 2h -o csv --export out.csv`,
	Args: cobra.MaximumNArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryFilter.register(queryCmd)
	queryCmd.Flags().IntVar(&queryPage, "page", 1, "Page number (1-based)")
	queryCmd.Flags().IntVar(&querySize, "size", backend.DefaultPageSize, "Events per page")
	queryCmd.Flags().BoolVar(&queryAll, "all", false, "Fetch every page")
	queryCmd.Flags().StringVar(&queryFile, "export", "", "Write results to this file instead of stdout")
	queryCmd.Flags().BoolVar(&queryDetails, "details", false, "Show event details (text output)")
}

func runQuery(cmd *cobra.Command, args []string) error {
	app := GetApp(cmd)

	format, err := output.ParseFormat(app.GetOutputFormat())
	if err != nil {
		return skeinerrors.UnknownFormatError(app.GetOutputFormat(), formatNames())
	}
	st, err := queryFilter.state()
	if err != nil {
		return err
	}
	warnRange(app.Render, st)

	b, err := app.OpenBackend(args, "query")
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	ctx := cmd.Context()
	q := backend.Query{Filter: st, Page: queryPage, Size: querySize}.Normalize()

	app.Render.Status("Querying %s...", b)
	page, err := b.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	events := page.Events
	for queryAll && page.HasMore() && page.Page < maxQueryAllPages {
		q.Page = page.Page + 1
		page, err = b.Query(ctx, q)
		if err != nil {
			return fmt.Errorf("query page %d failed: %w", q.Page, err)
		}
		events = append(events, page.Events...)
	}

	writer := os.Stdout
	if queryFile != "" {
		writer, err = os.Create(queryFile)
		if err != nil {
			return fmt.Errorf("failed to create export file: %w", err)
		}
		defer func() { _ = writer.Close() }()
	}

	formatter := output.NewFormatter(string(format), writer,
		ui.WithNoColor(app.Config.NoColor || queryFile != "" || os.Getenv("NO_COLOR") != ""),
		ui.WithDetails(queryDetails),
	).WithLocation(displayLocation())

	// Re-applying the filter recovers search spans for highlighting.
	if err := formatter.FormatEvents(filter.Apply(events, st)); err != nil {
		return err
	}

	if !queryAll && page.HasMore() {
		app.Render.Status("Page %d of %d events; next: --page %d", page.Page, page.Total, page.Page+1)
	}
	if queryFile != "" {
		app.Render.Success("Results exported to %s", queryFile)
	}
	return nil
}

// formatNames lists the output formats for suggestions.
func formatNames() []string {
	names := make([]string, len(output.Formats))
	for i, f := range output.Formats {
		names[i] = string(f)
	}
	return names
}
