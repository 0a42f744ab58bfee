package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmurray2011/skein/internal/export"
	"github.com/jmurray2011/skein/internal/filter"
	"github.com/jmurray2011/skein/internal/output"
	"github.com/jmurray2011/skein/internal/pipeline"
	"github.com/jmurray2011/skein/internal/stats"
	"github.com/jmurray2011/skein/internal/stream"
	"github.com/jmurray2011/skein/internal/ui"
)

var (
	watchFilter   filterFlags
	watchCapacity int
	watchExport   string
	watchDetails  bool
	watchNoStats  bool
)

var watchCmd = &cobra.Command{
	Use:   "watch [backend]",
	Short: "Follow a live log feed",
	Long: `Connect to a backend and print matching events as they arrive.

skein keeps the newest --capacity events in memory. The filter selects
which of them are shown; search hits are highlighted. Connection changes
are reported on stderr, and the connection is retried with backoff when it
drops.

On exit (Ctrl+C) the buffered statistics and pipeline counters are
printed. With --export the final filtered window is also written to a file.

Examples:
  # Follow everything
  skein watch http://localhost:8000

  # Errors and warnings from the crawler only
  skein watch @prod --level error,warning --source crawler

  # Follow a local file, keep 5000 events, save them on exit
  skein watch ./app.log --capacity 5000 --export window.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchFilter.register(watchCmd)
	watchCmd.Flags().IntVar(&watchCapacity, "capacity", 0, "Events to keep in memory (default from buffer.capacity)")
	watchCmd.Flags().StringVar(&watchExport, "export", "", "Write the final filtered window to this file (.json, .csv or .txt)")
	watchCmd.Flags().BoolVar(&watchDetails, "details", false, "Show event details under each line")
	watchCmd.Flags().BoolVar(&watchNoStats, "no-stats", false, "Skip the statistics summary on exit")
}

func runWatch(cmd *cobra.Command, args []string) error {
	app := GetApp(cmd)

	st, err := watchFilter.state()
	if err != nil {
		return err
	}
	warnRange(app.Render, st)

	var format output.Format
	if watchExport != "" {
		format, err = formatFromPath(watchExport)
		if err != nil {
			return err
		}
	}

	b, err := app.OpenBackend(args, "watch")
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	p := app.NewPipeline(b, watchCapacity)
	p.SetFilter(st)

	events := app.Render
	if watchDetails {
		events = ui.NewRendererWithOptions(
			ui.WithNoColor(app.Config.NoColor || os.Getenv("NO_COLOR") != ""),
			ui.WithQuiet(app.Config.Quiet),
			ui.WithDetails(true),
			ui.WithLocation(displayLocation()),
		)
	}

	failed := make(chan error, 1)
	p.OnStateChange(func(tr stream.Transition) {
		app.Render.ConnectionState(tr)
		if tr.To == stream.Failed {
			select {
			case failed <- tr.Err:
			default:
			}
		}
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.Render.Status("Watching %s (Ctrl+C to stop)...", b)
	p.Start(ctx)

	runErr := followView(ctx, p, events, failed)
	p.Stop()

	if !watchNoStats {
		printSummary(app.Render, p.Statistics(), p.Counters())
	}

	if watchExport != "" {
		res, err := p.Export(context.Background(), format, export.ModeClient, export.Options{Location: displayLocation()})
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		if err := os.WriteFile(watchExport, res.Artifact.Data, 0o644); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		app.Render.Success("Exported %d events to %s", res.Artifact.Count, watchExport)
	}

	return runErr
}

// followView prints each newly visible event once, oldest first, until ctx
// is done or the connection fails.
func followView(ctx context.Context, p *pipeline.Pipeline, r *ui.Renderer, failed <-chan error) error {
	printed := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-failed:
			if err == nil {
				err = errors.New("connection failed")
			}
			return fmt.Errorf("giving up on backend: %w", err)
		case <-p.Updates():
			for _, m := range unseen(p.VisibleEvents(), printed) {
				r.Event(m)
			}
		}
	}
}

// unseen returns the view's matches whose IDs are not in printed, oldest
// first, and records them. IDs that left the view are forgotten so printed
// never outgrows the buffer.
func unseen(v pipeline.View, printed map[string]struct{}) []filter.Match {
	current := make(map[string]struct{}, len(v.Matches))
	var fresh []filter.Match
	for _, m := range v.Matches {
		current[m.Event.ID] = struct{}{}
		if _, ok := printed[m.Event.ID]; !ok {
			fresh = append(fresh, m)
		}
	}
	for id := range printed {
		if _, ok := current[id]; !ok {
			delete(printed, id)
		}
	}
	for _, m := range fresh {
		printed[m.Event.ID] = struct{}{}
	}
	slices.Reverse(fresh)
	return fresh
}

// printSummary renders buffered statistics followed by the pipeline counters.
func printSummary(r *ui.Renderer, s stats.Snapshot, c pipeline.Counters) {
	r.Statistics(s)
	r.Section("Pipeline")
	r.KeyValue("Received", fmt.Sprint(c.Received))
	r.KeyValue("Inserted", fmt.Sprint(c.Inserted))
	r.KeyValue("Evicted", fmt.Sprint(c.Evicted))
	r.KeyValue("Duplicates", fmt.Sprint(c.Duplicates))
	r.KeyValue("Malformed", fmt.Sprint(c.Malformed))
	r.KeyValue("Dropped", fmt.Sprint(c.Dropped))
}
