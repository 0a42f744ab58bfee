package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	skeinerrors "github.com/jmurray2011/skein/internal/errors"
	"github.com/jmurray2011/skein/internal/filter"
	"github.com/jmurray2011/skein/internal/logevent"
	"github.com/jmurray2011/skein/internal/ui"
	"github.com/jmurray2011/skein/pkg/timeutil"
)

// filterFlags are the filter options shared by watch, query and export.
type filterFlags struct {
	levels  string
	sources string
	search  string
	since   string
	until   string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.levels, "level", "l", "", "Levels to show, comma-separated (debug,info,warning,error)")
	cmd.Flags().StringVar(&f.sources, "source", "", "Sources to show, comma-separated")
	cmd.Flags().StringVarP(&f.search, "search", "f", "", "Case-insensitive text to match in message or source")
	cmd.Flags().StringVarP(&f.since, "since", "s", "", "Only events after this time (e.g. 2h, 30m, 2025-12-02T06:00:00Z)")
	cmd.Flags().StringVarP(&f.until, "until", "u", "", "Only events before this time")
}

// state converts the flags into a normalized filter.
func (f *filterFlags) state() (filter.State, error) {
	var st filter.State

	for _, part := range strings.Split(f.levels, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lvl, err := logevent.ParseLevel(part)
		if err != nil {
			return filter.State{}, skeinerrors.InvalidLevelError(part)
		}
		st.Levels = append(st.Levels, lvl)
	}

	st.Sources = filter.ParseSources(f.sources)
	st.Search = f.search

	start, err := timeutil.ParseBound(f.since)
	if err != nil {
		return filter.State{}, skeinerrors.InvalidTimeError(f.since)
	}
	end, err := timeutil.ParseBound(f.until)
	if err != nil {
		return filter.State{}, skeinerrors.InvalidTimeError(f.until)
	}
	st.Range = filter.TimeRange{Start: start, End: end}

	return st.Normalize(), nil
}

// warnRange reports suspicious ranges without failing the command.
func warnRange(r *ui.Renderer, st filter.State) {
	for _, w := range timeutil.ValidateRange(st.Range.Start, st.Range.End) {
		if w.Level == "warning" {
			r.Warning("%s", w.Message)
		} else {
			r.Status("%s", w.Message)
		}
	}
}
