package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jmurray2011/skein/internal/logevent"
	"github.com/jmurray2011/skein/internal/stats"
)

// FormatStats outputs a statistics snapshot.
func (f *Formatter) FormatStats(s stats.Snapshot) error {
	switch f.format {
	case FormatJSON:
		encoder := json.NewEncoder(f.writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(s)
	case FormatCSV:
		return f.formatStatsCSV(s)
	default:
		f.renderer.Statistics(s)
		return nil
	}
}

// formatStatsCSV writes scope,level,count rows. Buffered and backend counts
// are distinguished by scope.
func (f *Formatter) formatStatsCSV(s stats.Snapshot) error {
	writer := csv.NewWriter(f.writer)

	if err := writer.Write([]string{"scope", "level", "count"}); err != nil {
		return err
	}
	for _, l := range logevent.Levels() {
		if err := writer.Write([]string{"buffer", l.String(), fmt.Sprint(s.Local.Get(l))}); err != nil {
			return err
		}
	}
	if s.Backend != nil {
		levels := make([]string, 0, len(s.Backend.ByLevel))
		for k := range s.Backend.ByLevel {
			levels = append(levels, k)
		}
		sort.Strings(levels)
		for _, l := range levels {
			if err := writer.Write([]string{"backend", l, fmt.Sprint(s.Backend.ByLevel[l])}); err != nil {
				return err
			}
		}
		if err := writer.Write([]string{"backend", "total", fmt.Sprint(s.Backend.Total)}); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
