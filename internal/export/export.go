// Package export turns the filtered view into a downloadable artifact, either
// locally from buffered events or by driving a backend's export job.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmurray2011/skein/internal/logevent"
	"github.com/jmurray2011/skein/internal/output"
)

var (
	// ErrExportFailed wraps any backend export failure, including timeouts.
	ErrExportFailed = errors.New("export failed")
	// ErrUnsupported is returned when a backend cannot export.
	ErrUnsupported = errors.New("export not supported by backend")
)

// Mode selects where an export is produced.
type Mode string

const (
	ModeClient  Mode = "client"
	ModeBackend Mode = "backend"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeClient, ModeBackend:
		return m, nil
	case "":
		return ModeClient, nil
	}
	return "", fmt.Errorf("unknown export mode %q (use client or backend)", s)
}

// ParseFormat accepts json, csv and txt.
func ParseFormat(s string) (output.Format, error) {
	f, err := output.ParseFormat(s)
	if err != nil || f == output.FormatText {
		return "", fmt.Errorf("unknown export format %q (use json, csv or txt)", s)
	}
	return f, nil
}

var contentTypes = map[output.Format]string{
	output.FormatJSON: "application/json",
	output.FormatCSV:  "text/csv",
	output.FormatTxt:  "text/plain; charset=utf-8",
}

// Options tune Prepare.
type Options struct {
	// Location for rendered timestamps; UTC when nil.
	Location *time.Location
	// Now stamps the artifact name; time.Now when nil.
	Now func() time.Time
}

// Artifact is a serialized export.
type Artifact struct {
	Name        string
	Format      output.Format
	ContentType string
	Data        []byte
	Count       int
	CreatedAt   time.Time
}

// Prepare serializes events in the given order. The same events and format
// always produce the same Data.
func Prepare(events []logevent.Event, format output.Format, opts Options) (Artifact, error) {
	ct, ok := contentTypes[format]
	if !ok {
		return Artifact{}, fmt.Errorf("unknown export format %q (use json, csv or txt)", format)
	}

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	var buf bytes.Buffer
	f := output.NewFormatter(string(format), &buf).WithLocation(loc)
	if err := f.FormatPlainEvents(events); err != nil {
		return Artifact{}, fmt.Errorf("serializing %d events: %w", len(events), err)
	}

	created := now()
	return Artifact{
		Name:        ArtifactName(created, format),
		Format:      format,
		ContentType: ct,
		Data:        buf.Bytes(),
		Count:       len(events),
		CreatedAt:   created,
	}, nil
}

// ArtifactName returns "skein-<UTC timestamp>.<ext>".
func ArtifactName(t time.Time, format output.Format) string {
	return fmt.Sprintf("skein-%s.%s", t.UTC().Format("20060102T150405Z"), format.Extension())
}
