package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmurray2011/skein/internal/backend"
	skeinerrors "github.com/jmurray2011/skein/internal/errors"
	"github.com/jmurray2011/skein/internal/export"
	"github.com/jmurray2011/skein/internal/output"
)

var (
	exportFilter   filterFlags
	exportMode     string
	exportFormat   string
	exportOut      string
	exportDownload bool
	exportCollect  time.Duration
	exportCapacity int
)

var exportCmd = &cobra.Command{
	Use:   "export [backend]",
	Short: "Export filtered events",
	Long: `Export events matching a filter, either produced locally or by the backend.

Modes:
  client   Follow the backend for --collect, then write the filtered window
  backend  Ask the backend to export its full history and wait for the job

Backend exports honour the time range; other filter dimensions are sent
along but depend on the backend. A failed backend export is reported as a
failure and is never replaced by a client export.

Output goes to --out (a file, a directory, or - for stdout). Without --out,
files are written to export.dir under a generated name.

Examples:
  # Collect 30 seconds of errors into a CSV
  skein export @prod --level error --collect 30s --format csv

  # Backend export of the last day, downloaded when ready
  skein export @prod --mode backend --since 1d --download

  # Client export to stdout
  skein export ./app.log --collect 5s --format txt --out -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportFilter.register(exportCmd)
	exportCmd.Flags().StringVar(&exportMode, "mode", "client", "Export mode: client or backend")
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Export format: json, csv, txt")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Output file, directory, or - for stdout")
	exportCmd.Flags().BoolVar(&exportDownload, "download", false, "Download a completed backend export")
	exportCmd.Flags().DurationVar(&exportCollect, "collect", 30*time.Second, "How long to follow the backend in client mode")
	exportCmd.Flags().IntVar(&exportCapacity, "capacity", 0, "Events to keep in memory in client mode")
}

func runExport(cmd *cobra.Command, args []string) error {
	app := GetApp(cmd)

	mode, err := export.ParseMode(exportMode)
	if err != nil {
		return err
	}
	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		return skeinerrors.UnknownFormatError(exportFormat, []string{"json", "csv", "txt"})
	}
	st, err := exportFilter.state()
	if err != nil {
		return err
	}
	warnRange(app.Render, st)

	b, err := app.OpenBackend(args, "export")
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := app.NewPipeline(b, exportCapacity)
	p.SetFilter(st)

	if mode == export.ModeBackend {
		return runBackendExport(ctx, app, b, func(ctx context.Context) (*export.Job, error) {
			res, err := p.Export(ctx, format, export.ModeBackend, export.Options{})
			return res.Job, err
		}, format)
	}

	app.Render.Status("Collecting from %s for %s (Ctrl+C to stop early)...", b, exportCollect)
	collectCtx, cancel := context.WithTimeout(ctx, exportCollect)
	p.Start(collectCtx)
	<-collectCtx.Done()
	cancel()
	p.Stop()

	res, err := p.Export(context.Background(), format, export.ModeClient, export.Options{Location: displayLocation()})
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	sink, a := exportSink(*res.Artifact, exportOut, app.Viper.GetString("export.dir"))
	where, err := sink.Deliver(context.Background(), a)
	if err != nil {
		return err
	}
	if where != "stdout" {
		app.Render.Success("Exported %d events to %s", a.Count, where)
	}
	return nil
}

// runBackendExport starts a backend job, waits for it and optionally
// downloads the result.
func runBackendExport(ctx context.Context, app *App, b backend.Backend, start func(context.Context) (*export.Job, error), format output.Format) error {
	job, err := start(ctx)
	if errors.Is(err, export.ErrUnsupported) {
		return fmt.Errorf("%s backends do not support backend exports; use --mode client", b.Kind())
	}
	if err != nil {
		return err
	}

	app.Render.Status("Export %s submitted to %s, waiting...", job.ID(), b)
	result, err := job.Wait(ctx)
	if err != nil {
		job.Cancel()
		return fmt.Errorf("waiting for export: %w", err)
	}
	if result.Err != nil {
		return fmt.Errorf("backend export %s: %w", job.State(), result.Err)
	}

	app.Render.Success("Export completed")
	app.Render.KeyValue("Job", job.ID())
	if id := job.RemoteID(); id != "" {
		app.Render.KeyValue("Remote ID", id)
	}
	app.Render.KeyValue("Download", result.DownloadURL)

	if !exportDownload {
		return nil
	}
	dl, ok := b.(export.Downloader)
	if !ok {
		return fmt.Errorf("%s backends cannot download exports; fetch %s directly", b.Kind(), result.DownloadURL)
	}

	if exportOut == "-" {
		return dl.Download(ctx, result.DownloadURL, os.Stdout)
	}
	path := exportPath(exportOut, app.Viper.GetString("export.dir"), export.ArtifactName(time.Now(), format))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := dl.Download(ctx, result.DownloadURL, f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	app.Render.Success("Downloaded to %s", path)
	return nil
}

// exportSink picks where a client artifact goes: stdout for "-", an exact
// file, or a directory under the artifact's own name.
func exportSink(a export.Artifact, out, dir string) (export.Sink, export.Artifact) {
	if out == "-" {
		return export.WriterSink{W: os.Stdout, Name: "stdout"}, a
	}
	path := exportPath(out, dir, a.Name)
	a.Name = filepath.Base(path)
	return export.FileSink{Dir: filepath.Dir(path)}, a
}

// exportPath resolves --out against the export directory. An out ending in
// a separator, or naming an existing directory, keeps the generated name.
func exportPath(out, dir, name string) string {
	if out == "" {
		if dir == "" {
			dir = "."
		}
		return filepath.Join(dir, name)
	}
	if strings.HasSuffix(out, string(filepath.Separator)) {
		return filepath.Join(out, name)
	}
	if info, err := os.Stat(out); err == nil && info.IsDir() {
		return filepath.Join(out, name)
	}
	return out
}

// formatFromPath infers an export format from a file extension.
func formatFromPath(path string) (output.Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	f, err := export.ParseFormat(ext)
	if err != nil {
		return "", skeinerrors.UnknownFormatError(ext, []string{"json", "csv", "txt"})
	}
	return f, nil
}
