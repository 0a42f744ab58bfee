package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/jmurray2011/skein/internal/metrics"
	"github.com/jmurray2011/skein/internal/server"
	"github.com/jmurray2011/skein/internal/stream"
)

var (
	serveAddr     string
	serveFilter   filterFlags
	serveCapacity int
	serveNoStart  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve [backend]",
	Short: "Run the pipeline behind an HTTP control API",
	Long: `Follow a backend and expose the pipeline over HTTP.

Endpoints:
  GET  /healthz                   Liveness
  GET  /metrics                   Prometheus metrics
  GET  /ws                        Pushes the view, statistics and state on every change
  GET  /api/events                Visible events (?limit=N)
  GET  /api/filter                Current filter
  PUT  /api/filter                Replace the filter
  GET  /api/stats                 Statistics and counters
  GET  /api/connection            Connection state and last error
  POST /api/connection/start      Connect (restarts a running pipeline)
  POST /api/connection/stop       Disconnect
  POST /api/clear                 Empty the buffer
  POST /api/export                {"format":"csv","mode":"client|backend"}
  GET  /api/export/:id            Backend export job status

Examples:
  skein serve http://localhost:8000
  skein serve @prod --addr 127.0.0.1:9090 --level error,warning`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveFilter.register(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from serve.addr, :8088)")
	serveCmd.Flags().IntVar(&serveCapacity, "capacity", 0, "Events to keep in memory (default from buffer.capacity)")
	serveCmd.Flags().BoolVar(&serveNoStart, "no-start", false, "Wait for POST /api/connection/start before connecting")
}

func runServe(cmd *cobra.Command, args []string) error {
	app := GetApp(cmd)

	st, err := serveFilter.state()
	if err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" {
		addr = app.Viper.GetString("serve.addr")
	}

	b, err := app.OpenBackend(args, "serve")
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	p := app.NewPipeline(b, serveCapacity)
	p.SetFilter(st)
	p.OnStateChange(func(tr stream.Transition) {
		app.Render.ConnectionState(tr)
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if _, err := metrics.Register(reg, p); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(ctx, p, server.WithLogger(app.Logger), server.WithGatherer(reg))
	if !serveNoStart {
		p.Start(ctx)
	}
	defer p.Stop()

	app.Render.Status("Serving %s on %s (Ctrl+C to stop)...", b, addr)
	return srv.Run(ctx, addr)
}
