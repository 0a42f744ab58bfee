package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmurray2011/skein/internal/backend"
	"github.com/jmurray2011/skein/internal/buffer"
	skeinerrors "github.com/jmurray2011/skein/internal/errors"
	"github.com/jmurray2011/skein/internal/export"
	"github.com/jmurray2011/skein/internal/logging"
	"github.com/jmurray2011/skein/internal/pipeline"
	"github.com/jmurray2011/skein/internal/stats"
	"github.com/jmurray2011/skein/internal/stream"
	"github.com/jmurray2011/skein/internal/ui"
)

// appContextKey is the context key for the App instance.
type appContextKey struct{}

// Config holds the resolved global flag and config values.
type Config struct {
	Profile      string
	Region       string
	OutputFormat string
	ConfigPath   string
	Verbose      bool
	NoColor      bool
	Quiet        bool
}

// App holds the application dependencies that can be injected for testing.
type App struct {
	Config Config
	Render *ui.Renderer
	Logger logging.Logger
	Viper  *viper.Viper
}

// NewApp creates a new App with default configuration from viper.
func NewApp() *App {
	cfg := Config{
		Profile:      getProfile(),
		Region:       getRegion(),
		OutputFormat: getOutputFormat(),
		ConfigPath:   getConfigPath(),
		Verbose:      IsVerbose(),
		NoColor:      noColor,
		Quiet:        quiet,
	}
	return &App{
		Config: cfg,
		Render: render,
		Logger: logging.Default(),
		Viper:  viper.GetViper(),
	}
}

// NewAppWithConfig creates a new App with the given configuration.
// This is primarily used for testing.
func NewAppWithConfig(cfg Config, renderer *ui.Renderer, v *viper.Viper) *App {
	if v == nil {
		v = viper.New()
		setDefaults(v)
	}
	return &App{
		Config: cfg,
		Render: renderer,
		Logger: logging.NopLogger{},
		Viper:  v,
	}
}

// GetApp retrieves the App from the command context.
// If no App is set, it creates a new default one.
func GetApp(cmd *cobra.Command) *App {
	if ctx := cmd.Context(); ctx != nil {
		if app, ok := ctx.Value(appContextKey{}).(*App); ok {
			return app
		}
	}
	return NewApp()
}

// SetApp stores the App in the context for a command.
func SetApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appContextKey{}, app)
}

// Debugf prints a debug message if verbose mode is enabled.
func (a *App) Debugf(format string, args ...interface{}) {
	if a.Config.Verbose {
		a.Render.Debug(format, args...)
	}
}

// GetOutputFormat returns the output format from Config or viper.
func (a *App) GetOutputFormat() string {
	if a.Config.OutputFormat != "" {
		return a.Config.OutputFormat
	}
	return a.Viper.GetString("output")
}

// OpenBackend resolves a backend argument. With no argument the configured
// default profile is used.
func (a *App) OpenBackend(args []string, command string) (backend.Backend, error) {
	uri := ""
	if len(args) > 0 {
		uri = args[0]
	}
	if uri == "" {
		cfg, err := backend.LoadConfig(a.Config.ConfigPath)
		if err != nil {
			return nil, err
		}
		if cfg.DefaultProfile == "" {
			return nil, skeinerrors.MissingBackendError(command)
		}
		uri = "@" + cfg.DefaultProfile
	}

	a.Debugf("Opening backend %s", uri)
	return backend.Open(uri, backend.OpenOptions{
		Profile:    a.Config.Profile,
		Region:     a.Config.Region,
		ConfigPath: a.Config.ConfigPath,
		Logger:     a.Logger,
	})
}

// PipelineConfig builds pipeline settings from the buffer, stream, stats and
// export config keys.
func (a *App) PipelineConfig() pipeline.Config {
	v := a.Viper
	cfg := pipeline.DefaultConfig()
	cfg.Capacity = v.GetInt("buffer.capacity")
	cfg.Stream.QueueSize = v.GetInt("stream.queue_size")
	cfg.Stream.Backoff.Base = v.GetDuration("stream.backoff_base")
	cfg.Stream.Backoff.Max = v.GetDuration("stream.backoff_max")
	cfg.Stream.MaxRetries = v.GetInt("stream.max_retries")
	cfg.Stream.MaxElapsed = v.GetDuration("stream.max_elapsed")
	cfg.StatsInterval = v.GetDuration("stats.interval")
	cfg.Export.PollInterval = v.GetDuration("export.poll_interval")
	cfg.Export.Timeout = v.GetDuration("export.timeout")
	cfg.Export.Logger = a.Logger
	return cfg
}

// NewPipeline opens a stopped pipeline over b.
func (a *App) NewPipeline(b backend.Backend, capacity int) *pipeline.Pipeline {
	cfg := a.PipelineConfig()
	if capacity > 0 {
		cfg.Capacity = capacity
	}
	return pipeline.New(b, cfg, pipeline.WithLogger(a.Logger))
}

// setDefaults registers the default for every config key.
func setDefaults(v *viper.Viper) {
	backoff := stream.DefaultBackoff()
	v.SetDefault("region", "us-east-1")
	v.SetDefault("output", "text")
	v.SetDefault("log_level", "warn")
	v.SetDefault("buffer.capacity", buffer.DefaultCapacity)
	v.SetDefault("stream.queue_size", stream.DefaultQueueSize)
	v.SetDefault("stream.backoff_base", backoff.Base)
	v.SetDefault("stream.backoff_max", backoff.Max)
	v.SetDefault("stream.max_retries", stream.DefaultMaxRetries)
	v.SetDefault("stream.max_elapsed", time.Duration(0))
	v.SetDefault("stats.interval", stats.DefaultInterval)
	v.SetDefault("export.poll_interval", export.DefaultPollInterval)
	v.SetDefault("export.timeout", export.DefaultTimeout)
	v.SetDefault("export.dir", ".")
	v.SetDefault("serve.addr", ":8088")
}

// displayLocation is the zone timestamps are shown in.
func displayLocation() *time.Location {
	if utc {
		return time.UTC
	}
	return time.Local
}
