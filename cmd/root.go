package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	_ "github.com/jmurray2011/skein/internal/backend/cloudwatch" // Register cloudwatch://
	_ "github.com/jmurray2011/skein/internal/backend/httpapi"    // Register http(s):// and ws(s)://
	_ "github.com/jmurray2011/skein/internal/backend/local"      // Register file://
	"github.com/jmurray2011/skein/internal/logging"
	"github.com/jmurray2011/skein/internal/ui"
)

var (
	profile      string
	region       string
	outputFormat string
	cfgFile      string
	verbose      bool
	noColor      bool
	quiet        bool
	utc          bool

	// render is the global renderer for all output
	render *ui.Renderer
)

var rootCmd = &cobra.Command{
	Use:   "skein",
	Short: "Follow live logs through a filtered, bounded window",
	Long: `skein - a length of yarn wound loosely; pull one thread and follow it.

A CLI for following live log feeds. skein keeps a bounded window of recent
events, filters and highlights it as events arrive, tracks statistics and
exports what you see.

Backend URIs:
  http://host:8000                              Log service (REST + WebSocket)
  http://host:8000?live=sse                     Log service, server-sent events
  cloudwatch:///log-group?profile=x&region=y    AWS CloudWatch Logs
  file:///path/to/app.log                       Local file
  ./app.log                                     Local file (shorthand)
  @profile-name                                 Config profile

Configuration:
  Create ~/.skein/config.yaml (skein init) to define profiles:

    profiles:
      prod:
        uri: http://logs.internal:8000
      api:
        uri: cloudwatch:///app/api/prod?profile=prod&region=us-east-1
    default_profile: prod

Examples:
  # Follow errors and warnings from a log service
  skein watch http://localhost:8000 --level error,warning

  # Serve the control API for a profile
  skein serve @prod --addr :8088

  # Page through the last two hours of a file
  skein query ./app.log --since 2h --search timeout

  # Export a backend-side CSV and download it
  skein export @prod --mode backend --format csv --download`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// SetVersion sets the version string for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

func init() {
	cobra.OnInitialize(initConfig, initRenderer, initLogging)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.skein/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "Default AWS profile (can be overridden in URI)")
	rootCmd.PersistentFlags().StringVarP(&region, "region", "r", "", "Default AWS region (can be overridden in URI)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "Output format: text, txt, json, csv")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output for debugging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress status messages")
	rootCmd.PersistentFlags().BoolVar(&utc, "utc", false, "Show timestamps in UTC instead of local time")

	_ = viper.BindPFlag("profile", rootCmd.PersistentFlags().Lookup("profile"))
	_ = viper.BindPFlag("region", rootCmd.PersistentFlags().Lookup("region"))
	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initRenderer initializes the global renderer with current settings.
func initRenderer() {
	render = ui.NewRendererWithOptions(
		ui.WithNoColor(noColor || os.Getenv("NO_COLOR") != ""),
		ui.WithQuiet(quiet),
		ui.WithLocation(displayLocation()),
	)
}

// initLogging points the package logger at stderr with the configured level.
// --verbose always means debug.
func initLogging() {
	logger := logging.New()
	level := logging.LevelWarn
	if s := viper.GetString("log_level"); s != "" {
		parsed, err := logging.ParseLevel(s)
		if err != nil {
			render.Warning("ignoring log_level: %v", err)
		} else {
			level = parsed
		}
	}
	if IsVerbose() {
		level = logging.LevelDebug
	}
	logger.SetLevel(level)
	logging.SetDefault(logger)
}

// IsVerbose returns true if verbose mode is enabled
func IsVerbose() bool {
	return verbose || viper.GetBool("verbose")
}

func initConfig() {
	// .env values land in the process environment before viper reads it.
	// Existing variables win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: error reading .env: %v\n", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".skein"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SKEIN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Warning: error reading config file: %v\n", err)
		}
	}
}

// getProfile returns the AWS profile from flags or config.
func getProfile() string {
	if profile != "" {
		return profile
	}
	return viper.GetString("profile")
}

// getRegion returns the AWS region from flags or config.
func getRegion() string {
	if region != "" {
		return region
	}
	return viper.GetString("region")
}

// getOutputFormat returns the output format from flags or config.
func getOutputFormat() string {
	if outputFormat != "" {
		return outputFormat
	}
	return viper.GetString("output")
}

// getConfigPath returns the file profiles are read from.
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return ""
}
