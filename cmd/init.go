package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jmurray2011/skein/internal/backend"
	"github.com/jmurray2011/skein/internal/buffer"
	"github.com/jmurray2011/skein/internal/export"
	"github.com/jmurray2011/skein/internal/stats"
	"github.com/jmurray2011/skein/internal/stream"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize skein configuration",
	Long: `Create a commented default configuration file.

The file is written to ~/.skein/config.yaml, or to --config when given.
Every setting can also come from a SKEIN_ environment variable (dots become
underscores: SKEIN_BUFFER_CAPACITY=5000) or from a .env file in the
working directory.

Examples:
  # Create default config (won't overwrite existing)
  skein init

  # Force overwrite existing config
  skein init --force`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = backend.ConfigPath()
	}
	if path == "" {
		return fmt.Errorf("failed to locate home directory; pass --config")
	}

	created, err := createFileIfNotExists(path, generateDefaultConfig(), initForce)
	if err != nil {
		return err
	}
	if !created {
		fmt.Printf("  %s already exists (use --force to overwrite)\n", path)
		return nil
	}

	fmt.Println("Initialized skein configuration:")
	fmt.Printf("  Config: %s\n", path)
	fmt.Printf("\nEdit %s to add profiles and tune the pipeline.\n", path)
	return nil
}

func generateDefaultConfig() string {
	backoff := stream.DefaultBackoff()
	return fmt.Sprintf(`# skein configuration

# Backend profiles, used as @name
profiles:
  local:
    uri: http://localhost:8000
    description: log service on this machine
  # api:
  #   uri: cloudwatch:///app/api/prod?profile=prod&region=us-east-1
  # app:
  #   uri: file:///var/log/app.log?format=json

# Used when a command is run without a backend
default_profile: local

# Diagnostic logging: debug, info, warn, error
log_level: warn

# Default output format: text, txt, json, csv
output: text

# AWS defaults for cloudwatch:// URIs
# profile: my-aws-profile
# region: us-east-1

buffer:
  capacity: %d

stream:
  queue_size: %d
  backoff_base: %s
  backoff_max: %s
  max_retries: %d
  # max_elapsed: 5m

stats:
  interval: %s

export:
  poll_interval: %s
  timeout: %s
  dir: .

serve:
  addr: ":8088"
`, buffer.DefaultCapacity, stream.DefaultQueueSize, backoff.Base, backoff.Max,
		stream.DefaultMaxRetries, stats.DefaultInterval,
		export.DefaultPollInterval, export.DefaultTimeout)
}

// createFileIfNotExists writes content to path, creating parent directories.
// It reports false without writing when the file exists and force is unset.
func createFileIfNotExists(path, content string, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}
