package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmurray2011/skein/internal/backend"
	"github.com/jmurray2011/skein/internal/ui"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List configured backend profiles",
	Long: `List backend profiles defined in the configuration file.

Profiles are defined in ~/.skein/config.yaml:

  profiles:
    prod:
      uri: http://logs.internal:8000
      description: production log service
    api:
      uri: cloudwatch:///app/api/prod?profile=prod&region=us-east-1
    local:
      uri: file:///var/log/app.log?format=json

  default_profile: prod

Use profiles with the @ prefix:
  skein watch @prod --level error
  skein query @api --since 1h`,
	RunE: runProfiles,
}

func init() {
	rootCmd.AddCommand(profilesCmd)
}

func runProfiles(cmd *cobra.Command, args []string) error {
	app := GetApp(cmd)

	cfg, err := backend.LoadConfig(app.Config.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if len(cfg.Profiles) == 0 {
		path := app.Config.ConfigPath
		if path == "" {
			path = backend.ConfigPath()
		}
		app.Render.Info("No profiles configured.")
		app.Render.Newline()
		app.Render.Info("Create profiles in %s:", path)
		fmt.Println()
		fmt.Println("  profiles:")
		fmt.Println("    prod:")
		fmt.Println("      uri: http://logs.internal:8000")
		fmt.Println("    local:")
		fmt.Println("      uri: file:///var/log/app.log")
		return nil
	}

	names := cfg.Names()
	maxLen := 0
	for _, name := range names {
		maxLen = max(maxLen, len(name))
	}

	for _, name := range names {
		p := cfg.Profiles[name]
		label := ui.LabelStyle.Render(fmt.Sprintf("@%-*s", maxLen, name))
		if app.Config.NoColor {
			label = fmt.Sprintf("@%-*s", maxLen, name)
		}
		fmt.Fprintf(os.Stdout, "%s  %s", label, p.URI)
		if p.Description != "" {
			fmt.Fprintf(os.Stdout, "  (%s)", p.Description)
		}
		fmt.Fprintln(os.Stdout)
	}

	if cfg.DefaultProfile != "" {
		app.Render.Newline()
		app.Render.Info("Default profile: @%s", cfg.DefaultProfile)
	}
	return nil
}
