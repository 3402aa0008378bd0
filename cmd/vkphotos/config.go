package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"vkphotos/pkg/config"
	"vkphotos/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage vkphotos configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (VKPHOTOS_*) and .env files
  - Configuration file
  - Default values (lowest priority)`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default values",
	RunE:  runConfigInit,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration with the token masked",
	RunE:  runConfigShow,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration",
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd, showCmd, validateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = "vkphotos.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration file created: " + path)
	fmt.Fprintln(ui.Output, "\nNext steps:")
	fmt.Fprintln(ui.Output, "1. Store a token with 'vkphotos auth login <name>' or set VKPHOTOS_ACCESS_TOKEN")
	fmt.Fprintln(ui.Output, "2. Run 'vkphotos config validate'")
	fmt.Fprintln(ui.Output, "3. Start with 'vkphotos sync group:<id>'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, commandFlags())
	if err != nil {
		return err
	}

	display := *cfg
	display.API.AccessToken = maskToken(display.API.AccessToken)
	display.Store.DSN = maskToken(display.Store.DSN)

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Fprint(ui.Output, string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, commandFlags())
	if err != nil {
		return err
	}

	if cfg.API.AccessToken == "" {
		ui.PrintWarning("No access token in configuration; stored credentials will be used")
	}
	if cfg.Sync.UseFallbackCounters && !cfg.Fallback.Enabled {
		ui.PrintWarning("use_fallback_counters is set but the fallback is disabled")
	}

	ui.PrintSuccess("Configuration is valid")
	ui.PrintInfo("Store", cfg.Store.Driver)
	ui.PrintInfo("API", cfg.API.BaseURL+" v"+cfg.API.Version)
	ui.PrintInfo("Rate limit", fmt.Sprintf("%d requests/minute, burst %d", cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize))
	ui.PrintInfo("Page size", fmt.Sprint(cfg.Sync.PageSize))
	return nil
}

// maskToken hides all but the edges of a secret
func maskToken(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
