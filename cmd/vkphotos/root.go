package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"vkphotos/pkg/ui"
)

var (
	// Version information
	version   = "0.1.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile    string
	logLevel      string
	noColor       bool
	notifications bool
	quiet         bool
	accessToken   string
	accountName   string
	storeDriver   string
	storePath     string
	storeDSN      string
	outputFile    string
	outputFormat  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vkphotos",
	Short: "Synchronize VK photo albums, photos and likes into a local store",
	Long: `vkphotos mirrors the photo albums of a VK user or community into a local
SQLite, MySQL or in-memory store.

Features:
  - Exhaustive paginated retrieval with time windows and limits
  - Idempotent upserts keyed by composite "<scope>_<id>" identifiers
  - Likes reconciliation that only ever adds likers
  - Rate limiting and retry with exponential backoff
  - Incremental scope sync driven by checkpoints
  - Secure token storage in the system keychain or an encrypted file`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			ui.NoColor = true
		}
		if quiet {
			logLevel = "error"
		}
		if !quiet && cmd.Name() == "sync" {
			ui.PrintLogo()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (default is ./vkphotos.yaml)")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error, disabled)")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")
	flags.BoolVar(&notifications, "notifications", false, "send a desktop notification when a sync finishes")
	flags.BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	flags.StringVar(&accessToken, "access-token", "", "API access token (overrides stored credentials)")
	flags.StringVarP(&accountName, "account", "a", "", "use a stored account by name or VK user id")
	flags.StringVar(&storeDriver, "store", "", "store driver (memory, sqlite, mysql)")
	flags.StringVar(&storePath, "db", "", "SQLite database file")
	flags.StringVar(&storeDSN, "dsn", "", "MySQL data source name")
	flags.StringVarP(&outputFile, "output", "o", "", "write the result report to a .json or .yaml file")
	flags.StringVar(&outputFormat, "format", "", "print the result report to stdout as json or yaml")

	rootCmd.SetVersionTemplate(`vkphotos {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
