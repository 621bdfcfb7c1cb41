package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tickwire/tickwire/internal/config"
	"github.com/tickwire/tickwire/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ╔╦╗┬┌─┐┬┌─┬ ┬┬┬─┐┌─┐
   ║ ││  ├┴┐││││├┬┘├┤
   ╩ ┴└─┘┴ ┴└┴┘┴┴└─└─┘
`

// Persistent flags shared by every command.
var (
	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tickwire",
		Short: "Delta snapshot replication for tick-based simulations",
		Long: `Tickwire replicates an authoritative simulation to connected peers.

Each tick the server encodes the changed fields of every replicated
entity into one compact binary snapshot. Features include:

  • Per-field change masks and quantized codecs
  • Full snapshots on join, resync request and period
  • WebSocket transport with handshake and heartbeats
  • Recording to disk, S3 or Redis, and replay
  • Prometheus metrics and OpenTelemetry spans`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(logLevel)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to tickwire.json (default: ./tickwire.json if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(
		initCmd(),
		serveCmd(),
		connectCmd(),
		replayCmd(),
		benchCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		errors.PrintError(err)
		os.Exit(1)
	}
}

// setupLogging installs a text slog handler at the named level as the
// default logger.
func setupLogging(level string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return errors.New("E140").
			WithSource("--log-level").
			WithDetail(fmt.Sprintf("Unknown log level %q.", level)).
			WithSuggestion("Use one of debug, info, warn or error")
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
	return nil
}

// loadConfig loads the file named by --config, or ./tickwire.json when it
// exists. Without either the defaults are used.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	if config.Exists(".") {
		return config.Load(".")
	}
	slog.Debug("no config file, using defaults")
	return config.New(), nil
}

// printBanner prints the tickwire ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}

// errorMsg prints an error message.
func errorMsg(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[31m✗\033[0m %s\n", fmt.Sprintf(format, args...))
}
