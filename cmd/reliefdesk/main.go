// Package main provides the reliefdesk binary entry point.
// Reliefdesk is an operator CLI for the damage-report service: it lists,
// filters and summarises reports and submits, edits and deletes them.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/reliefdesk/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "reliefdesk"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	apiURL     string
	logLevel   string
	jsonOutput bool
}

func rootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Damage report operator console",
		Long: `Reliefdesk manages damage reports held by the relief service.

It provides:
- Listing with category, search and expression filters
- Dashboard statistics (total, severe, recent, recovery rate)
- Report submission and editing with image attachments
- Image replacement and report deletion

Configuration is read from ~/.config/reliefdesk/config.yaml, reliefdesk.yaml,
.env and RELIEFDESK_* environment variables.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML); skips the layered lookup")
	pf.StringVar(&flags.apiURL, "api-url", "", "Service base URL, e.g. http://localhost:5000/api")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.BoolVar(&flags.jsonOutput, "json", false, "Print JSON instead of tables")

	cmd.AddCommand(
		listCmd(&flags),
		showCmd(&flags),
		statsCmd(&flags),
		createCmd(&flags),
		updateCmd(&flags),
		replaceImagesCmd(&flags),
		deleteCmd(&flags),
	)

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// loadConfig resolves configuration and applies command-line overrides.
func loadConfig(flags *globalFlags, logger *slog.Logger) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flags.configPath != "" {
		cfg, err = config.LoadFromFile(flags.configPath)
	} else {
		cfg, err = config.NewLoader(logger).Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if flags.apiURL != "" {
		cfg.API.BaseURL = flags.apiURL
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the stderr text logger at level.
func newLogger(w io.Writer, level string) *slog.Logger {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
