package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/upload-manager/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// CLIFlags holds the persistent flag values of one invocation.
type CLIFlags struct {
	ConfigPath string
	URL        string
	Listen     string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext is built by PersistentPreRunE and carried on the command's
// context. Subcommands read it with mustCLIContext.
type CLIContext struct {
	Flags   CLIFlags
	Cfg     *config.Config
	CfgPath string
	Logger  *slog.Logger
}

type cliContextKey struct{}

func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

// mustCLIContext returns the CLIContext stored by the root pre-run. Every
// subcommand runs after it, so a missing value is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cc == nil {
		panic("CLIContext not set: PersistentPreRunE did not run")
	}

	return cc
}

// newRootCmd builds the root command with all subcommands registered.
func newRootCmd() *cobra.Command {
	flags := &CLIFlags{}

	cmd := &cobra.Command{
		Use:     "upload-manager",
		Short:   "Multipart upload client and receiver",
		Long:    "Upload files as multipart requests with progress, abort and error normalization, or run a receiver for them.",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd, *flags)
		},
	}

	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flags.URL, "url", "", "upload url (overrides upload.url)")
	cmd.PersistentFlags().StringVar(&flags.Listen, "listen", "", "receiver listen address (overrides server.listen)")
	cmd.PersistentFlags().BoolVar(&flags.JSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration and stores a CLIContext
// on the command for its RunE.
func loadConfig(cmd *cobra.Command, flags CLIFlags) error {
	bootstrap := buildLogger(nil, flags, cmd.ErrOrStderr())

	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}

	// Only explicit flags override lower layers.
	if cmd.Flags().Changed("url") {
		cli.URL = &flags.URL
	}

	if cmd.Flags().Changed("listen") {
		cli.Listen = &flags.Listen
	}

	env := config.ReadEnvOverrides(bootstrap)

	cfg, cfgPath, err := config.Resolve(env, cli, bootstrap)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cc := &CLIContext{
		Flags:   flags,
		Cfg:     cfg,
		CfgPath: cfgPath,
		Logger:  buildLogger(cfg, flags, cmd.ErrOrStderr()),
	}

	cmd.SetContext(withCLIContext(cmd.Context(), cc))

	return nil
}

// buildLogger creates the logger for w. The config's log level is the
// baseline; --verbose and --quiet override it. A nil cfg gives the
// bootstrap logger used while the config itself is loading.
func buildLogger(cfg *config.Config, flags CLIFlags, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	format := "auto"

	if cfg != nil {
		level = parseLevel(cfg.Logging.LogLevel)
		format = cfg.Logging.LogFormat
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !isTerminal(w)) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
