package cmd

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/linmx0130/nah/internal/config"
)

var appVersion = "dev"

func SetVersion(v string) {
	appVersion = v
}

var (
	flagHistoryPath string
	flagTimeout     int
	flagVerbose     bool
)

var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:   "nah <config-file>",
	Short: "Interactive MCP client with an LLM chat mode",
	Long: `nah starts the MCP servers declared in a config file and opens an
interactive shell to list, inspect and call their tools, resources and
prompts, or to chat with a model that can call those tools.

Examples:
  # Start every server in a Claude Desktop style config
  nah ~/mcp.json

  # Keep transcripts in a fixed folder
  nah ~/mcp.json --history-path ./nah-history`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLogger(flagVerbose)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	RunE: runRoot,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flagHistoryPath, config.FlagHistoryPath, "", "folder for transcripts and chat history (default nah_<unix-seconds>)")
	f.IntVar(&flagTimeout, config.FlagTimeout, config.DefaultTimeoutMs, "default receive timeout in milliseconds")
	f.BoolVar(&flagVerbose, "verbose", false, "log protocol details to stderr")
	rootCmd.SetVersionTemplate(fmt.Sprintf("nah v%s\n", appVersion))
}

func Execute() error {
	rootCmd.Version = appVersion
	defer func() { _ = logger.Sync() }()
	return rootCmd.Execute()
}

// newLogger logs warnings to stderr, or everything from debug up with
// verbose.
func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

func runRoot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Config file: %s\n", args[0])
	cfg, err := config.NewLoader(logger).Load(ctx, args[0], cmd.Flags())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Found servers:")
	for _, s := range cfg.Servers {
		fmt.Fprintf(out, " - %s\n", s.Name)
	}

	history := cfg.HistoryPath
	if history == "" {
		history = fmt.Sprintf("nah_%d", time.Now().Unix())
	}
	if err := os.MkdirAll(history, 0o755); err != nil {
		return fmt.Errorf("failed to create history folder %s: %w", history, err)
	}
	fmt.Fprintf(out, "Nah communication history folder: %s\n", history)

	sh := newShell(cfg, history, bufio.NewReader(cmd.InOrStdin()), out, logger)
	defer sh.closeAll()
	sh.startAll(ctx)
	return sh.run(ctx)
}
