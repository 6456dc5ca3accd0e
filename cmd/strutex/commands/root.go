// Package commands implements the CLI commands for strutex.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aquilesorei/strutex/internal/config"
	"github.com/Aquilesorei/strutex/internal/logger"
	"github.com/Aquilesorei/strutex/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "strutex",
	Short: "Structured data extraction from documents with LLMs",
	Long: `Strutex extracts structured JSON from documents (PDF, images, HTML,
spreadsheets, text) using LLMs, with provider fallback, caching,
validation and security checks.

Examples:
  # Extract invoice data from a PDF
  strutex run invoice.pdf -s invoice.yaml --prompt "Extract the invoice"

  # Several documents, including remote ones, as JSON lines
  strutex run a.pdf https://example.com/b.pdf s3://bucket/c.png \
      -s invoice.yaml -f jsonl -o out.jsonl

  # A job file
  strutex run --job job.yaml

  # Available plugins
  strutex plugins list`,
	SilenceUsage: true,
	Version:      version.String(),
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		initLogger(cmd, "")
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default $HOME/.strutex.yaml)")
	flags.Bool("debug", false, "enable debug logging")
	flags.BoolP("quiet", "q", false, "only log errors")
	flags.String("log-file", "", "write logs to a rotated file instead of stderr")
}

// Execute runs the root command.
func Execute() error {
	defer func() { _ = logger.Close() }()
	return rootCmd.Execute()
}

func initLogger(cmd *cobra.Command, file string) {
	debug, _ := cmd.Flags().GetBool("debug")
	quiet, _ := cmd.Flags().GetBool("quiet")
	if f, _ := cmd.Flags().GetString("log-file"); f != "" {
		file = f
	}
	logger.Init(logger.Options{Debug: debug, Quiet: quiet, File: file})
}

// loadConfig reads the configuration and overlays the flags in bind (config
// key to flag name) that were set on the command line.
func loadConfig(cmd *cobra.Command, bind map[string]string) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	m, err := config.NewManager(path)
	if err != nil {
		return nil, err
	}
	v := m.Viper()
	for key, name := range bind {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	cfg, err := m.Reload()
	if err != nil {
		return nil, err
	}
	if cfg.LogFile != "" {
		initLogger(cmd, cfg.LogFile)
	}
	if file := m.ConfigFile(); file != "" {
		logger.Debug("config loaded", "file", file)
	}
	return cfg, nil
}

// logInfo prints a progress message to stderr unless quiet.
func logInfo(cmd *cobra.Command, format string, args ...any) {
	if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
