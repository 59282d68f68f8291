package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/joshuapare/starscan/internal/logger"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose  bool
	quiet    bool
	jsonOut  bool
	noColor  bool
	logLevel string
	logJSON  bool
)

// stdout is swapped by tests.
var stdout io.Writer = os.Stdout

var rootCmd = &cobra.Command{
	Use:   "pcscanctl",
	Short: "Exercise and observe the quarantine scanner",
	Long: `pcscanctl runs synthetic allocation workloads on a partition with a
quarantine scanner attached. Freed objects are quarantined, scanned for
dangling references and swept; pcscanctl reports sizes, survival rates and
phase timings.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			disableColor()
		}
		logger.Init(logger.Options{
			Enabled: verbose || cmd.Flags().Changed("log-level"),
			Level:   logger.ParseLevel(logLevel),
			JSON:    logJSON,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().
		StringVar(&logLevel, "log-level", "info", "Log level on stderr (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(stdout, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose && !quiet {
		fmt.Fprintf(stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
