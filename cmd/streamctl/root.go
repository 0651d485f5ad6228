package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joshuapare/cmdring/internal/logger"
)

var (
	// Global flags
	verbose bool
	quiet   bool
	jsonOut bool

	closeLog = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "streamctl",
	Short: "Exercise the command stream transport against a simulated service",
	Long: `streamctl drives the command ring, token tracker and transfer buffer
against an in-process reference service and reports what happened: flushes,
waits, buffer growth and throughput.

Settings come from flags, STREAMCTL_* environment variables or a YAML config
file, in that order of precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfigFile(); err != nil {
			return err
		}
		return initLogging(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLog()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log to stderr")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	registerConfigFlags(rootCmd)
	bindConfigFlags(rootCmd)
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging configures logger.L from the resolved settings. Logs go to
// cmd's stderr unless a log directory is set.
func initLogging(cmd *cobra.Command) error {
	level, err := logger.ParseLevel(viper.GetString(keyLogLevel))
	if err != nil {
		return err
	}
	dir := viper.GetString(keyLogDir)
	closeFn, err := logger.Init(logger.Options{
		Enabled: verbose || dir != "",
		LogDir:  dir,
		Level:   level,
		Stderr:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	closeLog = closeFn
	return nil
}

// printInfo prints unless in quiet mode.
func printInfo(w io.Writer, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(w, format, args...)
	}
}

// printJSON outputs v as indented JSON.
func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
