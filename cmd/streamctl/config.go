package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/joshuapare/cmdring/stream/transfer"
)

const (
	keyConfig         = "config"
	keyLogLevel       = "log-level"
	keyLogDir         = "log-dir"
	keyMode           = "mode"
	keyRingSize       = "ring-size"
	keyTransferSize   = "transfer-size"
	keyTransferMin    = "transfer-min"
	keyTransferMax    = "transfer-max"
	keyResultSize     = "result-size"
	keyAlignment      = "alignment"
	keyFlushThreshold = "flush-threshold"
	keyCommands       = "commands"
	keyPayloadMin     = "payload-min"
	keyPayloadMax     = "payload-max"
	keyTokenEvery     = "token-every"
	keyCommandDelay   = "command-delay"
	keyWaitTimeout    = "wait-timeout"
	keyCreateLimit    = "create-limit"
	keySeed           = "seed"
	keyMetrics        = "metrics"

	envPrefix = "STREAMCTL"
)

// simConfig is the fully resolved configuration of a simulated run.
type simConfig struct {
	Mode         string          `json:"mode"`
	RingSize     uint32          `json:"ring_size"`
	Transfer     transfer.Config `json:"transfer"`
	Commands     int             `json:"commands"`
	PayloadMin   uint32          `json:"payload_min"`
	PayloadMax   uint32          `json:"payload_max"`
	TokenEvery   int             `json:"token_every"`
	CommandDelay time.Duration   `json:"command_delay"`
	WaitTimeout  time.Duration   `json:"wait_timeout"`
	CreateLimit  uint32          `json:"create_limit"`
	Seed         int64           `json:"seed"`
	Metrics      bool            `json:"metrics"`
}

func registerConfigFlags(cmd *cobra.Command) {
	def := transfer.DefaultConfig()
	f := cmd.PersistentFlags()

	f.String(keyConfig, "", "YAML config file")
	f.String(keyLogLevel, "info", "Log level: debug, info, warn, error")
	f.String(keyLogDir, "", "Write JSON logs to a dated file in this directory")

	f.String(keyMode, "sync", "Service mode: sync, paused, async")
	f.String(keyRingSize, "1MiB", "Command ring size")
	f.String(keyTransferSize, sizeString(def.DefaultSize), "Default transfer buffer size")
	f.String(keyTransferMin, sizeString(def.MinSize), "Minimum transfer buffer size")
	f.String(keyTransferMax, sizeString(def.MaxSize), "Maximum transfer buffer size")
	f.String(keyResultSize, sizeString(def.ResultSize), "Result area size")
	f.Uint32(keyAlignment, def.Alignment, "Transfer allocation alignment in bytes")
	f.String(keyFlushThreshold, sizeString(def.FlushThreshold), "Transfer bytes between forced flushes (0 disables)")

	f.Int(keyCommands, 1000, "Number of commands to issue")
	f.String(keyPayloadMin, "16B", "Smallest payload staged per command")
	f.String(keyPayloadMax, "8KiB", "Largest payload staged per command")
	f.Int(keyTokenEvery, 16, "Wait for a token every N commands (0 never waits)")
	f.Duration(keyCommandDelay, 0, "Service delay per command in async mode")
	f.Duration(keyWaitTimeout, 0, "Deadline for each blocking wait (0 waits forever)")
	f.String(keyCreateLimit, "0", "Refuse transfer buffers above this size (0 allows all)")
	f.Int64(keySeed, 1, "Payload size random seed")
	f.Bool(keyMetrics, false, "Print Prometheus metrics after the run")
}

// bindConfigFlags binds every persistent flag of cmd to viper and to its
// STREAMCTL_* environment variable.
func bindConfigFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().VisitAll(func(fl *pflag.Flag) {
		mustBindFlag(fl.Name, envName(fl.Name), fl)
	})
}

func sizeString(n uint32) string {
	return strings.ReplaceAll(humanize.IBytes(uint64(n)), " ", "")
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

func mustBindFlag(key, env string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for key %s not found", key))
	}
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
	if env != "" {
		if err := viper.BindEnv(key, env); err != nil {
			panic(err)
		}
	}
}

// loadConfigFile reads the --config file, if one was given.
func loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(viper.GetString(keyConfig))
	if cfgPath == "" {
		return "", nil
	}
	abs, err := filepath.Abs(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("config file %q: %w", abs, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", abs)
	}
	viper.SetConfigFile(abs)
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", abs, err)
	}
	return abs, nil
}

func parseSize(key string) (uint32, error) {
	raw := strings.TrimSpace(viper.GetString(key))
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n > math.MaxUint32 {
		return 0, fmt.Errorf("%s: %s exceeds 4GiB", key, raw)
	}
	return uint32(n), nil
}

func resolveConfig() (simConfig, error) {
	cfg := simConfig{
		Mode:         strings.ToLower(strings.TrimSpace(viper.GetString(keyMode))),
		Commands:     viper.GetInt(keyCommands),
		TokenEvery:   viper.GetInt(keyTokenEvery),
		CommandDelay: viper.GetDuration(keyCommandDelay),
		WaitTimeout:  viper.GetDuration(keyWaitTimeout),
		Seed:         viper.GetInt64(keySeed),
		Metrics:      viper.GetBool(keyMetrics),
	}
	cfg.Transfer.Alignment = viper.GetUint32(keyAlignment)

	sizes := []struct {
		key string
		dst *uint32
	}{
		{keyRingSize, &cfg.RingSize},
		{keyTransferSize, &cfg.Transfer.DefaultSize},
		{keyTransferMin, &cfg.Transfer.MinSize},
		{keyTransferMax, &cfg.Transfer.MaxSize},
		{keyResultSize, &cfg.Transfer.ResultSize},
		{keyFlushThreshold, &cfg.Transfer.FlushThreshold},
		{keyPayloadMin, &cfg.PayloadMin},
		{keyPayloadMax, &cfg.PayloadMax},
		{keyCreateLimit, &cfg.CreateLimit},
	}
	for _, s := range sizes {
		v, err := parseSize(s.key)
		if err != nil {
			return cfg, err
		}
		*s.dst = v
	}

	switch {
	case cfg.Mode != "sync" && cfg.Mode != "paused" && cfg.Mode != "async":
		return cfg, fmt.Errorf("mode: unknown service mode %q", cfg.Mode)
	case cfg.Commands < 0:
		return cfg, fmt.Errorf("commands: must not be negative")
	case cfg.PayloadMin > cfg.PayloadMax:
		return cfg, fmt.Errorf("payload-min %d exceeds payload-max %d", cfg.PayloadMin, cfg.PayloadMax)
	}
	return cfg, nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	Long: `The config command resolves flags, environment variables and the config
file and prints the settings a simulate run would use.

Example:
  streamctl config --ring-size 64KiB
  STREAMCTL_MODE=async streamctl config --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOut {
			return printJSON(out, cfg)
		}
		printInfo(out, "mode:            %s\n", cfg.Mode)
		printInfo(out, "ring size:       %s\n", sizeString(cfg.RingSize))
		printInfo(out, "transfer:        default %s, min %s, max %s, result %s\n",
			sizeString(cfg.Transfer.DefaultSize),
			sizeString(cfg.Transfer.MinSize),
			sizeString(cfg.Transfer.MaxSize),
			sizeString(cfg.Transfer.ResultSize))
		printInfo(out, "alignment:       %d\n", cfg.Transfer.Alignment)
		printInfo(out, "flush threshold: %s\n", sizeString(cfg.Transfer.FlushThreshold))
		printInfo(out, "commands:        %s\n", humanize.Comma(int64(cfg.Commands)))
		printInfo(out, "payload:         %s to %s\n", sizeString(cfg.PayloadMin), sizeString(cfg.PayloadMax))
		printInfo(out, "token every:     %d\n", cfg.TokenEvery)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
