package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/wahub/internal/config"
	"github.com/user/wahub/internal/tail"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgPath   string
	overrides config.Overrides
)

var rootCmd = &cobra.Command{
	Use:           "wahub",
	Short:         "Replicate a chat worker's message history into local event logs",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "config file path (default: discovered)")
	pf.StringVar(&overrides.BaseDir, "base", "", "base directory")
	pf.StringVar(&overrides.DataDir, "data", "", "data directory for logs and state")
	pf.StringVar(&overrides.AliasesPath, "aliases", "", "alias book path")
	pf.StringVar(&overrides.FIFOPath, "fifo", "", "send pipe path")
	pf.StringVar(&overrides.Worker, "worker", "", "worker base URL")
	pf.StringVar(&overrides.PhoneID, "phone", "", "phone number id used for sends")
	pf.StringVar(&overrides.LogLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError(err)
	})
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error {
	return &exitError{code: 2, err: err}
}

func usagef(format string, args ...any) error {
	return usageError(fmt.Errorf(format, args...))
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, tail.ErrTimeout) {
			fmt.Fprintf(os.Stderr, "wahub: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}

// configFile returns the config file in use: --config, or the first
// discovered file. Empty means built-in defaults.
func configFile() string {
	if cfgPath != "" {
		return cfgPath
	}
	return config.Discover()
}

// editableConfigFile is where config set writes when no file exists yet.
func editableConfigFile() string {
	if p := configFile(); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wa-hub", config.FileName)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Apply(overrides)
	return cfg, nil
}

func setupLogging(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}
