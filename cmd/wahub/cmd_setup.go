package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/wahub/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Write a config file interactively",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := editableConfigFile()

		fmt.Println("wahub setup")
		fmt.Println("Press Enter to keep the value shown in brackets.")
		fmt.Println()

		runSetup(cfg, bufio.NewScanner(os.Stdin), os.Stdout)

		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stdout, "\nWarning: %v; serve will refuse to start until it is set.\n", err)
		}
		if err := config.Save(path, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Println()
		fmt.Println("Configuration saved to", path)
		return nil
	},
}

func runSetup(cfg *config.Config, in *bufio.Scanner, out io.Writer) {
	cfg.Worker = strings.TrimRight(prompt(in, out, "Worker URL", cfg.Worker), "/")
	cfg.PhoneID = prompt(in, out, "Phone number id", cfg.PhoneID)
	cfg.WorkerToken = prompt(in, out, "Worker token (optional)", cfg.WorkerToken)
	cfg.BaseDir = prompt(in, out, "Base directory", cfg.BaseDir)
	if n, err := strconv.ParseInt(prompt(in, out, "Rotate logs at bytes (0 = never)", strconv.FormatInt(cfg.RotateGlobalBytes, 10)), 10, 64); err == nil && n >= 0 {
		cfg.RotateGlobalBytes = n
		cfg.RotatePeerBytes = n
	}
}

// prompt shows label with its default and returns the trimmed answer, or
// the default for an empty one.
func prompt(in *bufio.Scanner, out io.Writer, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}
	if in.Scan() {
		if input := strings.TrimSpace(in.Text()); input != "" {
			return input
		}
	}
	return defaultVal
}
