package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/wahub/internal/state"
)

func init() {
	rootCmd.AddCommand(cursorCmd)
	cursorCmd.AddCommand(cursorShowCmd, cursorSetCmd)
}

var cursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Inspect or move the replication cursor",
}

var cursorShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the persisted cursor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store := state.NewCursorStore(cfg.StatePath())
		c, err := store.Read()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stdout, "No cursor at %s; replication starts from 0.\n", store.Path())
				return nil
			}
			return err
		}
		fmt.Fprintf(os.Stdout, "since   = %d\n", c.Since)
		if c.Updated > 0 {
			fmt.Fprintf(os.Stdout, "updated = %s\n", time.UnixMilli(c.Updated).Format(time.RFC3339))
		}
		fmt.Fprintf(os.Stdout, "file    = %s\n", store.Path())
		return nil
	},
}

var cursorSetCmd = &cobra.Command{
	Use:   "set <since>",
	Short: "Overwrite the persisted cursor (stop the service first)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || since < 0 {
			return usagef("cursor must be a non-negative integer, got %q", args[0])
		}
		if pid, err := readPID(); err == nil {
			return fmt.Errorf("service is running (PID %d); stop it before moving the cursor", pid)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store := state.NewCursorStore(cfg.StatePath())
		if err := store.Save(since); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Cursor set to %d.\n", since)
		return nil
	},
}
