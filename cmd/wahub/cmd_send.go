package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/wahub/internal/outbox"
	"github.com/user/wahub/internal/types"
)

var sendFlags struct {
	to    string
	alias string
	text  string
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendFlags.to, "to", "", "recipient number or alias")
	sendCmd.Flags().StringVar(&sendFlags.alias, "alias", "", "recipient alias (when --to is not given)")
	sendCmd.Flags().StringVar(&sendFlags.text, "text", "", "message text")
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Queue a message through the running service's send pipe",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &types.SendRequest{To: sendFlags.to, Alias: sendFlags.alias, Text: sendFlags.text}
		if err := req.Validate(); err != nil {
			return usageError(err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := outbox.WriteEnvelope(cfg.FIFO(), req); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Queued message to %s.\n", req.Target())
		return nil
	},
}
