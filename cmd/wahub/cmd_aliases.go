package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/wahub/internal/alias"
)

func init() {
	rootCmd.AddCommand(aliasesCmd)
	aliasesCmd.AddCommand(aliasesListCmd, aliasesResolveCmd)
}

var aliasesCmd = &cobra.Command{
	Use:   "aliases",
	Short: "Inspect the alias book",
}

var aliasesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List aliases and their numbers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		book, err := alias.Read(cfg.AliasesFile())
		if err != nil {
			return err
		}
		entries := book.Aliases()
		if len(entries) == 0 {
			fmt.Fprintln(os.Stdout, "No aliases.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ALIAS\tNUMBER")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\n", e.Alias, e.Number)
		}
		return w.Flush()
	},
}

var aliasesResolveCmd = &cobra.Command{
	Use:   "resolve <alias-or-number>",
	Short: "Show the number and shard key for a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		book := alias.Load(cfg.AliasesFile())
		number := book.Number(args[0])
		fmt.Fprintf(os.Stdout, "number = %s\n", number)
		fmt.Fprintf(os.Stdout, "key    = %s\n", book.PeerKey(number))
		return nil
	},
}
