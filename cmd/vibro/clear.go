package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// clearCmd represents the clear command
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all readings and alerts",
	Long:  `Delete the whole reading history and the alert list. Settings are kept.`,
	RunE:  runClear,
}

var clearYes bool

func init() {
	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "Confirm deletion")
}

func runClear(cmd *cobra.Command, _ []string) error {
	if !clearYes {
		cmd.SilenceUsage = true
		return ErrNotConfirmed
	}

	a, _, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.ClearHistory(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
	return nil
}
