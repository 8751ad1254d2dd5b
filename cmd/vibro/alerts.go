package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/vibro/internal/reading"
)

// alertsCmd groups the alert subcommands
var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List or record alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded alerts in the order they were raised",
	RunE:  runAlertsList,
}

var alertsAddCmd = &cobra.Command{
	Use:     "add",
	Short:   "Record an alert for a value observed now",
	Example: `  vibro alerts add --value 92`,
	RunE:    runAlertsAdd,
}

var (
	alertsFormat string
	alertsValue  int
)

func init() {
	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsAddCmd)

	alertsListCmd.Flags().StringVarP(&alertsFormat, "format", "f", "text", "Output format (text, json)")

	alertsAddCmd.Flags().IntVar(&alertsValue, "value", 0, "Observed vibration value")
	_ = alertsAddCmd.MarkFlagRequired("value")
}

func runAlertsList(cmd *cobra.Command, _ []string) error {
	if alertsFormat != "text" && alertsFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [text json]", alertsFormat)
	}

	a, _, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	all := a.Alerts().All()
	out := cmd.OutOrStdout()
	if alertsFormat == "json" {
		return json.NewEncoder(out).Encode(all)
	}
	if len(all) == 0 {
		fmt.Fprintln(out, "No alerts recorded.")
		return nil
	}
	for _, al := range all {
		fmt.Fprintln(out, al.String())
	}
	return nil
}

func runAlertsAdd(cmd *cobra.Command, _ []string) error {
	a, _, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	al, err := a.AddAlert(cmd.Context(), reading.New(nowFunc(), alertsValue))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), al.String())
	return nil
}
