package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/srg/vibro/internal/settings"
)

// configCmd groups the settings subcommands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the persisted settings",
	Long: `Show or change the settings kept in the local store:

  threshold     alert threshold in [0, 100] (default 80)
  auto-connect  connect to the sensor when monitoring starts (default true)
  theme         light or dark (default light)`,
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the current settings",
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change one or more settings",
	Example: `  vibro config set --threshold 65
  vibro config set --auto-connect=false --theme dark`,
	RunE: runConfigSet,
}

var (
	configFormat      string
	configThreshold   int
	configAutoConnect bool
	configTheme       string
)

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)

	configGetCmd.Flags().StringVarP(&configFormat, "format", "f", "text", "Output format (text, json)")

	configSetCmd.Flags().IntVar(&configThreshold, "threshold", 0, "Alert threshold (0-100)")
	configSetCmd.Flags().BoolVar(&configAutoConnect, "auto-connect", false, "Connect automatically when monitoring starts")
	configSetCmd.Flags().StringVar(&configTheme, "theme", "", "Theme (light, dark)")
}

func runConfigGet(cmd *cobra.Command, _ []string) error {
	if configFormat != "text" && configFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [text json]", configFormat)
	}

	a, _, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	return printSettings(cmd.OutOrStdout(), a.Settings().Current(), configFormat)
}

func runConfigSet(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	if !flags.Changed("threshold") && !flags.Changed("auto-connect") && !flags.Changed("theme") {
		return fmt.Errorf("nothing to set: use --threshold, --auto-connect or --theme")
	}

	a, _, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.Settings().Current()
	if flags.Changed("threshold") {
		cfg.Threshold = configThreshold
	}
	if flags.Changed("auto-connect") {
		cfg.AutoConnect = configAutoConnect
	}
	if flags.Changed("theme") {
		cfg.Theme = settings.Theme(configTheme)
	}

	if err := a.Settings().Save(cmd.Context(), cfg); err != nil {
		return err
	}
	return printSettings(cmd.OutOrStdout(), a.Settings().Current(), "text")
}

func printSettings(out io.Writer, cfg settings.Config, format string) error {
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}
	fmt.Fprintf(out, "threshold:    %d\n", cfg.Threshold)
	fmt.Fprintf(out, "auto-connect: %t\n", cfg.AutoConnect)
	fmt.Fprintf(out, "theme:        %s\n", cfg.Theme)
	return nil
}
