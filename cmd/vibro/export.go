package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/vibro/internal/history"
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the history to CSV or XLSX",
	Long: `Write the whole history to vibration_history.csv (or .xlsx) in --dir.

The CSV has a Timestamp,Value header and one row per reading with an
ISO-8601 UTC timestamp.`,
	Example: `  vibro export
  vibro export --format xlsx --dir ~/reports`,
	RunE: runExport,
}

var (
	exportFormat string
	exportDir    string
)

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "Export format (csv, xlsx)")
	exportCmd.Flags().StringVar(&exportDir, "dir", ".", "Directory to write the file into")
}

func runExport(cmd *cobra.Command, _ []string) error {
	format, err := history.ParseFormat(exportFormat)
	if err != nil {
		return err
	}

	a, logger, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	path, err := history.ExportFile(cmd.Context(), a.History(), format, exportDir)
	if err != nil {
		logger.WithError(err).Error("Export failed")
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Exported history to %s (%s)\n", path, format.MIMEType())
	return nil
}
