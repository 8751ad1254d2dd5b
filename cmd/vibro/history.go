package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/vibro/internal/alert"
	"github.com/srg/vibro/internal/history"
	"github.com/srg/vibro/internal/reading"
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded readings",
	Long: `Show readings from the durable history.

--range limits the listing to the last hour (1h), six hours (6h), day (1d)
or week (1w). --stats prints today's peak and average instead of the rows,
--daily prints one summary line per calendar day.`,
	Example: `  vibro history --range 1h
  vibro history --stats
  vibro history --daily --format json`,
	RunE: runHistory,
}

var (
	historyRange  string
	historyStats  bool
	historyDaily  bool
	historyFormat string
)

// nowFunc is overridden in tests.
var nowFunc = time.Now

func init() {
	historyCmd.Flags().StringVarP(&historyRange, "range", "r", "", "Time range (1h, 6h, 1d, 1w); empty shows everything")
	historyCmd.Flags().BoolVar(&historyStats, "stats", false, "Show today's peak and average")
	historyCmd.Flags().BoolVar(&historyDaily, "daily", false, "Show one summary per day")
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", "table", "Output format (table, json)")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if historyFormat != "table" && historyFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", historyFormat)
	}
	var window time.Duration
	if historyRange != "" {
		rng, err := history.ParseRange(historyRange)
		if err != nil {
			return err
		}
		window = rng.Window()
	}

	a, _, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	all, err := a.History().All(cmd.Context())
	if err != nil {
		return err
	}
	now := nowFunc()
	if window > 0 {
		all = history.Since(all, now, window)
	}

	out := cmd.OutOrStdout()
	switch {
	case historyStats:
		stats := history.TodayStats(all, now)
		if historyFormat == "json" {
			return json.NewEncoder(out).Encode(stats)
		}
		fmt.Fprintf(out, "Peak Today: %d\nAvg Today: %d\nReadings Today: %d\n", stats.Peak, stats.Average, stats.Count)
		return nil

	case historyDaily:
		daily := history.Daily(all, now.Location())
		if historyFormat == "json" {
			return json.NewEncoder(out).Encode(daily)
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DAY\tREADINGS\tPEAK\tAVERAGE")
		for pair := daily.Oldest(); pair != nil; pair = pair.Next() {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", pair.Key, pair.Value.Count, pair.Value.Peak, pair.Value.Average)
		}
		return w.Flush()

	default:
		if historyFormat == "json" {
			if all == nil {
				all = []reading.Reading{}
			}
			return json.NewEncoder(out).Encode(all)
		}
		if len(all) == 0 {
			fmt.Fprintln(out, "No readings recorded.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tVALUE\tSEVERITY")
		for _, r := range all {
			fmt.Fprintf(w, "%s\t%d\t%s\n", history.FormatTimestamp(r.Timestamp), r.Value, alert.Classify(r.Value))
		}
		return w.Flush()
	}
}
