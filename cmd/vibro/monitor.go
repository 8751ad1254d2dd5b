package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/vibro/internal/alert"
	"github.com/srg/vibro/internal/app"
	"github.com/srg/vibro/internal/connector"
	"github.com/srg/vibro/internal/device"
	"github.com/srg/vibro/internal/history"
	"github.com/srg/vibro/internal/reading"
	"golang.org/x/term"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Connect to the sensor and stream live readings",
	Long: `Connect to the vibration sensor and print every reading as it arrives.

Each line shows the local time, the value, its severity band
(low < 30 <= moderate < 70 <= high) and a THRESHOLD EXCEEDED marker when the
value is above the configured threshold. Readings are appended to the history.

The connection is attempted once. If the sensor is not found the command keeps
searching (unless a scan timeout is configured); if the link drops it is not
re-established automatically. Press Ctrl+C to stop.`,
	Example: `  vibro monitor
  vibro monitor --duration 10m
  VIBRO_TRANSPORT=classic vibro monitor --pty`,
	RunE: runMonitor,
}

var (
	monitorDuration time.Duration
	monitorPTY      bool
	monitorMQTT     bool
)

func init() {
	monitorCmd.Flags().DurationVarP(&monitorDuration, "duration", "d", 0, "Stop after this long (0 runs until Ctrl+C)")
	monitorCmd.Flags().BoolVar(&monitorPTY, "pty", false, "Mirror readings to a pseudo-terminal")
	monitorCmd.Flags().BoolVar(&monitorMQTT, "mqtt", false, "Publish readings to the configured MQTT broker")
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if monitorPTY {
		cfg.PTY.Enabled = true
	}
	if monitorMQTT {
		cfg.MQTT.Enabled = true
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	cmd.SilenceUsage = true

	a, err := appFactory(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	if monitorDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, monitorDuration)
		defer cancel()
	}

	out := cmd.OutOrStdout()
	live := a.Pipeline().Subscribe(64)

	if err := a.Start(ctx); err != nil {
		return err
	}
	if m := a.Mirror(); m != nil {
		fmt.Fprintf(out, "PTY mirror: %s\n", m.TTYName())
	}
	if !a.Settings().Current().AutoConnect {
		fmt.Fprintln(out, "Auto-connect is off. Enable it with: vibro config set --auto-connect=true")
	}

	mon := &monitorView{out: out, app: a, name: cfg.DeviceName()}
	defer mon.stopProgress()

	for {
		select {
		case <-ctx.Done():
			mon.stopProgress()
			a.Stop()
			mon.printSummary()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil
			}
			fmt.Fprintln(out, "\nStopped.")
			return context.Canceled
		case ev, ok := <-a.Connector().Events():
			if !ok {
				return nil
			}
			mon.printState(ev)
		case r, ok := <-live.C():
			if !ok {
				return nil
			}
			mon.printReading(r)
		}
	}
}

// monitorView renders connector events and readings for a human.
type monitorView struct {
	out      io.Writer
	app      *app.App
	name     string
	progress *ProgressPrinter
}

var (
	severityColors = map[alert.Severity]*color.Color{
		alert.SeverityLow:      color.New(color.FgGreen),
		alert.SeverityModerate: color.New(color.FgYellow),
		alert.SeverityHigh:     color.New(color.FgRed),
	}
	exceededColor = color.New(color.FgRed, color.Bold)
	stateColor    = color.New(color.FgCyan)
)

func (m *monitorView) printState(ev connector.StateChange) {
	switch ev.To {
	case device.StateScanning:
		if isTerminal(m.out) {
			m.progress = NewProgressPrinter(m.out, "Searching for "+m.name)
			m.progress.Start()
		} else {
			stateColor.Fprintf(m.out, "Searching for %s...\n", m.name)
		}
	case device.StateConnecting:
		m.stopProgress()
		target := m.app.Connector().Status().Target
		stateColor.Fprintf(m.out, "Found %s (%s), connecting...\n", target.Name, target.Address)
	case device.StateSubscribed:
		stateColor.Fprintf(m.out, "Connected to %s\n", m.name)
	case device.StateDisconnected:
		m.stopProgress()
		exceededColor.Fprintf(m.out, "Disconnected: %s\n", FormatUserError(errOrUnknown(ev.Err)))
	case device.StateIdle:
		m.stopProgress()
		if ev.Err != nil {
			exceededColor.Fprintf(m.out, "Not connected: %s\n", FormatUserError(ev.Err))
		}
	}
}

func (m *monitorView) printReading(r reading.Reading) {
	m.stopProgress()
	ev := m.app.Evaluate(r)
	fmt.Fprintf(m.out, "%s  %3d  ", r.Time().Format("15:04:05"), r.Value)
	severityColors[ev.Severity].Fprintf(m.out, "%-8s", ev.Severity)
	if ev.Exceeded {
		fmt.Fprint(m.out, "  ")
		exceededColor.Fprint(m.out, "THRESHOLD EXCEEDED")
	}
	fmt.Fprintln(m.out)
}

func (m *monitorView) printSummary() {
	stats := history.Summarize(m.app.Session().Snapshot())
	fmt.Fprintf(m.out, "Session: %d readings, peak %d, average %d\n", stats.Count, stats.Peak, stats.Average)
}

func (m *monitorView) stopProgress() {
	if m.progress != nil {
		m.progress.Stop()
		m.progress = nil
	}
}

func errOrUnknown(err error) error {
	if err == nil {
		return errors.New("connection closed")
	}
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
