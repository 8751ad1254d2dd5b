package main

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/vibro/internal/device"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List nearby or paired Bluetooth devices",
	Long: `List the devices the configured transport can reach.

For Bluetooth LE the command listens for advertisements for --duration.
For Classic it lists the devices paired with this host. The configured
sensor name is marked with '*'.`,
	Example: `  vibro scan
  vibro scan --duration 30s
  VIBRO_TRANSPORT=classic vibro scan`,
	RunE: runScan,
}

var scanDuration time.Duration

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "How long to listen for advertisements")
}

type advertisementDiscoverer interface {
	Discover(ctx context.Context, handler func(device.Advertisement)) error
}

type pairedLister interface {
	Paired(ctx context.Context) ([]device.Target, error)
}

func runScan(cmd *cobra.Command, _ []string) error {
	a, _, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	var targets []device.Target
	switch tr := a.Transport().(type) {
	case advertisementDiscoverer:
		if targets, err = discover(ctx, cmd, tr); err != nil {
			return err
		}
	case pairedLister:
		if targets, err = tr.Paired(ctx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %s transport cannot list devices", device.ErrUnsupported, tr.Kind())
	}

	out := cmd.OutOrStdout()
	if len(targets) == 0 {
		fmt.Fprintln(out, "No devices found.")
		return nil
	}

	name := a.Config().DeviceName()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tNAME\tADDRESS\tRSSI")
	for _, t := range targets {
		mark := ""
		if t.Name == name {
			mark = "*"
		}
		rssi := "-"
		if t.RSSI != 0 {
			rssi = fmt.Sprintf("%d", t.RSSI)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, displayName(t.Name), t.Address, rssi)
	}
	return w.Flush()
}

func discover(ctx context.Context, cmd *cobra.Command, d advertisementDiscoverer) ([]device.Target, error) {
	scanCtx, cancel := context.WithTimeout(ctx, scanDuration)
	defer cancel()

	fmt.Fprintf(cmd.ErrOrStderr(), "Scanning for %s...\n", scanDuration)

	var (
		mu      sync.Mutex
		targets []device.Target
	)
	err := d.Discover(scanCtx, func(adv device.Advertisement) {
		mu.Lock()
		defer mu.Unlock()
		targets = append(targets, device.Target{Name: adv.LocalName(), Address: adv.Addr(), RSSI: adv.RSSI()})
	})
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	// Strongest signal first
	sort.SliceStable(targets, func(i, j int) bool { return targets[i].RSSI > targets[j].RSSI })
	return targets, nil
}

func displayName(name string) string {
	if name == "" {
		return "(unnamed)"
	}
	return name
}
