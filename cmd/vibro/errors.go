package main

import (
	"errors"
	"fmt"

	"github.com/srg/vibro/internal/device"
	"github.com/srg/vibro/internal/history"
	"github.com/srg/vibro/internal/settings"
)

// Command-level errors
var (
	// ErrNotConfirmed is returned by destructive commands run without --yes.
	ErrNotConfirmed = errors.New("not confirmed")
)

// FormatUserError turns an error chain into the one-line message shown after "ERROR:".
func FormatUserError(err error) string {
	var (
		exportErr *history.ExportError
		permErr   *device.PermissionDeniedError
		scanErr   *device.ScanError
		valErr    *settings.ValidationError
	)

	switch {
	case errors.Is(err, ErrNotConfirmed):
		return "This will delete all readings and alerts. Re-run with --yes to confirm."
	case errors.Is(err, history.ErrNoData):
		return "There is no history data to export."
	case errors.As(err, &exportErr):
		return "Export failed: Could not export data."
	case errors.As(err, &permErr):
		return fmt.Sprintf("Bluetooth permission %s was denied. Grant it (or run with CAP_NET_ADMIN) and try again.", permErr.Permission)
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is off or no adapter is available."
	case errors.Is(err, device.ErrUnsupported):
		return err.Error()
	case errors.As(err, &scanErr) && errors.Is(err, device.ErrDeviceNotFound):
		return fmt.Sprintf("%s not found. Make sure it is powered on and paired.", scanErr.Name)
	case errors.As(err, &scanErr) && errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("%s did not show up before the scan timeout.", scanErr.Name)
	case errors.As(err, &valErr):
		return valErr.Error()
	default:
		return err.Error()
	}
}
