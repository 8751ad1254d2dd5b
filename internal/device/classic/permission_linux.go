//go:build linux

package classic

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/vibro/internal/device"
	"golang.org/x/sys/unix"
)

// platformPermission probes whether this process may open Bluetooth sockets.
type platformPermission struct{}

func (platformPermission) Request(context.Context) error {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	switch {
	case err == nil:
		return unix.Close(fd)
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return &device.PermissionDeniedError{Permission: "BLUETOOTH_CONNECT", Err: err}
	case errors.Is(err, unix.EAFNOSUPPORT):
		return fmt.Errorf("%w: kernel has no Bluetooth support: %v", device.ErrBluetoothOff, err)
	default:
		return err
	}
}
