package classic

import (
	"context"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// SerialDialer opens a serial node that is already bound to the device
// (rfcomm bind, a USB-serial bridge or a pty). The address is ignored.
type SerialDialer struct {
	Path string
}

func (d *SerialDialer) Dial(ctx context.Context, _ string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.OpenFile(d.Path, os.O_RDWR|unix.O_NOCTTY, 0)
}
