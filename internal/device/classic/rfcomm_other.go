//go:build !linux

package classic

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/srg/vibro/internal/device"
)

type rfcommDialer struct {
	channel uint8
}

func (d *rfcommDialer) Dial(context.Context, string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("%w: RFCOMM sockets on %s (set classic.serial_path)", device.ErrUnsupported, runtime.GOOS)
}
