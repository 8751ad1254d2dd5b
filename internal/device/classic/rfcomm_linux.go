//go:build linux

package classic

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

type rfcommDialer struct {
	channel uint8
}

// Dial opens an RFCOMM stream socket to address. Cancelling ctx aborts a pending connect.
func (d *rfcommDialer) Dial(ctx context.Context, address string) (io.ReadCloser, error) {
	bdaddr, err := parseBDAddr(address)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}

	connected := make(chan error, 1)
	go func() {
		connected <- unix.Connect(fd, &unix.SockaddrRFCOMM{Addr: bdaddr, Channel: d.channel})
	}()

	select {
	case err := <-connected:
		if err != nil {
			_ = unix.Close(fd)
			return nil, os.NewSyscallError("connect", err)
		}
	case <-ctx.Done():
		_ = unix.Shutdown(fd, unix.SHUT_RDWR)
		<-connected
		_ = unix.Close(fd)
		return nil, ctx.Err()
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("setnonblock", err)
	}
	return os.NewFile(uintptr(fd), fmt.Sprintf("rfcomm:%s/%d", address, d.channel)), nil
}
