package goble

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/srg/vibro/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name   string
		input  error
		target error
	}{
		{"darwin powered off", errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), device.ErrBluetoothOff},
		{"linux no adapter", errors.New("can't init hci: no devices available: (hci0: can't down device: no such device)"), device.ErrBluetoothOff},
		{"not connected", errors.New("Device Not Connected"), device.ErrNotConnected},
		{"already connected", errors.New("device already connected"), device.ErrAlreadyConnected},
		{"not initialized", errors.New("connection is not initialized"), device.ErrNotInitialized},
		{"dial deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), device.ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.input)
			assert.ErrorIs(t, got, tt.target)
			assert.Contains(t, got.Error(), tt.input.Error(), "original message MUST be preserved")
		})
	}

	t.Run("permission", func(t *testing.T) {
		var perr *device.PermissionDeniedError
		assert.ErrorAs(t, NormalizeError(errors.New("socket: operation not permitted")), &perr)
	})

	t.Run("passthrough", func(t *testing.T) {
		orig := errors.New("something else")
		assert.Same(t, orig, NormalizeError(orig))
		assert.NoError(t, NormalizeError(nil))
	})
}
