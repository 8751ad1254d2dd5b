package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionError_Is(t *testing.T) {
	cause := errors.New("le-connection-abort-by-local")
	err := fmt.Errorf("connect: %w", &ConnectionError{State: DialFailed, Address: "aa:bb:cc:dd:ee:ff", Err: cause})

	assert.True(t, IsConnectionState(err, DialFailed))
	assert.False(t, IsConnectionState(err, NotConnected))
	assert.ErrorIs(t, err, cause, "wrapped transport cause MUST stay reachable")
	assert.False(t, errors.Is(err, ErrNotConnected))
	assert.Equal(t, "connect: dial_failed (aa:bb:cc:dd:ee:ff): le-connection-abort-by-local", err.Error())

	lost := &ConnectionError{State: LinkLost, Msg: "peer closed"}
	assert.ErrorIs(t, lost, ErrLinkLost)
	assert.Equal(t, "link_lost: peer closed", lost.Error())
}

func TestScanError(t *testing.T) {
	err := &ScanError{Name: "HC-01", Err: ErrTimeout}
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, `scan for "HC-01" failed: timeout`, err.Error())

	var scanErr *ScanError
	assert.ErrorAs(t, fmt.Errorf("wrap: %w", err), &scanErr)
	assert.Equal(t, "HC-01", scanErr.Name)
}

func TestDiscoveryError_WrapsNotFound(t *testing.T) {
	err := &DiscoveryError{
		Address: "aa:bb",
		Err:     &NotFoundError{Resource: "characteristic", UUIDs: []string{"1234", "5678"}},
	}

	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
	assert.Equal(t, `discovery on aa:bb failed: characteristic "5678" not found in service "1234"`, err.Error())
}

func TestPermissionDeniedError(t *testing.T) {
	cause := errors.New("operation not permitted")
	err := &PermissionDeniedError{Permission: "BLUETOOTH_CONNECT", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "permission BLUETOOTH_CONNECT denied: operation not permitted", err.Error())
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		allowed  bool
	}{
		{StateIdle, StateScanning, true},
		{StateScanning, StateConnecting, true},
		{StateConnecting, StateSubscribed, true},
		{StateSubscribed, StateDisconnected, true},
		{StateDisconnected, StateIdle, true},
		{StateScanning, StateIdle, true},
		{StateIdle, StateSubscribed, false},
		{StateScanning, StateSubscribed, false},
		{StateDisconnected, StateScanning, false},
		{StateIdle, StateIdle, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}

	assert.True(t, StateSubscribed.Connected())
	assert.False(t, StateConnecting.Connected())
	assert.Equal(t, "unknown", State(42).String())
}

func TestParseKindAndEncoding(t *testing.T) {
	k, err := ParseKind("classic")
	assert.NoError(t, err)
	assert.Equal(t, KindClassic, k)
	_, err = ParseKind("wifi")
	assert.Error(t, err)

	e, err := ParseEncoding("base64")
	assert.NoError(t, err)
	assert.Equal(t, EncodingBase64, e)
	_, err = ParseEncoding("hex")
	assert.Error(t, err)
}
