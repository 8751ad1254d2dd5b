package device

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a GATT resource or a device is not found
type NotFoundError struct {
	Resource string   // "device", "service", "characteristic"
	UUIDs    []string // One or more identifiers (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	// characteristic is in service
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
	DialFailed       ConnectionState = "dial_failed"
	LinkLost         ConnectionState = "link_lost"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State   ConnectionState
	Address string
	Msg     string
	Err     error
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	s := string(e.State)
	if e.Address != "" {
		s = fmt.Sprintf("%s (%s)", s, e.Address)
	}
	if e.Msg != "" {
		s = fmt.Sprintf("%s: %s", s, e.Msg)
	}
	if e.Err != nil {
		s = fmt.Sprintf("%s: %v", s, e.Err)
	}
	return s
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

func (e *ConnectionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
	ErrLinkLost         = &ConnectionError{State: LinkLost}
)

// Operation errors
var (
	ErrTimeout        = errors.New("timeout")
	ErrUnsupported    = errors.New("unsupported")
	ErrBluetoothOff   = errors.New("bluetooth is turned off")
	ErrDeviceNotFound = errors.New("device not found")
)

// ScanError reports a failed search for the target device.
type ScanError struct {
	Name string
	Err  error
}

func (e *ScanError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("scan failed: %v", e.Err)
	}
	return fmt.Sprintf("scan for %q failed: %v", e.Name, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// DiscoveryError reports a failure while resolving the data channel of a connected device.
type DiscoveryError struct {
	Address string
	Err     error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery on %s failed: %v", e.Address, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// PermissionDeniedError is returned when the platform refuses Bluetooth access.
// It is terminal for the connection attempt.
type PermissionDeniedError struct {
	Permission string
	Err        error
}

func (e *PermissionDeniedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("permission %s denied", e.Permission)
	}
	return fmt.Sprintf("permission %s denied: %v", e.Permission, e.Err)
}

func (e *PermissionDeniedError) Unwrap() error { return e.Err }

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// ContainsIgnoreCase checks substring case-insensitively
func ContainsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
