package device

import (
	"context"
	"fmt"
)

// Kind identifies the radio link a Transport speaks.
type Kind string

const (
	KindBLE     Kind = "ble"
	KindClassic Kind = "classic"
)

// ParseKind converts a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindBLE, KindClassic:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown transport %q (expected %q or %q)", s, KindBLE, KindClassic)
	}
}

// Encoding describes how a sensor value is packed into a notification payload.
type Encoding string

const (
	// EncodingText is the decimal value as UTF-8 digits.
	EncodingText Encoding = "text"
	// EncodingBase64 is base64 of the UTF-8 digits.
	EncodingBase64 Encoding = "base64"
)

// ParseEncoding converts a configuration string to an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case EncodingText, EncodingBase64:
		return Encoding(s), nil
	default:
		return "", fmt.Errorf("unknown encoding %q (expected %q or %q)", s, EncodingText, EncodingBase64)
	}
}

// Target is a device selected by name during Scan.
type Target struct {
	Name    string
	Address string
	RSSI    int
}

func (t Target) String() string {
	return fmt.Sprintf("%s [%s]", t.Name, t.Address)
}

// Transport is the capability set shared by every sensor link.
//
// A Transport serves one connection at a time. Scan blocks until the named
// device is found, the context is cancelled, or the transport gives up.
// Subscribe delivers raw payloads on a transport goroutine; handler must not
// block for long. Disconnect releases every resource taken by Connect and
// Subscribe and is safe to call repeatedly.
type Transport interface {
	Kind() Kind
	Encoding() Encoding

	Scan(ctx context.Context, name string) (Target, error)
	Connect(ctx context.Context, target Target) error
	Subscribe(handler func(payload []byte)) error
	Disconnect() error

	// Disconnected is closed when the link of the current connection drops.
	// It returns nil when no connection is established.
	Disconnected() <-chan struct{}
}

// Advertisement is the subset of an LE advertisement the scanner inspects.
type Advertisement interface {
	LocalName() string
	Addr() string
	RSSI() int
	Connectable() bool
	Services() []string
}
