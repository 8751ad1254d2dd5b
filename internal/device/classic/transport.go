// Package classic implements the sensor link over Bluetooth Classic serial (RFCOMM)
// to a device bonded with the host.
package classic

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/vibro/internal/device"
)

const (
	// DefaultDeviceName is the advertised name of the classic sensor module.
	DefaultDeviceName = "HC-05"
	// DefaultChannel is the RFCOMM channel of the serial port profile.
	DefaultChannel = 1
	// DefaultStorageDir is where BlueZ keeps bonded device records.
	DefaultStorageDir = "/var/lib/bluetooth"
)

// Permission gates Bluetooth access before any device lookup.
type Permission interface {
	Request(ctx context.Context) error
}

// BondedDevices lists devices paired with the host.
type BondedDevices interface {
	Bonded(ctx context.Context) ([]device.Target, error)
}

// Dialer opens a byte stream to a bonded device.
type Dialer interface {
	Dial(ctx context.Context, address string) (io.ReadCloser, error)
}

// Options configure the classic transport.
type Options struct {
	Channel uint8
	// SerialPath, when set, reads from an already bound serial node
	// (e.g. /dev/rfcomm0) instead of opening an RFCOMM socket.
	SerialPath string
	StorageDir string
}

// Transport implements device.Transport for a newline-delimited decimal stream.
type Transport struct {
	logger     *logrus.Logger
	permission Permission
	bonded     BondedDevices
	dialer     Dialer

	mu           sync.Mutex
	conn         io.ReadCloser
	address      string
	disconnected chan struct{}
	readerDone   chan struct{}
}

var _ device.Transport = (*Transport)(nil)

// Option overrides a platform dependency, mostly for tests.
type Option func(*Transport)

func WithPermission(p Permission) Option { return func(t *Transport) { t.permission = p } }

func WithBondedDevices(b BondedDevices) Option { return func(t *Transport) { t.bonded = b } }

func WithDialer(d Dialer) Option { return func(t *Transport) { t.dialer = d } }

func NewTransport(opts Options, logger *logrus.Logger, options ...Option) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Channel == 0 {
		opts.Channel = DefaultChannel
	}
	if opts.StorageDir == "" {
		opts.StorageDir = DefaultStorageDir
	}

	t := &Transport{
		logger:     logger,
		permission: platformPermission{},
		bonded:     &BlueZStore{Dir: opts.StorageDir},
		dialer:     &rfcommDialer{channel: opts.Channel},
	}
	if opts.SerialPath != "" {
		t.dialer = &SerialDialer{Path: opts.SerialPath}
	}
	for _, o := range options {
		o(t)
	}
	return t
}

func (t *Transport) Kind() device.Kind { return device.KindClassic }

// Encoding is always text: the module prints one decimal value per line.
func (t *Transport) Encoding() device.Encoding { return device.EncodingText }

// Scan checks the Bluetooth permission and picks the bonded device called name.
// Unlike LE scanning it does not wait: a device that is not paired is reported at once.
func (t *Transport) Scan(ctx context.Context, name string) (device.Target, error) {
	if err := t.permission.Request(ctx); err != nil {
		var perr *device.PermissionDeniedError
		if errors.As(err, &perr) {
			t.logger.WithError(err).Warn("Bluetooth permission denied")
			return device.Target{}, err
		}
		return device.Target{}, &device.ScanError{Name: name, Err: err}
	}

	bonded, err := t.bonded.Bonded(ctx)
	if err != nil {
		return device.Target{}, &device.ScanError{Name: name, Err: err}
	}

	for _, b := range bonded {
		if b.Name == name {
			t.logger.WithFields(logrus.Fields{
				"name":    b.Name,
				"address": b.Address,
			}).Info("Bonded device found")
			return b, nil
		}
	}

	t.logger.WithField("name", name).Warn("Device not paired. Please pair it in system settings.")
	return device.Target{}, &device.ScanError{Name: name, Err: device.ErrDeviceNotFound}
}

// Paired lists the bonded devices after checking the Bluetooth permission.
func (t *Transport) Paired(ctx context.Context) ([]device.Target, error) {
	if err := t.permission.Request(ctx); err != nil {
		return nil, err
	}
	return t.bonded.Bonded(ctx)
}

func (t *Transport) Connect(ctx context.Context, target device.Target) error {
	t.mu.Lock()
	connected := t.conn != nil
	t.mu.Unlock()
	if connected {
		return device.ErrAlreadyConnected
	}

	t.logger.WithField("address", target.Address).Debug("Opening serial link...")
	conn, err := t.dialer.Dial(ctx, target.Address)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.logger.WithFields(logrus.Fields{
			"address": target.Address,
			"error":   err,
		}).Error("Failed to open serial link")
		if errors.Is(err, os.ErrPermission) {
			return &device.PermissionDeniedError{Permission: "BLUETOOTH_CONNECT", Err: err}
		}
		return &device.ConnectionError{State: device.DialFailed, Address: target.Address, Err: err}
	}

	t.mu.Lock()
	t.conn = conn
	t.address = target.Address
	t.disconnected = make(chan struct{})
	t.mu.Unlock()

	t.logger.WithField("address", target.Address).Info("Serial link open")
	return nil
}

// Subscribe starts reading lines from the link. Each non-empty line is passed to handler.
// The Disconnected channel closes when the stream ends.
func (t *Transport) Subscribe(handler func(payload []byte)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return device.ErrNotConnected
	}
	if t.readerDone != nil {
		return device.ErrAlreadyConnected
	}

	conn, disconnected, address := t.conn, t.disconnected, t.address
	done := make(chan struct{})
	t.readerDone = done

	go func() {
		defer close(done)
		defer close(disconnected)

		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 || (len(line) == 1 && line[0] == '\r') {
				continue
			}
			payload := make([]byte, len(line))
			copy(payload, line)
			handler(payload)
		}

		if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
			t.logger.WithFields(logrus.Fields{
				"address": address,
				"error":   err,
			}).Warn("Serial link read failed")
			return
		}
		t.logger.WithField("address", address).Debug("Serial stream ended")
	}()
	return nil
}

func (t *Transport) Disconnected() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disconnected == nil {
		return nil
	}
	return t.disconnected
}

// Disconnect closes the link and waits for the reader to stop.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	conn, done, address := t.conn, t.readerDone, t.address
	t.conn = nil
	t.readerDone = nil
	t.address = ""
	disconnected := t.disconnected
	t.disconnected = nil
	t.mu.Unlock()

	if conn == nil {
		t.logger.Debug("Disconnect called but already disconnected")
		return nil
	}

	err := conn.Close()
	if done != nil {
		<-done
	} else if disconnected != nil {
		close(disconnected)
	}

	if err != nil && !errors.Is(err, os.ErrClosed) {
		t.logger.WithError(err).Warn("Serial link closed with errors")
		return err
	}
	t.logger.WithField("address", address).Info("Serial link closed")
	return nil
}
