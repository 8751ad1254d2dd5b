package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/vibro/internal/device"
)

const (
	// DefaultDeviceName is the advertised name of the LE vibration sensor.
	DefaultDeviceName = "HC-01"
	// DefaultServiceUUID is the placeholder service UUID; deployments configure the real one.
	DefaultServiceUUID = "12345678-1234-1234-1234-123456789012"
	// DefaultCharacteristicUUID is the placeholder characteristic UUID.
	DefaultCharacteristicUUID = "12345678-1234-1234-1234-123456789012"
)

// Options configure the LE transport.
type Options struct {
	ServiceUUID        string
	CharacteristicUUID string
	Encoding           device.Encoding
	// ScanTimeout bounds Scan. Zero waits until the device shows up.
	ScanTimeout time.Duration
	// ConnectTimeout bounds Dial. Zero relies on the caller's context.
	ConnectTimeout time.Duration
}

// Transport implements device.Transport over go-ble: scan by advertised name,
// dial, discover the profile and subscribe to one characteristic.
type Transport struct {
	opts   Options
	logger *logrus.Logger

	mu           sync.Mutex
	central      Central
	client       GATTClient
	char         *ble.Characteristic
	indicate     bool
	subscribed   bool
	address      string
	disconnected <-chan struct{}

	seen *hashmap.Map[string, device.Advertisement]
}

var _ device.Transport = (*Transport)(nil)

// NewTransport creates an LE transport. The BLE host stack is opened lazily on first use.
func NewTransport(opts Options, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = DefaultServiceUUID
	}
	if opts.CharacteristicUUID == "" {
		opts.CharacteristicUUID = DefaultCharacteristicUUID
	}
	if opts.Encoding == "" {
		opts.Encoding = device.EncodingBase64
	}
	return &Transport{
		opts:   opts,
		logger: logger,
		seen:   hashmap.New[string, device.Advertisement](),
	}
}

func (t *Transport) Kind() device.Kind { return device.KindBLE }

func (t *Transport) Encoding() device.Encoding { return t.opts.Encoding }

func (t *Transport) getCentral() (Central, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.central != nil {
		return t.central, nil
	}
	c, err := CentralFactory()
	if err != nil {
		return nil, err
	}
	t.central = c
	return c, nil
}

// Discover streams every advertisement seen until ctx is done.
// Each address is reported once.
func (t *Transport) Discover(ctx context.Context, handler func(device.Advertisement)) error {
	central, err := t.getCentral()
	if err != nil {
		return &device.ScanError{Err: err}
	}
	seen := hashmap.New[string, struct{}]()
	err = central.Scan(ctx, false, func(adv device.Advertisement) {
		if _, loaded := seen.GetOrInsert(adv.Addr(), struct{}{}); loaded {
			return
		}
		handler(adv)
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return &device.ScanError{Err: NormalizeError(err)}
	}
	return nil
}

// Scan looks for an advertisement whose local name equals name and stops scanning on the first match.
func (t *Transport) Scan(ctx context.Context, name string) (device.Target, error) {
	central, err := t.getCentral()
	if err != nil {
		return device.Target{}, &device.ScanError{Name: name, Err: err}
	}

	var (
		scanCtx context.Context
		cancel  context.CancelFunc
	)
	if t.opts.ScanTimeout > 0 {
		scanCtx, cancel = context.WithTimeout(ctx, t.opts.ScanTimeout)
	} else {
		scanCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var (
		foundMu sync.Mutex
		found   *device.Target
	)

	t.logger.WithField("name", name).Info("Scanning for device...")
	scanErr := central.Scan(scanCtx, false, func(adv device.Advertisement) {
		if _, loaded := t.seen.GetOrInsert(adv.Addr(), adv); !loaded {
			t.logger.WithFields(logrus.Fields{
				"address": adv.Addr(),
				"name":    adv.LocalName(),
				"rssi":    adv.RSSI(),
			}).Debug("Advertisement received")
		}
		if adv.LocalName() != name {
			return
		}

		foundMu.Lock()
		defer foundMu.Unlock()
		if found != nil {
			return
		}
		found = &device.Target{Name: adv.LocalName(), Address: adv.Addr(), RSSI: adv.RSSI()}
		cancel()
	})

	foundMu.Lock()
	target := found
	foundMu.Unlock()

	if target != nil {
		t.logger.WithFields(logrus.Fields{
			"name":    target.Name,
			"address": target.Address,
			"rssi":    target.RSSI,
		}).Info("Device found")
		return *target, nil
	}

	switch {
	case ctx.Err() != nil:
		return device.Target{}, ctx.Err()
	case errors.Is(scanCtx.Err(), context.DeadlineExceeded):
		return device.Target{}, &device.ScanError{Name: name, Err: fmt.Errorf("%w: no advertisement within %s", device.ErrTimeout, t.opts.ScanTimeout)}
	case scanErr != nil && !errors.Is(scanErr, context.Canceled):
		return device.Target{}, &device.ScanError{Name: name, Err: NormalizeError(scanErr)}
	default:
		return device.Target{}, &device.ScanError{Name: name, Err: device.ErrDeviceNotFound}
	}
}

// Connect dials the target, discovers its profile and resolves the configured characteristic.
func (t *Transport) Connect(ctx context.Context, target device.Target) error {
	t.mu.Lock()
	connected := t.client != nil
	t.mu.Unlock()
	if connected {
		return device.ErrAlreadyConnected
	}

	central, err := t.getCentral()
	if err != nil {
		return &device.ConnectionError{State: device.DialFailed, Address: target.Address, Err: err}
	}

	dialCtx := ctx
	if t.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, t.opts.ConnectTimeout)
		defer cancel()
	}

	t.logger.WithField("address", target.Address).Debug("Dialing BLE device...")
	client, err := central.Dial(dialCtx, target.Address)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.logger.WithFields(logrus.Fields{
			"address": target.Address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return &device.ConnectionError{State: device.DialFailed, Address: target.Address, Err: NormalizeError(err)}
	}

	t.logger.WithField("address", target.Address).Debug("Discovering services and characteristics...")
	char, err := t.resolve(client)
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": target.Address,
			"error":   err,
		}).Error("Failed to discover data characteristic")
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			t.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during discovery failure")
		}
		return &device.DiscoveryError{Address: target.Address, Err: err}
	}

	var disconnected <-chan struct{}
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		disconnected = dc.Disconnected()
	} else {
		t.logger.Debug("Client does not support Disconnected() channel")
	}

	t.mu.Lock()
	t.client = client
	t.char = char
	t.indicate = char.Property&ble.CharNotify == 0
	t.address = target.Address
	t.disconnected = disconnected
	t.mu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"address":  target.Address,
		"char":     char.UUID.String(),
		"indicate": char.Property&ble.CharNotify == 0,
	}).Info("BLE device connected successfully")
	return nil
}

func (t *Transport) resolve(client GATTClient) (*ble.Characteristic, error) {
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		return nil, NormalizeError(err)
	}

	for _, svc := range profile.Services {
		if !device.SameUUID(svc.UUID.String(), t.opts.ServiceUUID) {
			continue
		}
		for _, c := range svc.Characteristics {
			if !device.SameUUID(c.UUID.String(), t.opts.CharacteristicUUID) {
				continue
			}
			if c.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
				return nil, fmt.Errorf("%w: characteristic %s supports neither notify nor indicate", device.ErrUnsupported, c.UUID)
			}
			return c, nil
		}
		return nil, &device.NotFoundError{
			Resource: "characteristic",
			UUIDs:    []string{device.NormalizeUUID(t.opts.ServiceUUID), device.NormalizeUUID(t.opts.CharacteristicUUID)},
		}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{device.NormalizeUUID(t.opts.ServiceUUID)}}
}

// Subscribe enables notifications on the resolved characteristic.
// handler receives a private copy of every payload.
func (t *Transport) Subscribe(handler func(payload []byte)) error {
	t.mu.Lock()
	client, char, indicate := t.client, t.char, t.indicate
	t.mu.Unlock()
	if client == nil || char == nil {
		return device.ErrNotConnected
	}

	err := client.Subscribe(char, indicate, func(data []byte) {
		payload := make([]byte, len(data))
		copy(payload, data)
		handler(payload)
	})
	if err != nil {
		return NormalizeError(err)
	}

	t.mu.Lock()
	t.subscribed = true
	t.mu.Unlock()
	return nil
}

func (t *Transport) Disconnected() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disconnected
}

// Disconnect unsubscribes and cancels the connection. Calling it without a connection is a no-op.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	client, char, subscribed, address := t.client, t.char, t.subscribed, t.address
	t.client = nil
	t.char = nil
	t.subscribed = false
	t.disconnected = nil
	t.address = ""
	t.mu.Unlock()

	if client == nil {
		t.logger.Debug("Disconnect called but already disconnected")
		return nil
	}

	t.logger.WithField("address", address).Info("Disconnecting BLE device...")

	if subscribed && char != nil {
		err1 := NormalizeError(client.Unsubscribe(char, false)) // notify
		err2 := NormalizeError(client.Unsubscribe(char, true))  // indicate
		if err1 != nil && err2 != nil {
			t.logger.WithFields(logrus.Fields{
				"notifyErr":   err1,
				"indicateErr": err2,
			}).Warn("Failed to unsubscribe from characteristic notifications")
		}
	}

	if err := client.CancelConnection(); err != nil {
		t.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return NormalizeError(err)
	}
	t.logger.Info("BLE device disconnected successfully")
	return nil
}

// SeenCount returns the number of distinct advertisers observed by Scan.
func (t *Transport) SeenCount() int {
	return t.seen.Len()
}
