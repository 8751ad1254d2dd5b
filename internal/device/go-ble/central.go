package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/srg/vibro/internal/device"
)

// Central is the part of a ble.Device the transport drives.
type Central interface {
	Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error
	Dial(ctx context.Context, address string) (GATTClient, error)
}

// GATTClient is the part of a ble.Client the transport drives.
type GATTClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

// bleCentral wraps ble.Device to implement the Central interface
type bleCentral struct {
	dev ble.Device
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to the device.Advertisement
func (c *bleCentral) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	return c.dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	})
}

func (c *bleCentral) Dial(ctx context.Context, address string) (GATTClient, error) {
	client, err := c.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, err
	}
	return client, nil
}

// CentralFactory creates the Central used by new transports.
// This is a variable so that it can be overridden in tests.
var CentralFactory = func() (Central, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	return &bleCentral{dev: dev}, nil
}
