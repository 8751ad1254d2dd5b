package testutils

import "github.com/srg/vibro/internal/device"

// Advertisement is a static device.Advertisement for scan tests.
type Advertisement struct {
	Name       string
	Address    string
	Signal     int
	NoConnect  bool
	ServiceIDs []string
}

func (a *Advertisement) LocalName() string  { return a.Name }
func (a *Advertisement) Addr() string       { return a.Address }
func (a *Advertisement) RSSI() int          { return a.Signal }
func (a *Advertisement) Connectable() bool  { return !a.NoConnect }
func (a *Advertisement) Services() []string { return a.ServiceIDs }

// AdvertisementBuilder builds advertisements with a fluent API.
type AdvertisementBuilder struct {
	adv Advertisement
}

func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{}
}

// CreateMockAdvertisement is a shortcut for the common name/address/rssi triple.
func CreateMockAdvertisement(name, address string, rssi int) device.Advertisement {
	return NewAdvertisementBuilder().WithName(name).WithAddress(address).WithRSSI(rssi).Build()
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = addr
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.Signal = rssi
	return b
}

// WithServices adds service UUIDs to the advertisement.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.ServiceIDs = append(b.adv.ServiceIDs, uuids...)
	return b
}

func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.NoConnect = !c
	return b
}

func (b *AdvertisementBuilder) Build() device.Advertisement {
	adv := b.adv
	return &adv
}
