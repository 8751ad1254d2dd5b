//go:build test

package goble_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/vibro/internal/device"
	goble "github.com/srg/vibro/internal/device/go-ble"
	"github.com/srg/vibro/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const (
	sensorAddr  = "AA:BB:CC:DD:EE:01"
	serviceUUID = "12345678-1234-1234-1234-123456789012"
	charUUID    = "87654321-4321-4321-4321-210987654321"
)

type TransportTestSuite struct {
	testutils.MockCentralSuite
}

func TestTransportTestSuite(t *testing.T) {
	suite.Run(t, new(TransportTestSuite))
}

func (s *TransportTestSuite) newTransport(opts goble.Options) *goble.Transport {
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = serviceUUID
	}
	if opts.CharacteristicUUID == "" {
		opts.CharacteristicUUID = charUUID
	}
	return goble.NewTransport(opts, s.Logger)
}

func (s *TransportTestSuite) sensorProfile(props ble.Property) *ble.Profile {
	return testutils.NewProfileBuilder().
		WithService("180F").
		WithCharacteristic("2A19", ble.CharRead|ble.CharNotify).
		WithService(serviceUUID).
		WithCharacteristic(charUUID, props).
		Build()
}

func (s *TransportTestSuite) TestScanStopsOnFirstExactNameMatch() {
	// GOAL: Verify Scan picks the first advertisement whose name matches exactly and stops scanning
	//
	// TEST SCENARIO: advertisements (other, HC-01x, HC-01, HC-01 dup) → Scan("HC-01") → first exact match returned

	s.Central.Advertisements = []device.Advertisement{
		testutils.CreateMockAdvertisement("Speaker", "11:11:11:11:11:11", -70),
		testutils.CreateMockAdvertisement("HC-01x", "22:22:22:22:22:22", -60),
		testutils.CreateMockAdvertisement("HC-01", sensorAddr, -42),
		testutils.CreateMockAdvertisement("HC-01", "33:33:33:33:33:33", -30),
	}
	s.Central.On("Scan", mock.Anything, false).Return(nil)

	tr := s.newTransport(goble.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), s.TestTimeout)
	defer cancel()

	target, err := tr.Scan(ctx, "HC-01")
	s.Require().NoError(err, "MUST find the advertised sensor")
	s.Equal(device.Target{Name: "HC-01", Address: sensorAddr, RSSI: -42}, target, "MUST return the first exact match")
	s.Equal(3, tr.SeenCount(), "MUST stop handling advertisements after the match")
}

func (s *TransportTestSuite) TestScanTimeout() {
	// GOAL: Verify an opt-in scan timeout surfaces as a typed ScanError wrapping ErrTimeout
	//
	// TEST SCENARIO: no matching advertisement → ScanTimeout elapses → ScanError{ErrTimeout}

	s.Central.Advertisements = []device.Advertisement{
		testutils.CreateMockAdvertisement("Speaker", "11:11:11:11:11:11", -70),
	}
	s.Central.On("Scan", mock.Anything, false).Return(nil)

	tr := s.newTransport(goble.Options{ScanTimeout: 50 * time.Millisecond})
	_, err := tr.Scan(context.Background(), "HC-01")

	var scanErr *device.ScanError
	s.Require().ErrorAs(err, &scanErr)
	s.ErrorIs(err, device.ErrTimeout)
	s.Equal("HC-01", scanErr.Name)
}

func (s *TransportTestSuite) TestScanWaitsUntilCancelled() {
	// GOAL: Verify Scan without a timeout keeps searching until the caller gives up
	//
	// TEST SCENARIO: no match → context cancelled → context.Canceled returned (not a ScanError)

	s.Central.On("Scan", mock.Anything, false).Return(nil)

	tr := s.newTransport(goble.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := tr.Scan(ctx, "HC-01")
	s.ErrorIs(err, context.Canceled)
}

func (s *TransportTestSuite) TestScanHostError() {
	// GOAL: Verify host stack failures are normalized and wrapped in ScanError

	s.Central.On("Scan", mock.Anything, false).Return(errors.New("bluetooth is turned off"))

	tr := s.newTransport(goble.Options{})
	_, err := tr.Scan(context.Background(), "HC-01")

	var scanErr *device.ScanError
	s.Require().ErrorAs(err, &scanErr)
	s.ErrorIs(err, device.ErrBluetoothOff)
}

func (s *TransportTestSuite) TestConnectSubscribeDisconnect() {
	// GOAL: Verify the full session: dial → discover → subscribe → payload copy → unsubscribe → cancel
	//
	// TEST SCENARIO: connect → subscribe → notify "42" → handler receives copy → Disconnect releases everything

	profile := s.sensorProfile(ble.CharNotify)
	s.Central.On("Dial", mock.Anything, sensorAddr).Return(s.Client, nil)
	s.Client.On("DiscoverProfile", true).Return(profile, nil)
	s.Client.On("Subscribe", mock.Anything, false).Return(nil)
	s.Client.On("Unsubscribe", mock.Anything, mock.Anything).Return(nil)
	s.Client.On("CancelConnection").Return(nil).Once()

	tr := s.newTransport(goble.Options{})
	s.Require().NoError(tr.Connect(context.Background(), device.Target{Name: "HC-01", Address: sensorAddr}))
	s.NotNil(tr.Disconnected(), "MUST expose link loss channel while connected")

	var (
		mu   sync.Mutex
		got  [][]byte
		wire = []byte("42")
	)
	s.Require().NoError(tr.Subscribe(func(p []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, p)
	}))

	s.True(s.Client.Notify(wire))
	wire[0] = '9'

	mu.Lock()
	s.Equal([][]byte{[]byte("42")}, got, "handler MUST receive a private copy of the payload")
	mu.Unlock()

	s.Require().NoError(tr.Disconnect())
	s.NoError(tr.Disconnect(), "second Disconnect MUST be a no-op")
	s.Nil(tr.Disconnected())

	s.Client.AssertCalled(s.T(), "Unsubscribe", mock.Anything, false)
	s.Client.AssertNumberOfCalls(s.T(), "CancelConnection", 1)
}

func (s *TransportTestSuite) TestConnectUsesIndicateWhenNotifyMissing() {
	profile := s.sensorProfile(ble.CharIndicate)
	s.Central.On("Dial", mock.Anything, sensorAddr).Return(s.Client, nil)
	s.Client.On("DiscoverProfile", true).Return(profile, nil)
	s.Client.On("Subscribe", mock.Anything, true).Return(nil)

	tr := s.newTransport(goble.Options{})
	s.Require().NoError(tr.Connect(context.Background(), device.Target{Address: sensorAddr}))
	s.Require().NoError(tr.Subscribe(func([]byte) {}))

	s.Client.AssertCalled(s.T(), "Subscribe", mock.Anything, true)
}

func (s *TransportTestSuite) TestConnectErrors() {
	s.Run("dial failure", func() {
		s.SetupTest()
		s.Central.On("Dial", mock.Anything, sensorAddr).Return(nil, errors.New("le-connection-abort"))

		err := s.newTransport(goble.Options{}).Connect(context.Background(), device.Target{Address: sensorAddr})
		s.True(device.IsConnectionState(err, device.DialFailed), "MUST report DialFailed, got %v", err)
	})

	s.Run("service missing", func() {
		s.SetupTest()
		s.Central.On("Dial", mock.Anything, sensorAddr).Return(s.Client, nil)
		s.Client.On("DiscoverProfile", true).Return(testutils.NewProfileBuilder().WithService("180F").Build(), nil)
		s.Client.On("CancelConnection").Return(nil)

		err := s.newTransport(goble.Options{}).Connect(context.Background(), device.Target{Address: sensorAddr})

		var derr *device.DiscoveryError
		var nf *device.NotFoundError
		s.Require().ErrorAs(err, &derr)
		s.Require().ErrorAs(err, &nf)
		s.Equal("service", nf.Resource)
		s.Client.AssertCalled(s.T(), "CancelConnection")
	})

	s.Run("characteristic without notify", func() {
		s.SetupTest()
		s.Central.On("Dial", mock.Anything, sensorAddr).Return(s.Client, nil)
		s.Client.On("DiscoverProfile", true).Return(s.sensorProfile(ble.CharRead), nil)
		s.Client.On("CancelConnection").Return(nil)

		err := s.newTransport(goble.Options{}).Connect(context.Background(), device.Target{Address: sensorAddr})
		s.ErrorIs(err, device.ErrUnsupported)
	})

	s.Run("discovery failure", func() {
		s.SetupTest()
		s.Central.On("Dial", mock.Anything, sensorAddr).Return(s.Client, nil)
		s.Client.On("DiscoverProfile", true).Return(nil, errors.New("att: timeout"))
		s.Client.On("CancelConnection").Return(nil)

		err := s.newTransport(goble.Options{}).Connect(context.Background(), device.Target{Address: sensorAddr})
		var derr *device.DiscoveryError
		s.ErrorAs(err, &derr)
	})
}

func (s *TransportTestSuite) TestSubscribeWithoutConnection() {
	err := s.newTransport(goble.Options{}).Subscribe(func([]byte) {})
	s.ErrorIs(err, device.ErrNotConnected)
}

func (s *TransportTestSuite) TestDiscoverReportsEachAddressOnce() {
	s.Central.Advertisements = []device.Advertisement{
		testutils.CreateMockAdvertisement("HC-01", sensorAddr, -42),
		testutils.CreateMockAdvertisement("HC-01", sensorAddr, -40),
		testutils.CreateMockAdvertisement("", "44:44:44:44:44:44", -80),
	}
	s.Central.On("Scan", mock.Anything, false).Return(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var addrs []string
	err := s.newTransport(goble.Options{}).Discover(ctx, func(adv device.Advertisement) {
		addrs = append(addrs, adv.Addr())
	})
	s.NoError(err)
	s.Equal([]string{sensorAddr, "44:44:44:44:44:44"}, addrs)
}
