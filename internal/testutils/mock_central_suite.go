//go:build test

package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	goble "github.com/srg/vibro/internal/device/go-ble"
	"github.com/stretchr/testify/suite"
)

// MockCentralSuite swaps goble.CentralFactory for a MockCentral around every test.
//
//	type ScanSuite struct {
//	    testutils.MockCentralSuite
//	}
//
//	func (s *ScanSuite) TestFound() {
//	    s.Central.Advertisements = []device.Advertisement{testutils.CreateMockAdvertisement("HC-01", "AA:BB", -40)}
//	    s.Central.On("Scan", mock.Anything, false).Return(nil)
//	    ...
//	}
type MockCentralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	Central     *MockCentral
	Client      *MockGATTClient
	TestTimeout time.Duration

	originalFactory func() (goble.Central, error)
}

func (s *MockCentralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second
	s.originalFactory = goble.CentralFactory
}

func (s *MockCentralSuite) TearDownSuite() {
	goble.CentralFactory = s.originalFactory
}

func (s *MockCentralSuite) SetupTest() {
	s.Central = &MockCentral{}
	s.Client = NewMockGATTClient()

	goble.CentralFactory = func() (goble.Central, error) {
		return s.Central, nil
	}
}

func (s *MockCentralSuite) TearDownTest() {
	goble.CentralFactory = s.originalFactory
	s.Client.Drop()
}
