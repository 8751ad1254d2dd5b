//go:build test

package main

import (
	"bytes"
	"context"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/vibro/internal/app"
	"github.com/srg/vibro/internal/config"
	goble "github.com/srg/vibro/internal/device/go-ble"
	"github.com/srg/vibro/internal/history"
	"github.com/srg/vibro/internal/kv"
	"github.com/srg/vibro/internal/reading"
	"github.com/srg/vibro/internal/testutils"
	"github.com/stretchr/testify/mock"
)

// Test sensor address for consistent mock device identification
const TestSensorAddress = "00:00:00:00:00:01"

// CommandTestSuite extends MockCentralSuite with command testing utilities.
// Every command runs against a shared in-memory store and the mocked LE central.
type CommandTestSuite struct {
	testutils.MockCentralSuite

	Store *kv.Memory
	Clock *testutils.FakeClock

	originalFactory func(context.Context, *config.AppConfig, *logrus.Logger) (*app.App, error)
	originalNow     func() time.Time
}

func (s *CommandTestSuite) SetupSuite() {
	s.MockCentralSuite.SetupSuite()
	s.originalFactory = appFactory
	s.originalNow = nowFunc
}

func (s *CommandTestSuite) TearDownSuite() {
	appFactory = s.originalFactory
	nowFunc = s.originalNow
	s.MockCentralSuite.TearDownSuite()
}

func (s *CommandTestSuite) SetupTest() {
	s.MockCentralSuite.SetupTest()
	resetFlags(rootCmd)

	s.Store = kv.NewMemory()
	s.Clock = testutils.NewFakeClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.Local))
	nowFunc = s.Clock.Now

	appFactory = func(ctx context.Context, cfg *config.AppConfig, logger *logrus.Logger) (*app.App, error) {
		return app.New(ctx, cfg, logger, app.WithStore(s.Store))
	}
}

// resetFlags restores every flag of cmd and its children to its default value.
// Cobra keeps parsed values and Changed marks between Execute calls.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// SeedHistory appends readings to the shared store the way a monitor session would.
func (s *CommandTestSuite) SeedHistory(rs ...reading.Reading) {
	ctx := context.Background()
	log := history.NewKVLog(s.Store, s.Logger)
	s.Require().NoError(log.Load(ctx))
	for _, r := range rs {
		s.Require().NoError(log.Append(ctx, r), "seeding history MUST succeed")
	}
}

// At returns a reading stamped offset from the suite clock.
func (s *CommandTestSuite) At(offset time.Duration, value int) reading.Reading {
	return reading.New(s.Clock.Now().Add(offset), value)
}

// ExpectSensor sets up the mocked central to advertise, accept and serve the default sensor.
func (s *CommandTestSuite) ExpectSensor() {
	profile := testutils.NewProfileBuilder().
		WithService(goble.DefaultServiceUUID).
		WithCharacteristic(goble.DefaultCharacteristicUUID, ble.CharNotify).
		Build()

	s.Central.Advertisements = append(s.Central.Advertisements,
		testutils.CreateMockAdvertisement(goble.DefaultDeviceName, TestSensorAddress, -48))
	s.Central.On("Scan", mock.Anything, false).Return(nil)
	s.Central.On("Dial", mock.Anything, TestSensorAddress).Return(s.Client, nil)
	s.Client.On("DiscoverProfile", true).Return(profile, nil)
	s.Client.On("Subscribe", mock.Anything, false).Return(nil)
	s.Client.On("Unsubscribe", mock.Anything, mock.Anything).Return(nil)
	s.Client.On("CancelConnection").Return(nil)
}

// ExecuteCommand runs a cobra command with args, returns output and error.
// Flags start from their defaults on every run.
func (s *CommandTestSuite) ExecuteCommand(cmd *cobra.Command, args ...string) (string, error) {
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// CommandResult is the outcome of a command started with ExecuteAsync.
type CommandResult struct {
	Output string
	Err    error
}

// ExecuteAsync runs a command in the background; the result is delivered once it returns.
func (s *CommandTestSuite) ExecuteAsync(cmd *cobra.Command, args ...string) <-chan CommandResult {
	done := make(chan CommandResult, 1)
	go func() {
		out, err := s.ExecuteCommand(cmd, args...)
		done <- CommandResult{Output: out, Err: err}
	}()
	return done
}
