//go:build test

package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/srg/vibro/internal/reading"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type MonitorTestSuite struct {
	CommandTestSuite
}

func TestMonitorTestSuite(t *testing.T) {
	suite.Run(t, new(MonitorTestSuite))
}

// wait blocks until the command returns or the suite timeout elapses.
func (s *MonitorTestSuite) wait(done <-chan CommandResult) CommandResult {
	select {
	case res := <-done:
		return res
	case <-time.After(s.TestTimeout):
		s.FailNow("monitor MUST return once --duration elapses")
		return CommandResult{}
	}
}

func (s *MonitorTestSuite) TestStreamsReadingsAndPersistsHistory() {
	// GOAL: Verify monitor walks the lifecycle, renders every reading and records it in history
	//
	// TEST SCENARIO: sensor advertised → notify "42" and "95" (base64) → duration elapses → lines, summary and history present

	s.ExpectSensor()
	done := s.ExecuteAsync(rootCmd, "monitor", "--duration", "1s")

	s.Eventually(func() bool { return s.Client.Notify([]byte("NDI=")) },
		s.TestTimeout, 10*time.Millisecond, "sensor MUST get subscribed")
	s.True(s.Client.Notify([]byte("OTU=")))

	res := s.wait(done)
	s.Require().NoError(res.Err, "monitor MUST exit cleanly after --duration")

	s.Contains(res.Output, "Searching for HC-01...")
	s.Contains(res.Output, "Found HC-01 ("+TestSensorAddress+"), connecting...")
	s.Contains(res.Output, "Connected to HC-01")
	s.Regexp(`\s42  moderate`, res.Output)
	s.Regexp(`\s95  high\s+THRESHOLD EXCEEDED`, res.Output)
	s.NotRegexp(`42  moderate\s+THRESHOLD`, res.Output, "42 MUST NOT exceed the default threshold of 80")
	s.Contains(res.Output, "Session: 2 readings, peak 95, average 69")

	out, err := s.ExecuteCommand(rootCmd, "history", "--format", "json")
	s.Require().NoError(err)

	var recorded []reading.Reading
	s.Require().NoError(json.Unmarshal([]byte(out), &recorded))
	s.Require().Len(recorded, 2, "monitored readings MUST be persisted")
	s.Equal(42, recorded[0].Value)
	s.Equal(95, recorded[1].Value)
}

func (s *MonitorTestSuite) TestAutoConnectOffDoesNotScan() {
	// GOAL: Verify a disabled auto-connect keeps the connector idle
	//
	// TEST SCENARIO: config set --auto-connect=false → monitor → hint printed, central never scanned

	_, err := s.ExecuteCommand(rootCmd, "config", "set", "--auto-connect=false")
	s.Require().NoError(err)

	res := s.wait(s.ExecuteAsync(rootCmd, "monitor", "--duration", "100ms"))
	s.Require().NoError(res.Err)

	s.Contains(res.Output, "Auto-connect is off")
	s.Contains(res.Output, "Session: 0 readings")
	s.NotContains(res.Output, "Searching for")
	s.Central.AssertNotCalled(s.T(), "Scan", mock.Anything, false)
}

func (s *MonitorTestSuite) TestLinkLossIsReported() {
	// GOAL: Verify a dropped link is rendered and not retried
	//
	// TEST SCENARIO: subscribed → peripheral drops → "Disconnected: link_lost" printed, Dial called once

	s.ExpectSensor()
	done := s.ExecuteAsync(rootCmd, "monitor", "--duration", "500ms")

	s.Eventually(func() bool { return s.Client.Notify([]byte("MTA=")) },
		s.TestTimeout, 10*time.Millisecond, "sensor MUST get subscribed")
	s.Client.Drop()

	res := s.wait(done)
	s.Require().NoError(res.Err)
	s.Contains(res.Output, "Disconnected: link_lost")
	s.Central.AssertNumberOfCalls(s.T(), "Dial", 1)
}
