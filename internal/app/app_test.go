package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/vibro/internal/alert"
	"github.com/srg/vibro/internal/config"
	"github.com/srg/vibro/internal/device"
	"github.com/srg/vibro/internal/history"
	"github.com/srg/vibro/internal/kv"
	"github.com/srg/vibro/internal/reading"
	"github.com/srg/vibro/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sensorStub struct {
	mu      sync.Mutex
	handler func([]byte)
	lost    chan struct{}
}

func (s *sensorStub) Kind() device.Kind         { return device.KindClassic }
func (s *sensorStub) Encoding() device.Encoding { return device.EncodingText }

func (s *sensorStub) Scan(_ context.Context, name string) (device.Target, error) {
	return device.Target{Name: name, Address: "98:D3:31:F5:12:34"}, nil
}

func (s *sensorStub) Connect(context.Context, device.Target) error {
	s.mu.Lock()
	s.lost = make(chan struct{})
	s.mu.Unlock()
	return nil
}

func (s *sensorStub) Subscribe(h func([]byte)) error {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
	return nil
}

func (s *sensorStub) Disconnected() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}

func (s *sensorStub) Disconnect() error {
	s.mu.Lock()
	s.handler = nil
	s.mu.Unlock()
	return nil
}

func (s *sensorStub) send(payload string) bool {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return false
	}
	h([]byte(payload))
	return true
}

func newApp(t *testing.T, cfg *config.AppConfig, store kv.Store) (*App, *sensorStub) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	stub := &sensorStub{}
	opts := []Option{WithTransport(stub)}
	if store != nil {
		opts = append(opts, WithStore(store))
	}
	a, err := New(context.Background(), cfg, logger, opts...)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, stub
}

func TestApp_MonitorFlow(t *testing.T) {
	// GOAL: Verify the wiring connector → pipeline → session + history, and teardown on auto-connect off
	//
	// TEST SCENARIO: start → subscribed → "42\n" ingested → disable auto-connect → stale handler delivers nothing

	cfg := config.Default()
	cfg.Transport = device.KindClassic
	a, stub := newApp(t, cfg, kv.NewMemory())

	require.NoError(t, a.Start(context.Background()))
	require.Eventually(t, func() bool { return a.Connector().Status().Connected }, 2*time.Second, 5*time.Millisecond)

	require.True(t, stub.send("42\n"))
	latest, ok := a.Session().Latest()
	require.True(t, ok)
	assert.Equal(t, 42, latest.Value)

	all, err := a.History().All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)

	cfgOff := settings.Defaults()
	cfgOff.AutoConnect = false
	require.NoError(t, a.UpdateSettings(context.Background(), cfgOff))
	assert.Equal(t, device.StateIdle, a.Connector().Status().State)
	assert.False(t, stub.send("43"), "subscription MUST be released after auto-connect is turned off")
	assert.Equal(t, 1, a.Session().Len())
}

func TestApp_SettingsPersistAcrossRestart(t *testing.T) {
	store := kv.NewMemory()
	cfg := config.Default()

	a, _ := newApp(t, cfg, store)
	saved := settings.Config{Threshold: 55, AutoConnect: false, Theme: settings.ThemeDark}
	require.NoError(t, a.UpdateSettings(context.Background(), saved))

	bad := saved
	bad.Threshold = 101
	var verr *settings.ValidationError
	assert.ErrorAs(t, a.UpdateSettings(context.Background(), bad), &verr)

	b, err := New(context.Background(), cfg, nil, WithStore(store), WithTransport(&sensorStub{}))
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, saved, b.Settings().Current())

	require.NoError(t, b.Start(context.Background()))
	assert.Equal(t, device.StateIdle, b.Connector().Status().State, "auto-connect off MUST NOT scan on startup")
}

func TestApp_AlertsAndClear(t *testing.T) {
	a, _ := newApp(t, config.Default(), kv.NewMemory())
	ctx := context.Background()

	r := reading.Reading{Timestamp: time.Now().UnixMilli(), Value: 85}
	ev := a.Evaluate(r)
	assert.Equal(t, alert.SeverityHigh, ev.Severity)
	assert.True(t, ev.Exceeded)

	al, err := a.AddAlert(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, 85, al.Value)
	require.NoError(t, a.History().Append(ctx, r))

	require.NoError(t, a.ClearHistory(ctx))
	assert.Empty(t, a.Alerts().All())
	all, err := a.History().All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestApp_SQLiteHistoryBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = config.StorageSQLite
	cfg.Storage.Path = filepath.Join(t.TempDir(), "vibro.db")
	cfg.Storage.History = history.BackendSQLite

	a, _ := newApp(t, cfg, nil)
	_, isSQL := a.History().(*history.SQLLog)
	assert.True(t, isSQL)

	ctx := context.Background()
	require.NoError(t, a.History().Append(ctx, reading.Reading{Timestamp: 1, Value: 10}))
	a.Close()

	b, _ := newApp(t, cfg, nil)
	all, err := b.History().All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []reading.Reading{{Timestamp: 1, Value: 10}}, all)
}

func TestNew_BadDecoderScript(t *testing.T) {
	cfg := config.Default()
	cfg.Decoder.Script = filepath.Join(t.TempDir(), "missing.lua")

	_, err := New(context.Background(), cfg, nil, WithStore(kv.NewMemory()), WithTransport(&sensorStub{}))
	assert.ErrorContains(t, err, "decoder script")
}
