package classic

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/vibro/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPermission struct{ err error }

func (p stubPermission) Request(context.Context) error { return p.err }

type stubBonded []device.Target

func (b stubBonded) Bonded(context.Context) ([]device.Target, error) { return b, nil }

type stubDialer struct{ err error }

func (d stubDialer) Dial(context.Context, string) (io.ReadCloser, error) { return nil, d.err }

func quietLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func TestScan(t *testing.T) {
	paired := stubBonded{
		{Name: "Headset", Address: "00:11:22:33:44:55"},
		{Name: DefaultDeviceName, Address: "98:D3:31:F5:12:34"},
	}

	t.Run("bonded device found", func(t *testing.T) {
		tr := NewTransport(Options{}, quietLogger(), WithPermission(stubPermission{}), WithBondedDevices(paired))
		target, err := tr.Scan(context.Background(), DefaultDeviceName)
		require.NoError(t, err)
		assert.Equal(t, "98:D3:31:F5:12:34", target.Address)
	})

	t.Run("not paired", func(t *testing.T) {
		logger, hook := test.NewNullLogger()
		tr := NewTransport(Options{}, logger, WithPermission(stubPermission{}), WithBondedDevices(paired[:1]))

		_, err := tr.Scan(context.Background(), DefaultDeviceName)

		var scanErr *device.ScanError
		require.ErrorAs(t, err, &scanErr)
		assert.ErrorIs(t, err, device.ErrDeviceNotFound)
		require.NotNil(t, hook.LastEntry())
		assert.Contains(t, hook.LastEntry().Message, "not paired", "MUST tell the user to pair the device")
	})

	t.Run("permission denied", func(t *testing.T) {
		denied := &device.PermissionDeniedError{Permission: "BLUETOOTH_CONNECT", Err: errors.New("operation not permitted")}
		tr := NewTransport(Options{}, quietLogger(), WithPermission(stubPermission{err: denied}), WithBondedDevices(paired))

		_, err := tr.Scan(context.Background(), DefaultDeviceName)

		var perr *device.PermissionDeniedError
		assert.ErrorAs(t, err, &perr, "denial MUST surface as PermissionDeniedError, not a scan failure")
	})

	t.Run("paired listing", func(t *testing.T) {
		tr := NewTransport(Options{}, quietLogger(), WithPermission(stubPermission{}), WithBondedDevices(paired))
		got, err := tr.Paired(context.Background())
		require.NoError(t, err)
		assert.Len(t, got, 2)

		denied := &device.PermissionDeniedError{Permission: "BLUETOOTH_CONNECT"}
		_, err = NewTransport(Options{}, quietLogger(), WithPermission(stubPermission{err: denied}), WithBondedDevices(paired)).
			Paired(context.Background())
		assert.ErrorIs(t, err, denied)
	})
}

func TestConnectFailures(t *testing.T) {
	target := device.Target{Name: DefaultDeviceName, Address: "98:D3:31:F5:12:34"}

	err := NewTransport(Options{}, quietLogger(), WithDialer(stubDialer{err: errors.New("host is down")})).
		Connect(context.Background(), target)
	assert.True(t, device.IsConnectionState(err, device.DialFailed), "got %v", err)

	err = NewTransport(Options{}, quietLogger(), WithDialer(stubDialer{err: os.ErrPermission})).
		Connect(context.Background(), target)
	var perr *device.PermissionDeniedError
	assert.ErrorAs(t, err, &perr)
}

func TestSerialSession(t *testing.T) {
	// GOAL: Verify a bound serial node delivers one payload per line and reports link loss
	//
	// TEST SCENARIO: pty as serial node → write "42\n" and "17\r\n" → handler gets "42", "17" → close master → Disconnected closes

	ptmx, tty, err := pty.Open()
	require.NoError(t, err)
	defer tty.Close()

	tr := NewTransport(Options{SerialPath: tty.Name()}, quietLogger())
	require.NoError(t, tr.Connect(context.Background(), device.Target{Name: DefaultDeviceName}))
	assert.ErrorIs(t, tr.Connect(context.Background(), device.Target{}), device.ErrAlreadyConnected)

	var (
		mu  sync.Mutex
		got []string
	)
	received := make(chan struct{}, 4)
	require.NoError(t, tr.Subscribe(func(p []byte) {
		mu.Lock()
		got = append(got, string(p))
		mu.Unlock()
		received <- struct{}{}
	}))

	_, err = ptmx.Write([]byte("42\n\n17\r\n"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatal("MUST receive both lines")
		}
	}
	mu.Lock()
	assert.Equal(t, []string{"42", "17"}, got, "empty lines MUST be skipped and CR stripped")
	mu.Unlock()

	lost := tr.Disconnected()
	require.NotNil(t, lost)
	require.NoError(t, ptmx.Close())

	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnected MUST close when the stream ends")
	}

	assert.NoError(t, tr.Disconnect())
	assert.NoError(t, tr.Disconnect(), "second Disconnect MUST be a no-op")
}

func TestDisconnectStopsReader(t *testing.T) {
	ptmx, tty, err := pty.Open()
	require.NoError(t, err)
	defer ptmx.Close()
	defer tty.Close()

	tr := NewTransport(Options{SerialPath: tty.Name()}, quietLogger())
	require.NoError(t, tr.Connect(context.Background(), device.Target{}))
	require.NoError(t, tr.Subscribe(func([]byte) {}))
	lost := tr.Disconnected()

	done := make(chan error, 1)
	go func() { done <- tr.Disconnect() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect MUST unblock the pending read")
	}
	_, open := <-lost
	assert.False(t, open)
	assert.ErrorIs(t, tr.Subscribe(func([]byte) {}), device.ErrNotConnected)
}

func TestBlueZStore(t *testing.T) {
	dir := t.TempDir()
	writeInfo := func(adapter, addr, body string) {
		p := filepath.Join(dir, adapter, addr)
		require.NoError(t, os.MkdirAll(p, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(p, "info"), []byte(body), 0o600))
	}

	writeInfo("00:1A:7D:DA:71:13", "98:D3:31:F5:12:34", "[General]\nName=HC-05\nTrusted=true\n\n[LinkKey]\nKey=ABCDEF\nType=0\n")
	writeInfo("00:1A:7D:DA:71:13", "11:22:33:44:55:66", "[General]\nName=Seen only\n")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "00:1A:7D:DA:71:13", "cache"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "settings"), 0o755))

	bonded, err := (&BlueZStore{Dir: dir}).Bonded(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []device.Target{{Name: "HC-05", Address: "98:D3:31:F5:12:34"}}, bonded,
		"only devices with a link key MUST be listed")

	_, err = (&BlueZStore{Dir: filepath.Join(dir, "missing")}).Bonded(context.Background())
	assert.Error(t, err)
}

func TestParseBDAddr(t *testing.T) {
	addr, err := parseBDAddr("98:D3:31:F5:12:34")
	require.NoError(t, err)
	assert.Equal(t, [6]uint8{0x34, 0x12, 0xf5, 0x31, 0xd3, 0x98}, addr, "MUST be little-endian")

	_, err = parseBDAddr("98:D3:31")
	assert.Error(t, err)
	assert.False(t, isBDAddr("cache"))
}
