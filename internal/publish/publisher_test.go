package publish

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	mqttbroker "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/vibro/internal/reading"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const topic = "vibro/readings"

type received struct {
	mu       sync.Mutex
	readings []reading.Reading
}

func (r *received) all() []reading.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reading.Reading(nil), r.readings...)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// startBroker runs an in-process broker on addr and records every reading published to topic.
func startBroker(t *testing.T, addr string) *received {
	t.Helper()
	server := mqttbroker.New(&mqttbroker.Options{
		InlineClient: true,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{ID: "tcp", Address: addr})))

	got := &received{}
	require.NoError(t, server.Subscribe(topic, 1, func(_ *mqttbroker.Client, _ packets.Subscription, pk packets.Packet) {
		var r reading.Reading
		if json.Unmarshal(pk.Payload, &r) == nil {
			got.mu.Lock()
			got.readings = append(got.readings, r)
			got.mu.Unlock()
		}
	}))

	go func() { _ = server.Serve() }()
	t.Cleanup(func() { _ = server.Close() })
	return got
}

func newPublisher(t *testing.T, addr string, queueLen uint32) *Publisher {
	t.Helper()
	logger, _ := test.NewNullLogger()
	p, err := New(Options{
		Broker:         "tcp://" + addr,
		Topic:          topic,
		ClientID:       "vibro-test",
		QueueLen:       queueLen,
		ConnectTimeout: time.Second,
		RetryInterval:  50 * time.Millisecond,
		QoS:            1,
	}, logger)
	require.NoError(t, err)
	return p
}

func TestPublisher_ForwardsReadings(t *testing.T) {
	addr := freeAddr(t)
	got := startBroker(t, addr)

	p := newPublisher(t, addr, 16)
	src := make(chan reading.Reading)
	p.Start(context.Background(), src)
	defer p.Close()

	want := []reading.Reading{{Timestamp: 1700000000000, Value: 42}, {Timestamp: 1700000000100, Value: 43}}
	for _, r := range want {
		src <- r
	}

	require.Eventually(t, func() bool { return len(got.all()) == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, got.all(), "readings MUST arrive in order")
	assert.Equal(t, int64(2), p.Metrics().Published)
}

func TestPublisher_BuffersWhileOffline(t *testing.T) {
	// GOAL: Verify readings produced while the broker is down are delivered once it comes up
	//
	// TEST SCENARIO: no broker → 3 readings queued → broker starts → client reconnects → queue flushed in order

	addr := freeAddr(t)
	p := newPublisher(t, addr, 16)
	p.opts.ConnectTimeout = 100 * time.Millisecond

	src := make(chan reading.Reading)
	p.Start(context.Background(), src)
	defer p.Close()

	for i := 1; i <= 3; i++ {
		src <- reading.Reading{Timestamp: int64(i), Value: i}
	}
	require.Eventually(t, p.Pending, time.Second, 10*time.Millisecond, "readings MUST be queued while offline")

	got := startBroker(t, addr)
	require.Eventually(t, func() bool { return len(got.all()) == 3 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []int{1, 2, 3}, []int{got.all()[0].Value, got.all()[1].Value, got.all()[2].Value})
	assert.False(t, p.Pending())
}

func TestPublisher_OfflineQueueDropsOldest(t *testing.T) {
	addr := freeAddr(t)
	p := newPublisher(t, addr, 4)
	p.opts.ConnectTimeout = 50 * time.Millisecond

	for i := 0; i < 20; i++ {
		p.enqueue(reading.Reading{Timestamp: int64(i), Value: i})
	}
	assert.Positive(t, p.Metrics().Dropped, "overflow MUST drop readings instead of blocking")

	last, err := p.queue.Dequeue()
	require.NoError(t, err)
	assert.Greater(t, last.Value, 0, "oldest readings MUST be the ones dropped")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Topic: topic}, nil)
	assert.Error(t, err)

	_, err = New(Options{Broker: "tcp://localhost:1883", Topic: topic, QueueLen: MaxQueueLen + 1}, nil)
	assert.ErrorContains(t, err, "exceeds maximum")
}
