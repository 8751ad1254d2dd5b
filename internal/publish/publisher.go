// Package publish forwards live readings to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/vibro/internal/groutine"
	"github.com/srg/vibro/internal/reading"
)

// MaxQueueLen guards against accidental misconfiguration of the offline queue.
const MaxQueueLen uint32 = 1 << 20

// Options configure the publisher.
type Options struct {
	Broker   string
	Topic    string
	ClientID string
	// QueueLen bounds readings held while the broker is unreachable; the oldest are dropped.
	QueueLen uint32
	// ConnectTimeout bounds the initial connect. The client keeps retrying in the background.
	ConnectTimeout time.Duration
	RetryInterval  time.Duration
	QoS            byte
}

// Metrics counts publisher traffic.
type Metrics struct {
	Published int64
	Dropped   int64
	Failed    int64
}

// Publisher drains a reading stream into an MQTT topic, buffering while offline.
type Publisher struct {
	opts   Options
	client mqtt.Client
	logger *logrus.Logger

	queue   mpmc.RichOverlappedRingBuffer[reading.Reading]
	flushMu sync.Mutex

	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64

	cancel context.CancelFunc
	done   <-chan struct{}
}

func New(opts Options, logger *logrus.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Broker == "" || opts.Topic == "" {
		return nil, errors.New("broker and topic are required")
	}
	if opts.QueueLen == 0 {
		opts.QueueLen = 1024
	}
	if opts.QueueLen > MaxQueueLen {
		return nil, fmt.Errorf("queue length %d exceeds maximum %d", opts.QueueLen, MaxQueueLen)
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.RetryInterval == 0 {
		opts.RetryInterval = 5 * time.Second
	}

	p := &Publisher{
		opts:   opts,
		logger: logger,
		queue:  mpmc.NewOverlappedRingBuffer[reading.Reading](opts.QueueLen),
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(opts.RetryInterval)
	co.SetMaxReconnectInterval(opts.RetryInterval)
	co.SetCleanSession(true)
	co.SetOnConnectHandler(func(mqtt.Client) {
		p.logger.WithField("broker", opts.Broker).Info("MQTT broker connected")
		p.flush()
	})
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.logger.WithFields(logrus.Fields{
			"broker": opts.Broker,
			"error":  err,
		}).Warn("MQTT connection lost, buffering readings")
	})
	p.client = mqtt.NewClient(co)
	return p, nil
}

// Start connects and forwards every reading from src until ctx is done or src closes.
// An unreachable broker is not an error: readings are queued and sent on connect.
func (p *Publisher) Start(ctx context.Context, src <-chan reading.Reading) {
	token := p.client.Connect()
	if !token.WaitTimeout(p.opts.ConnectTimeout) {
		p.logger.WithField("broker", p.opts.Broker).Warn("MQTT broker not reachable yet, buffering readings")
	} else if err := token.Error(); err != nil {
		p.logger.WithFields(logrus.Fields{
			"broker": p.opts.Broker,
			"error":  err,
		}).Warn("MQTT connect failed, buffering readings")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = groutine.Go(runCtx, "mqtt-publisher", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-src:
				if !ok {
					return
				}
				p.enqueue(r)
				p.flush()
			}
		}
	})
}

func (p *Publisher) enqueue(r reading.Reading) {
	overwrites, err := p.queue.EnqueueM(r)
	if err != nil {
		p.failed.Add(1)
		p.logger.WithError(err).Error("Failed to queue reading for MQTT")
		return
	}
	if overwrites > 0 {
		p.dropped.Add(int64(overwrites))
		p.logger.WithField("dropped", overwrites).Debug("MQTT queue full, oldest readings dropped")
	}
}

// flush publishes queued readings while the connection is up.
func (p *Publisher) flush() {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	for p.client.IsConnectionOpen() && !p.queue.IsEmpty() {
		r, err := p.queue.Dequeue()
		if err != nil {
			return
		}
		if err := p.publish(r); err != nil {
			p.failed.Add(1)
			p.logger.WithFields(logrus.Fields{
				"value": r.Value,
				"error": err,
			}).Warn("MQTT publish failed")
			return
		}
		p.published.Add(1)
	}
}

func (p *Publisher) publish(r reading.Reading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.opts.Topic, p.opts.QoS, false, payload)
	if !token.WaitTimeout(p.opts.ConnectTimeout) {
		return fmt.Errorf("publish to %s timed out", p.opts.Topic)
	}
	return token.Error()
}

// Pending reports whether readings are waiting for the broker.
func (p *Publisher) Pending() bool {
	return !p.queue.IsEmpty()
}

func (p *Publisher) Metrics() Metrics {
	return Metrics{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
	}
}

// Close stops forwarding, makes a last flush attempt and disconnects.
func (p *Publisher) Close() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	p.flush()
	if p.Pending() {
		p.logger.Warn("MQTT publisher closed with undelivered readings")
	}
	p.client.Disconnect(250)
}
