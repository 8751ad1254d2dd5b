// Package connector drives one device.Transport through the
// Idle → Scanning → Connecting → Subscribed → Disconnected lifecycle.
package connector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/vibro/internal/device"
	"github.com/srg/vibro/internal/groutine"
	"github.com/srg/vibro/internal/settings"
	"github.com/srg/vibro/internal/stream"
)

// StateChange is published on every lifecycle transition.
type StateChange struct {
	From device.State
	To   device.State
	At   time.Time
	Err  error
}

// Status is a point-in-time view of the connector.
type Status struct {
	State     device.State
	Connected bool
	Target    device.Target
	// Err is the last scan, connect, discovery or link failure of the current run.
	Err error
}

// Connector owns the active transport session. There is no automatic reconnect:
// after a failure the run ends and a new Start (or Apply toggling auto-connect)
// is required.
type Connector struct {
	transport device.Transport
	name      string
	handler   func(payload []byte)
	logger    *logrus.Logger

	mu      sync.Mutex
	state   device.State
	target  device.Target
	lastErr error
	cancel  context.CancelFunc
	done    <-chan struct{}

	// gate guarantees no handler call starts after Stop returns.
	gate   sync.RWMutex
	active bool

	events *stream.RingChannel[StateChange]
}

// New creates a connector that looks for the device called name and passes
// every payload to handler.
func New(transport device.Transport, name string, handler func(payload []byte), logger *logrus.Logger) *Connector {
	if logger == nil {
		logger = logrus.New()
	}
	return &Connector{
		transport: transport,
		name:      name,
		handler:   handler,
		logger:    logger,
		state:     device.StateIdle,
		events:    stream.NewRingChannel[StateChange](32),
	}
}

// Start begins a connection cycle when cfg.AutoConnect is set; otherwise the
// connector stays Idle. A running cycle is torn down first.
// The cycle runs in the background until Stop, link loss or a failure.
func (c *Connector) Start(ctx context.Context, cfg settings.Config) {
	c.Stop()

	if !cfg.AutoConnect {
		c.logger.WithField("name", c.name).Info("Auto-connect disabled, not scanning")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)

	c.gate.Lock()
	c.active = true
	c.gate.Unlock()

	c.mu.Lock()
	c.lastErr = nil
	c.target = device.Target{}
	c.cancel = cancel
	c.done = groutine.Go(runCtx, "connector", c.run)
	c.mu.Unlock()
}

// Apply reacts to a settings change: auto-connect off tears down the session,
// auto-connect on starts a cycle unless one is already running.
func (c *Connector) Apply(ctx context.Context, cfg settings.Config) {
	if !cfg.AutoConnect {
		c.Stop()
		return
	}
	if c.Running() {
		return
	}
	c.Start(ctx, cfg)
}

// Running reports whether a connection cycle is in progress.
func (c *Connector) Running() bool {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Stop cancels the cycle, waits for it to exit and releases the transport.
// No handler call begins after Stop returns.
func (c *Connector) Stop() {
	c.gate.Lock()
	c.active = false
	c.gate.Unlock()

	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	if err := c.transport.Disconnect(); err != nil {
		c.logger.WithError(err).Warn("Transport teardown failed")
	}
	c.setState(device.StateIdle, nil)
}

// Status returns the current lifecycle position.
func (c *Connector) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:     c.state,
		Connected: c.state.Connected(),
		Target:    c.target,
		Err:       c.lastErr,
	}
}

// Events returns the stream of state changes. Slow readers lose the oldest entries.
func (c *Connector) Events() <-chan StateChange {
	return c.events.C()
}

// Close stops the connector and closes the event stream.
func (c *Connector) Close() {
	c.Stop()
	c.events.Close()
}

func (c *Connector) run(ctx context.Context) {
	c.setState(device.StateScanning, nil)
	target, err := c.transport.Scan(ctx, c.name)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.fail(device.StateIdle, err, "Scan failed")
		return
	}

	c.mu.Lock()
	c.target = target
	c.mu.Unlock()

	c.setState(device.StateConnecting, nil)
	if err := c.transport.Connect(ctx, target); err != nil {
		if ctx.Err() != nil {
			return
		}
		c.fail(device.StateDisconnected, err, "Connect failed")
		return
	}

	if err := c.transport.Subscribe(c.deliver); err != nil {
		if derr := c.transport.Disconnect(); derr != nil {
			c.logger.WithError(derr).Debug("Disconnect after subscribe failure")
		}
		c.fail(device.StateDisconnected, err, "Subscribe failed")
		return
	}

	c.setState(device.StateSubscribed, nil)
	c.logger.WithFields(logrus.Fields{
		"name":      target.Name,
		"address":   target.Address,
		"goroutine": groutine.GetName(ctx),
	}).Info("Connected to device")

	select {
	case <-ctx.Done():
	case <-c.transport.Disconnected():
		if ctx.Err() != nil {
			return
		}
		err := &device.ConnectionError{State: device.LinkLost, Address: target.Address, Msg: "device went away"}
		if derr := c.transport.Disconnect(); derr != nil {
			c.logger.WithError(derr).Debug("Disconnect after link loss")
		}
		c.fail(device.StateDisconnected, err, "Link lost")
	}
}

// deliver forwards a payload unless the connector has been stopped.
func (c *Connector) deliver(payload []byte) {
	c.gate.RLock()
	defer c.gate.RUnlock()
	if !c.active {
		return
	}
	c.handler(payload)
}

func (c *Connector) fail(next device.State, err error, msg string) {
	entry := c.logger.WithFields(logrus.Fields{
		"name":  c.name,
		"error": err,
	})
	var perr *device.PermissionDeniedError
	if errors.Is(err, device.ErrDeviceNotFound) || errors.As(err, &perr) {
		entry.Warn(msg)
	} else {
		entry.Error(msg)
	}
	c.setState(next, err)
}

func (c *Connector) setState(next device.State, err error) {
	c.mu.Lock()
	prev := c.state
	if prev == next || !prev.CanTransition(next) {
		if err != nil {
			c.lastErr = err
		}
		c.mu.Unlock()
		return
	}
	c.state = next
	if err != nil {
		c.lastErr = err
	}
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"name":  c.name,
		"from":  prev.String(),
		"state": next.String(),
	}).Info("Connection state changed")
	c.events.Send(StateChange{From: prev, To: next, At: time.Now(), Err: err})
}
