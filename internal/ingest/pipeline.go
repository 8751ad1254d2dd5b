// Package ingest turns raw sensor payloads into readings and distributes them.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/vibro/internal/reading"
	"github.com/srg/vibro/internal/stream"
)

// Appender is the durable side of the pipeline.
type Appender interface {
	Append(ctx context.Context, r reading.Reading) error
}

// Pipeline decodes payloads, stamps them and fans them out to the session
// buffer, the history store and live subscribers, in that order.
type Pipeline struct {
	decoder reading.Decoder
	session *Session
	history Appender
	clock   func() time.Time
	timeout time.Duration
	logger  *logrus.Logger

	mu   sync.Mutex // serializes Ingest so readings keep arrival order everywhere
	subs map[*stream.RingChannel[reading.Reading]]struct{}
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock replaces time.Now for stamping readings.
func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) { p.clock = clock }
}

// WithWriteTimeout bounds each history append. Zero, the default, means no bound.
func WithWriteTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

func NewPipeline(decoder reading.Decoder, session *Session, history Appender, logger *logrus.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	p := &Pipeline{
		decoder: decoder,
		session: session,
		history: history,
		clock:   time.Now,
		logger:  logger,
		subs:    make(map[*stream.RingChannel[reading.Reading]]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest handles one payload. A decode failure returns a *reading.DecodeError and
// changes nothing. A history failure returns the store's *kv.PersistenceError after
// the reading has still reached the session buffer and subscribers.
func (p *Pipeline) Ingest(payload []byte) (reading.Reading, error) {
	value, err := p.decoder.Decode(payload)
	if err != nil {
		p.logger.WithError(err).Warn("Dropping undecodable payload")
		return reading.Reading{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	r := reading.New(p.clock(), value)
	p.session.Append(r)

	var histErr error
	if p.history != nil {
		ctx := context.Background()
		if p.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}
		if histErr = p.history.Append(ctx, r); histErr != nil {
			p.logger.WithFields(logrus.Fields{
				"value": r.Value,
				"error": histErr,
			}).Error("Failed to persist reading")
		}
	}

	for rc := range p.subs {
		rc.Send(r)
	}

	p.logger.WithFields(logrus.Fields{
		"timestamp": r.Timestamp,
		"value":     r.Value,
	}).Debug("Reading ingested")
	return r, histErr
}

// Handler adapts Ingest to a transport callback. Errors are already logged by Ingest.
func (p *Pipeline) Handler() func(payload []byte) {
	return func(payload []byte) {
		_, _ = p.Ingest(payload)
	}
}

// Subscribe registers a live subscriber. When it falls more than buffer readings
// behind, the oldest unread ones are dropped.
func (p *Pipeline) Subscribe(buffer int) *stream.RingChannel[reading.Reading] {
	rc := stream.NewRingChannel[reading.Reading](buffer)
	p.mu.Lock()
	p.subs[rc] = struct{}{}
	p.mu.Unlock()
	return rc
}

// Unsubscribe removes and closes rc.
func (p *Pipeline) Unsubscribe(rc *stream.RingChannel[reading.Reading]) {
	p.mu.Lock()
	_, ok := p.subs[rc]
	delete(p.subs, rc)
	p.mu.Unlock()
	if !ok {
		return
	}
	rc.Close()
	if m := rc.GetMetrics(); m.Overwritten > 0 {
		p.logger.WithFields(logrus.Fields{
			"delivered": m.Written,
			"dropped":   m.Overwritten,
		}).Debug("Slow subscriber lost readings")
	}
}

// Close closes every subscriber channel.
func (p *Pipeline) Close() {
	p.mu.Lock()
	subs := p.subs
	p.subs = make(map[*stream.RingChannel[reading.Reading]]struct{})
	p.mu.Unlock()
	for rc := range subs {
		rc.Close()
	}
}

// Session returns the session buffer fed by the pipeline.
func (p *Pipeline) Session() *Session {
	return p.session
}
