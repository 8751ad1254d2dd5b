// Package app holds the application state shared by every command: storage,
// settings, history, alerts, the ingestion pipeline and the device connector.
// It is built once by New and torn down by Close.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/vibro/internal/alert"
	"github.com/srg/vibro/internal/config"
	"github.com/srg/vibro/internal/connector"
	"github.com/srg/vibro/internal/device"
	"github.com/srg/vibro/internal/device/classic"
	goble "github.com/srg/vibro/internal/device/go-ble"
	"github.com/srg/vibro/internal/history"
	"github.com/srg/vibro/internal/ingest"
	"github.com/srg/vibro/internal/kv"
	"github.com/srg/vibro/internal/ptyio"
	"github.com/srg/vibro/internal/publish"
	"github.com/srg/vibro/internal/reading"
	"github.com/srg/vibro/internal/reading/luadecode"
	"github.com/srg/vibro/internal/settings"
)

// App is the explicit application state.
type App struct {
	cfg    *config.AppConfig
	logger *logrus.Logger

	kv        kv.Store
	ownedDB   *sql.DB
	settings  *settings.Store
	history   history.Store
	alerts    *alert.Store
	decoder   reading.Decoder
	transport device.Transport
	session   *ingest.Session
	pipeline  *ingest.Pipeline
	connector *connector.Connector

	mu        sync.Mutex
	publisher *publish.Publisher
	mirror    *ptyio.Mirror
	closed    bool
}

// Option customizes New, mostly for tests.
type Option func(*options)

type options struct {
	kv        kv.Store
	transport device.Transport
}

// WithStore uses store instead of opening the configured backend. App.Close closes it.
func WithStore(store kv.Store) Option { return func(o *options) { o.kv = store } }

// WithTransport replaces the configured device transport.
func WithTransport(t device.Transport) Option { return func(o *options) { o.transport = t } }

// New opens storage, loads the three persisted records and wires the pipeline
// to the connector. Load problems with persisted records are logged and the
// record starts from its defaults; only an unusable backend fails New.
func New(ctx context.Context, cfg *config.AppConfig, logger *logrus.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = logrus.New()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger, kv: o.kv}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if a.kv == nil {
		store, err := openStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.kv = store
	}

	a.settings = settings.NewStore(a.kv, logger)
	if _, err := a.settings.Load(ctx); err != nil {
		logger.WithError(err).Warn("Failed to load settings, using defaults")
	}

	hist, err := a.openHistory(ctx)
	if err != nil {
		return nil, err
	}
	a.history = hist
	if err := a.history.Load(ctx); err != nil {
		logger.WithError(err).Warn("Failed to load history")
	}

	a.alerts = alert.NewStore(a.kv, logger)
	if err := a.alerts.Load(ctx); err != nil {
		logger.WithError(err).Warn("Failed to load alerts")
	}

	a.transport = o.transport
	if a.transport == nil {
		a.transport = newTransport(cfg, logger)
	}

	a.decoder, err = newDecoder(cfg, a.transport.Encoding(), logger)
	if err != nil {
		return nil, err
	}

	a.session = ingest.NewSession(cfg.Session.Capacity)
	a.pipeline = ingest.NewPipeline(a.decoder, a.session, a.history, logger,
		ingest.WithWriteTimeout(cfg.Storage.WriteTimeout))
	a.connector = connector.New(a.transport, cfg.DeviceName(), a.pipeline.Handler(), logger)

	ok = true
	return a, nil
}

func openStore(ctx context.Context, cfg *config.AppConfig) (kv.Store, error) {
	switch cfg.Storage.Backend {
	case config.StorageMemory:
		return kv.NewMemory(), nil
	case config.StorageRedis:
		return kv.NewRedis(ctx, cfg.Storage.RedisAddr, cfg.Storage.RedisPrefix)
	case config.StorageSQLite:
		return kv.OpenSQLite(ctx, cfg.Storage.Path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func (a *App) openHistory(ctx context.Context) (history.Store, error) {
	if a.cfg.Storage.History != history.BackendSQLite {
		return history.NewKVLog(a.kv, a.logger), nil
	}
	if s, ok := a.kv.(*kv.SQLite); ok {
		return history.NewSQLLog(s.DB(), a.logger), nil
	}
	db, err := kv.OpenDB(a.cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open history database %s: %w", a.cfg.Storage.Path, err)
	}
	a.ownedDB = db
	return history.NewSQLLog(db, a.logger), nil
}

func newTransport(cfg *config.AppConfig, logger *logrus.Logger) device.Transport {
	if cfg.Transport == device.KindClassic {
		return classic.NewTransport(classic.Options{
			Channel:    cfg.Classic.Channel,
			SerialPath: cfg.Classic.SerialPath,
			StorageDir: cfg.Classic.StorageDir,
		}, logger)
	}
	return goble.NewTransport(goble.Options{
		ServiceUUID:        cfg.BLE.ServiceUUID,
		CharacteristicUUID: cfg.BLE.CharacteristicUUID,
		Encoding:           cfg.BLE.Encoding,
		ScanTimeout:        cfg.BLE.ScanTimeout,
		ConnectTimeout:     cfg.BLE.ConnectTimeout,
	}, logger)
}

func newDecoder(cfg *config.AppConfig, enc device.Encoding, logger *logrus.Logger) (reading.Decoder, error) {
	if cfg.Decoder.Script == "" {
		return reading.DecoderFor(enc)
	}
	script, err := os.ReadFile(cfg.Decoder.Script)
	if err != nil {
		return nil, fmt.Errorf("failed to read decoder script: %w", err)
	}
	d, err := luadecode.New(string(script), logger)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Start launches the enabled sinks and begins a connection cycle per the saved settings.
func (a *App) Start(ctx context.Context) error {
	if err := a.startSinks(ctx); err != nil {
		return err
	}
	a.connector.Start(ctx, a.settings.Current())
	return nil
}

func (a *App) startSinks(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cfg.MQTT.Enabled && a.publisher == nil {
		p, err := publish.New(publish.Options{
			Broker:   a.cfg.MQTT.Broker,
			Topic:    a.cfg.MQTT.Topic,
			ClientID: a.cfg.MQTT.ClientID,
			QueueLen: uint32(a.cfg.MQTT.QueueLen),
			QoS:      1,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		p.Start(ctx, a.pipeline.Subscribe(256).C())
		a.publisher = p
	}

	if a.cfg.PTY.Enabled && a.mirror == nil {
		m, err := ptyio.NewMirror(ptyio.Options{Logger: a.logger})
		if err != nil {
			return err
		}
		m.Start(ctx, a.pipeline.Subscribe(256).C())
		a.mirror = m
	}
	return nil
}

// Stop tears down the active connection. Persisted state stays open.
func (a *App) Stop() {
	a.connector.Stop()
}

// UpdateSettings validates and persists cfg, then applies the auto-connect toggle.
func (a *App) UpdateSettings(ctx context.Context, cfg settings.Config) error {
	if err := a.settings.Save(ctx, cfg); err != nil {
		return err
	}
	a.connector.Apply(ctx, cfg)
	return nil
}

// Evaluate classifies r against the current threshold.
func (a *App) Evaluate(r reading.Reading) alert.Evaluation {
	return alert.Evaluate(r, a.settings.Current())
}

// AddAlert materializes and stores an alert for r.
func (a *App) AddAlert(ctx context.Context, r reading.Reading) (alert.Alert, error) {
	al, err := alert.New(r)
	if err != nil {
		return alert.Alert{}, err
	}
	if err := a.alerts.Add(ctx, al); err != nil {
		return alert.Alert{}, err
	}
	return al, nil
}

// ClearHistory empties the reading log and the alert list.
func (a *App) ClearHistory(ctx context.Context) error {
	return errors.Join(a.history.Clear(ctx), a.alerts.Clear(ctx))
}

func (a *App) Config() *config.AppConfig       { return a.cfg }
func (a *App) Settings() *settings.Store       { return a.settings }
func (a *App) History() history.Store          { return a.history }
func (a *App) Alerts() *alert.Store            { return a.alerts }
func (a *App) Session() *ingest.Session        { return a.session }
func (a *App) Pipeline() *ingest.Pipeline      { return a.pipeline }
func (a *App) Connector() *connector.Connector { return a.connector }
func (a *App) Transport() device.Transport     { return a.transport }

// Mirror returns the PTY mirror, nil unless enabled and started.
func (a *App) Mirror() *ptyio.Mirror {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mirror
}

// Close releases everything in reverse order of construction. It is idempotent.
func (a *App) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	publisher, mirror := a.publisher, a.mirror
	a.mu.Unlock()

	if a.connector != nil {
		a.connector.Close()
	}
	if a.pipeline != nil {
		a.pipeline.Close()
	}
	if publisher != nil {
		publisher.Close()
	}
	if mirror != nil {
		if err := mirror.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close PTY mirror")
		}
	}
	if c, ok := a.decoder.(interface{ Close() }); ok {
		c.Close()
	}
	if a.ownedDB != nil {
		if err := a.ownedDB.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close history database")
		}
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close storage")
		}
	}
}
