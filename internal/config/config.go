// Package config loads the host application configuration: struct-tag defaults,
// an optional YAML file, then VIBRO_* environment overrides (.env included).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/vibro/internal/device"
	"github.com/srg/vibro/internal/history"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VIBRO_"

// Storage backends for the key-value records.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

// AppConfig holds the host application configuration
type AppConfig struct {
	LogLevel  string        `yaml:"log_level"`
	Transport device.Kind   `yaml:"transport" default:"ble"`
	BLE       BLEConfig     `yaml:"ble"`
	Classic   ClassicConfig `yaml:"classic"`
	Storage   StorageConfig `yaml:"storage"`
	Session   SessionConfig `yaml:"session"`
	Decoder   DecoderConfig `yaml:"decoder"`
	MQTT      MQTTConfig    `yaml:"mqtt"`
	PTY       PTYConfig     `yaml:"pty"`
}

type BLEConfig struct {
	DeviceName         string          `yaml:"device_name" default:"HC-01"`
	ServiceUUID        string          `yaml:"service_uuid" default:"12345678-1234-1234-1234-123456789012"`
	CharacteristicUUID string          `yaml:"characteristic_uuid" default:"12345678-1234-1234-1234-123456789012"`
	Encoding           device.Encoding `yaml:"encoding" default:"base64"`
	// ScanTimeout of zero keeps scanning until the device appears.
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"0s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"0s"`
}

type ClassicConfig struct {
	DeviceName string `yaml:"device_name" default:"HC-05"`
	Channel    uint8  `yaml:"channel" default:"1"`
	SerialPath string `yaml:"serial_path"`
	StorageDir string `yaml:"storage_dir" default:"/var/lib/bluetooth"`
}

type StorageConfig struct {
	Backend     string `yaml:"backend" default:"sqlite"`
	Path        string `yaml:"path" default:"vibro.db"`
	RedisAddr   string `yaml:"redis_addr" default:"localhost:6379"`
	RedisPrefix string `yaml:"redis_prefix" default:"vibro:"`
	History     string `yaml:"history" default:"kv"`

	// WriteTimeout bounds each history append. Zero waits for the backend.
	WriteTimeout time.Duration `yaml:"write_timeout" default:"0s"`
}

type SessionConfig struct {
	// Capacity of zero keeps every reading of the session.
	Capacity int `yaml:"capacity" default:"0"`
}

type DecoderConfig struct {
	// Script is a Lua file defining decode(payload). Empty uses the transport encoding.
	Script string `yaml:"script"`
}

type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled" default:"false"`
	Broker   string `yaml:"broker" default:"tcp://localhost:1883"`
	Topic    string `yaml:"topic" default:"vibro/readings"`
	ClientID string `yaml:"client_id" default:"vibro"`
	QueueLen int    `yaml:"queue_len" default:"1024"`
}

type PTYConfig struct {
	Enabled bool `yaml:"enabled" default:"false"`
}

// Default returns the configuration with every struct-tag default applied.
func Default() *AppConfig {
	cfg := &AppConfig{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load builds the configuration. path may be empty; a missing .env is not an error.
func Load(path string) (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type envBinding struct {
	key string
	set func(c *AppConfig, v string) error
}

func str(dst func(c *AppConfig) *string) func(*AppConfig, string) error {
	return func(c *AppConfig, v string) error {
		*dst(c) = v
		return nil
	}
}

func boolean(dst func(c *AppConfig) *bool) func(*AppConfig, string) error {
	return func(c *AppConfig, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func duration(dst func(c *AppConfig) *time.Duration) func(*AppConfig, string) error {
	return func(c *AppConfig, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"LOG_LEVEL", str(func(c *AppConfig) *string { return &c.LogLevel })},
	{"TRANSPORT", func(c *AppConfig, v string) error { c.Transport = device.Kind(v); return nil }},
	{"BLE_DEVICE_NAME", str(func(c *AppConfig) *string { return &c.BLE.DeviceName })},
	{"BLE_SERVICE_UUID", str(func(c *AppConfig) *string { return &c.BLE.ServiceUUID })},
	{"BLE_CHARACTERISTIC_UUID", str(func(c *AppConfig) *string { return &c.BLE.CharacteristicUUID })},
	{"BLE_ENCODING", func(c *AppConfig, v string) error { c.BLE.Encoding = device.Encoding(v); return nil }},
	{"BLE_SCAN_TIMEOUT", duration(func(c *AppConfig) *time.Duration { return &c.BLE.ScanTimeout })},
	{"BLE_CONNECT_TIMEOUT", duration(func(c *AppConfig) *time.Duration { return &c.BLE.ConnectTimeout })},
	{"CLASSIC_DEVICE_NAME", str(func(c *AppConfig) *string { return &c.Classic.DeviceName })},
	{"CLASSIC_SERIAL_PATH", str(func(c *AppConfig) *string { return &c.Classic.SerialPath })},
	{"CLASSIC_CHANNEL", func(c *AppConfig, v string) error {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return err
		}
		c.Classic.Channel = uint8(n)
		return nil
	}},
	{"STORAGE_BACKEND", str(func(c *AppConfig) *string { return &c.Storage.Backend })},
	{"STORAGE_PATH", str(func(c *AppConfig) *string { return &c.Storage.Path })},
	{"REDIS_ADDR", str(func(c *AppConfig) *string { return &c.Storage.RedisAddr })},
	{"HISTORY_BACKEND", str(func(c *AppConfig) *string { return &c.Storage.History })},
	{"STORAGE_WRITE_TIMEOUT", duration(func(c *AppConfig) *time.Duration { return &c.Storage.WriteTimeout })},
	{"SESSION_CAPACITY", func(c *AppConfig, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Session.Capacity = n
		return nil
	}},
	{"DECODER_SCRIPT", str(func(c *AppConfig) *string { return &c.Decoder.Script })},
	{"MQTT_ENABLED", boolean(func(c *AppConfig) *bool { return &c.MQTT.Enabled })},
	{"MQTT_BROKER", str(func(c *AppConfig) *string { return &c.MQTT.Broker })},
	{"MQTT_TOPIC", str(func(c *AppConfig) *string { return &c.MQTT.Topic })},
	{"MQTT_CLIENT_ID", str(func(c *AppConfig) *string { return &c.MQTT.ClientID })},
	{"PTY_ENABLED", boolean(func(c *AppConfig) *bool { return &c.PTY.Enabled })},
}

func (c *AppConfig) applyEnv(lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := b.set(c, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, b.key, v, err)
		}
	}
	return nil
}

// Validate rejects unknown enum values and inconsistent combinations.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("log_level: %w", err))
		}
	}
	if _, err := device.ParseKind(string(c.Transport)); err != nil {
		errs = append(errs, fmt.Errorf("transport: %w", err))
	}
	if _, err := device.ParseEncoding(string(c.BLE.Encoding)); err != nil {
		errs = append(errs, fmt.Errorf("ble.encoding: %w", err))
	}
	if c.Transport == device.KindBLE {
		if _, err := device.ValidateUUID(c.BLE.ServiceUUID, c.BLE.CharacteristicUUID); err != nil {
			errs = append(errs, fmt.Errorf("ble uuids: %w", err))
		}
	}
	if c.BLE.ScanTimeout < 0 || c.BLE.ConnectTimeout < 0 {
		errs = append(errs, errors.New("ble timeouts must not be negative"))
	}
	if c.Storage.WriteTimeout < 0 {
		errs = append(errs, errors.New("storage.write_timeout must not be negative"))
	}
	switch c.Storage.Backend {
	case StorageMemory, StorageSQLite, StorageRedis:
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q (use memory, sqlite or redis)", c.Storage.Backend))
	}
	if err := history.ValidateBackend(c.Storage.History); err != nil {
		errs = append(errs, fmt.Errorf("storage.history: %w", err))
	}
	if c.Session.Capacity < 0 {
		errs = append(errs, errors.New("session.capacity must not be negative"))
	}
	if c.MQTT.Enabled && (c.MQTT.Broker == "" || c.MQTT.Topic == "") {
		errs = append(errs, errors.New("mqtt: broker and topic are required when enabled"))
	}
	return errors.Join(errs...)
}

// DeviceName returns the advertised name for the selected transport.
func (c *AppConfig) DeviceName() string {
	if c.Transport == device.KindClassic {
		return c.Classic.DeviceName
	}
	return c.BLE.DeviceName
}

// NewLogger creates a configured logger instance.
// An empty log_level keeps the logger silent.
func (c *AppConfig) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level := logrus.PanicLevel
	if l, err := logrus.ParseLevel(c.LogLevel); err == nil && c.LogLevel != "" {
		level = l
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
