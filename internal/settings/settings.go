// Package settings persists the user-editable monitoring preferences.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/vibro/internal/kv"
)

// Key is the store key of the settings record.
const Key = "config"

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

const (
	MinThreshold = 0
	MaxThreshold = 100
)

// Config is the persisted settings record.
type Config struct {
	Threshold   int   `json:"threshold"`
	AutoConnect bool  `json:"autoConnect"`
	Theme       Theme `json:"theme"`
}

// Defaults returns the settings used when nothing has been saved yet.
func Defaults() Config {
	return Config{Threshold: 80, AutoConnect: true, Theme: ThemeLight}
}

// ValidationError describes a rejected settings field.
type ValidationError struct {
	Field string
	Value any
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Msg)
}

// Validate checks the threshold range and the theme.
func (c Config) Validate() error {
	if c.Threshold < MinThreshold || c.Threshold > MaxThreshold {
		return &ValidationError{Field: "threshold", Value: c.Threshold, Msg: fmt.Sprintf("must be within [%d, %d]", MinThreshold, MaxThreshold)}
	}
	switch c.Theme {
	case ThemeLight, ThemeDark:
	default:
		return &ValidationError{Field: "theme", Value: c.Theme, Msg: fmt.Sprintf("must be %q or %q", ThemeLight, ThemeDark)}
	}
	return nil
}

// Store keeps the current settings in memory and mirrors every change to the kv store.
type Store struct {
	kv     kv.Store
	logger *logrus.Logger

	mu  sync.RWMutex
	cur Config
}

func NewStore(store kv.Store, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{kv: store, logger: logger, cur: Defaults()}
}

// Load reads the persisted record. Absent or corrupt records yield the defaults;
// out-of-range fields are repaired with a warning. Only backend failures are returned.
func (s *Store) Load(ctx context.Context) (Config, error) {
	cfg := Defaults()

	data, err := s.kv.Get(ctx, Key)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		s.logger.Debug("No saved settings, using defaults")
	case err != nil:
		s.logger.WithError(err).Error("Failed to load settings")
		s.set(cfg)
		return cfg, err
	default:
		if uerr := json.Unmarshal(data, &cfg); uerr != nil {
			s.logger.WithError(uerr).Warn("Saved settings are corrupt, using defaults")
			cfg = Defaults()
		}
		cfg = s.repair(cfg)
	}

	s.set(cfg)
	return cfg, nil
}

func (s *Store) repair(cfg Config) Config {
	if cfg.Threshold < MinThreshold || cfg.Threshold > MaxThreshold {
		clamped := min(max(cfg.Threshold, MinThreshold), MaxThreshold)
		s.logger.WithFields(logrus.Fields{
			"threshold": cfg.Threshold,
			"clamped":   clamped,
		}).Warn("Saved threshold out of range")
		cfg.Threshold = clamped
	}
	if cfg.Theme != ThemeLight && cfg.Theme != ThemeDark {
		s.logger.WithField("theme", cfg.Theme).Warn("Saved theme unknown, using light")
		cfg.Theme = ThemeLight
	}
	return cfg
}

// Save validates cfg and replaces the stored record wholesale.
func (s *Store) Save(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := kv.PutJSON(ctx, s.kv, Key, cfg); err != nil {
		return err
	}
	s.set(cfg)
	s.logger.WithFields(logrus.Fields{
		"threshold":   cfg.Threshold,
		"autoConnect": cfg.AutoConnect,
		"theme":       cfg.Theme,
	}).Info("Settings saved")
	return nil
}

// Current returns the settings last loaded or saved.
func (s *Store) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

func (s *Store) set(cfg Config) {
	s.mu.Lock()
	s.cur = cfg
	s.mu.Unlock()
}
