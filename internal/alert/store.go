package alert

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/vibro/internal/kv"
)

// Key is the store key of the alert list.
const Key = "alerts"

// Store is the append-only list of alerts, persisted as one JSON array.
type Store struct {
	kv     kv.Store
	logger *logrus.Logger

	mu     sync.Mutex
	alerts []Alert
}

func NewStore(store kv.Store, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{kv: store, logger: logger}
}

// Load replaces the in-memory list with the persisted one.
// Absent or corrupt data loads as an empty list.
func (s *Store) Load(ctx context.Context) error {
	var alerts []Alert
	err := kv.GetJSON(ctx, s.kv, Key, &alerts)

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case err == nil:
	case errors.Is(err, kv.ErrNotFound):
		alerts = nil
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		s.logger.WithError(err).Warn("Saved alerts are corrupt, starting empty")
		alerts = nil
	default:
		return err
	}

	s.mu.Lock()
	s.alerts = alerts
	s.mu.Unlock()
	return nil
}

// Add appends a and persists the whole list.
func (s *Store) Add(ctx context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := append(s.alerts[:len(s.alerts):len(s.alerts)], a)
	if err := kv.PutJSON(ctx, s.kv, Key, next); err != nil {
		return err
	}
	s.alerts = next
	s.logger.WithFields(logrus.Fields{
		"id":       a.ID,
		"value":    a.Value,
		"severity": a.Severity,
	}).Info("Alert recorded")
	return nil
}

// All returns a copy of the alerts in insertion order.
func (s *Store) All() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// Clear removes every alert and the stored list.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete(ctx, Key); err != nil {
		return err
	}
	s.alerts = nil
	return nil
}
