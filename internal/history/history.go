// Package history is the durable, append-only record of readings.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/vibro/internal/kv"
	"github.com/srg/vibro/internal/reading"
)

// Key is the kv key of the history document.
const Key = "history"

// Backend names accepted by configuration.
const (
	BackendKV     = "kv"
	BackendSQLite = "sqlite"
)

// Store is the durable reading log. Readings come back in append order.
type Store interface {
	Load(ctx context.Context) error
	Append(ctx context.Context, r reading.Reading) error
	All(ctx context.Context) ([]reading.Reading, error)
	Clear(ctx context.Context) error
}

// KVLog keeps the history in memory and rewrites the whole sequence as one
// JSON array under Key after every mutation.
type KVLog struct {
	kv     kv.Store
	logger *logrus.Logger

	mu       sync.Mutex
	readings []reading.Reading
}

var _ Store = (*KVLog)(nil)

func NewKVLog(store kv.Store, logger *logrus.Logger) *KVLog {
	if logger == nil {
		logger = logrus.New()
	}
	return &KVLog{kv: store, logger: logger}
}

// Load reads the persisted sequence. Absent or corrupt data loads as empty.
func (l *KVLog) Load(ctx context.Context) error {
	var rs []reading.Reading
	err := kv.GetJSON(ctx, l.kv, Key, &rs)

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case err == nil:
		l.logger.WithField("count", len(rs)).Debug("History loaded")
	case errors.Is(err, kv.ErrNotFound):
		rs = nil
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		l.logger.WithError(err).Warn("Saved history is corrupt, starting empty")
		rs = nil
	default:
		l.logger.WithError(err).Error("Failed to load history, starting empty")
		rs = nil
	}

	l.mu.Lock()
	l.readings = rs
	l.mu.Unlock()
	return nil
}

// Append adds r and persists the sequence. On a write failure r stays in
// memory and is persisted by the next successful write.
func (l *KVLog) Append(ctx context.Context, r reading.Reading) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.readings = append(l.readings, r)
	if err := kv.PutJSON(ctx, l.kv, Key, l.readings); err != nil {
		return asPersistence("append", err)
	}
	return nil
}

func (l *KVLog) All(context.Context) ([]reading.Reading, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]reading.Reading, len(l.readings))
	copy(out, l.readings)
	return out, nil
}

// Clear empties memory and removes the stored record. Readings appended
// afterwards start a new sequence.
func (l *KVLog) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.kv.Delete(ctx, Key); err != nil {
		return asPersistence("clear", err)
	}
	l.readings = nil
	return nil
}

func asPersistence(op string, err error) error {
	var perr *kv.PersistenceError
	if errors.As(err, &perr) {
		return err
	}
	return &kv.PersistenceError{Op: op, Key: Key, Err: err}
}

// ValidateBackend checks a configured backend name.
func ValidateBackend(name string) error {
	switch name {
	case BackendKV, BackendSQLite:
		return nil
	default:
		return fmt.Errorf("unknown history backend %q (expected %q or %q)", name, BackendKV, BackendSQLite)
	}
}
