package ingest

import (
	"testing"

	"github.com/srg/vibro/internal/reading"
	"github.com/stretchr/testify/assert"
)

func TestSession_Unbounded(t *testing.T) {
	s := NewSession(0)
	for i := 0; i < 1000; i++ {
		s.Append(reading.Reading{Timestamp: int64(i), Value: i})
	}
	assert.Equal(t, 1000, s.Len())
	assert.Zero(t, s.Dropped())

	latest, ok := s.Latest()
	assert.True(t, ok)
	assert.Equal(t, 999, latest.Value)
}

func TestSession_Capacity(t *testing.T) {
	s := NewSession(3)
	for i := 1; i <= 5; i++ {
		s.Append(reading.Reading{Value: i})
	}
	assert.Equal(t, []reading.Reading{{Value: 3}, {Value: 4}, {Value: 5}}, s.Snapshot())
	assert.Equal(t, 2, s.Dropped())
}

func TestSession_SnapshotIsCopy(t *testing.T) {
	s := NewSession(0)
	s.Append(reading.Reading{Value: 1})
	snap := s.Snapshot()
	snap[0].Value = 99
	assert.Equal(t, 1, s.Snapshot()[0].Value)

	_, ok := NewSession(0).Latest()
	assert.False(t, ok)
}
