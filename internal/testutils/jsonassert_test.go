//go:build test

package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSONAsserter(t *testing.T) {
	t.Run("presence placeholder matches any value", func(t *testing.T) {
		rt := &recordingT{}
		NewJSONAsserter(rt).Assert(`{"id":"0190","value":5}`, `{"id":"<<PRESENCE>>","value":5}`)
		assert.Empty(t, rt.messages)
	})

	t.Run("root arrays are compared", func(t *testing.T) {
		rt := &recordingT{}
		NewJSONAsserter(rt).Assert(`[{"value":1},{"value":2}]`, `[{"value":1},{"value":3}]`)
		assert.Len(t, rt.messages, 1)
	})

	t.Run("ignored fields", func(t *testing.T) {
		rt := &recordingT{}
		NewJSONAsserter(rt).WithOptions(WithIgnoredFields("timestamp")).
			Assert(`[{"timestamp":1,"value":1}]`, `[{"timestamp":2,"value":1}]`)
		assert.Empty(t, rt.messages)
	})
}
