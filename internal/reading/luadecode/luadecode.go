// Package luadecode decodes sensor payloads with a user-supplied Lua script.
package luadecode

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
	"github.com/srg/vibro/internal/reading"
)

// DecodeFunc is the global function a decoder script must define:
//
//	function decode(payload) return tonumber(payload) end
//
// It receives the raw payload as a string and returns a number, or nil to reject it.
const DecodeFunc = "decode"

// Decoder runs a user script to decode payloads of sensors with custom firmware.
type Decoder struct {
	mu     sync.Mutex
	state  *lua.State
	logger *logrus.Logger
}

var _ reading.Decoder = (*Decoder)(nil)

// New loads script and checks that it defines decode.
func New(script string, logger *logrus.Logger) (*Decoder, error) {
	if logger == nil {
		logger = logrus.New()
	}

	L := lua.NewState()
	L.OpenLibs()
	if err := L.DoString(script); err != nil {
		L.Close()
		return nil, fmt.Errorf("load decoder script: %w", err)
	}

	L.GetGlobal(DecodeFunc)
	ok := L.IsFunction(-1)
	L.Pop(1)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("decoder script does not define function %q", DecodeFunc)
	}

	logger.Debug("Lua decoder loaded")
	return &Decoder{state: L, logger: logger}, nil
}

func (d *Decoder) Decode(payload []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == nil {
		return 0, &reading.DecodeError{Payload: payload, Err: errors.New("lua decoder closed")}
	}

	L := d.state
	top := L.GetTop()
	defer L.SetTop(top)

	L.GetGlobal(DecodeFunc)
	L.PushString(string(payload))
	if err := L.Call(1, 1); err != nil {
		d.logger.WithError(err).Debug("Lua decode failed")
		return 0, &reading.DecodeError{Payload: payload, Err: err}
	}
	if !L.IsNumber(-1) {
		return 0, &reading.DecodeError{Payload: payload, Err: reading.ErrNotInteger}
	}
	return int(L.ToInteger(-1)), nil
}

// Close releases the Lua state.
func (d *Decoder) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != nil {
		d.state.Close()
		d.state = nil
	}
}
