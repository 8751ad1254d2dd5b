// Package reading holds the sensor sample type and the payload decoders.
package reading

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/srg/vibro/internal/device"
)

// Reading is one timestamped vibration sample. Timestamp is epoch milliseconds.
type Reading struct {
	Timestamp int64 `json:"timestamp"`
	Value     int   `json:"value"`
}

// New stamps value with the wall-clock time t.
func New(t time.Time, value int) Reading {
	return Reading{Timestamp: t.UnixMilli(), Value: value}
}

// Time returns the timestamp as a time.Time in the local zone.
func (r Reading) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// DecodeError reports a payload that does not carry an integer.
type DecodeError struct {
	Payload []byte
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode payload %q: %v", truncate(e.Payload, 32), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var ErrNotInteger = errors.New("not an integer")

// Decoder turns a raw transport payload into a sensor value.
type Decoder interface {
	Decode(payload []byte) (int, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(payload []byte) (int, error)

func (f DecoderFunc) Decode(payload []byte) (int, error) { return f(payload) }

// TextDecoder parses decimal UTF-8 digits.
type TextDecoder struct{}

func (TextDecoder) Decode(payload []byte) (int, error) {
	v, err := ParseLeadingInt(string(payload))
	if err != nil {
		return 0, &DecodeError{Payload: payload, Err: err}
	}
	return v, nil
}

// Base64Decoder parses base64-wrapped decimal digits, the default LE characteristic encoding.
type Base64Decoder struct{}

func (Base64Decoder) Decode(payload []byte) (int, error) {
	s := strings.TrimSpace(string(payload))
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(s)
	}
	if err != nil {
		return 0, &DecodeError{Payload: payload, Err: fmt.Errorf("invalid base64: %w", err)}
	}
	v, err := ParseLeadingInt(string(raw))
	if err != nil {
		return 0, &DecodeError{Payload: payload, Err: err}
	}
	return v, nil
}

// DecoderFor returns the built-in decoder for enc.
func DecoderFor(enc device.Encoding) (Decoder, error) {
	switch enc {
	case device.EncodingText:
		return TextDecoder{}, nil
	case device.EncodingBase64:
		return Base64Decoder{}, nil
	default:
		return nil, fmt.Errorf("%w: encoding %q", device.ErrUnsupported, enc)
	}
}

// ParseLeadingInt parses an optionally signed run of decimal digits after leading
// whitespace and ignores whatever follows it ("42\r\n" and "42mm/s" both yield 42).
// At least one digit is required.
func ParseLeadingInt(s string) (int, error) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)

	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}

	var (
		n      int64
		digits int
	)
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		n = n*10 + int64(s[digits]-'0')
		if n > math.MaxInt32 {
			return 0, fmt.Errorf("%w: value out of range", ErrNotInteger)
		}
		digits++
	}
	if digits == 0 {
		return 0, ErrNotInteger
	}
	if neg {
		n = -n
	}
	return int(n), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
