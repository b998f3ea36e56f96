// Package data wraps pulse senders and receivers, which exchange keyed-map
// messages between clients that share a mask.
package data

import (
	"github.com/danmuck/fusion/internal/protocol/payload"
)

// Mask is a keyed map a receiver must carry, with equal values, for a sender
// to see it.
type Mask map[string]any

// Encode returns the wire form of m.
func (m Mask) Encode() ([]byte, error) {
	return payload.Map(m)
}

// DecodeMask parses a wire mask; malformed input yields ErrMapInvalid.
func DecodeMask(data []byte) (Mask, error) {
	m, err := payload.ReadMap(data)
	if err != nil {
		return nil, err
	}
	return Mask(m), nil
}
