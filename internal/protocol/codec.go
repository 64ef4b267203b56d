// Package protocol defines the line-oriented JSON message format shared by
// both handshake and secure phases, its validation predicates, and the
// typed error codes reported to clients.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxFrameBytes bounds a single JSON line; larger input is rejected before
// parsing to keep hostile payloads cheap.
const MaxFrameBytes = 10000

var (
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
	ErrMalformed     = errors.New("malformed message")
)

// Message is a flat field map, the only structure the protocol carries.
type Message map[string]string

// Parse decodes one JSON line into a field map, enforcing the frame size
// guard first.
func Parse(line string) (Message, error) {
	if len(line) > MaxFrameBytes {
		return nil, fmt.Errorf("frame is %d bytes (limit %d): %w", len(line), MaxFrameBytes, ErrFrameTooLarge)
	}
	var msg Message
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: null message", ErrMalformed)
	}
	return msg, nil
}

// Serialize encodes a field map as a single JSON line.
func Serialize(msg Message) (string, error) {
	out, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("serialize message: %w", err)
	}
	return string(out), nil
}

// Has reports whether every named field is present and non-empty.
func (m Message) Has(fields ...string) bool {
	for _, f := range fields {
		if m[f] == "" {
			return false
		}
	}
	return true
}
