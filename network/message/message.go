package message

import (
	"errors"
	"maps"
	"slices"
)

// ErrClosed is returned when the body of a closed message is read.
var ErrClosed = errors.New("message: message is closed")

// Properties is the local property bag of a message. It is never written
// to the wire.
type Properties map[string]any

// Message is an envelope-style message. A Message is owned by one goroutine
// at a time.
type Message struct {
	Version    Version
	Headers    Headers
	Properties Properties

	body   []byte
	closed bool
}

// New creates a message with the given action and body.
func New(version Version, action string, body []byte) *Message {
	m := &Message{Version: version, Properties: Properties{}, body: body}
	if action != "" {
		m.Headers.SetAction(action)
	}
	return m
}

// Body returns the payload. It fails once the message is closed.
func (m *Message) Body() ([]byte, error) {
	if m.closed {
		return nil, ErrClosed
	}
	return m.body, nil
}

// SetBody replaces the payload.
func (m *Message) SetBody(b []byte) { m.body = b }

// Close releases the payload.
func (m *Message) Close() {
	m.closed = true
	m.body = nil
}

// IsClosed reports whether Close was called.
func (m *Message) IsClosed() bool { return m.closed }

// Clone returns a deep copy that can be sent independently.
func (m *Message) Clone() *Message {
	c := &Message{
		Version:    m.Version,
		Headers:    Headers{items: slices.Clone(m.Headers.items)},
		Properties: maps.Clone(m.Properties),
		body:       slices.Clone(m.body),
		closed:     m.closed,
	}
	if c.Properties == nil {
		c.Properties = Properties{}
	}
	return c
}
