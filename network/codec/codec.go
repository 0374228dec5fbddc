// Package codec converts messages to and from bytes. An Encoder is obtained
// from a Factory, once per connection when the factory uses a session
// dictionary.
package codec

import (
	"errors"
	"io"

	"github.com/linchenxuan/conduit/network/message"
)

var (
	// ErrMalformed is returned when encoded bytes cannot be decoded.
	ErrMalformed = errors.New("codec: malformed message")
	// ErrUnknownKey is returned when a dictionary key has no string yet.
	ErrUnknownKey = errors.New("codec: unknown dictionary key")
	// ErrHeadersTooLarge is returned when the headers of a message exceed the
	// configured limit.
	ErrHeadersTooLarge = errors.New("codec: headers too large")
)

// Encoder reads and writes messages in one content type.
type Encoder interface {
	ContentType() string
	MediaType() string
	Version() message.Version
	// ReadMessage decodes one message from r. Headers larger than
	// maxSizeOfHeaders bytes fail with ErrHeadersTooLarge; a non-positive
	// limit disables the check.
	ReadMessage(r io.Reader, maxSizeOfHeaders int) (*message.Message, error)
	// WriteMessage encodes msg to w.
	WriteMessage(msg *message.Message, w io.Writer) error
}

// Dictionary maps strings to small integers. The writing side adds strings,
// the reading side looks indexes up after replaying the strings it was sent.
type Dictionary interface {
	// Lookup returns the index of s if it was added before.
	Lookup(s string) (int, bool)
	// Add returns the index of s, appending it when new. It reports false
	// when the dictionary is full and s is not in it.
	Add(s string) (int, bool)
	// Get returns the string at index idx.
	Get(idx int) (string, bool)
}

// Factory creates encoders. Transports negotiate on ContentType.
type Factory interface {
	ContentType() string
	MediaType() string
	Version() message.Version
	// UsesDictionary reports whether encoders reference a per-connection
	// dictionary that the framing layer must keep synchronized.
	UsesDictionary() bool
	// Encoder returns an encoder that does not use a session dictionary.
	Encoder() Encoder
	// SessionEncoder returns an encoder reading with in and writing with out.
	SessionEncoder(in, out Dictionary) Encoder
}
