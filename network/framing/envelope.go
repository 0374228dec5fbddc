package framing

import (
	"io"
	"unicode/utf8"
)

// DefaultChunkSize is the largest chunk written in an unsized envelope.
const DefaultChunkSize = 16 << 10

// Envelope is one message on the wire: the dictionary strings first used
// by the message and the encoded message bytes.
type Envelope struct {
	Dictionary []string
	Payload    []byte
}

// Framer reads and writes envelopes for one negotiated encoding.
type Framer struct {
	Limits Limits
	// Dictionary is set when the encoding uses a session dictionary; every
	// envelope then carries an inline dictionary block.
	Dictionary bool
	ChunkSize  int
}

// prefix returns the dictionary block written before the payload and the
// total envelope length.
func (f Framer) prefix(env Envelope) ([]byte, int) {
	if !f.Dictionary {
		return nil, len(env.Payload)
	}
	var block []byte
	for _, s := range env.Dictionary {
		block = appendString(block, s)
	}
	pre := append(AppendVarint(nil, len(block)), block...)
	return pre, len(pre) + len(env.Payload)
}

// WriteSized writes [SizedEnvelope][varint total][dictionary block][payload].
// A message larger than the size limit fails with ErrMessageTooLarge before
// anything is written.
func (f Framer) WriteSized(w io.Writer, env Envelope) error {
	pre, total := f.prefix(env)
	if total > f.Limits.MaxReceivedMessageSize {
		return ErrMessageTooLarge
	}
	head := AppendVarint([]byte{byte(RecordSizedEnvelope)}, total)
	if _, err := w.Write(append(head, pre...)); err != nil {
		return err
	}
	_, err := w.Write(env.Payload)
	return err
}

// WriteUnsized writes [UnsizedEnvelope], the dictionary block and payload as
// chunks, a zero length chunk and the End record.
func (f Framer) WriteUnsized(w io.Writer, env Envelope) error {
	pre, total := f.prefix(env)
	if total > f.Limits.MaxReceivedMessageSize {
		return ErrMessageTooLarge
	}
	chunk := f.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	if _, err := w.Write([]byte{byte(RecordUnsizedEnvelope)}); err != nil {
		return err
	}
	for _, part := range [][]byte{pre, env.Payload} {
		for len(part) > 0 {
			n := min(len(part), chunk)
			if err := WriteVarint(w, n); err != nil {
				return err
			}
			if _, err := w.Write(part[:n]); err != nil {
				return err
			}
			part = part[n:]
		}
	}
	_, err := w.Write([]byte{0x00, byte(RecordEnd)})
	return err
}

// ReadEnvelope reads the next envelope record. An End record returns
// io.EOF; a stream that ends between records returns io.ErrUnexpectedEOF.
func (f Framer) ReadEnvelope(r Reader) (Envelope, error) {
	b, err := r.ReadByte()
	if err != nil {
		return Envelope{}, unexpected(err)
	}
	switch RecordType(b) {
	case RecordSizedEnvelope:
		return f.ReadSizedBody(r)
	case RecordUnsizedEnvelope:
		return f.ReadUnsizedBody(r)
	case RecordEnd:
		return Envelope{}, io.EOF
	case RecordFault:
		return Envelope{}, readFault(r, f.Limits)
	}
	return Envelope{}, Violation("", "expected envelope, got %s", RecordType(b))
}

// ReadSizedBody reads a sized envelope after its record byte.
func (f Framer) ReadSizedBody(r Reader) (Envelope, error) {
	total, err := ReadVarint(r)
	if err != nil {
		return Envelope{}, unexpected(err)
	}
	if total > f.Limits.MaxReceivedMessageSize {
		return Envelope{}, f.tooLarge()
	}
	data := make([]byte, total)
	if _, err := io.ReadFull(r, data); err != nil {
		return Envelope{}, unexpected(err)
	}
	return f.split(data)
}

// ReadUnsizedBody reads chunks after the record byte up to the zero length
// chunk. The byte after it must be an End record.
func (f Framer) ReadUnsizedBody(r Reader) (Envelope, error) {
	var data []byte
	for {
		n, err := ReadVarint(r)
		if err != nil {
			return Envelope{}, unexpected(err)
		}
		if n == 0 {
			break
		}
		if len(data)+n > f.Limits.MaxReceivedMessageSize {
			return Envelope{}, f.tooLarge()
		}
		data = append(data, make([]byte, n)...)
		if _, err := io.ReadFull(r, data[len(data)-n:]); err != nil {
			return Envelope{}, unexpected(err)
		}
	}

	b, err := r.ReadByte()
	if err != nil {
		return Envelope{}, unexpected(err)
	}
	if RecordType(b) != RecordEnd {
		return Envelope{}, Violation("", "expected End after last chunk, got %s", RecordType(b))
	}
	return f.split(data)
}

func (f Framer) tooLarge() error {
	return WrapViolation(FaultMaxMessageSizeExceeded, "envelope", ErrMessageTooLarge)
}

// split separates the dictionary block from the payload.
func (f Framer) split(data []byte) (Envelope, error) {
	if !f.Dictionary {
		return Envelope{Payload: data}, nil
	}
	size, n, err := ConsumeVarint(data)
	if err != nil {
		return Envelope{}, err
	}
	data = data[n:]
	if size > len(data) {
		return Envelope{}, Violation("", "dictionary block of %d bytes exceeds envelope", size)
	}
	block, payload := data[:size], data[size:]

	var strs []string
	for len(block) > 0 {
		l, n, err := ConsumeVarint(block)
		if err != nil {
			return Envelope{}, err
		}
		block = block[n:]
		if l > len(block) {
			return Envelope{}, Violation("", "dictionary string of %d bytes exceeds block", l)
		}
		if !utf8.Valid(block[:l]) {
			return Envelope{}, Violation("", "dictionary string is not valid UTF-8")
		}
		if len(strs) >= f.Limits.MaxDictionaryStrings {
			return Envelope{}, Violation("", "more than %d dictionary strings", f.Limits.MaxDictionaryStrings)
		}
		strs = append(strs, string(block[:l]))
		block = block[l:]
	}
	return Envelope{Dictionary: strs, Payload: payload}, nil
}
