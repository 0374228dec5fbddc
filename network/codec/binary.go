package codec

import (
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/linchenxuan/conduit/network/message"
	"github.com/linchenxuan/conduit/utils/pool"
)

const (
	// ContentTypeBinary is the binary encoding without a session dictionary.
	ContentTypeBinary = "application/soap+msbin1"
	// ContentTypeBinarySession is the binary encoding with a session dictionary.
	ContentTypeBinarySession = "application/soap+msbinsession1"
)

// Message fields.
const (
	_fieldEnvelope   protowire.Number = 1
	_fieldAddressing protowire.Number = 2
	_fieldHeader     protowire.Number = 3
	_fieldBody       protowire.Number = 4
)

// Header fields.
const (
	_fieldName           protowire.Number = 1
	_fieldNamespace      protowire.Number = 2
	_fieldValue          protowire.Number = 3
	_fieldMustUnderstand protowire.Number = 4
)

// BinaryFactory creates binary encoders. A string is written either as a
// literal (bytes wire type) or as a dictionary key (varint wire type): an
// even key is a static dictionary index, an odd key a session index.
type BinaryFactory struct {
	session bool
}

// NewBinaryFactory returns a binary encoder factory. With session set the
// encoders put header names and namespaces into the connection dictionary.
func NewBinaryFactory(session bool) *BinaryFactory {
	return &BinaryFactory{session: session}
}

func (f *BinaryFactory) ContentType() string {
	if f.session {
		return ContentTypeBinarySession
	}
	return ContentTypeBinary
}

func (f *BinaryFactory) MediaType() string        { return f.ContentType() }
func (f *BinaryFactory) Version() message.Version { return message.VersionDefault }
func (f *BinaryFactory) UsesDictionary() bool     { return f.session }

func (f *BinaryFactory) Encoder() Encoder {
	return &binaryEncoder{contentType: f.ContentType()}
}

func (f *BinaryFactory) SessionEncoder(in, out Dictionary) Encoder {
	if !f.session {
		return f.Encoder()
	}
	return &binaryEncoder{contentType: f.ContentType(), in: in, out: out}
}

type binaryEncoder struct {
	contentType string
	in, out     Dictionary
}

func (e *binaryEncoder) ContentType() string      { return e.contentType }
func (e *binaryEncoder) MediaType() string        { return e.contentType }
func (e *binaryEncoder) Version() message.Version { return message.VersionDefault }

func (e *binaryEncoder) WriteMessage(msg *message.Message, w io.Writer) error {
	body, err := msg.Body()
	if err != nil {
		return err
	}

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	b := buf.AvailableBuffer()
	b = protowire.AppendTag(b, _fieldEnvelope, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.Version.Envelope))
	b = protowire.AppendTag(b, _fieldAddressing, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.Version.Addressing))

	var hdr []byte
	for i := 0; i < msg.Headers.Len(); i++ {
		hdr = e.appendHeader(hdr[:0], msg.Headers.At(i))
		b = protowire.AppendTag(b, _fieldHeader, protowire.BytesType)
		b = protowire.AppendBytes(b, hdr)
	}

	b = protowire.AppendTag(b, _fieldBody, protowire.BytesType)
	b = protowire.AppendBytes(b, body)
	buf.Write(b)

	_, err = w.Write(buf.Bytes())
	return err
}

func (e *binaryEncoder) appendHeader(b []byte, h message.Header) []byte {
	b = e.appendString(b, _fieldName, h.Name, true)
	b = e.appendString(b, _fieldNamespace, h.Namespace, true)
	b = e.appendString(b, _fieldValue, h.Value, false)
	if h.MustUnderstand {
		b = protowire.AppendTag(b, _fieldMustUnderstand, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

func (e *binaryEncoder) appendString(b []byte, num protowire.Number, s string, session bool) []byte {
	if idx, ok := StaticLookup(s); ok {
		b = protowire.AppendTag(b, num, protowire.VarintType)
		return protowire.AppendVarint(b, uint64(idx)<<1)
	}
	if session && e.out != nil && s != "" {
		if idx, ok := e.out.Add(s); ok {
			b = protowire.AppendTag(b, num, protowire.VarintType)
			return protowire.AppendVarint(b, uint64(idx)<<1|1)
		}
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func (e *binaryEncoder) ReadMessage(r io.Reader, maxSizeOfHeaders int) (*message.Message, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	msg := &message.Message{Properties: message.Properties{}}
	headerBytes := 0
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == _fieldEnvelope && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: envelope version: %v", ErrMalformed, protowire.ParseError(n))
			}
			msg.Version.Envelope = message.EnvelopeVersion(v)
			data = data[n:]
		case num == _fieldAddressing && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: addressing version: %v", ErrMalformed, protowire.ParseError(n))
			}
			msg.Version.Addressing = message.AddressingVersion(v)
			data = data[n:]
		case num == _fieldHeader && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: header: %v", ErrMalformed, protowire.ParseError(n))
			}
			headerBytes += len(raw)
			if maxSizeOfHeaders > 0 && headerBytes > maxSizeOfHeaders {
				return nil, fmt.Errorf("%w: more than %d bytes", ErrHeadersTooLarge, maxSizeOfHeaders)
			}
			h, err := e.parseHeader(raw)
			if err != nil {
				return nil, err
			}
			msg.Headers.Add(h)
			data = data[n:]
		case num == _fieldBody && typ == protowire.BytesType:
			body, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: body: %v", ErrMalformed, protowire.ParseError(n))
			}
			msg.SetBody(body)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	if !msg.Version.Valid() {
		return nil, fmt.Errorf("%w: version %s", ErrMalformed, msg.Version)
	}
	return msg, nil
}

func (e *binaryEncoder) parseHeader(data []byte) (message.Header, error) {
	var h message.Header
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return h, fmt.Errorf("%w: header tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]

		if num == _fieldMustUnderstand && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return h, fmt.Errorf("%w: mustUnderstand: %v", ErrMalformed, protowire.ParseError(n))
			}
			h.MustUnderstand = v != 0
			data = data[n:]
			continue
		}

		var dst *string
		switch num {
		case _fieldName:
			dst = &h.Name
		case _fieldNamespace:
			dst = &h.Namespace
		case _fieldValue:
			dst = &h.Value
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return h, fmt.Errorf("%w: header field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		s, n, err := e.consumeString(typ, data)
		if err != nil {
			return h, err
		}
		*dst = s
		data = data[n:]
	}
	return h, nil
}

func (e *binaryEncoder) consumeString(typ protowire.Type, data []byte) (string, int, error) {
	switch typ {
	case protowire.BytesType:
		s, n := protowire.ConsumeString(data)
		if n < 0 {
			return "", 0, fmt.Errorf("%w: string: %v", ErrMalformed, protowire.ParseError(n))
		}
		return s, n, nil
	case protowire.VarintType:
		key, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return "", 0, fmt.Errorf("%w: key: %v", ErrMalformed, protowire.ParseError(n))
		}
		idx := int(key >> 1)
		if key&1 == 0 {
			if s, ok := StaticString(idx); ok {
				return s, n, nil
			}
			return "", 0, fmt.Errorf("%w: static key %d", ErrUnknownKey, key)
		}
		if e.in != nil {
			if s, ok := e.in.Get(idx); ok {
				return s, n, nil
			}
		}
		return "", 0, fmt.Errorf("%w: session key %d", ErrUnknownKey, key)
	}
	return "", 0, fmt.Errorf("%w: string wire type %d", ErrMalformed, typ)
}
