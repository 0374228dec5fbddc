package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"

	"github.com/linchenxuan/conduit/network/message"
	"github.com/linchenxuan/conduit/utils/pool"
)

// SnappySuffix is appended to the content type of a compressed encoding.
const SnappySuffix = "+snappy"

// DefaultMaxDecodedSize bounds the size of a decompressed message.
const DefaultMaxDecodedSize = 4 << 20

// SnappyFactory compresses the output of another factory. Dictionary
// bookkeeping stays with the inner encoders.
type SnappyFactory struct {
	inner          Factory
	maxDecodedSize int
}

// NewSnappyFactory wraps inner. A non-positive maxDecodedSize takes
// DefaultMaxDecodedSize.
func NewSnappyFactory(inner Factory, maxDecodedSize int) *SnappyFactory {
	if maxDecodedSize <= 0 {
		maxDecodedSize = DefaultMaxDecodedSize
	}
	return &SnappyFactory{inner: inner, maxDecodedSize: maxDecodedSize}
}

// Inner returns the wrapped factory.
func (f *SnappyFactory) Inner() Factory { return f.inner }

func (f *SnappyFactory) ContentType() string      { return f.inner.ContentType() + SnappySuffix }
func (f *SnappyFactory) MediaType() string        { return f.inner.MediaType() + SnappySuffix }
func (f *SnappyFactory) Version() message.Version { return f.inner.Version() }
func (f *SnappyFactory) UsesDictionary() bool     { return f.inner.UsesDictionary() }

func (f *SnappyFactory) Encoder() Encoder {
	return &snappyEncoder{inner: f.inner.Encoder(), contentType: f.ContentType(), max: f.maxDecodedSize}
}

func (f *SnappyFactory) SessionEncoder(in, out Dictionary) Encoder {
	return &snappyEncoder{inner: f.inner.SessionEncoder(in, out), contentType: f.ContentType(), max: f.maxDecodedSize}
}

type snappyEncoder struct {
	inner       Encoder
	contentType string
	max         int
}

func (e *snappyEncoder) ContentType() string      { return e.contentType }
func (e *snappyEncoder) MediaType() string        { return e.contentType }
func (e *snappyEncoder) Version() message.Version { return e.inner.Version() }

func (e *snappyEncoder) WriteMessage(msg *message.Message, w io.Writer) error {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	if err := e.inner.WriteMessage(msg, buf); err != nil {
		return err
	}
	_, err := w.Write(snappy.Encode(nil, buf.Bytes()))
	return err
}

func (e *snappyEncoder) ReadMessage(r io.Reader, maxSizeOfHeaders int) (*message.Message, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	n, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, fmt.Errorf("%w: snappy: %v", ErrMalformed, err)
	}
	if n > e.max {
		return nil, fmt.Errorf("%w: snappy: decoded size %d exceeds %d", ErrMalformed, n, e.max)
	}
	plain, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("%w: snappy: %v", ErrMalformed, err)
	}
	return e.inner.ReadMessage(bytes.NewReader(plain), maxSizeOfHeaders)
}
