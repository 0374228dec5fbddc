package framing

import (
	"errors"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// MaxVarintLen is the longest accepted encoding.
	MaxVarintLen = 5
	// MaxVarint is the largest value a length field may carry.
	MaxVarint = 1<<31 - 1
)

// AppendVarint appends v in 7 bit groups, least significant first, with the
// top bit of each byte flagging a following group. v must be in [0, MaxVarint].
func AppendVarint(b []byte, v int) []byte {
	return protowire.AppendVarint(b, uint64(uint32(v)))
}

// SizeVarint returns the encoded length of v.
func SizeVarint(v int) int {
	return protowire.SizeVarint(uint64(uint32(v)))
}

// WriteVarint writes v to w.
func WriteVarint(w io.Writer, v int) error {
	if v < 0 || v > MaxVarint {
		return Violation("", "varint %d out of range", v)
	}
	var buf [MaxVarintLen]byte
	_, err := w.Write(AppendVarint(buf[:0], v))
	return err
}

// ReadVarint reads one varint. An encoding longer than five groups or one
// exceeding MaxVarint is a protocol violation. A stream ending before the
// first byte returns io.EOF.
func ReadVarint(r io.ByteReader) (int, error) {
	var v uint32
	for i := 0; i < MaxVarintLen; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if i > 0 && errors.Is(err, io.EOF) {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		if i == MaxVarintLen-1 && b > 0x07 {
			return 0, Violation("", "varint exceeds 31 bits")
		}
		v |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return int(v), nil
		}
	}
	return 0, Violation("", "varint longer than %d bytes", MaxVarintLen)
}

// ConsumeVarint decodes a varint from the front of b and returns the value
// and the number of bytes read.
func ConsumeVarint(b []byte) (int, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, WrapViolation("", "varint", protowire.ParseError(n))
	}
	if n > MaxVarintLen || v > MaxVarint {
		return 0, 0, Violation("", "varint exceeds 31 bits")
	}
	return int(v), n, nil
}
