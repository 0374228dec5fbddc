package framing

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linchenxuan/conduit/network/codec"
)

func reader(b []byte) *bufio.Reader {
	return bufio.NewReader(bytes.NewReader(b))
}

func TestPreambleBytes(t *testing.T) {
	p := Preamble{
		Version:     Version1,
		Mode:        ModeSingletonUnsized,
		Via:         "net.tcp://host/svc",
		ContentType: codec.ContentTypeBinarySession,
	}
	want := []byte{0x00, 0x01, 0x00, 0x01, 0x01, 0x02, 18}
	want = append(want, "net.tcp://host/svc"...)
	want = append(want, 0x03, 0x08, 0x0C)
	assert.Equal(t, want, AppendPreamble(nil, p))

	got, err := ReadPreamble(reader(want), DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestPreambleExtendingEncoding(t *testing.T) {
	p := Preamble{Version: Version1, Mode: ModeDuplex, Via: "net.tcp://h/s", ContentType: "application/json+snappy"}
	var buf bytes.Buffer
	require.NoError(t, WritePreamble(&buf, p, DefaultLimits()))
	assert.Contains(t, buf.Bytes(), byte(RecordExtendingEncoding))

	got, err := ReadPreamble(reader(buf.Bytes()), DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestPreambleFaults(t *testing.T) {
	base := Preamble{Version: Version1, Mode: ModeDuplex, Via: "net.tcp://h/s", ContentType: codec.ContentTypeBinary}
	cases := []struct {
		name  string
		bytes func() []byte
		fault string
	}{
		{"version", func() []byte {
			b := AppendPreamble(nil, base)
			b[1] = 2
			return b
		}, FaultUnsupportedVersion},
		{"mode", func() []byte {
			b := AppendPreamble(nil, base)
			b[4] = 9
			return b
		}, FaultUnsupportedMode},
		{"known encoding", func() []byte {
			b := AppendPreamble(nil, base)
			b[len(b)-2] = 0x42
			return b
		}, FaultContentTypeInvalid},
		{"upgrade", func() []byte {
			b := AppendPreamble(nil, base)
			b = b[:len(b)-1]
			b = append(b, byte(RecordUpgradeRequest), 9)
			return append(b, "ssl-tls/1"...)
		}, FaultUpgradeInvalid},
		{"order", func() []byte {
			return []byte{byte(RecordVersion), 1, 0, byte(RecordVia), 0}
		}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadPreamble(reader(tc.bytes()), DefaultLimits())
			assert.ErrorIs(t, err, ErrProtocolViolation)
			assert.Equal(t, tc.fault, FaultOf(err))
		})
	}
}

func TestPreambleLimits(t *testing.T) {
	lim := DefaultLimits()
	lim.MaxViaLength = 4
	p := Preamble{Version: Version1, Mode: ModeDuplex, Via: "net.tcp://toolong", ContentType: codec.ContentTypeBinary}
	assert.Error(t, WritePreamble(io.Discard, p, lim))

	_, err := ReadPreamble(reader(AppendPreamble(nil, p)), lim)
	assert.ErrorIs(t, err, ErrProtocolViolation)

	_, err = ReadPreamble(reader(nil), lim)
	assert.ErrorIs(t, err, io.EOF)
	_, err = ReadPreamble(reader([]byte{0x00, 0x01}), lim)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

// An initiator must see PreambleAck before sending any envelope.
func TestReadAck(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAck(&buf))
	assert.Equal(t, []byte{0x0B}, buf.Bytes())
	require.NoError(t, ReadAck(reader(buf.Bytes()), DefaultLimits()))

	buf.Reset()
	require.NoError(t, WriteFault(&buf, FaultEndpointNotFound))
	err := ReadAck(reader(buf.Bytes()), DefaultLimits())
	var fe *FaultError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, FaultEndpointNotFound, fe.Fault)
	assert.ErrorIs(t, err, ErrProtocolViolation)

	for _, first := range []byte{0x06, 0x05, 0x07, 0x0C, 0x00, 0x42} {
		err := ReadAck(reader([]byte{first, 0x00}), DefaultLimits())
		assert.ErrorIs(t, err, ErrProtocolViolation, "first byte 0x%02X", first)
	}
}

func TestReadEnd(t *testing.T) {
	require.NoError(t, ReadEnd(reader([]byte{0x07}), DefaultLimits()))
	assert.ErrorIs(t, ReadEnd(reader([]byte{0x06}), DefaultLimits()), ErrProtocolViolation)
	assert.ErrorIs(t, ReadEnd(reader(nil), DefaultLimits()), io.ErrUnexpectedEOF)
}
