package framing

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linchenxuan/conduit/network/codec"
	"github.com/linchenxuan/conduit/network/message"
)

func TestSizedEnvelope(t *testing.T) {
	f := Framer{Limits: DefaultLimits(), Dictionary: true}
	env := Envelope{Dictionary: []string{"a", "bc"}, Payload: []byte("payload")}

	var buf bytes.Buffer
	require.NoError(t, f.WriteSized(&buf, env))
	// dict block: [5] [1]a [2]bc = 6 bytes, plus 7 payload bytes.
	want := []byte{0x06, 13, 5, 1, 'a', 2, 'b', 'c'}
	want = append(want, "payload"...)
	assert.Equal(t, want, buf.Bytes())

	got, err := f.ReadEnvelope(reader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, env, got)
}

func TestSizedEnvelopeWithoutDictionary(t *testing.T) {
	f := Framer{Limits: DefaultLimits()}
	var buf bytes.Buffer
	require.NoError(t, f.WriteSized(&buf, Envelope{Payload: []byte("xyz")}))
	assert.Equal(t, []byte{0x06, 3, 'x', 'y', 'z'}, buf.Bytes())

	got, err := f.ReadEnvelope(reader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []byte("xyz"), got.Payload)
	assert.Empty(t, got.Dictionary)
}

func TestUnsizedEnvelope(t *testing.T) {
	f := Framer{Limits: DefaultLimits(), Dictionary: true, ChunkSize: 4}
	env := Envelope{Dictionary: []string{"name"}, Payload: []byte("0123456789")}

	var buf bytes.Buffer
	require.NoError(t, f.WriteUnsized(&buf, env))
	raw := buf.Bytes()
	assert.Equal(t, byte(RecordUnsizedEnvelope), raw[0])
	assert.Equal(t, []byte{0x00, 0x07}, raw[len(raw)-2:])

	r := reader(raw)
	got, err := f.ReadEnvelope(r)
	require.NoError(t, err)
	assert.Equal(t, env, got)
	_, err = r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

// After the zero length chunk only an End record may follow.
func TestUnsizedEnvelopeRequiresEnd(t *testing.T) {
	f := Framer{Limits: DefaultLimits()}
	for next := 0; next <= 0xFF; next++ {
		raw := []byte{byte(RecordUnsizedEnvelope), 3, 'a', 'b', 'c', 0x00, byte(next)}
		env, err := f.ReadEnvelope(reader(raw))
		if next == int(RecordEnd) {
			require.NoError(t, err)
			assert.Equal(t, []byte("abc"), env.Payload)
			continue
		}
		assert.ErrorIs(t, err, ErrProtocolViolation, "byte 0x%02X", next)
	}

	_, err := f.ReadEnvelope(reader([]byte{byte(RecordUnsizedEnvelope), 1, 'a', 0x00}))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadEnvelopeRecords(t *testing.T) {
	f := Framer{Limits: DefaultLimits()}

	_, err := f.ReadEnvelope(reader([]byte{byte(RecordEnd)}))
	assert.ErrorIs(t, err, io.EOF)

	_, err = f.ReadEnvelope(reader(nil))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	var buf bytes.Buffer
	require.NoError(t, WriteFault(&buf, FaultEndpointNotFound))
	_, err = f.ReadEnvelope(reader(buf.Bytes()))
	var fe *FaultError
	assert.ErrorAs(t, err, &fe)

	_, err = f.ReadEnvelope(reader([]byte{byte(RecordVia)}))
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestEnvelopeSizeLimit(t *testing.T) {
	lim := DefaultLimits()
	lim.MaxReceivedMessageSize = 8
	f := Framer{Limits: lim}

	assert.ErrorIs(t, f.WriteSized(io.Discard, Envelope{Payload: make([]byte, 9)}), ErrMessageTooLarge)
	assert.ErrorIs(t, f.WriteUnsized(io.Discard, Envelope{Payload: make([]byte, 9)}), ErrMessageTooLarge)

	_, err := f.ReadEnvelope(reader([]byte{byte(RecordSizedEnvelope), 9}))
	assert.ErrorIs(t, err, ErrMessageTooLarge)
	assert.Equal(t, FaultMaxMessageSizeExceeded, FaultOf(err))

	_, err = f.ReadEnvelope(reader([]byte{byte(RecordUnsizedEnvelope), 5, 1, 2, 3, 4, 5, 5, 1, 2, 3, 4, 5, 0, 7}))
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestDictionaryBlockErrors(t *testing.T) {
	f := Framer{Limits: DefaultLimits(), Dictionary: true}

	_, err := f.ReadEnvelope(reader([]byte{byte(RecordSizedEnvelope), 2, 9, 'x'}))
	assert.ErrorIs(t, err, ErrProtocolViolation)

	_, err = f.ReadEnvelope(reader([]byte{byte(RecordSizedEnvelope), 3, 2, 5, 'x'}))
	assert.ErrorIs(t, err, ErrProtocolViolation)

	_, err = f.ReadEnvelope(reader([]byte{byte(RecordSizedEnvelope), 3, 2, 1, 0xFF}))
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestSessionReplay(t *testing.T) {
	s := NewSession(3)
	i, ok := s.Add("a")
	assert.True(t, ok)
	assert.Equal(t, 0, i)
	i, _ = s.Add("b")
	assert.Equal(t, 1, i)
	i, _ = s.Add("a")
	assert.Equal(t, 0, i)
	assert.Equal(t, []string{"a", "b"}, s.TakePending())
	assert.Nil(t, s.TakePending())

	s.Add("c")
	_, ok = s.Add("d")
	assert.False(t, ok)
	s.Rollback()
	assert.Equal(t, []string{"a", "b"}, s.Strings())
	_, ok = s.Lookup("c")
	assert.False(t, ok)

	peer := NewSession(3)
	require.NoError(t, peer.Replay([]string{"a", "b"}))
	assert.ErrorIs(t, peer.Replay([]string{"a"}), ErrProtocolViolation)
	assert.ErrorIs(t, NewSession(1).Replay([]string{"x", "y"}), ErrProtocolViolation)
}

// Encoding under dictionary mode and decoding on a fresh peer session gives
// identical headers and identical index assignments on both sides.
func TestSessionDictionaryRoundTrip(t *testing.T) {
	factory := codec.NewBinaryFactory(true)
	f := Framer{Limits: DefaultLimits(), Dictionary: true}

	for _, n := range []int{0, 1, 5, 40} {
		t.Run(fmt.Sprintf("%d names", n), func(t *testing.T) {
			out, in := NewSession(4096), NewSession(4096)
			writer := factory.SessionEncoder(nil, out)
			readerEnc := factory.SessionEncoder(in, nil)

			var wire bytes.Buffer
			var sent []*message.Message
			for round := 0; round < 3; round++ {
				msg := message.New(message.VersionDefault, "urn:op", []byte{byte(round)})
				for i := 0; i < n; i++ {
					name := fmt.Sprintf("h%d", i)
					msg.Headers.Add(message.Header{Name: name, Namespace: "urn:test", Value: fmt.Sprint(round)})
					msg.Headers.Add(message.Header{Name: name, Namespace: "urn:test", Value: "repeat"})
				}
				var payload bytes.Buffer
				require.NoError(t, writer.WriteMessage(msg, &payload))
				require.NoError(t, f.WriteSized(&wire, Envelope{Dictionary: out.TakePending(), Payload: payload.Bytes()}))
				sent = append(sent, msg)
			}

			r := reader(wire.Bytes())
			for _, want := range sent {
				env, err := f.ReadEnvelope(r)
				require.NoError(t, err)
				require.NoError(t, in.Replay(env.Dictionary))
				got, err := readerEnc.ReadMessage(bytes.NewReader(env.Payload), 0)
				require.NoError(t, err)
				assert.Equal(t, want.Headers.All(), got.Headers.All())
			}
			assert.Equal(t, out.Strings(), in.Strings())
			if n > 0 {
				assert.Equal(t, n+1, in.Len())
			}
		})
	}
}
