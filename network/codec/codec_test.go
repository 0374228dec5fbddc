package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linchenxuan/conduit/network/message"
)

type testDict struct {
	strs  []string
	index map[string]int
	max   int
}

func newTestDict(max int) *testDict {
	return &testDict{index: map[string]int{}, max: max}
}

func (d *testDict) Lookup(s string) (int, bool) {
	i, ok := d.index[s]
	return i, ok
}

func (d *testDict) Add(s string) (int, bool) {
	if i, ok := d.index[s]; ok {
		return i, true
	}
	if len(d.strs) >= d.max {
		return 0, false
	}
	d.index[s] = len(d.strs)
	d.strs = append(d.strs, s)
	return len(d.strs) - 1, true
}

func (d *testDict) Get(i int) (string, bool) {
	if i < 0 || i >= len(d.strs) {
		return "", false
	}
	return d.strs[i], true
}

func sampleMessage() *message.Message {
	m := message.New(message.VersionDefault, "urn:echo", []byte("hello"))
	m.Headers.SetMessageID("urn:uuid:1")
	m.Headers.Add(message.Header{Name: "Tenant", Namespace: "urn:app", Value: "blue", MustUnderstand: true})
	m.Headers.Add(message.Header{Name: "Tenant", Namespace: "urn:app", Value: "green"})
	return m
}

func assertSameMessage(t *testing.T, want, got *message.Message) {
	t.Helper()
	assert.Equal(t, want.Version, got.Version)
	assert.Equal(t, want.Headers.All(), got.Headers.All())
	wb, err := want.Body()
	require.NoError(t, err)
	gb, err := got.Body()
	require.NoError(t, err)
	assert.Equal(t, wb, gb)
}

func TestEncoders(t *testing.T) {
	cases := []struct {
		name        string
		factory     Factory
		contentType string
	}{
		{"binary", NewBinaryFactory(false), ContentTypeBinary},
		{"binary session", NewBinaryFactory(true), ContentTypeBinarySession},
		{"json", JSONFactory{}, ContentTypeJSON},
		{"snappy binary", NewSnappyFactory(NewBinaryFactory(true), 0), ContentTypeBinarySession + SnappySuffix},
		{"snappy json", NewSnappyFactory(JSONFactory{}, 0), ContentTypeJSON + SnappySuffix},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.contentType, tc.factory.ContentType())
			out := newTestDict(64)
			w := tc.factory.SessionEncoder(nil, out)
			r := tc.factory.SessionEncoder(out, nil)

			msg := sampleMessage()
			var buf bytes.Buffer
			require.NoError(t, w.WriteMessage(msg, &buf))
			got, err := r.ReadMessage(&buf, 0)
			require.NoError(t, err)
			assertSameMessage(t, msg, got)
		})
	}
}

func TestBinarySessionDictionary(t *testing.T) {
	f := NewBinaryFactory(true)
	require.True(t, f.UsesDictionary())

	out := newTestDict(64)
	enc := f.SessionEncoder(nil, out)
	msg := sampleMessage()
	var buf bytes.Buffer
	require.NoError(t, enc.WriteMessage(msg, &buf))

	// Addressing names are static; only the application header slot is new.
	assert.Equal(t, []string{"Tenant", "urn:app"}, out.strs)

	t.Run("unknown session key", func(t *testing.T) {
		dec := f.SessionEncoder(newTestDict(64), nil)
		_, err := dec.ReadMessage(bytes.NewReader(buf.Bytes()), 0)
		assert.ErrorIs(t, err, ErrUnknownKey)
	})

	t.Run("replayed dictionary", func(t *testing.T) {
		in := newTestDict(64)
		for _, s := range out.strs {
			in.Add(s)
		}
		dec := f.SessionEncoder(in, nil)
		got, err := dec.ReadMessage(bytes.NewReader(buf.Bytes()), 0)
		require.NoError(t, err)
		assertSameMessage(t, msg, got)
	})
}

func TestBinaryFullDictionaryFallsBackToLiterals(t *testing.T) {
	f := NewBinaryFactory(true)
	out := newTestDict(1)
	var buf bytes.Buffer
	require.NoError(t, f.SessionEncoder(nil, out).WriteMessage(sampleMessage(), &buf))
	assert.Equal(t, []string{"Tenant"}, out.strs)

	got, err := f.SessionEncoder(out, nil).ReadMessage(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "urn:app", got.Headers.At(2).Namespace)
}

func TestHeadersTooLarge(t *testing.T) {
	for _, f := range []Factory{NewBinaryFactory(false), JSONFactory{}} {
		var buf bytes.Buffer
		require.NoError(t, f.Encoder().WriteMessage(sampleMessage(), &buf))
		_, err := f.Encoder().ReadMessage(&buf, 8)
		assert.ErrorIs(t, err, ErrHeadersTooLarge, f.ContentType())
	}
}

func TestMalformed(t *testing.T) {
	_, err := NewBinaryFactory(false).Encoder().ReadMessage(bytes.NewReader([]byte{0x0a, 0xff}), 0)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = JSONFactory{}.Encoder().ReadMessage(bytes.NewReader([]byte("{")), 0)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = NewSnappyFactory(JSONFactory{}, 0).Encoder().ReadMessage(bytes.NewReader([]byte{0xff, 0xff}), 0)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestWriteClosedMessage(t *testing.T) {
	m := sampleMessage()
	m.Close()
	var buf bytes.Buffer
	assert.ErrorIs(t, NewBinaryFactory(false).Encoder().WriteMessage(m, &buf), message.ErrClosed)
}
