// Package framing implements the binary frame protocol spoken over byte
// stream connections: preamble negotiation, sized and unsized envelopes and
// the per-connection string dictionary.
package framing

import (
	"fmt"

	"github.com/linchenxuan/conduit/network/codec"
)

// RecordType is the first byte of every record.
type RecordType byte

const (
	RecordVersion           RecordType = 0x00
	RecordMode              RecordType = 0x01
	RecordVia               RecordType = 0x02
	RecordKnownEncoding     RecordType = 0x03
	RecordExtendingEncoding RecordType = 0x04
	RecordUnsizedEnvelope   RecordType = 0x05
	RecordSizedEnvelope     RecordType = 0x06
	RecordEnd               RecordType = 0x07
	RecordFault             RecordType = 0x08
	RecordUpgradeRequest    RecordType = 0x09
	RecordUpgradeResponse   RecordType = 0x0A
	RecordPreambleAck       RecordType = 0x0B
	RecordPreambleEnd       RecordType = 0x0C
)

var _recordNames = [...]string{
	"Version", "Mode", "Via", "KnownEncoding", "ExtendingEncoding",
	"UnsizedEnvelope", "SizedEnvelope", "End", "Fault", "UpgradeRequest",
	"UpgradeResponse", "PreambleAck", "PreambleEnd",
}

func (r RecordType) String() string {
	if int(r) < len(_recordNames) {
		return _recordNames[r]
	}
	return fmt.Sprintf("Record(0x%02X)", byte(r))
}

// Mode selects how messages are transferred after the preamble.
type Mode byte

const (
	ModeSingletonUnsized Mode = 1
	ModeDuplex           Mode = 2
	ModeSimplex          Mode = 3
	ModeSingletonSized   Mode = 4
)

func (m Mode) String() string {
	switch m {
	case ModeSingletonUnsized:
		return "SingletonUnsized"
	case ModeDuplex:
		return "Duplex"
	case ModeSimplex:
		return "Simplex"
	case ModeSingletonSized:
		return "SingletonSized"
	}
	return fmt.Sprintf("Mode(%d)", byte(m))
}

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	return m >= ModeSingletonUnsized && m <= ModeSingletonSized
}

// Sized reports whether messages use sized envelopes in this mode.
func (m Mode) Sized() bool {
	return m != ModeSingletonUnsized
}

// Singleton reports whether one message flows per direction.
func (m Mode) Singleton() bool {
	return m == ModeSingletonUnsized || m == ModeSingletonSized
}

// Version is the framing protocol version.
type Version struct {
	Major, Minor byte
}

// Version1 is the only supported version.
var Version1 = Version{Major: 1, Minor: 0}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// KnownEncoding is a content type with a one byte wire code.
type KnownEncoding byte

const (
	EncodingSoap11UTF8    KnownEncoding = 0x00
	EncodingSoap11UTF16   KnownEncoding = 0x01
	EncodingSoap11UTF16LE KnownEncoding = 0x02
	EncodingSoap12UTF8    KnownEncoding = 0x03
	EncodingSoap12UTF16   KnownEncoding = 0x04
	EncodingSoap12UTF16LE KnownEncoding = 0x05
	EncodingMTOM          KnownEncoding = 0x06
	EncodingBinary        KnownEncoding = 0x07
	EncodingBinarySession KnownEncoding = 0x08
)

var _knownContentTypes = map[KnownEncoding]string{
	EncodingSoap11UTF8:    "text/xml; charset=utf-8",
	EncodingSoap11UTF16:   "text/xml; charset=utf-16",
	EncodingSoap11UTF16LE: "text/xml; charset=unicodeFFFE",
	EncodingSoap12UTF8:    "application/soap+xml; charset=utf-8",
	EncodingSoap12UTF16:   "application/soap+xml; charset=utf-16",
	EncodingSoap12UTF16LE: "application/soap+xml; charset=unicodeFFFE",
	EncodingMTOM:          "multipart/related",
	EncodingBinary:        codec.ContentTypeBinary,
	EncodingBinarySession: codec.ContentTypeBinarySession,
}

var _knownEncodings = func() map[string]KnownEncoding {
	m := make(map[string]KnownEncoding, len(_knownContentTypes))
	for enc, ct := range _knownContentTypes {
		m[ct] = enc
	}
	return m
}()

// ContentType returns the content type carried by a known encoding.
func (e KnownEncoding) ContentType() (string, bool) {
	ct, ok := _knownContentTypes[e]
	return ct, ok
}

// EncodingFor returns the known encoding of contentType, if it has one.
func EncodingFor(contentType string) (KnownEncoding, bool) {
	e, ok := _knownEncodings[contentType]
	return e, ok
}
