package framing

import (
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Reader is what the record readers need from a connection.
type Reader interface {
	io.Reader
	io.ByteReader
}

// Preamble is the handshake sent by the initiator of a connection.
type Preamble struct {
	Version     Version
	Mode        Mode
	Via         string
	ContentType string
}

// AppendPreamble appends the preamble records, ending with PreambleEnd.
// Content types with a known encoding use a KnownEncoding record, every
// other content type an ExtendingEncoding record.
func AppendPreamble(b []byte, p Preamble) []byte {
	b = append(b, byte(RecordVersion), p.Version.Major, p.Version.Minor)
	b = append(b, byte(RecordMode), byte(p.Mode))
	b = appendString(append(b, byte(RecordVia)), p.Via)
	if enc, ok := EncodingFor(p.ContentType); ok {
		b = append(b, byte(RecordKnownEncoding), byte(enc))
	} else {
		b = appendString(append(b, byte(RecordExtendingEncoding)), p.ContentType)
	}
	return append(b, byte(RecordPreambleEnd))
}

// WritePreamble writes p in one write after checking it against lim.
func WritePreamble(w io.Writer, p Preamble, lim Limits) error {
	if !p.Mode.Valid() {
		return fmt.Errorf("framing: invalid mode %s", p.Mode)
	}
	if len(p.Via) > lim.MaxViaLength {
		return fmt.Errorf("framing: via longer than %d bytes", lim.MaxViaLength)
	}
	if _, ok := EncodingFor(p.ContentType); !ok && len(p.ContentType) > lim.MaxContentTypeLength {
		return fmt.Errorf("framing: content type longer than %d bytes", lim.MaxContentTypeLength)
	}
	_, err := w.Write(AppendPreamble(nil, p))
	return err
}

// ReadPreamble reads records up to PreambleEnd and checks the version and
// mode. Errors carrying a fault string should be answered with WriteFault.
// A connection closed before the first byte returns io.EOF.
func ReadPreamble(r Reader, lim Limits) (Preamble, error) {
	var p Preamble

	if err := expectRecord(r, RecordVersion, true); err != nil {
		return p, err
	}
	major, err := readByte(r)
	if err != nil {
		return p, err
	}
	minor, err := readByte(r)
	if err != nil {
		return p, err
	}
	p.Version = Version{Major: major, Minor: minor}
	if p.Version != Version1 {
		return p, Violation(FaultUnsupportedVersion, "version %s", p.Version)
	}

	if err := expectRecord(r, RecordMode, false); err != nil {
		return p, err
	}
	mode, err := readByte(r)
	if err != nil {
		return p, err
	}
	p.Mode = Mode(mode)
	if !p.Mode.Valid() {
		return p, Violation(FaultUnsupportedMode, "mode %d", mode)
	}

	if err := expectRecord(r, RecordVia, false); err != nil {
		return p, err
	}
	if p.Via, err = readString(r, lim.MaxViaLength, "via"); err != nil {
		return p, err
	}

	rec, err := readRecord(r, false)
	if err != nil {
		return p, err
	}
	switch rec {
	case RecordKnownEncoding:
		b, err := readByte(r)
		if err != nil {
			return p, err
		}
		ct, ok := KnownEncoding(b).ContentType()
		if !ok {
			return p, Violation(FaultContentTypeInvalid, "known encoding 0x%02X", b)
		}
		p.ContentType = ct
	case RecordExtendingEncoding:
		if p.ContentType, err = readString(r, lim.MaxContentTypeLength, "content type"); err != nil {
			return p, err
		}
	default:
		return p, Violation("", "expected encoding record, got %s", rec)
	}

	rec, err = readRecord(r, false)
	if err != nil {
		return p, err
	}
	switch rec {
	case RecordPreambleEnd:
		return p, nil
	case RecordUpgradeRequest:
		ct, err := readString(r, lim.MaxContentTypeLength, "upgrade")
		if err != nil {
			return p, err
		}
		return p, Violation(FaultUpgradeInvalid, "upgrade to %q is not configured", ct)
	}
	return p, Violation("", "expected PreambleEnd, got %s", rec)
}

// WriteAck accepts the peer's preamble.
func WriteAck(w io.Writer) error {
	_, err := w.Write([]byte{byte(RecordPreambleAck)})
	return err
}

// ReadAck reads the answer to a preamble. A Fault record yields a
// *FaultError; any other record is a protocol violation.
func ReadAck(r Reader, lim Limits) error {
	rec, err := readRecord(r, false)
	if err != nil {
		return err
	}
	switch rec {
	case RecordPreambleAck:
		return nil
	case RecordFault:
		return readFault(r, lim)
	}
	return Violation("", "expected PreambleAck, got %s", rec)
}

// WriteFault writes a Fault record.
func WriteFault(w io.Writer, fault string) error {
	_, err := w.Write(appendString([]byte{byte(RecordFault)}, fault))
	return err
}

// WriteEnd writes an End record.
func WriteEnd(w io.Writer) error {
	_, err := w.Write([]byte{byte(RecordEnd)})
	return err
}

// ReadEnd expects an End record.
func ReadEnd(r Reader, lim Limits) error {
	rec, err := readRecord(r, false)
	if err != nil {
		return err
	}
	switch rec {
	case RecordEnd:
		return nil
	case RecordFault:
		return readFault(r, lim)
	}
	return Violation("", "expected End, got %s", rec)
}

func readFault(r Reader, lim Limits) error {
	fault, err := readString(r, lim.MaxFaultLength, "fault")
	if err != nil {
		return err
	}
	return &FaultError{Fault: fault}
}

func appendString(b []byte, s string) []byte {
	return append(AppendVarint(b, len(s)), s...)
}

func readString(r Reader, max int, what string) (string, error) {
	n, err := ReadVarint(r)
	if err != nil {
		return "", unexpected(err)
	}
	if n > max {
		return "", Violation("", "%s longer than %d bytes", what, max)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", unexpected(err)
	}
	if !utf8.Valid(buf) {
		return "", Violation("", "%s is not valid UTF-8", what)
	}
	return string(buf), nil
}

// readRecord reads a record type byte. At a record boundary a closed stream
// is io.EOF only when first is set.
func readRecord(r io.ByteReader, first bool) (RecordType, error) {
	b, err := r.ReadByte()
	if err != nil {
		if !first {
			return 0, unexpected(err)
		}
		return 0, err
	}
	if b > byte(RecordPreambleEnd) {
		return 0, Violation("", "unknown record 0x%02X", b)
	}
	return RecordType(b), nil
}

func expectRecord(r io.ByteReader, want RecordType, first bool) error {
	rec, err := readRecord(r, first)
	if err != nil {
		return err
	}
	if rec != want {
		return Violation("", "expected %s, got %s", want, rec)
	}
	return nil
}

func readByte(r io.ByteReader) (byte, error) {
	b, err := r.ReadByte()
	return b, unexpected(err)
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
