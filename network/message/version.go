// Package message defines the envelope-style Message carried by every
// channel: ordered headers, a body payload, a property bag and a version tag.
package message

// EnvelopeVersion identifies the envelope format of a message.
type EnvelopeVersion uint8

const (
	EnvelopeNone EnvelopeVersion = iota
	Soap11
	Soap12
)

func (v EnvelopeVersion) String() string {
	switch v {
	case EnvelopeNone:
		return "EnvelopeNone"
	case Soap11:
		return "Soap11"
	case Soap12:
		return "Soap12"
	}
	return "EnvelopeUnknown"
}

// AddressingVersion identifies the addressing header scheme of a message.
type AddressingVersion uint8

const (
	AddressingNone AddressingVersion = iota
	WSAddressingAugust2004
	WSAddressing10
)

func (v AddressingVersion) String() string {
	switch v {
	case AddressingNone:
		return "AddressingNone"
	case WSAddressingAugust2004:
		return "WSAddressingAugust2004"
	case WSAddressing10:
		return "WSAddressing10"
	}
	return "AddressingUnknown"
}

// Version is the envelope x addressing version pair of a message.
type Version struct {
	Envelope   EnvelopeVersion
	Addressing AddressingVersion
}

var (
	// VersionDefault is Soap12 with WS-Addressing 1.0.
	VersionDefault = Version{Envelope: Soap12, Addressing: WSAddressing10}
	// VersionNone carries neither an envelope nor addressing headers.
	VersionNone = Version{Envelope: EnvelopeNone, Addressing: AddressingNone}
)

func (v Version) String() string {
	return v.Envelope.String() + "/" + v.Addressing.String()
}

// Valid reports whether both components are known.
func (v Version) Valid() bool {
	return v.Envelope <= Soap12 && v.Addressing <= WSAddressing10
}
