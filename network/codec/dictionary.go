package codec

import "github.com/linchenxuan/conduit/network/message"

// _static is shared by every binary encoder. Its order is part of the wire
// format.
var _static = []string{
	message.AddressingNamespace,
	message.HeaderAction,
	message.HeaderTo,
	message.HeaderMessageID,
	message.HeaderRelatesTo,
	message.HeaderReplyTo,
	"http://www.w3.org/2005/08/addressing/anonymous",
	"http://www.w3.org/2003/05/soap-envelope",
	"http://schemas.xmlsoap.org/soap/envelope/",
	"http://schemas.xmlsoap.org/ws/2004/08/addressing",
	"Envelope",
	"Header",
	"Body",
	"Fault",
	"mustUnderstand",
}

var _staticIndex = func() map[string]int {
	m := make(map[string]int, len(_static))
	for i, s := range _static {
		m[s] = i
	}
	return m
}()

// StaticLookup returns the index of s in the static dictionary.
func StaticLookup(s string) (int, bool) {
	i, ok := _staticIndex[s]
	return i, ok
}

// StaticString returns the static dictionary string at idx.
func StaticString(idx int) (string, bool) {
	if idx < 0 || idx >= len(_static) {
		return "", false
	}
	return _static[idx], true
}
