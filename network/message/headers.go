package message

import "slices"

// AddressingNamespace is the namespace of the addressing headers.
const AddressingNamespace = "http://www.w3.org/2005/08/addressing"

// Addressing header names.
const (
	HeaderAction    = "Action"
	HeaderTo        = "To"
	HeaderMessageID = "MessageID"
	HeaderRelatesTo = "RelatesTo"
	HeaderReplyTo   = "ReplyTo"
)

// Header is one message header. Name and Namespace together identify its
// logical slot.
type Header struct {
	Name           string
	Namespace      string
	Value          string
	MustUnderstand bool
}

// Headers is an ordered header collection. Duplicate slots are legal and
// addressed by index.
type Headers struct {
	items []Header
}

// Len returns the number of headers.
func (h *Headers) Len() int { return len(h.items) }

// At returns the header at index i.
func (h *Headers) At(i int) Header { return h.items[i] }

// All returns a copy of the headers in order.
func (h *Headers) All() []Header { return slices.Clone(h.items) }

// Add appends a header.
func (h *Headers) Add(hdr Header) { h.items = append(h.items, hdr) }

// Insert places hdr at index i.
func (h *Headers) Insert(i int, hdr Header) { h.items = slices.Insert(h.items, i, hdr) }

// RemoveAt deletes the header at index i.
func (h *Headers) RemoveAt(i int) { h.items = slices.Delete(h.items, i, i+1) }

// RemoveAll deletes every header in the given slot and returns how many were removed.
func (h *Headers) RemoveAll(name, ns string) int {
	n := len(h.items)
	h.items = slices.DeleteFunc(h.items, func(x Header) bool {
		return x.Name == name && x.Namespace == ns
	})
	return n - len(h.items)
}

// FindIndex returns the index of the first header in the slot, or -1.
func (h *Headers) FindIndex(name, ns string) int {
	return slices.IndexFunc(h.items, func(x Header) bool {
		return x.Name == name && x.Namespace == ns
	})
}

// FindAll returns the indexes of every header in the slot.
func (h *Headers) FindAll(name, ns string) []int {
	var out []int
	for i, x := range h.items {
		if x.Name == name && x.Namespace == ns {
			out = append(out, i)
		}
	}
	return out
}

// Set replaces the first header in the slot or appends a new one.
func (h *Headers) Set(name, ns, value string) {
	if i := h.FindIndex(name, ns); i >= 0 {
		h.items[i].Value = value
		return
	}
	h.Add(Header{Name: name, Namespace: ns, Value: value})
}

// Get returns the value of the first header in the slot.
func (h *Headers) Get(name, ns string) (string, bool) {
	if i := h.FindIndex(name, ns); i >= 0 {
		return h.items[i].Value, true
	}
	return "", false
}

func (h *Headers) addressing(name string) string {
	v, _ := h.Get(name, AddressingNamespace)
	return v
}

func (h *Headers) Action() string        { return h.addressing(HeaderAction) }
func (h *Headers) SetAction(v string)    { h.Set(HeaderAction, AddressingNamespace, v) }
func (h *Headers) To() string            { return h.addressing(HeaderTo) }
func (h *Headers) SetTo(v string)        { h.Set(HeaderTo, AddressingNamespace, v) }
func (h *Headers) MessageID() string     { return h.addressing(HeaderMessageID) }
func (h *Headers) SetMessageID(v string) { h.Set(HeaderMessageID, AddressingNamespace, v) }
func (h *Headers) RelatesTo() string     { return h.addressing(HeaderRelatesTo) }
func (h *Headers) SetRelatesTo(v string) { h.Set(HeaderRelatesTo, AddressingNamespace, v) }
func (h *Headers) ReplyTo() string       { return h.addressing(HeaderReplyTo) }
func (h *Headers) SetReplyTo(v string)   { h.Set(HeaderReplyTo, AddressingNamespace, v) }
