package codec

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/linchenxuan/conduit/network/message"
)

// ContentTypeJSON is the JSON encoding.
const ContentTypeJSON = "application/json"

type jsonHeader struct {
	Name           string `json:"name"`
	Namespace      string `json:"ns,omitempty"`
	Value          string `json:"value"`
	MustUnderstand bool   `json:"mustUnderstand,omitempty"`
}

type jsonMessage struct {
	Envelope   message.EnvelopeVersion   `json:"envelope"`
	Addressing message.AddressingVersion `json:"addressing"`
	Headers    []jsonHeader              `json:"headers,omitempty"`
	Body       []byte                    `json:"body,omitempty"`
}

// JSONFactory creates JSON encoders. They never use a session dictionary.
type JSONFactory struct{}

func (JSONFactory) ContentType() string                    { return ContentTypeJSON }
func (JSONFactory) MediaType() string                      { return ContentTypeJSON }
func (JSONFactory) Version() message.Version               { return message.VersionDefault }
func (JSONFactory) UsesDictionary() bool                   { return false }
func (JSONFactory) Encoder() Encoder                       { return jsonEncoder{} }
func (JSONFactory) SessionEncoder(_, _ Dictionary) Encoder { return jsonEncoder{} }

type jsonEncoder struct{}

func (jsonEncoder) ContentType() string      { return ContentTypeJSON }
func (jsonEncoder) MediaType() string        { return ContentTypeJSON }
func (jsonEncoder) Version() message.Version { return message.VersionDefault }

func (jsonEncoder) WriteMessage(msg *message.Message, w io.Writer) error {
	body, err := msg.Body()
	if err != nil {
		return err
	}
	jm := jsonMessage{
		Envelope:   msg.Version.Envelope,
		Addressing: msg.Version.Addressing,
		Body:       body,
	}
	for _, h := range msg.Headers.All() {
		jm.Headers = append(jm.Headers, jsonHeader(h))
	}
	return json.NewEncoder(w).Encode(&jm)
}

func (jsonEncoder) ReadMessage(r io.Reader, maxSizeOfHeaders int) (*message.Message, error) {
	var jm jsonMessage
	if err := json.NewDecoder(r).Decode(&jm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	msg := &message.Message{
		Version:    message.Version{Envelope: jm.Envelope, Addressing: jm.Addressing},
		Properties: message.Properties{},
	}
	if !msg.Version.Valid() {
		return nil, fmt.Errorf("%w: version %s", ErrMalformed, msg.Version)
	}
	size := 0
	for _, h := range jm.Headers {
		size += len(h.Name) + len(h.Namespace) + len(h.Value)
		if maxSizeOfHeaders > 0 && size > maxSizeOfHeaders {
			return nil, fmt.Errorf("%w: more than %d bytes", ErrHeadersTooLarge, maxSizeOfHeaders)
		}
		msg.Headers.Add(message.Header(h))
	}
	msg.SetBody(jm.Body)
	return msg, nil
}
