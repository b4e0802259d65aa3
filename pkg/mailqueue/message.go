package mailqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// ErrMalformedRecord is wrapped by materializer errors for records that
// cannot be turned into a sendable message.
var ErrMalformedRecord = errors.New("malformed queue record")

// Payload is the serialized form of a message stored in a queue record.
type Payload struct {
	From    string            `json:"from,omitempty"`
	To      []string          `json:"to,omitempty"`
	Cc      []string          `json:"cc,omitempty"`
	Bcc     []string          `json:"bcc,omitempty"`
	ReplyTo string            `json:"reply_to,omitempty"`
	Subject string            `json:"subject"`
	Text    string            `json:"text,omitempty"`
	HTML    string            `json:"html,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// EncodePayload serializes a payload for storage.
func EncodePayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

// Message is a validated, sendable message.
type Message struct {
	// ID is the id of the queue record the message was built from.
	ID      string
	From    mail.Address
	To      []mail.Address
	Cc      []mail.Address
	Bcc     []mail.Address
	ReplyTo *mail.Address
	Subject string
	Text    string
	HTML    string
	Headers map[string]string
}

// Recipients returns the envelope recipients of the message.
func (m Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	for _, group := range [][]mail.Address{m.To, m.Cc, m.Bcc} {
		for _, a := range group {
			out = append(out, a.Address)
		}
	}
	return out
}

// Materializer reconstructs a sendable message from a queue record.
type Materializer interface {
	FromRecord(record QueueRecord) (Message, error)
}

// MaterializerFunc adapts a function to Materializer.
type MaterializerFunc func(record QueueRecord) (Message, error)

func (f MaterializerFunc) FromRecord(record QueueRecord) (Message, error) {
	return f(record)
}

// JSONMaterializer decodes records whose payload is an encoded Payload.
type JSONMaterializer struct {
	// DefaultFrom is used when the payload carries no sender.
	DefaultFrom string
}

func (m JSONMaterializer) FromRecord(record QueueRecord) (Message, error) {
	var p Payload
	if err := json.Unmarshal(record.Payload, &p); err != nil {
		return Message{}, fmt.Errorf("%w: payload is not valid JSON: %v", ErrMalformedRecord, err)
	}

	from := p.From
	if from == "" {
		from = m.DefaultFrom
	}
	if from == "" {
		return Message{}, fmt.Errorf("%w: no sender", ErrMalformedRecord)
	}
	sender, err := parseAddress("from", from)
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		ID:      record.ID,
		From:    *sender,
		Subject: p.Subject,
		Text:    p.Text,
		HTML:    p.HTML,
		Headers: p.Headers,
	}
	if msg.To, err = parseAddressList("to", p.To); err != nil {
		return Message{}, err
	}
	if msg.Cc, err = parseAddressList("cc", p.Cc); err != nil {
		return Message{}, err
	}
	if msg.Bcc, err = parseAddressList("bcc", p.Bcc); err != nil {
		return Message{}, err
	}
	if p.ReplyTo != "" {
		if msg.ReplyTo, err = parseAddress("reply_to", p.ReplyTo); err != nil {
			return Message{}, err
		}
	}

	if len(msg.Recipients()) == 0 {
		return Message{}, fmt.Errorf("%w: no recipients", ErrMalformedRecord)
	}
	if strings.TrimSpace(msg.Text) == "" && strings.TrimSpace(msg.HTML) == "" {
		return Message{}, fmt.Errorf("%w: empty body", ErrMalformedRecord)
	}
	return msg, nil
}

func parseAddress(field, value string) (*mail.Address, error) {
	addr, err := mail.ParseAddress(value)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s address %q: %v", ErrMalformedRecord, field, value, err)
	}
	return addr, nil
}

func parseAddressList(field string, values []string) ([]mail.Address, error) {
	out := make([]mail.Address, 0, len(values))
	for _, v := range values {
		addr, err := parseAddress(field, v)
		if err != nil {
			return nil, err
		}
		out = append(out, *addr)
	}
	return out, nil
}
