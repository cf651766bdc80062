package kafkax

import (
	"strings"
	"unicode"

	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
)

// EventMeta identifies one event on the wire. Consumers dedupe on EventID.
type EventMeta struct {
	EventID   string
	EventType string
}

// Headers renders m as message headers; empty fields are omitted.
func (m EventMeta) Headers() []kafka.Header {
	var out []kafka.Header
	if m.EventID != "" {
		out = append(out, kafka.Header{Key: HeaderEventID, Value: []byte(m.EventID)})
	}
	if m.EventType != "" {
		out = append(out, kafka.Header{Key: HeaderEventType, Value: []byte(m.EventType)})
	}
	return out
}

// ExtractEventMeta reads the event headers, falling back to the message key for the id
// and the topic for the type when a producer did not set them.
func ExtractEventMeta(msg kafka.Message) EventMeta {
	m := EventMeta{
		EventID:   HeaderValue(msg.Headers, HeaderEventID),
		EventType: HeaderValue(msg.Headers, HeaderEventType),
	}
	if m.EventID == "" {
		m.EventID = string(msg.Key)
	}
	if m.EventType == "" {
		m.EventType = msg.Topic
	}
	return m
}

// HeaderValue returns the last value set for key.
func HeaderValue(headers []kafka.Header, key string) string {
	for i := len(headers) - 1; i >= 0; i-- {
		if headers[i].Key == key {
			return string(headers[i].Value)
		}
	}
	return ""
}

// SplitBrokers parses a comma or whitespace separated broker list.
func SplitBrokers(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || unicode.IsSpace(r) })
}
