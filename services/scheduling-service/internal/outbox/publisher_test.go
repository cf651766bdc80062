package outbox

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/md-rashed-zaman/slotkeeper/libs/kafkax"
)

func TestToMessageCarriesEventMeta(t *testing.T) {
	msg := toMessage(context.Background(), Record{
		ID:          7,
		EventID:     "evt-1",
		AggregateID: "booking-1",
		EventType:   BookingCreated,
		Payload:     []byte(`{"booking_id":"booking-1"}`),
	})

	if msg.Topic != BookingCreated {
		t.Fatalf("expected topic %s, got %s", BookingCreated, msg.Topic)
	}
	if string(msg.Key) != "booking-1" {
		t.Fatalf("expected aggregate key, got %s", msg.Key)
	}
	meta := kafkax.ExtractEventMeta(msg)
	if meta.EventID != "evt-1" || meta.EventType != BookingCreated {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}

func TestNewEventMarshalsPayload(t *testing.T) {
	evt, err := NewEvent("booking", "b-1", BookingDecided, map[string]string{"action": "accept"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if string(evt.Payload) != `{"action":"accept"}` {
		t.Fatalf("unexpected payload %s", evt.Payload)
	}
}

func TestPublisherConfigDefaults(t *testing.T) {
	cfg := PublisherConfig{}.withDefaults()
	if cfg.PollEvery <= 0 || cfg.BatchSize != 50 || cfg.Retention != 0 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestNewPublisherDisabledWithoutBrokers(t *testing.T) {
	if p := NewPublisher(nil, NewRepository(), slog.New(slog.NewTextHandler(io.Discard, nil)), PublisherConfig{Brokers: " , "}); p != nil {
		t.Fatalf("expected nil publisher without brokers")
	}
}
