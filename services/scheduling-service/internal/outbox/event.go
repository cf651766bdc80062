package outbox

import "encoding/json"

// Event is the envelope written to outbox_events. Its EventType is also the Kafka topic.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	BookingCreated   = "scheduling.booking.created.v1"
	BookingDecided   = "scheduling.booking.decided.v1"
	BookingCompleted = "scheduling.booking.completed.v1"
	PaymentCompleted = "scheduling.payment.completed.v1"
)

func NewEvent(aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}
