package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrDeclined              = errors.New("payment: instrument declined")
	ErrUnsupportedInstrument = errors.New("payment: unsupported instrument")
)

// DeclineInstrument always simulates a card decline.
const DeclineInstrument = "pm_card_chargeDeclined"

// testInstruments are the accepted card identifiers. They match Stripe's test-mode
// PaymentMethod ids so either gateway accepts the same input.
var testInstruments = map[string]bool{
	"pm_card_visa":       true,
	"pm_card_mastercard": true,
	"pm_card_amex":       true,
	"pm_card_discover":   true,
	DeclineInstrument:    true,
}

func SupportedInstrument(id string) bool {
	return testInstruments[id]
}

type ChargeRequest struct {
	BookingID    string
	RequesterID  string
	InstrumentID string
	AmountCents  int64
	Currency     string
}

type ChargeResult struct {
	// Reference is the gateway's id for the charge.
	Reference string
}

type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// SimulatedGateway approves every supported instrument except DeclineInstrument.
type SimulatedGateway struct{}

func (SimulatedGateway) Charge(_ context.Context, req ChargeRequest) (ChargeResult, error) {
	if !SupportedInstrument(req.InstrumentID) {
		return ChargeResult{}, ErrUnsupportedInstrument
	}
	if req.InstrumentID == DeclineInstrument {
		return ChargeResult{}, ErrDeclined
	}
	return ChargeResult{Reference: "sim_" + uuid.NewString()}, nil
}
