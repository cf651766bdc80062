package payment

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestSimulatedGateway(t *testing.T) {
	gw := SimulatedGateway{}
	ctx := context.Background()

	res, err := gw.Charge(ctx, ChargeRequest{BookingID: "b1", InstrumentID: "pm_card_visa", AmountCents: 6000, Currency: "usd"})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if !strings.HasPrefix(res.Reference, "sim_") {
		t.Fatalf("unexpected reference %q", res.Reference)
	}

	if _, err := gw.Charge(ctx, ChargeRequest{InstrumentID: DeclineInstrument}); !errors.Is(err, ErrDeclined) {
		t.Fatalf("expected ErrDeclined, got %v", err)
	}
	if _, err := gw.Charge(ctx, ChargeRequest{InstrumentID: "tok_unknown"}); !errors.Is(err, ErrUnsupportedInstrument) {
		t.Fatalf("expected ErrUnsupportedInstrument, got %v", err)
	}
}

func TestStripeGatewayRejectsLocally(t *testing.T) {
	if _, err := NewStripeGateway("  "); err == nil {
		t.Fatalf("expected error for empty secret key")
	}
	gw, err := NewStripeGateway("sk_test_placeholder")
	if err != nil {
		t.Fatalf("NewStripeGateway: %v", err)
	}
	if _, err := gw.Charge(context.Background(), ChargeRequest{InstrumentID: "tok_unknown"}); !errors.Is(err, ErrUnsupportedInstrument) {
		t.Fatalf("expected ErrUnsupportedInstrument before any API call, got %v", err)
	}
}

func TestIdempotencyKeyIsStablePerBookingAndInstrument(t *testing.T) {
	a := idempotencyKey(ChargeRequest{BookingID: "b1", InstrumentID: "pm_card_visa"})
	b := idempotencyKey(ChargeRequest{BookingID: "b1", InstrumentID: "pm_card_visa", AmountCents: 1})
	c := idempotencyKey(ChargeRequest{BookingID: "b1", InstrumentID: "pm_card_amex"})
	if a != b || a == c {
		t.Fatalf("unexpected keys %q %q %q", a, b, c)
	}
}
