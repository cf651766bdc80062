package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapErrTranslatesPostgresCodes(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"23P01", ErrOverlap},
		{"23505", ErrDuplicate},
		{"40001", ErrSerialization},
		{"40P01", ErrSerialization},
		{"22P02", ErrNotFound},
	}
	for _, c := range cases {
		err := mapErr(fmt.Errorf("exec: %w", &pgconn.PgError{Code: c.code}))
		if !errors.Is(err, c.want) {
			t.Fatalf("code %s: expected %v, got %v", c.code, c.want, err)
		}
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) {
			t.Fatalf("code %s: driver error should stay reachable", c.code)
		}
	}

	if !errors.Is(mapErr(pgx.ErrNoRows), ErrNotFound) {
		t.Fatal("no rows should map to ErrNotFound")
	}
	other := errors.New("connection reset")
	if mapErr(other) != other {
		t.Fatal("unrelated errors pass through unchanged")
	}
	if mapErr(nil) != nil {
		t.Fatal("nil stays nil")
	}
}

func TestParticipantColumnRejectsUnknownRole(t *testing.T) {
	if col, err := participantColumn("provider"); err != nil || col != "provider_id" {
		t.Fatalf("provider: %q %v", col, err)
	}
	if col, err := participantColumn("requester"); err != nil || col != "requester_id" {
		t.Fatalf("requester: %q %v", col, err)
	}
	if _, err := participantColumn("admin"); err == nil {
		t.Fatal("admin is not a booking side")
	}
}
