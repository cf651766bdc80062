package migrations

import (
	"strings"
	"testing"
)

func TestFilesAreOrderedAndDeclareConstraints(t *testing.T) {
	names, err := Files()
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(names) < 2 || names[0] != "0001_init.sql" {
		t.Fatalf("unexpected migration order: %v", names)
	}

	body, err := files.ReadFile("0001_init.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	sql := string(body)
	for _, want := range []string{
		"availability_slots_no_overlap",
		"bookings_provider_no_overlap",
		"bookings_requester_no_overlap",
		"payments_one_completed_per_booking",
		"payment_tokens",
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("schema is missing %s", want)
		}
	}
}
