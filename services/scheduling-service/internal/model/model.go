package model

import "time"

type Role string

const (
	RoleProvider  Role = "provider"
	RoleRequester Role = "requester"
	RoleAdmin     Role = "admin"
)

type Slot struct {
	ID         string
	ProviderID string
	StartTime  time.Time
	EndTime    time.Time
	CreatedAt  time.Time
}

// Contains reports whether [start, end) lies inside the slot.
func (s Slot) Contains(start, end time.Time) bool {
	return !start.Before(s.StartTime) && !end.After(s.EndTime)
}

type Booking struct {
	ID          string
	RequesterID string
	ProviderID  string
	StartTime   time.Time
	EndTime     time.Time
	Status      BookingStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (b Booking) DurationMinutes() int64 {
	return int64(b.EndTime.Sub(b.StartTime) / time.Minute)
}

type PaymentStatus string

const PaymentCompleted PaymentStatus = "Completed"

type Payment struct {
	ID            string
	RequesterID   string
	BookingID     string
	AmountCents   int64
	Currency      string
	Status        PaymentStatus
	TransactionID string
	ProviderRef   string
	CreatedAt     time.Time
}

// PaymentToken is the stored side of an issued token; only the digest is kept.
type PaymentToken struct {
	Hash        []byte
	RequesterID string
	BookingID   string
	ExpiresAt   time.Time
	UsedAt      *time.Time
	CreatedAt   time.Time
}

type AuditEntry struct {
	EventType string
	ActorID   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// BookingFilter selects bookings where the participant sits on the given side.
type BookingFilter struct {
	ParticipantID string
	Role          Role
	Statuses      []BookingStatus
	Limit         int
}

type MonthlyTotal struct {
	Month       string // YYYY-MM
	AmountCents int64
	Count       int
}

type PaymentSummary struct {
	TotalCents int64
	Count      int
	Currency   string
	Monthly    []MonthlyTotal
}

// AccountPurge counts the rows removed when an account is deleted.
type AccountPurge struct {
	Slots    int64
	Bookings int64
	Payments int64
	Tokens   int64
}
