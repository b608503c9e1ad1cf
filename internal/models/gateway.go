package models

import "time"

// Operation is the gateway-side verb for a submission.
type Operation string

const (
	OpCollect            Operation = "collect"
	OpDisburse           Operation = "disburse"
	OpCommissionTransfer Operation = "commission_transfer"
)

type SubmitRequest struct {
	Operation      Operation `json:"operation"`
	Amount         int64     `json:"amount"`
	Currency       Currency  `json:"currency"`
	Destination    string    `json:"destination"`
	IdempotencyKey string    `json:"idempotency_key"`
}

// Receipt is a definitive success from the gateway.
type Receipt struct {
	RemoteRef   string    `json:"remote_ref"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// Outcome is a definitive result reported for an idempotency key.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeRejected  Outcome = "rejected"
)

func (o Outcome) Valid() bool {
	return o == OutcomeConfirmed || o == OutcomeRejected
}

// Notification is a parsed gateway webhook.
type Notification struct {
	IdempotencyKey string
	RemoteRef      string
	Outcome        Outcome
	Reason         string
	Payload        []byte
}

// DeadLetter holds a notification that matched no known entry.
type DeadLetter struct {
	ID             string    `json:"id" db:"id"`
	IdempotencyKey string    `json:"idempotency_key,omitempty" db:"idempotency_key"`
	RemoteRef      string    `json:"remote_ref,omitempty" db:"remote_ref"`
	Outcome        Outcome   `json:"outcome" db:"outcome"`
	Reason         string    `json:"reason,omitempty" db:"reason"`
	Payload        []byte    `json:"payload,omitempty" db:"payload"`
	ReceivedAt     time.Time `json:"received_at" db:"received_at"`
}

// ReviewItem surfaces a ReconciliationConflict for manual resolution.
type ReviewItem struct {
	ID             string     `json:"id" db:"id"`
	EntryID        string     `json:"entry_id" db:"entry_id"`
	IdempotencyKey string     `json:"idempotency_key" db:"idempotency_key"`
	LocalState     EntryState `json:"local_state" db:"local_state"`
	RemoteOutcome  Outcome    `json:"remote_outcome" db:"remote_outcome"`
	RemoteRef      string     `json:"remote_ref,omitempty" db:"remote_ref"`
	Detail         string     `json:"detail" db:"detail"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}
