package models

import "time"

// QueueItem is a pending unit of work against exactly one LedgerEntry. Its
// idempotency key is fixed for the item's lifetime.
type QueueItem struct {
	ID             string    `json:"id" db:"id"`
	EntryID        string    `json:"entry_id" db:"entry_id"`
	Kind           EntryKind `json:"kind" db:"kind"`
	IdempotencyKey string    `json:"idempotency_key" db:"idempotency_key"`
	Priority       int       `json:"priority" db:"priority"`
	Attempts       int       `json:"attempts" db:"attempts"`
	NextEligibleAt time.Time `json:"next_eligible_at" db:"next_eligible_at"`
	LastError      string    `json:"last_error,omitempty" db:"last_error"`
	InFlight       bool      `json:"in_flight" db:"in_flight"`
	ClaimedBy      string    `json:"claimed_by,omitempty" db:"claimed_by"`
	ClaimedAt      time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Ready reports whether the item may be claimed at now.
func (q QueueItem) Ready(now time.Time) bool {
	return !q.InFlight && !q.NextEligibleAt.After(now)
}

// QueueLess orders items by priority (descending) then creation (ascending).
func QueueLess(a, b QueueItem) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
