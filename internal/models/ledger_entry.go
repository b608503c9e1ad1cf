package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind is the closed set of ledger entry variants.
type EntryKind string

const (
	KindContribution EntryKind = "contribution"
	KindPayout       EntryKind = "payout"
)

func (k EntryKind) Valid() bool {
	return k == KindContribution || k == KindPayout
}

// Priority orders queue items; higher drains first.
func (k EntryKind) Priority() int {
	if k == KindPayout {
		return 10
	}
	return 0
}

// Opposite is the kind of the entry that offsets this one on reversal.
func (k EntryKind) Opposite() EntryKind {
	if k == KindPayout {
		return KindContribution
	}
	return KindPayout
}

// Operation is the gateway operation an entry of this kind maps to.
func (k EntryKind) Operation() Operation {
	if k == KindPayout {
		return OpDisburse
	}
	return OpCollect
}

// EntryState is the lifecycle state of a LedgerEntry.
type EntryState string

const (
	StatePending   EntryState = "pending"
	StateSubmitted EntryState = "submitted"
	StateConfirmed EntryState = "confirmed"
	StateFailed    EntryState = "failed"
	StateReversed  EntryState = "reversed"
)

func (s EntryState) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal states see no further automatic transition.
func (s EntryState) Terminal() bool {
	return s == StateConfirmed || s == StateFailed || s == StateReversed
}

var transitions = map[EntryState][]EntryState{
	StatePending:   {StateSubmitted, StateConfirmed, StateFailed},
	StateSubmitted: {StateConfirmed, StateFailed},
	StateConfirmed: {StateReversed},
	StateFailed:    {StatePending},
	StateReversed:  nil,
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to EntryState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// LedgerEntry is the atomic financial fact. Amounts are integer smallest
// units of Currency and Gross == Commission + Net always holds.
type LedgerEntry struct {
	ID                 string          `json:"id" db:"id"`
	Kind               EntryKind       `json:"kind" db:"kind"`
	GroupID            string          `json:"group_id" db:"group_id"`
	MemberID           string          `json:"member_id" db:"member_id"`
	Gross              int64           `json:"gross" db:"gross"`
	Commission         int64           `json:"commission" db:"commission"`
	Net                int64           `json:"net" db:"net"`
	Currency           Currency        `json:"currency" db:"currency"`
	Rate               decimal.Decimal `json:"rate" db:"rate"`
	Destination        string          `json:"destination,omitempty" db:"destination"`
	State              EntryState      `json:"state" db:"state"`
	IdempotencyKey     string          `json:"idempotency_key" db:"idempotency_key"`
	RemoteRef          string          `json:"remote_ref,omitempty" db:"remote_ref"`
	LastError          string          `json:"last_error,omitempty" db:"last_error"`
	ReversalOf         string          `json:"reversal_of,omitempty" db:"reversal_of"`
	CommissionRecordID string          `json:"commission_record_id,omitempty" db:"commission_record_id"`
	ReviewRequired     bool            `json:"review_required" db:"review_required"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

func (e LedgerEntry) Balanced() bool {
	return e.Commission+e.Net == e.Gross
}

// Transition moves the entry to state `to`, enforcing the transition table.
// A remote reference, once set on a confirmed entry, never changes.
func (e *LedgerEntry) Transition(to EntryState, remoteRef string, at time.Time) error {
	if !CanTransition(e.State, to) {
		return &InvalidTransitionError{EntryID: e.ID, From: e.State, To: to}
	}
	if remoteRef != "" {
		if e.RemoteRef != "" && e.RemoteRef != remoteRef {
			return &InvalidTransitionError{EntryID: e.ID, From: e.State, To: to}
		}
		e.RemoteRef = remoteRef
	}
	e.State = to
	e.UpdatedAt = at
	return nil
}

// EntryRequest is the intent to record a contribution or payout.
type EntryRequest struct {
	Kind        EntryKind
	GroupID     string
	MemberID    string
	Gross       int64
	Currency    Currency
	Destination string
}

// EntryFilter selects entries for listing. Zero fields match everything;
// From is inclusive and To exclusive.
type EntryFilter struct {
	GroupID  string
	MemberID string
	State    EntryState
	Kind     EntryKind
	From     time.Time
	To       time.Time
	Limit    int
}

func (f EntryFilter) Match(e LedgerEntry) bool {
	if f.GroupID != "" && e.GroupID != f.GroupID {
		return false
	}
	if f.MemberID != "" && e.MemberID != f.MemberID {
		return false
	}
	if f.State != "" && e.State != f.State {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

// EntryLookup finds an entry by idempotency key or, failing that, by
// remote reference.
type EntryLookup struct {
	IdempotencyKey string
	RemoteRef      string
}
