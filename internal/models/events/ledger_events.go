package events

import (
	"time"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

const (
	TopicEntryConfirmed        = "ledger.entry.confirmed"
	TopicEntryFailed           = "ledger.entry.failed"
	TopicEntryReversed         = "ledger.entry.reversed"
	TopicCommissionTransferred = "ledger.commission.transferred"
	TopicGatewayNotifications  = "gateway.notifications"
)

// EntrySettled is published when an entry reaches a terminal state.
type EntrySettled struct {
	EntryID        string            `json:"entry_id"`
	Kind           models.EntryKind  `json:"kind"`
	GroupID        string            `json:"group_id"`
	MemberID       string            `json:"member_id"`
	Gross          int64             `json:"gross"`
	Commission     int64             `json:"commission"`
	Net            int64             `json:"net"`
	Currency       models.Currency   `json:"currency"`
	State          models.EntryState `json:"state"`
	RemoteRef      string            `json:"remote_ref,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	IdempotencyKey string            `json:"idempotency_key"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

func NewEntrySettled(e models.LedgerEntry, at time.Time) EntrySettled {
	return EntrySettled{
		EntryID:        e.ID,
		Kind:           e.Kind,
		GroupID:        e.GroupID,
		MemberID:       e.MemberID,
		Gross:          e.Gross,
		Commission:     e.Commission,
		Net:            e.Net,
		Currency:       e.Currency,
		State:          e.State,
		RemoteRef:      e.RemoteRef,
		Reason:         e.LastError,
		IdempotencyKey: e.IdempotencyKey,
		OccurredAt:     at,
	}
}

func (e EntrySettled) EventKey() string { return e.GroupID }

type CommissionTransferred struct {
	Currency    models.Currency `json:"currency"`
	Amount      int64           `json:"amount"`
	RecordIDs   []string        `json:"record_ids"`
	TransferKey string          `json:"transfer_key"`
	RemoteRef   string          `json:"remote_ref"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

func (e CommissionTransferred) EventKey() string { return e.TransferKey }
