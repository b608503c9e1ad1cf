package interfaces

import (
	"context"
	"time"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

// LedgerStore is the durable, single source of local truth. All reads and
// writes go through WithTx; the changes made by fn commit together or not
// at all.
type LedgerStore interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the view of the store inside one transaction. Lookups return
// models.ErrNotFound when nothing matches.
type Tx interface {
	SaveMember(ctx context.Context, m models.Member) error
	GetMember(ctx context.Context, id string) (models.Member, error)
	SaveGroup(ctx context.Context, g models.Group) error
	GetGroup(ctx context.Context, id string) (models.Group, error)
	AddGroupMember(ctx context.Context, groupID, memberID string, at time.Time) error
	IsGroupMember(ctx context.Context, groupID, memberID string) (bool, error)
	ListGroupMembers(ctx context.Context, groupID string) ([]models.Member, error)

	InsertEntry(ctx context.Context, e models.LedgerEntry) error
	UpdateEntry(ctx context.Context, e models.LedgerEntry) error
	GetEntry(ctx context.Context, id string) (models.LedgerEntry, error)
	FindEntry(ctx context.Context, lookup models.EntryLookup) (models.LedgerEntry, error)
	// ListEntries returns matches newest first.
	ListEntries(ctx context.Context, f models.EntryFilter) ([]models.LedgerEntry, error)

	InsertQueueItem(ctx context.Context, q models.QueueItem) error
	UpdateQueueItem(ctx context.Context, q models.QueueItem) error
	DeleteQueueItem(ctx context.Context, id string) error
	GetQueueItemByEntry(ctx context.Context, entryID string) (models.QueueItem, error)
	ListQueueItems(ctx context.Context) ([]models.QueueItem, error)
	// ClaimReadyItems atomically marks up to limit ready items in-flight for
	// owner and returns them in drain order.
	ClaimReadyItems(ctx context.Context, now time.Time, limit int, owner string) ([]models.QueueItem, error)
	// ReleaseClaims returns items claimed before cutoff to the ready pool.
	ReleaseClaims(ctx context.Context, claimedBefore time.Time) (int, error)

	InsertCommissionRecord(ctx context.Context, r models.CommissionRecord) error
	UpdateCommissionRecord(ctx context.Context, r models.CommissionRecord) error
	GetCommissionRecord(ctx context.Context, id string) (models.CommissionRecord, error)
	// OpenCommissionRecord returns the record still accepting accruals for
	// the period and currency.
	OpenCommissionRecord(ctx context.Context, period string, c models.Currency) (models.CommissionRecord, error)
	ListCommissionRecords(ctx context.Context, f models.CommissionFilter) ([]models.CommissionRecord, error)

	InsertDeadLetter(ctx context.Context, d models.DeadLetter) error
	ListDeadLetters(ctx context.Context) ([]models.DeadLetter, error)
	InsertReviewItem(ctx context.Context, r models.ReviewItem) error
	ListReviewItems(ctx context.Context) ([]models.ReviewItem, error)
}
