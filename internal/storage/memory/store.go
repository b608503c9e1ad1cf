package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	interfaces "github.com/sheikh-saqib/ajo-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

// MemoryLedgerStore keeps the ledger in memory and, when opened with a
// snapshot file, persists every committed transaction to it.
// Transactions are serialized by a single mutex and run against a copy of
// the state, which replaces the live state only after fn succeeds and the
// snapshot (if any) is written.
type MemoryLedgerStore struct {
	mu       sync.Mutex
	state    *state
	snapshot *snapshotFile
}

// NewMemoryLedgerStore creates an empty, non-persistent store.
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{state: newState()}
}

func (m *MemoryLedgerStore) WithTx(ctx context.Context, fn func(tx interfaces.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{st: m.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if !tx.dirty {
		return nil
	}
	work := tx.st
	if m.snapshot != nil {
		if err := m.snapshot.save(work); err != nil {
			return err
		}
	}
	m.state = work
	return nil
}

func (m *MemoryLedgerStore) Close() error {
	return nil
}

// memTx operates on the transaction's private copy of the state. dirty is
// set by every write so read-only transactions skip the commit.
type memTx struct {
	st    *state
	dirty bool
}

func (t *memTx) SaveMember(_ context.Context, mem models.Member) error {
	t.dirty = true
	t.st.Members[mem.ID] = mem
	return nil
}

func (t *memTx) GetMember(_ context.Context, id string) (models.Member, error) {
	mem, ok := t.st.Members[id]
	if !ok {
		return models.Member{}, models.ErrNotFound
	}
	return mem, nil
}

func (t *memTx) SaveGroup(_ context.Context, g models.Group) error {
	for _, existing := range t.st.Groups {
		if existing.Name == g.Name && existing.ID != g.ID {
			return models.ErrDuplicate
		}
	}
	t.dirty = true
	t.st.Groups[g.ID] = g
	return nil
}

func (t *memTx) GetGroup(_ context.Context, id string) (models.Group, error) {
	g, ok := t.st.Groups[id]
	if !ok {
		return models.Group{}, models.ErrNotFound
	}
	return g, nil
}

func (t *memTx) AddGroupMember(_ context.Context, groupID, memberID string, at time.Time) error {
	if _, ok := t.st.Groups[groupID]; !ok {
		return models.ErrNotFound
	}
	if _, ok := t.st.Members[memberID]; !ok {
		return models.ErrNotFound
	}
	members, ok := t.st.Memberships[groupID]
	if !ok {
		members = make(map[string]time.Time)
		t.st.Memberships[groupID] = members
	}
	if _, exists := members[memberID]; !exists {
		t.dirty = true
		members[memberID] = at
	}
	return nil
}

func (t *memTx) IsGroupMember(_ context.Context, groupID, memberID string) (bool, error) {
	_, ok := t.st.Memberships[groupID][memberID]
	return ok, nil
}

func (t *memTx) ListGroupMembers(_ context.Context, groupID string) ([]models.Member, error) {
	var result []models.Member
	for id := range t.st.Memberships[groupID] {
		result = append(result, t.st.Members[id])
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DisplayName < result[j].DisplayName })
	return result, nil
}

func (t *memTx) InsertEntry(_ context.Context, e models.LedgerEntry) error {
	if _, exists := t.st.Entries[e.ID]; exists {
		return models.ErrDuplicate
	}
	for _, other := range t.st.Entries {
		if other.IdempotencyKey == e.IdempotencyKey {
			return models.ErrDuplicate
		}
	}
	t.dirty = true
	t.st.Entries[e.ID] = e
	return nil
}

func (t *memTx) UpdateEntry(_ context.Context, e models.LedgerEntry) error {
	if _, exists := t.st.Entries[e.ID]; !exists {
		return models.ErrNotFound
	}
	t.dirty = true
	t.st.Entries[e.ID] = e
	return nil
}

func (t *memTx) GetEntry(_ context.Context, id string) (models.LedgerEntry, error) {
	e, ok := t.st.Entries[id]
	if !ok {
		return models.LedgerEntry{}, models.ErrNotFound
	}
	return e, nil
}

func (t *memTx) FindEntry(_ context.Context, lookup models.EntryLookup) (models.LedgerEntry, error) {
	if lookup.IdempotencyKey != "" {
		for _, e := range t.st.Entries {
			if e.IdempotencyKey == lookup.IdempotencyKey {
				return e, nil
			}
		}
	}
	if lookup.RemoteRef != "" {
		for _, e := range t.st.Entries {
			if e.RemoteRef == lookup.RemoteRef && e.ReversalOf == "" {
				return e, nil
			}
		}
	}
	return models.LedgerEntry{}, models.ErrNotFound
}

func (t *memTx) ListEntries(_ context.Context, f models.EntryFilter) ([]models.LedgerEntry, error) {
	var result []models.LedgerEntry
	for _, e := range t.st.Entries {
		if f.Match(e) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func (t *memTx) InsertQueueItem(_ context.Context, q models.QueueItem) error {
	for _, other := range t.st.Queue {
		if other.ID == q.ID || other.EntryID == q.EntryID {
			return models.ErrDuplicate
		}
	}
	t.dirty = true
	t.st.Queue[q.ID] = q
	return nil
}

func (t *memTx) UpdateQueueItem(_ context.Context, q models.QueueItem) error {
	if _, exists := t.st.Queue[q.ID]; !exists {
		return models.ErrNotFound
	}
	t.dirty = true
	t.st.Queue[q.ID] = q
	return nil
}

func (t *memTx) DeleteQueueItem(_ context.Context, id string) error {
	if _, exists := t.st.Queue[id]; !exists {
		return models.ErrNotFound
	}
	t.dirty = true
	delete(t.st.Queue, id)
	return nil
}

func (t *memTx) GetQueueItemByEntry(_ context.Context, entryID string) (models.QueueItem, error) {
	for _, q := range t.st.Queue {
		if q.EntryID == entryID {
			return q, nil
		}
	}
	return models.QueueItem{}, models.ErrNotFound
}

func (t *memTx) ListQueueItems(_ context.Context) ([]models.QueueItem, error) {
	result := make([]models.QueueItem, 0, len(t.st.Queue))
	for _, q := range t.st.Queue {
		result = append(result, q)
	}
	sort.Slice(result, func(i, j int) bool { return models.QueueLess(result[i], result[j]) })
	return result, nil
}

func (t *memTx) ClaimReadyItems(_ context.Context, now time.Time, limit int, owner string) ([]models.QueueItem, error) {
	var ready []models.QueueItem
	for _, q := range t.st.Queue {
		if q.Ready(now) {
			ready = append(ready, q)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return models.QueueLess(ready[i], ready[j]) })
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}
	for i := range ready {
		ready[i].InFlight = true
		ready[i].ClaimedBy = owner
		ready[i].ClaimedAt = now
		t.dirty = true
		t.st.Queue[ready[i].ID] = ready[i]
	}
	return ready, nil
}

func (t *memTx) ReleaseClaims(_ context.Context, claimedBefore time.Time) (int, error) {
	released := 0
	for id, q := range t.st.Queue {
		if q.InFlight && q.ClaimedAt.Before(claimedBefore) {
			q.InFlight = false
			q.ClaimedBy = ""
			q.ClaimedAt = time.Time{}
			t.dirty = true
			t.st.Queue[id] = q
			released++
		}
	}
	return released, nil
}

func (t *memTx) InsertCommissionRecord(_ context.Context, r models.CommissionRecord) error {
	if _, exists := t.st.Commissions[r.ID]; exists {
		return models.ErrDuplicate
	}
	t.dirty = true
	t.st.Commissions[r.ID] = r
	return nil
}

func (t *memTx) UpdateCommissionRecord(_ context.Context, r models.CommissionRecord) error {
	if _, exists := t.st.Commissions[r.ID]; !exists {
		return models.ErrNotFound
	}
	t.dirty = true
	t.st.Commissions[r.ID] = r
	return nil
}

func (t *memTx) GetCommissionRecord(_ context.Context, id string) (models.CommissionRecord, error) {
	r, ok := t.st.Commissions[id]
	if !ok {
		return models.CommissionRecord{}, models.ErrNotFound
	}
	return r, nil
}

func (t *memTx) OpenCommissionRecord(_ context.Context, period string, c models.Currency) (models.CommissionRecord, error) {
	for _, r := range t.st.Commissions {
		if r.Period == period && r.Currency == c && r.Open() {
			return r, nil
		}
	}
	return models.CommissionRecord{}, models.ErrNotFound
}

func (t *memTx) ListCommissionRecords(_ context.Context, f models.CommissionFilter) ([]models.CommissionRecord, error) {
	var result []models.CommissionRecord
	for _, r := range t.st.Commissions {
		if f.Match(r) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Period != result[j].Period {
			return result[i].Period < result[j].Period
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (t *memTx) InsertDeadLetter(_ context.Context, d models.DeadLetter) error {
	t.dirty = true
	t.st.DeadLetters = append(t.st.DeadLetters, d)
	return nil
}

func (t *memTx) ListDeadLetters(_ context.Context) ([]models.DeadLetter, error) {
	return append([]models.DeadLetter(nil), t.st.DeadLetters...), nil
}

func (t *memTx) InsertReviewItem(_ context.Context, r models.ReviewItem) error {
	t.dirty = true
	t.st.Reviews = append(t.st.Reviews, r)
	return nil
}

func (t *memTx) ListReviewItems(_ context.Context) ([]models.ReviewItem, error) {
	return append([]models.ReviewItem(nil), t.st.Reviews...), nil
}

// Compile-time check: ensure MemoryLedgerStore implements LedgerStore interface
var _ interfaces.LedgerStore = (*MemoryLedgerStore)(nil)
var _ interfaces.Tx = (*memTx)(nil)
