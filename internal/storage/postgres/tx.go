package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	interfaces "github.com/sheikh-saqib/ajo-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/storage/seal"
)

const (
	entryColumns = `id, kind, group_id, member_id, gross, commission, net, currency, rate,
	destination, state, idempotency_key, remote_ref, last_error, reversal_of,
	commission_record_id, review_required, created_at, updated_at`

	queueColumns = `id, entry_id, kind, idempotency_key, priority, attempts, next_eligible_at,
	last_error, in_flight, claimed_by, claimed_at, created_at`

	commissionColumns = `id, period, currency, total, transfer_key, transferred, transferred_at,
	transfer_ref, created_at`

	// no row limit for ClaimReadyItems when the caller passes limit <= 0
	unlimited = 1 << 30
)

type pgTx struct {
	tx     *sqlx.Tx
	sealer *seal.Sealer
}

func (t *pgTx) seal(v string) (string, error) {
	if t.sealer == nil {
		return v, nil
	}
	return t.sealer.SealString(v)
}

func (t *pgTx) open(v string) (string, error) {
	if t.sealer == nil {
		return v, nil
	}
	return t.sealer.OpenString(v)
}

func (t *pgTx) SaveMember(ctx context.Context, m models.Member) error {
	const query = `INSERT INTO members (id, display_name, phone, status, created_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name,
		phone = EXCLUDED.phone, status = EXCLUDED.status`

	phone, err := t.seal(m.Phone)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, query, m.ID, m.DisplayName, phone, m.Status, m.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) GetMember(ctx context.Context, id string) (models.Member, error) {
	const query = `SELECT id, display_name, phone, status, created_at FROM members WHERE id = $1`

	var m models.Member
	if err := t.tx.GetContext(ctx, &m, query, id); err != nil {
		return models.Member{}, mapErr(err)
	}
	phone, err := t.open(m.Phone)
	if err != nil {
		return models.Member{}, fmt.Errorf("member %s phone: %w", id, err)
	}
	m.Phone = phone
	return m, nil
}

func (t *pgTx) SaveGroup(ctx context.Context, g models.Group) error {
	const query = `INSERT INTO groups (id, name, status, created_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, status = EXCLUDED.status`

	_, err := t.tx.ExecContext(ctx, query, g.ID, g.Name, g.Status, g.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) GetGroup(ctx context.Context, id string) (models.Group, error) {
	const query = `SELECT id, name, status, created_at FROM groups WHERE id = $1`

	var g models.Group
	if err := t.tx.GetContext(ctx, &g, query, id); err != nil {
		return models.Group{}, mapErr(err)
	}
	return g, nil
}

func (t *pgTx) AddGroupMember(ctx context.Context, groupID, memberID string, at time.Time) error {
	const query = `INSERT INTO group_members (group_id, member_id, joined_at)
	VALUES ($1, $2, $3) ON CONFLICT (group_id, member_id) DO NOTHING`

	_, err := t.tx.ExecContext(ctx, query, groupID, memberID, at)
	return mapErr(err)
}

func (t *pgTx) IsGroupMember(ctx context.Context, groupID, memberID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND member_id = $2)`

	var exists bool
	if err := t.tx.QueryRowxContext(ctx, query, groupID, memberID).Scan(&exists); err != nil {
		return false, mapErr(err)
	}
	return exists, nil
}

func (t *pgTx) ListGroupMembers(ctx context.Context, groupID string) ([]models.Member, error) {
	const query = `SELECT m.id, m.display_name, m.phone, m.status, m.created_at
	FROM members m JOIN group_members gm ON gm.member_id = m.id
	WHERE gm.group_id = $1 ORDER BY m.display_name`

	var members []models.Member
	if err := t.tx.SelectContext(ctx, &members, query, groupID); err != nil {
		return nil, mapErr(err)
	}
	for i := range members {
		phone, err := t.open(members[i].Phone)
		if err != nil {
			return nil, fmt.Errorf("member %s phone: %w", members[i].ID, err)
		}
		members[i].Phone = phone
	}
	return members, nil
}

func (t *pgTx) InsertEntry(ctx context.Context, e models.LedgerEntry) error {
	const query = `INSERT INTO ledger_entries (` + entryColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	dest, err := t.seal(e.Destination)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, query,
		e.ID, e.Kind, e.GroupID, e.MemberID, e.Gross, e.Commission, e.Net, e.Currency, e.Rate,
		dest, e.State, e.IdempotencyKey, e.RemoteRef, e.LastError, e.ReversalOf,
		e.CommissionRecordID, e.ReviewRequired, e.CreatedAt, e.UpdatedAt)
	return mapErr(err)
}

// UpdateEntry rewrites the mutable columns. Amounts, kind, ownership and the
// idempotency key are fixed at insert.
func (t *pgTx) UpdateEntry(ctx context.Context, e models.LedgerEntry) error {
	const query = `UPDATE ledger_entries SET state = $2, remote_ref = $3, last_error = $4,
		commission_record_id = $5, review_required = $6, updated_at = $7
	WHERE id = $1`

	res, err := t.tx.ExecContext(ctx, query,
		e.ID, e.State, e.RemoteRef, e.LastError, e.CommissionRecordID, e.ReviewRequired, e.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res.RowsAffected())
}

// GetEntry locks the row for the rest of the transaction so concurrent
// writers to the same entry serialize.
func (t *pgTx) GetEntry(ctx context.Context, id string) (models.LedgerEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM ledger_entries WHERE id = $1 FOR UPDATE`
	return t.getEntry(ctx, query, id)
}

func (t *pgTx) FindEntry(ctx context.Context, lookup models.EntryLookup) (models.LedgerEntry, error) {
	const byKey = `SELECT ` + entryColumns + ` FROM ledger_entries WHERE idempotency_key = $1 FOR UPDATE`
	const byRef = `SELECT ` + entryColumns + ` FROM ledger_entries
	WHERE remote_ref = $1 AND reversal_of = '' ORDER BY created_at LIMIT 1 FOR UPDATE`

	if lookup.IdempotencyKey != "" {
		e, err := t.getEntry(ctx, byKey, lookup.IdempotencyKey)
		if !errors.Is(err, models.ErrNotFound) {
			return e, err
		}
	}
	if lookup.RemoteRef != "" {
		return t.getEntry(ctx, byRef, lookup.RemoteRef)
	}
	return models.LedgerEntry{}, models.ErrNotFound
}

func (t *pgTx) getEntry(ctx context.Context, query string, arg any) (models.LedgerEntry, error) {
	var e models.LedgerEntry
	if err := t.tx.GetContext(ctx, &e, query, arg); err != nil {
		return models.LedgerEntry{}, mapErr(err)
	}
	return e, t.openEntry(&e)
}

func (t *pgTx) openEntry(e *models.LedgerEntry) error {
	dest, err := t.open(e.Destination)
	if err != nil {
		return fmt.Errorf("entry %s destination: %w", e.ID, err)
	}
	e.Destination = dest
	return nil
}

func (t *pgTx) ListEntries(ctx context.Context, f models.EntryFilter) ([]models.LedgerEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.GroupID != "" {
		add("group_id = $%d", f.GroupID)
	}
	if f.MemberID != "" {
		add("member_id = $%d", f.MemberID)
	}
	if f.State != "" {
		add("state = $%d", f.State)
	}
	if f.Kind != "" {
		add("kind = $%d", f.Kind)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}

	query := `SELECT ` + entryColumns + ` FROM ledger_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var entries []models.LedgerEntry
	if err := t.tx.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, mapErr(err)
	}
	for i := range entries {
		if err := t.openEntry(&entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (t *pgTx) InsertQueueItem(ctx context.Context, q models.QueueItem) error {
	const query = `INSERT INTO queue_items (` + queueColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := t.tx.ExecContext(ctx, query,
		q.ID, q.EntryID, q.Kind, q.IdempotencyKey, q.Priority, q.Attempts, q.NextEligibleAt,
		q.LastError, q.InFlight, q.ClaimedBy, q.ClaimedAt, q.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) UpdateQueueItem(ctx context.Context, q models.QueueItem) error {
	const query = `UPDATE queue_items SET attempts = $2, next_eligible_at = $3, last_error = $4,
		in_flight = $5, claimed_by = $6, claimed_at = $7
	WHERE id = $1`

	res, err := t.tx.ExecContext(ctx, query,
		q.ID, q.Attempts, q.NextEligibleAt, q.LastError, q.InFlight, q.ClaimedBy, q.ClaimedAt)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res.RowsAffected())
}

func (t *pgTx) DeleteQueueItem(ctx context.Context, id string) error {
	const query = `DELETE FROM queue_items WHERE id = $1`

	res, err := t.tx.ExecContext(ctx, query, id)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res.RowsAffected())
}

func (t *pgTx) GetQueueItemByEntry(ctx context.Context, entryID string) (models.QueueItem, error) {
	const query = `SELECT ` + queueColumns + ` FROM queue_items WHERE entry_id = $1 FOR UPDATE`

	var q models.QueueItem
	if err := t.tx.GetContext(ctx, &q, query, entryID); err != nil {
		return models.QueueItem{}, mapErr(err)
	}
	return q, nil
}

func (t *pgTx) ListQueueItems(ctx context.Context) ([]models.QueueItem, error) {
	const query = `SELECT ` + queueColumns + ` FROM queue_items ORDER BY priority DESC, created_at ASC, id ASC`

	var items []models.QueueItem
	if err := t.tx.SelectContext(ctx, &items, query); err != nil {
		return nil, mapErr(err)
	}
	return items, nil
}

// ClaimReadyItems flips ready rows to in-flight in a single statement.
// SKIP LOCKED lets concurrent workers claim disjoint batches.
func (t *pgTx) ClaimReadyItems(ctx context.Context, now time.Time, limit int, owner string) ([]models.QueueItem, error) {
	const query = `UPDATE queue_items SET in_flight = TRUE, claimed_by = $1, claimed_at = $2
	WHERE id IN (
		SELECT id FROM queue_items
		WHERE in_flight = FALSE AND next_eligible_at <= $2
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED)
	RETURNING ` + queueColumns

	if limit <= 0 {
		limit = unlimited
	}
	var items []models.QueueItem
	if err := t.tx.SelectContext(ctx, &items, query, owner, now, limit); err != nil {
		return nil, mapErr(err)
	}
	// RETURNING does not preserve the subquery order
	sort.Slice(items, func(i, j int) bool { return models.QueueLess(items[i], items[j]) })
	return items, nil
}

func (t *pgTx) ReleaseClaims(ctx context.Context, claimedBefore time.Time) (int, error) {
	const query = `UPDATE queue_items SET in_flight = FALSE, claimed_by = '', claimed_at = $2
	WHERE in_flight = TRUE AND claimed_at < $1`

	res, err := t.tx.ExecContext(ctx, query, claimedBefore, time.Time{})
	if err != nil {
		return 0, mapErr(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (t *pgTx) InsertCommissionRecord(ctx context.Context, r models.CommissionRecord) error {
	const query = `INSERT INTO commission_records (` + commissionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := t.tx.ExecContext(ctx, query,
		r.ID, r.Period, r.Currency, r.Total, r.TransferKey, r.Transferred, r.TransferredAt, r.TransferRef, r.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) UpdateCommissionRecord(ctx context.Context, r models.CommissionRecord) error {
	const query = `UPDATE commission_records SET total = $2, transfer_key = $3, transferred = $4,
		transferred_at = $5, transfer_ref = $6
	WHERE id = $1`

	res, err := t.tx.ExecContext(ctx, query, r.ID, r.Total, r.TransferKey, r.Transferred, r.TransferredAt, r.TransferRef)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res.RowsAffected())
}

func (t *pgTx) GetCommissionRecord(ctx context.Context, id string) (models.CommissionRecord, error) {
	const query = `SELECT ` + commissionColumns + ` FROM commission_records WHERE id = $1 FOR UPDATE`

	var r models.CommissionRecord
	if err := t.tx.GetContext(ctx, &r, query, id); err != nil {
		return models.CommissionRecord{}, mapErr(err)
	}
	return r, nil
}

func (t *pgTx) OpenCommissionRecord(ctx context.Context, period string, c models.Currency) (models.CommissionRecord, error) {
	const query = `SELECT ` + commissionColumns + ` FROM commission_records
	WHERE period = $1 AND currency = $2 AND transferred = FALSE AND transfer_key = ''
	ORDER BY created_at LIMIT 1 FOR UPDATE`

	var r models.CommissionRecord
	if err := t.tx.GetContext(ctx, &r, query, period, c); err != nil {
		return models.CommissionRecord{}, mapErr(err)
	}
	return r, nil
}

func (t *pgTx) ListCommissionRecords(ctx context.Context, f models.CommissionFilter) ([]models.CommissionRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Currency != "" {
		args = append(args, f.Currency)
		where = append(where, fmt.Sprintf("currency = $%d", len(args)))
	}
	if f.TransferKey != "" {
		args = append(args, f.TransferKey)
		where = append(where, fmt.Sprintf("transfer_key = $%d", len(args)))
	}
	if f.Pending {
		where = append(where, "transferred = FALSE")
	}

	query := `SELECT ` + commissionColumns + ` FROM commission_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY period, created_at"

	var records []models.CommissionRecord
	if err := t.tx.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, mapErr(err)
	}
	return records, nil
}

func (t *pgTx) InsertDeadLetter(ctx context.Context, d models.DeadLetter) error {
	const query = `INSERT INTO dead_letters (id, idempotency_key, remote_ref, outcome, reason, payload, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := t.tx.ExecContext(ctx, query, d.ID, d.IdempotencyKey, d.RemoteRef, d.Outcome, d.Reason, d.Payload, d.ReceivedAt)
	return mapErr(err)
}

func (t *pgTx) ListDeadLetters(ctx context.Context) ([]models.DeadLetter, error) {
	const query = `SELECT id, idempotency_key, remote_ref, outcome, reason, payload, received_at
	FROM dead_letters ORDER BY received_at`

	var out []models.DeadLetter
	if err := t.tx.SelectContext(ctx, &out, query); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (t *pgTx) InsertReviewItem(ctx context.Context, r models.ReviewItem) error {
	const query = `INSERT INTO review_items (id, entry_id, idempotency_key, local_state, remote_outcome, remote_ref, detail, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := t.tx.ExecContext(ctx, query,
		r.ID, r.EntryID, r.IdempotencyKey, r.LocalState, r.RemoteOutcome, r.RemoteRef, r.Detail, r.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) ListReviewItems(ctx context.Context) ([]models.ReviewItem, error) {
	const query = `SELECT id, entry_id, idempotency_key, local_state, remote_outcome, remote_ref, detail, created_at
	FROM review_items ORDER BY created_at`

	var out []models.ReviewItem
	if err := t.tx.SelectContext(ctx, &out, query); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func requireRow(n int64, err error) error {
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

var _ interfaces.Tx = (*pgTx)(nil)
