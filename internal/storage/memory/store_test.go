package memory

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	interfaces "github.com/sheikh-saqib/ajo-savings-ledger/internal/interfaces"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/storage/seal"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func entry(id string, created time.Time) models.LedgerEntry {
	return models.LedgerEntry{
		ID: id, Kind: models.KindContribution, GroupID: "g1", MemberID: "m1",
		Gross: 1000, Commission: 10, Net: 990, Currency: models.UGX,
		State: models.StatePending, IdempotencyKey: "key-" + id, CreatedAt: created,
	}
}

func item(id, entryID string, priority int, created time.Time) models.QueueItem {
	return models.QueueItem{
		ID: id, EntryID: entryID, IdempotencyKey: "key-" + entryID,
		Priority: priority, NextEligibleAt: created, CreatedAt: created,
	}
}

func TestWithTx_FailedTransactionLeavesNoTrace(t *testing.T) {
	store := NewMemoryLedgerStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx interfaces.Tx) error {
		require.NoError(t, tx.InsertEntry(ctx, entry("e1", t0)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = store.WithTx(ctx, func(tx interfaces.Tx) error {
		_, err := tx.GetEntry(ctx, "e1")
		return err
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestInsertEntry_RejectsDuplicateIdempotencyKey(t *testing.T) {
	store := NewMemoryLedgerStore()
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx interfaces.Tx) error {
		require.NoError(t, tx.InsertEntry(ctx, entry("e1", t0)))
		dup := entry("e2", t0)
		dup.IdempotencyKey = "key-e1"
		return tx.InsertEntry(ctx, dup)
	})
	assert.ErrorIs(t, err, models.ErrDuplicate)
}

func TestClaimReadyItems_OrderAndExclusion(t *testing.T) {
	store := NewMemoryLedgerStore()
	ctx := context.Background()

	require.NoError(t, store.WithTx(ctx, func(tx interfaces.Tx) error {
		for _, q := range []models.QueueItem{
			item("q1", "e1", 0, t0),
			item("q2", "e2", 10, t0.Add(time.Minute)),
			item("q3", "e3", 10, t0),
			item("q4", "e4", 0, t0.Add(time.Hour)), // not yet eligible
		} {
			if err := tx.InsertQueueItem(ctx, q); err != nil {
				return err
			}
		}
		return nil
	}))

	now := t0.Add(2 * time.Minute)
	var first, second []models.QueueItem
	require.NoError(t, store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		first, err = tx.ClaimReadyItems(ctx, now, 2, "w1")
		return err
	}))
	require.NoError(t, store.WithTx(ctx, func(tx interfaces.Tx) error {
		var err error
		second, err = tx.ClaimReadyItems(ctx, now, 10, "w2")
		return err
	}))

	require.Len(t, first, 2)
	assert.Equal(t, "q3", first[0].ID)
	assert.Equal(t, "q2", first[1].ID)
	require.Len(t, second, 1)
	assert.Equal(t, "q1", second[0].ID)
	assert.Equal(t, "w2", second[0].ClaimedBy)

	// everything ready is now in flight
	require.NoError(t, store.WithTx(ctx, func(tx interfaces.Tx) error {
		more, err := tx.ClaimReadyItems(ctx, now, 10, "w3")
		assert.Empty(t, more)
		return err
	}))

	// stale claims return to the pool
	require.NoError(t, store.WithTx(ctx, func(tx interfaces.Tx) error {
		n, err := tx.ReleaseClaims(ctx, now.Add(time.Second))
		assert.Equal(t, 3, n)
		return err
	}))
}

func TestListEntries_NewestFirstWithFilter(t *testing.T) {
	store := NewMemoryLedgerStore()
	ctx := context.Background()

	require.NoError(t, store.WithTx(ctx, func(tx interfaces.Tx) error {
		for i, id := range []string{"a", "b", "c"} {
			e := entry(id, t0.Add(time.Duration(i)*time.Hour))
			if id == "b" {
				e.GroupID = "g2"
			}
			if err := tx.InsertEntry(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, store.WithTx(ctx, func(tx interfaces.Tx) error {
		all, err := tx.ListEntries(ctx, models.EntryFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "c", all[0].ID)
		assert.Equal(t, "a", all[2].ID)

		g1, err := tx.ListEntries(ctx, models.EntryFilter{GroupID: "g1", To: t0.Add(2 * time.Hour)})
		require.NoError(t, err)
		require.Len(t, g1, 1)
		assert.Equal(t, "a", g1[0].ID)
		return nil
	}))
}

func TestOpenFile_EncryptedSnapshotSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.snap")
	sealer, err := seal.New(bytes.Repeat([]byte{5}, 32))
	require.NoError(t, err)
	ctx := context.Background()

	store, err := OpenFile(path, sealer)
	require.NoError(t, err)
	require.NoError(t, store.WithTx(ctx, func(tx interfaces.Tx) error {
		if err := tx.SaveMember(ctx, models.Member{ID: "m1", DisplayName: "Nakato Sarah", Phone: "256772000111"}); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, entry("e1", t0)); err != nil {
			return err
		}
		return tx.InsertQueueItem(ctx, item("q1", "e1", 0, t0))
	}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "Nakato")
	assert.NotContains(t, string(raw), "256772000111")

	reopened, err := OpenFile(path, sealer)
	require.NoError(t, err)
	require.NoError(t, reopened.WithTx(ctx, func(tx interfaces.Tx) error {
		m, err := tx.GetMember(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, "Nakato Sarah", m.DisplayName)
		q, err := tx.GetQueueItemByEntry(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, "q1", q.ID)
		return nil
	}))

	other, _ := seal.New(bytes.Repeat([]byte{6}, 32))
	_, err = OpenFile(path, other)
	assert.ErrorIs(t, err, seal.ErrCiphertext)
}

func TestOpenFile_FailedTransactionDoesNotReachDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	ctx := context.Background()

	store, err := OpenFile(path, nil)
	require.NoError(t, err)
	_ = store.WithTx(ctx, func(tx interfaces.Tx) error {
		_ = tx.InsertEntry(ctx, entry("e1", t0))
		return errors.New("abort")
	})
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestOpenFile_ReadOnlyTransactionLeavesSnapshotAlone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.snap")
	sealer, err := seal.New(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	ctx := context.Background()

	store, err := OpenFile(path, sealer)
	require.NoError(t, err)
	readOnly := func(tx interfaces.Tx) error {
		if _, err := tx.ListEntries(ctx, models.EntryFilter{}); err != nil {
			return err
		}
		if _, err := tx.ClaimReadyItems(ctx, t0.Add(-time.Hour), 10, "w1"); err != nil {
			return err
		}
		_, err := tx.GetEntry(ctx, "e1")
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}

	require.NoError(t, store.WithTx(ctx, readOnly))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "nothing written, nothing saved")

	require.NoError(t, store.WithTx(ctx, func(tx interfaces.Tx) error {
		return tx.InsertEntry(ctx, entry("e1", t0))
	}))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	// every seal uses a fresh nonce, so a rewrite would change the bytes
	require.NoError(t, store.WithTx(ctx, readOnly))
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
