// Package reconcile holds the policy decisions of the sync path:
// idempotency keys, retry backoff and how to treat a second definitive
// outcome for the same operation.
package reconcile

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

var keyNamespace = uuid.MustParse("6f1d8a52-3c0e-4b8e-9d0a-5a7c2b4e1f90")

// IdempotencyKey derives the stable key for an operation on an entry. The
// same inputs always produce the same key, so retries are recognised as
// duplicates by the gateway.
func IdempotencyKey(entryID string, op models.Operation) string {
	return uuid.NewSHA1(keyNamespace, []byte(entryID+":"+string(op))).String()
}

// ReversalKey identifies the offsetting entry created by reversing entryID.
func ReversalKey(entryID string) string {
	return uuid.NewSHA1(keyNamespace, []byte(entryID+":reversal")).String()
}

// TransferKey derives the commission transfer key from the set of records
// being transferred, independent of their order, and the moment they were
// sealed. A set sealed again after a rejection gets a fresh key.
func TransferKey(recordIDs []string, sealedAt time.Time) string {
	ids := append([]string(nil), recordIDs...)
	sort.Strings(ids)
	name := "transfer:" + strings.Join(ids, ",") + "@" + sealedAt.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(keyNamespace, []byte(name)).String()
}
