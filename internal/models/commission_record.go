package models

import "time"

// CommissionRecord accrues commission from confirmed entries for one
// period and currency. Records are never deleted; only the transfer flow
// flips Transferred.
type CommissionRecord struct {
	ID            string     `json:"id" db:"id"`
	Period        string     `json:"period" db:"period"`
	Currency      Currency   `json:"currency" db:"currency"`
	Total         int64      `json:"total" db:"total"`
	TransferKey   string     `json:"transfer_key,omitempty" db:"transfer_key"`
	Transferred   bool       `json:"transferred" db:"transferred"`
	TransferredAt *time.Time `json:"transferred_at,omitempty" db:"transferred_at"`
	TransferRef   string     `json:"transfer_ref,omitempty" db:"transfer_ref"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// Open records still accept accruals: not transferred and not sealed by a
// transfer in progress.
func (r CommissionRecord) Open() bool {
	return !r.Transferred && r.TransferKey == ""
}

// AccrualPeriod is the monthly bucket a confirmation at t falls into.
func AccrualPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}

type CommissionFilter struct {
	Currency    Currency
	TransferKey string
	Pending     bool // untransferred only
}

func (f CommissionFilter) Match(r CommissionRecord) bool {
	if f.Currency != "" && r.Currency != f.Currency {
		return false
	}
	if f.TransferKey != "" && r.TransferKey != f.TransferKey {
		return false
	}
	if f.Pending && r.Transferred {
		return false
	}
	return true
}
