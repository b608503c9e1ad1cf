package memory

import (
	"maps"
	"time"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

// state is the full ledger content. It is also the snapshot file format.
type state struct {
	Members     map[string]models.Member           `json:"members"`
	Groups      map[string]models.Group            `json:"groups"`
	Memberships map[string]map[string]time.Time    `json:"memberships"`
	Entries     map[string]models.LedgerEntry      `json:"ledger_entries"`
	Commissions map[string]models.CommissionRecord `json:"commission_records"`
	Queue       map[string]models.QueueItem        `json:"queue_items"`
	DeadLetters []models.DeadLetter                `json:"dead_letters"`
	Reviews     []models.ReviewItem                `json:"review_items"`
}

func newState() *state {
	return &state{
		Members:     make(map[string]models.Member),
		Groups:      make(map[string]models.Group),
		Memberships: make(map[string]map[string]time.Time),
		Entries:     make(map[string]models.LedgerEntry),
		Commissions: make(map[string]models.CommissionRecord),
		Queue:       make(map[string]models.QueueItem),
	}
}

// clone copies every table so a failed transaction leaves the original
// untouched. Records are values; the only pointer field
// (CommissionRecord.TransferredAt) is never mutated in place.
func (s *state) clone() *state {
	c := &state{
		Members:     maps.Clone(s.Members),
		Groups:      maps.Clone(s.Groups),
		Memberships: make(map[string]map[string]time.Time, len(s.Memberships)),
		Entries:     maps.Clone(s.Entries),
		Commissions: maps.Clone(s.Commissions),
		Queue:       maps.Clone(s.Queue),
		DeadLetters: append([]models.DeadLetter(nil), s.DeadLetters...),
		Reviews:     append([]models.ReviewItem(nil), s.Reviews...),
	}
	for g, members := range s.Memberships {
		c.Memberships[g] = maps.Clone(members)
	}
	return c
}

// normalize fills nil tables after loading an older or partial snapshot.
func (s *state) normalize() {
	if s.Members == nil {
		s.Members = make(map[string]models.Member)
	}
	if s.Groups == nil {
		s.Groups = make(map[string]models.Group)
	}
	if s.Memberships == nil {
		s.Memberships = make(map[string]map[string]time.Time)
	}
	if s.Entries == nil {
		s.Entries = make(map[string]models.LedgerEntry)
	}
	if s.Commissions == nil {
		s.Commissions = make(map[string]models.CommissionRecord)
	}
	if s.Queue == nil {
		s.Queue = make(map[string]models.QueueItem)
	}
}
