package models

import "time"

type MemberStatus string

const (
	MemberActive   MemberStatus = "active"
	MemberInactive MemberStatus = "inactive"
)

// Member is never physically deleted, only deactivated.
type Member struct {
	ID          string       `json:"id" db:"id"`
	DisplayName string       `json:"display_name" db:"display_name"`
	Phone       string       `json:"phone,omitempty" db:"phone"`
	Status      MemberStatus `json:"status" db:"status"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
}

type GroupStatus string

const (
	GroupActive GroupStatus = "active"
	GroupClosed GroupStatus = "closed"
)

// Group is a named savings pool and the aggregation root for totals.
type Group struct {
	ID        string      `json:"id" db:"id"`
	Name      string      `json:"name" db:"name"`
	Status    GroupStatus `json:"status" db:"status"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}
