// Package model holds the records shared by the store, the rule engine and the
// dispatcher.
package model

import "time"

// Email is the cached metadata of one mailbox message. It is read-only for the
// duration of a processing pass; mailbox mutations are keyed by ID.
type Email struct {
	ID         string `db:"id" json:"id"`
	From       string `db:"sender" json:"from"`
	Subject    string `db:"subject" json:"subject"`
	Body       string `db:"body" json:"body"`
	DateMillis int64  `db:"date" json:"date"`
	UserID     int64  `db:"user_id" json:"-"`
}

// Date returns the message timestamp in loc.
func (e Email) Date(loc *time.Location) time.Time {
	return time.UnixMilli(e.DateMillis).In(loc)
}

// User is a mailbox owner allowed to call the processing endpoint.
type User struct {
	ID            int64     `db:"id"`
	EmailIdentity string    `db:"email_identity"`
	PasswordHash  string    `db:"password_hash"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// ActionReport records what was done to one email for one fired rule.
// MovedActions holds "READ", "UNREAD" or the name of the label applied.
type ActionReport struct {
	EmailID      string   `json:"email_id"`
	From         string   `json:"from_email"`
	Subject      string   `json:"subject"`
	MovedActions []string `json:"moved_action"`
}

const (
	ReportRead   = "READ"
	ReportUnread = "UNREAD"
)
