package gmail

import "context"

// Client is the narrow Gmail surface the triage engine needs.
type Client interface {
	// Profile returns the address of the authenticated mailbox.
	Profile(ctx context.Context) (string, error)
	ListLabels(ctx context.Context) ([]Label, error)
	// Modify adds and removes labels on one message. It is not idempotent
	// from the caller's point of view and must not be retried blindly.
	Modify(ctx context.Context, id MessageID, ops ModifyOps) error
	// ListInbox returns up to max message ids from INBOX, newest first.
	ListInbox(ctx context.Context, max int) ([]MessageID, error)
	GetRaw(ctx context.Context, id MessageID) (RawMessage, error)
}
