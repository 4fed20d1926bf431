package gmail

type MessageID string
type LabelID string

// System label ids that are never move targets.
const (
	LabelTrash  LabelID = "TRASH"
	LabelUnread LabelID = "UNREAD"
	LabelChat   LabelID = "CHAT"
	LabelSent   LabelID = "SENT"
	LabelSpam   LabelID = "SPAM"
	LabelDraft  LabelID = "DRAFT"
	LabelInbox  LabelID = "INBOX"
)

// ReservedLabels is the fixed set excluded from move_message candidates.
var ReservedLabels = map[LabelID]struct{}{
	LabelTrash:  {},
	LabelUnread: {},
	LabelChat:   {},
	LabelSent:   {},
	LabelSpam:   {},
	LabelDraft:  {},
	LabelInbox:  {},
}

type Label struct {
	ID   LabelID
	Name string
	Type string // "system" or "user"
}

type ModifyOps struct {
	AddLabels    []LabelID
	RemoveLabels []LabelID
}

// RawMessage is an RFC 822 message plus the Gmail receive timestamp.
type RawMessage struct {
	ID           MessageID
	InternalDate int64 // epoch milliseconds
	Data         []byte
}
