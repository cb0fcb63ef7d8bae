package model

import "github.com/moely/inbox/internal/gateway"

// Column names shared by both message collections.
const (
	FieldID         = "id"
	FieldUserID     = "user_id"
	FieldSenderID   = "sender_id"
	FieldReceiverID = "receiver_id"
	FieldTitle      = "title"
	FieldContent    = "content"
	FieldCreatedAt  = "created_at"
	FieldIsRead     = "is_read"
	FieldEmail      = "email"
)

// Source describes how one collection maps onto conversations. Notifications and
// private messages are the two variants; everything that reads or acknowledges
// rows goes through a Source instead of branching per collection.
type Source struct {
	Kind       Kind
	Collection string
	// Recipient is the field holding the addressed user.
	Recipient string
}

var (
	NotificationSource = Source{Kind: KindSystem, Collection: gateway.Notifications, Recipient: FieldUserID}
	MessageSource      = Source{Kind: KindDirect, Collection: gateway.PrivateMessages, Recipient: FieldReceiverID}
)

// Sources lists every source, system first.
func Sources() []Source {
	return []Source{NotificationSource, MessageSource}
}

// SourceFor returns the source that stores rows for the contact.
func SourceFor(id ContactID) Source {
	if id.IsSystem() {
		return NotificationSource
	}
	return MessageSource
}

// ContactOf returns the contact an inbound row is attributed to.
func (s Source) ContactOf(r gateway.Row) ContactID {
	if s.Kind == KindSystem {
		return SystemBot
	}
	return ContactID(r.String(FieldSenderID))
}

// RowKey identifies a row across both collections.
func (s Source) RowKey(id string) string {
	return s.Collection + "/" + id
}

// Inbound matches every row addressed to me.
func (s Source) Inbound(me string) gateway.Filter {
	return gateway.Where(gateway.Eq(s.Recipient, me))
}

// Unread matches unread rows addressed to me, optionally narrowed to one contact.
// An empty contact means all contacts of this source.
func (s Source) Unread(me string, contact ContactID) gateway.Filter {
	f := gateway.Where(gateway.Eq(s.Recipient, me), gateway.Eq(FieldIsRead, false))
	if s.Kind == KindDirect && contact != "" {
		f.Where = append(f.Where, gateway.Eq(FieldSenderID, string(contact)))
	}
	return f
}

// Transcript matches the full history between me and the contact.
func (s Source) Transcript(me string, contact ContactID) gateway.Filter {
	if s.Kind == KindSystem {
		return gateway.Where(gateway.Eq(FieldUserID, me))
	}
	peer := string(contact)
	return gateway.Filter{}.Or(
		[]gateway.Cond{gateway.Eq(FieldSenderID, me), gateway.Eq(FieldReceiverID, peer)},
		[]gateway.Cond{gateway.Eq(FieldSenderID, peer), gateway.Eq(FieldReceiverID, me)},
	)
}

// Row matches a single row addressed to me.
func (s Source) Row(me, id string) gateway.Filter {
	return gateway.Where(gateway.Eq(FieldID, id), gateway.Eq(s.Recipient, me), gateway.Eq(FieldIsRead, false))
}

// ReadPatch is the only patch a read acknowledgement may apply.
func ReadPatch() gateway.Row {
	return gateway.Row{FieldIsRead: true}
}

// Entry converts a row of this source into a transcript entry.
func (s Source) Entry(r gateway.Row, me string) Entry {
	e := Entry{
		ID:        r.String(FieldID),
		Title:     r.String(FieldTitle),
		Content:   r.String(FieldContent),
		CreatedAt: r.Int64(FieldCreatedAt),
		Read:      r.Bool(FieldIsRead),
		Status:    StatusConfirmed,
	}
	if s.Kind == KindSystem {
		e.Contact = SystemBot
		e.SenderID = string(SystemBot)
		return e
	}
	e.SenderID = r.String(FieldSenderID)
	e.Mine = e.SenderID == me
	if e.Mine {
		e.Contact = ContactID(r.String(FieldReceiverID))
	} else {
		e.Contact = ContactID(e.SenderID)
	}
	return e
}

// Entries converts rows in order.
func (s Source) Entries(rows []gateway.Row, me string) []Entry {
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, s.Entry(r, me))
	}
	return out
}
