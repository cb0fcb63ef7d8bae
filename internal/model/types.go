package model

import (
	"html"
	"strings"
)

// ContactID identifies a conversation partner: SystemBot or a peer user id.
type ContactID string

// SystemBot is the permanent pseudo-contact that owns all system notifications.
const SystemBot ContactID = "system_notification_bot"

// Kind discriminates the two conversation variants.
type Kind int

const (
	KindSystem Kind = iota
	KindDirect
)

func (k Kind) String() string {
	if k == KindSystem {
		return "system"
	}
	return "direct"
}

// Kind reports whether the id addresses the system contact or a peer.
func (id ContactID) Kind() Kind {
	if id == SystemBot {
		return KindSystem
	}
	return KindDirect
}

// IsSystem reports whether id is SystemBot.
func (id ContactID) IsSystem() bool {
	return id == SystemBot
}

// Contact is one entry of the merged contact list.
type Contact struct {
	ID       ContactID
	Email    string
	Name     string
	Preview  string
	LastAt   int64
	Unread   int
	IsSystem bool
}

// ReadOnly reports whether replies are disallowed.
func (c Contact) ReadOnly() bool {
	return c.IsSystem
}

// Peer builds a contact for a resolved profile.
func Peer(id, email string) Contact {
	return Contact{ID: ContactID(id), Email: email, Name: DisplayName(email)}
}

// System builds the SystemBot contact with the given label.
func System(label string) Contact {
	return Contact{ID: SystemBot, Name: label, IsSystem: true}
}

// DisplayName derives a peer's display name from the local part of its email.
func DisplayName(email string) string {
	if email == "" {
		return "Unknown"
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}

// EntryStatus tracks optimistic transcript entries.
type EntryStatus string

const (
	StatusConfirmed EntryStatus = "confirmed"
	StatusPending   EntryStatus = "pending"
	StatusFailed    EntryStatus = "failed"
)

// Entry is one transcript row, either a private message or a notification.
type Entry struct {
	ID        string
	Contact   ContactID
	SenderID  string
	Title     string
	Content   string
	CreatedAt int64
	Read      bool
	Mine      bool
	Status    EntryStatus
}

// Preview is the text shown under a contact for this entry.
func (e Entry) Preview() string {
	if e.Title != "" {
		return e.Title
	}
	return e.Content
}

// Escape makes content safe for HTML display without otherwise altering it.
func Escape(text string) string {
	return html.EscapeString(text)
}

// Toast levels.
const (
	ToastInfo  = "info"
	ToastError = "error"
)

// Toast is a transient notice for the shell.
type Toast struct {
	Level   string
	Contact ContactID
	Title   string
	Text    string
}
