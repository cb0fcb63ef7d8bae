package bus

import "time"

// Event kinds published by the engine. Subscribers match on prefixes such as "unread." or "pane.".
const (
	KindUnreadTotal    = "unread.total_changed"
	KindToast          = "toast.message"
	KindPaneState      = "pane.state_changed"
	KindTranscriptAdd  = "transcript.appended"
	KindTranscriptEdit = "transcript.updated"
	KindContactsLoaded = "contacts.loaded"
	KindContactsFailed = "contacts.load_failed"
	KindSendAck        = "message.send_ack"
	KindSendFailed     = "message.send_failed"
	KindRealtimeStatus = "realtime.status_changed"
	KindRealtimeResync = "realtime.resync"
	KindFeedLost       = "feed.lost"
	KindFeedRestored   = "feed.restored"
	KindChangePrefix   = "change."
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
