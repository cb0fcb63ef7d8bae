package gateway

import (
	"context"
	"errors"
)

// Collection names served by the data service.
const (
	Notifications   = "notifications"
	PrivateMessages = "private_messages"
	Profiles        = "profiles"
)

var (
	ErrNoSession          = errors.New("gateway: no authenticated session")
	ErrUnknownCollection  = errors.New("gateway: unknown collection")
	ErrUnknownField       = errors.New("gateway: unknown field")
	ErrChannelUnavailable = errors.New("gateway: realtime channel unavailable")
	ErrReadRegression     = errors.New("gateway: is_read cannot be reset to false")
)

// Session is the authenticated identity of the current view.
type Session struct {
	UserID string
	Email  string
}

// EventType selects which row changes a subscription receives.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
)

// Change is one committed row change delivered over a realtime channel.
type Change struct {
	Collection string
	Type       EventType
	New        Row
}

// Handler receives changes for a subscription. Calls for one subscription are sequential.
type Handler func(Change)

// Subscription is a live realtime channel.
type Subscription interface {
	// Err delivers at most one error when the channel dies. It is never closed by Unsubscribe.
	Err() <-chan error
	// Unsubscribe tears the channel down. Once it returns the handler is not called again.
	Unsubscribe()
}

// Order sorts query results by one field.
type Order struct {
	Field string
	Desc  bool
}

// Query is a filtered, ordered, optionally limited read.
type Query struct {
	Filter Filter
	Order  *Order
	Limit  int
}

// Gateway is the remote data service contract consumed by the engine.
type Gateway interface {
	Session(ctx context.Context) (*Session, error)
	Query(ctx context.Context, collection string, q Query) ([]Row, error)
	Count(ctx context.Context, collection string, f Filter) (int, error)
	Insert(ctx context.Context, collection string, row Row) error
	Update(ctx context.Context, collection string, patch Row, f Filter) error
	Subscribe(ctx context.Context, collection string, typ EventType, f Filter, h Handler) (Subscription, error)
}
