// Package contacts builds the merged contact list: the system contact first,
// then every peer the user has exchanged private messages with, most recent
// conversation first.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/moely/inbox/internal/gateway"
	"github.com/moely/inbox/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrEmptyEmail  = errors.New("contacts: email is required")
	ErrUnknownPeer = errors.New("contacts: no user with that email")
	ErrSelfTarget  = errors.New("contacts: cannot start a chat with yourself")
)

const (
	DefaultSystemLabel  = "Notifications"
	DefaultEmptyPreview = "No notifications yet"
)

// Options sets the labels used for the system contact.
type Options struct {
	SystemLabel  string
	EmptyPreview string
}

// Aggregator loads contacts from the gateway.
type Aggregator struct {
	gw     gateway.Gateway
	opts   Options
	logger *zap.Logger
}

// New creates an aggregator. Zero option fields take the defaults.
func New(gw gateway.Gateway, opts Options, logger *zap.Logger) *Aggregator {
	if opts.SystemLabel == "" {
		opts.SystemLabel = DefaultSystemLabel
	}
	if opts.EmptyPreview == "" {
		opts.EmptyPreview = DefaultEmptyPreview
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{gw: gw, opts: opts, logger: logger.Named("contacts")}
}

var newestFirst = &gateway.Order{Field: model.FieldCreatedAt, Desc: true}

// Load returns SystemBot followed by resolved peers in recency order. Unread
// counts are left at zero for the caller to merge.
func (a *Aggregator) Load(ctx context.Context, me string) ([]model.Contact, error) {
	var (
		latest   []gateway.Row
		messages []gateway.Row
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := a.gw.Query(gctx, gateway.Notifications, gateway.Query{
			Filter: model.NotificationSource.Inbound(me),
			Order:  newestFirst,
			Limit:  1,
		})
		if err != nil {
			return fmt.Errorf("fetch latest notification: %w", err)
		}
		latest = rows
		return nil
	})
	g.Go(func() error {
		rows, err := a.gw.Query(gctx, gateway.PrivateMessages, gateway.Query{
			Filter: gateway.Filter{}.Or(
				[]gateway.Cond{gateway.Eq(model.FieldSenderID, me)},
				[]gateway.Cond{gateway.Eq(model.FieldReceiverID, me)},
			),
			Order: newestFirst,
		})
		if err != nil {
			return fmt.Errorf("fetch messages: %w", err)
		}
		messages = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// First-seen order over a newest-first list is recency order.
	var peers []string
	firstMsg := make(map[string]gateway.Row)
	for _, r := range messages {
		peer := r.String(model.FieldSenderID)
		if peer == me {
			peer = r.String(model.FieldReceiverID)
		}
		if _, seen := firstMsg[peer]; seen {
			continue
		}
		firstMsg[peer] = r
		peers = append(peers, peer)
	}

	profiles, err := a.profiles(ctx, peers)
	if err != nil {
		return nil, err
	}

	sys := model.System(a.opts.SystemLabel)
	sys.Preview = a.opts.EmptyPreview
	if len(latest) > 0 {
		e := model.NotificationSource.Entry(latest[0], me)
		if p := e.Preview(); p != "" {
			sys.Preview = p
		}
		sys.LastAt = e.CreatedAt
	}

	out := make([]model.Contact, 0, len(peers)+1)
	out = append(out, sys)
	for _, id := range peers {
		email, ok := profiles[id]
		if !ok {
			a.logger.Debug("dropping unresolved peer", zap.String("peer", id))
			continue
		}
		c := model.Peer(id, email)
		r := firstMsg[id]
		c.Preview = r.String(model.FieldContent)
		c.LastAt = r.Int64(model.FieldCreatedAt)
		out = append(out, c)
	}
	return out, nil
}

func (a *Aggregator) profiles(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := a.gw.Query(ctx, gateway.Profiles, gateway.Query{
		Filter: gateway.Where(gateway.In(model.FieldID, ids)),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch profiles: %w", err)
	}
	for _, r := range rows {
		out[r.String(model.FieldID)] = r.String(model.FieldEmail)
	}
	return out, nil
}

// FindByEmail resolves a peer for a new chat by exact email.
func (a *Aggregator) FindByEmail(ctx context.Context, me, email string) (model.Contact, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return model.Contact{}, ErrEmptyEmail
	}
	rows, err := a.gw.Query(ctx, gateway.Profiles, gateway.Query{
		Filter: gateway.Where(gateway.Eq(model.FieldEmail, email)),
		Limit:  1,
	})
	if err != nil {
		return model.Contact{}, fmt.Errorf("find profile: %w", err)
	}
	if len(rows) == 0 {
		return model.Contact{}, fmt.Errorf("%w: %s", ErrUnknownPeer, email)
	}
	id := rows[0].String(model.FieldID)
	if id == me {
		return model.Contact{}, ErrSelfTarget
	}
	return model.Peer(id, rows[0].String(model.FieldEmail)), nil
}

// Resolve returns the contact for an id. SystemBot needs no fetch.
func (a *Aggregator) Resolve(ctx context.Context, id model.ContactID) (model.Contact, error) {
	if id.IsSystem() {
		return model.System(a.opts.SystemLabel), nil
	}
	profiles, err := a.profiles(ctx, []string{string(id)})
	if err != nil {
		return model.Contact{}, err
	}
	email, ok := profiles[string(id)]
	if !ok {
		return model.Contact{}, fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}
	return model.Peer(string(id), email), nil
}
