package api

import (
	"context"
	"strings"
	"time"

	"github.com/moely/inbox/internal/bus"
	"github.com/moely/inbox/internal/inbox"
	"github.com/moely/inbox/internal/model"
	"github.com/moely/inbox/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// View is the part of the messaging view the service drives.
type View interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
	Me() string
	Contacts() []model.Contact
	LoadErr() error
	Reload(ctx context.Context) error
	Unread() (int, map[model.ContactID]int)
	Realtime() status.State
	OpenConversation(ctx context.Context, id model.ContactID) error
	StartChat(ctx context.Context, email string) (model.Contact, error)
	Send(text string) (model.Entry, error)
	Close()
	Active() (model.Contact, bool)
	Transcript() []model.Entry
	Pane() status.State
}

// Events not forwarded to watchers unless asked for by prefix.
var internalPrefixes = []string{bus.KindChangePrefix, "feed."}

// InboxService implements inbox.v1.InboxService over a View.
type InboxService struct {
	sessionName string
	startedAt   time.Time
	view        View
	bus         *bus.Bus
	logger      *zap.Logger
}

// NewInboxService creates the service.
func NewInboxService(sessionName string, view View, b *bus.Bus, logger *zap.Logger) *InboxService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InboxService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		view:        view,
		bus:         b,
		logger:      logger.Named("api"),
	}
}

func (s *InboxService) GetStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp := map[string]any{
		"session":   s.sessionName,
		"running":   s.view.Running(),
		"user_id":   s.view.Me(),
		"realtime":  string(s.view.Realtime()),
		"pane":      string(s.view.Pane()),
		"uptime_ms": time.Since(s.startedAt).Milliseconds(),
	}
	if err := s.view.LoadErr(); err != nil {
		resp["load_error"] = err.Error()
	}
	if c, ok := s.view.Active(); ok {
		resp["active"] = contactToMap(c)
	}
	return respond(resp)
}

func (s *InboxService) ListContacts(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if !s.view.Running() {
		return nil, toStatus(inbox.ErrNotRunning)
	}
	resp := map[string]any{"contacts": list(s.view.Contacts(), contactToMap)}
	if err := s.view.LoadErr(); err != nil {
		resp["load_error"] = err.Error()
	}
	return respond(resp)
}

func (s *InboxService) OpenConversation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := strings.TrimSpace(stringField(req, "contact_id"))
	if id == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "contact_id is required")
	}
	if err := s.view.OpenConversation(ctx, model.ContactID(id)); err != nil {
		return nil, toStatus(err)
	}
	return s.conversation()
}

func (s *InboxService) CloseConversation(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.view.Close()
	return respond(map[string]any{"pane": string(s.view.Pane())})
}

func (s *InboxService) Send(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	e, err := s.view.Send(stringField(req, "text"))
	if err != nil {
		return nil, toStatus(err)
	}
	return respond(map[string]any{"entry": entryToMap(e)})
}

func (s *InboxService) StartChat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if _, err := s.view.StartChat(ctx, stringField(req, "email")); err != nil {
		return nil, toStatus(err)
	}
	return s.conversation()
}

func (s *InboxService) GetUnread(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	total, perContact := s.view.Unread()
	return respond(map[string]any{
		"total":   total,
		"visible": total > 0,
		"counts":  counts(perContact),
	})
}

func (s *InboxService) Reload(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.view.Reload(ctx); err != nil {
		return nil, toStatus(err)
	}
	return s.ListContacts(ctx, nil)
}

func (s *InboxService) EnterView(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.view.Start(ctx); err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info("view entered", zap.String("user_id", s.view.Me()))
	return s.GetStatus(ctx, nil)
}

func (s *InboxService) LeaveView(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.view.Stop()
	s.logger.Info("view left")
	return s.GetStatus(ctx, nil)
}

// WatchEvents streams bus events until the client goes away. The optional
// "prefixes" list narrows the kinds; without it every event except the raw
// change feed is sent.
func (s *InboxService) WatchEvents(req *structpb.Struct, stream grpc.ServerStream) error {
	var prefixes []string
	for _, v := range req.GetFields()["prefixes"].GetListValue().GetValues() {
		if p := v.GetStringValue(); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	ch, unsub := s.bus.Subscribe("", 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			if !wanted(evt.Kind, prefixes) {
				continue
			}
			msg, err := eventToStruct(s.sessionName, evt)
			if err != nil {
				s.logger.Warn("drop unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *InboxService) conversation() (*structpb.Struct, error) {
	resp := map[string]any{
		"pane":       string(s.view.Pane()),
		"transcript": list(s.view.Transcript(), entryToMap),
	}
	if c, ok := s.view.Active(); ok {
		resp["contact"] = contactToMap(c)
	}
	return respond(resp)
}

func wanted(kind string, prefixes []string) bool {
	if len(prefixes) == 0 {
		for _, p := range internalPrefixes {
			if strings.HasPrefix(kind, p) {
				return false
			}
		}
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(kind, p) {
			return true
		}
	}
	return false
}
