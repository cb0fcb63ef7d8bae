package api

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/moely/inbox/internal/bus"
	"github.com/moely/inbox/internal/contacts"
	"github.com/moely/inbox/internal/conversation"
	"github.com/moely/inbox/internal/gateway"
	"github.com/moely/inbox/internal/inbox"
	"github.com/moely/inbox/internal/model"
	"github.com/moely/inbox/internal/outbox"
	"github.com/moely/inbox/internal/status"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func contactToMap(c model.Contact) map[string]any {
	return map[string]any{
		"id":        string(c.ID),
		"email":     c.Email,
		"name":      c.Name,
		"preview":   model.Escape(c.Preview),
		"last_at":   c.LastAt,
		"unread":    c.Unread,
		"is_system": c.IsSystem,
	}
}

func entryToMap(e model.Entry) map[string]any {
	return map[string]any{
		"id":         e.ID,
		"contact_id": string(e.Contact),
		"sender_id":  e.SenderID,
		"title":      model.Escape(e.Title),
		"content":    model.Escape(e.Content),
		"created_at": e.CreatedAt,
		"read":       e.Read,
		"mine":       e.Mine,
		"status":     string(e.Status),
	}
}

func list[T any](items []T, conv func(T) map[string]any) []any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		out = append(out, conv(it))
	}
	return out
}

func counts(m map[model.ContactID]int) map[string]any {
	out := make(map[string]any, len(m))
	for id, n := range m {
		out[string(id)] = n
	}
	return out
}

// payloadToMap flattens the payloads published on the bus.
func payloadToMap(p any) map[string]any {
	switch v := p.(type) {
	case nil:
		return map[string]any{}
	case int:
		return map[string]any{"value": v}
	case string:
		return map[string]any{"value": v}
	case error:
		return map[string]any{"error": v.Error()}
	case model.Toast:
		return map[string]any{"level": v.Level, "contact_id": string(v.Contact), "title": v.Title, "text": v.Text}
	case status.Change:
		return map[string]any{"from": string(v.From), "to": string(v.To)}
	case conversation.TranscriptEvent:
		return map[string]any{"contact_id": string(v.Contact), "entries": list(v.Entries, entryToMap), "reset": v.Reset}
	case conversation.EntryEvent:
		return map[string]any{"entry": entryToMap(v.Entry), "removed": v.Removed}
	case outbox.Result:
		m := map[string]any{"id": v.Job.ID, "receiver_id": v.Job.Receiver, "attempts": v.Attempts, "retracted": v.Retracted}
		if v.Err != nil {
			m["error"] = v.Err.Error()
		}
		return m
	case gateway.Change:
		return map[string]any{"collection": v.Collection, "type": string(v.Type), "row": map[string]any(v.New)}
	default:
		return map[string]any{}
	}
}

func eventToStruct(sessionName string, evt bus.Event) (*structpb.Struct, error) {
	payload, err := structpb.NewStruct(payloadToMap(evt.Payload))
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"event_id":            structpb.NewStringValue(uuid.NewString()),
		"session":             structpb.NewStringValue(sessionName),
		"occurred_at_unix_ms": structpb.NewNumberValue(float64(evt.Timestamp.UnixMilli())),
		"kind":                structpb.NewStringValue(evt.Kind),
		"payload":             structpb.NewStructValue(payload),
	}}, nil
}

func respond(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	code := codes.Internal
	switch {
	case errors.Is(err, contacts.ErrUnknownPeer):
		code = codes.NotFound
	case errors.Is(err, contacts.ErrEmptyEmail),
		errors.Is(err, contacts.ErrSelfTarget),
		errors.Is(err, conversation.ErrEmptyMessage):
		code = codes.InvalidArgument
	case errors.Is(err, inbox.ErrNotRunning),
		errors.Is(err, conversation.ErrNoConversation),
		errors.Is(err, conversation.ErrNotReady),
		errors.Is(err, conversation.ErrReadOnly),
		errors.Is(err, gateway.ErrNoSession):
		code = codes.FailedPrecondition
	case errors.Is(err, outbox.ErrStopped), errors.Is(err, outbox.ErrQueueFull):
		code = codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	}
	return grpcstatus.Error(code, err.Error())
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}
