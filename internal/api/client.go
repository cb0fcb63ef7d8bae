package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls inbox.v1.InboxService on a daemon's Unix domain socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's socket. The connection is established lazily.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call invokes a unary method with req as the request fields.
func (c *Client) Call(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context) (*structpb.Struct, error) {
	return c.Call(ctx, MethodGetStatus, nil)
}

func (c *Client) ListContacts(ctx context.Context) (*structpb.Struct, error) {
	return c.Call(ctx, MethodListContacts, nil)
}

func (c *Client) OpenConversation(ctx context.Context, contactID string) (*structpb.Struct, error) {
	return c.Call(ctx, MethodOpenConversation, map[string]any{"contact_id": contactID})
}

func (c *Client) CloseConversation(ctx context.Context) (*structpb.Struct, error) {
	return c.Call(ctx, MethodCloseConversation, nil)
}

func (c *Client) Send(ctx context.Context, text string) (*structpb.Struct, error) {
	return c.Call(ctx, MethodSend, map[string]any{"text": text})
}

func (c *Client) StartChat(ctx context.Context, email string) (*structpb.Struct, error) {
	return c.Call(ctx, MethodStartChat, map[string]any{"email": email})
}

func (c *Client) Unread(ctx context.Context) (*structpb.Struct, error) {
	return c.Call(ctx, MethodGetUnread, nil)
}

func (c *Client) Reload(ctx context.Context) (*structpb.Struct, error) {
	return c.Call(ctx, MethodReload, nil)
}

func (c *Client) EnterView(ctx context.Context) (*structpb.Struct, error) {
	return c.Call(ctx, MethodEnterView, nil)
}

func (c *Client) LeaveView(ctx context.Context) (*structpb.Struct, error) {
	return c.Call(ctx, MethodLeaveView, nil)
}

// EventStream receives events from WatchEvents.
type EventStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event envelope.
func (s *EventStream) Recv() (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := s.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Watch opens the event stream. Empty prefixes means every view event.
func (c *Client) Watch(ctx context.Context, prefixes ...string) (*EventStream, error) {
	desc := &grpc.StreamDesc{StreamName: MethodWatchEvents, ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, fullMethod(MethodWatchEvents))
	if err != nil {
		return nil, err
	}
	values := make([]any, len(prefixes))
	for i, p := range prefixes {
		values[i] = p
	}
	in, err := structpb.NewStruct(map[string]any{"prefixes": values})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}
