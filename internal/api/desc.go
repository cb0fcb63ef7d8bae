// Package api exposes the messaging view over gRPC. Requests and responses
// are protobuf Struct messages so the service needs no generated code.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "inbox.v1.InboxService"

// Method names, relative to ServiceName.
const (
	MethodGetStatus         = "GetStatus"
	MethodListContacts      = "ListContacts"
	MethodOpenConversation  = "OpenConversation"
	MethodCloseConversation = "CloseConversation"
	MethodSend              = "Send"
	MethodStartChat         = "StartChat"
	MethodGetUnread         = "GetUnread"
	MethodReload            = "Reload"
	MethodEnterView         = "EnterView"
	MethodLeaveView         = "LeaveView"
	MethodWatchEvents       = "WatchEvents"
)

// InboxServer is the server side of inbox.v1.InboxService.
type InboxServer interface {
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListContacts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	OpenConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CloseConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Send(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetUnread(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reload(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EnterView(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LeaveView(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, grpc.ServerStream) error
}

// Register adds the service to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv InboxServer) {
	s.RegisterService(&serviceDesc, srv)
}

type unaryMethod func(InboxServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(InboxServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(InboxServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(InboxServer).WatchEvents(in, stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InboxServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodGetStatus, InboxServer.GetStatus),
		unary(MethodListContacts, InboxServer.ListContacts),
		unary(MethodOpenConversation, InboxServer.OpenConversation),
		unary(MethodCloseConversation, InboxServer.CloseConversation),
		unary(MethodSend, InboxServer.Send),
		unary(MethodStartChat, InboxServer.StartChat),
		unary(MethodGetUnread, InboxServer.GetUnread),
		unary(MethodReload, InboxServer.Reload),
		unary(MethodEnterView, InboxServer.EnterView),
		unary(MethodLeaveView, InboxServer.LeaveView),
	},
	Streams: []grpc.StreamDesc{
		{StreamName: MethodWatchEvents, Handler: watchEventsHandler, ServerStreams: true},
	},
	Metadata: "inbox/v1/inbox.proto",
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}
