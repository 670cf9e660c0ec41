package api

import (
	"context"

	"google.golang.org/grpc"
)

// The services are described by hand: requests and responses are plain Go
// types carried by the JSON codec, so there is no generated code.

const (
	SessionServiceName = "dmsync.v1.SessionService"
	ChatServiceName    = "dmsync.v1.ChatService"
	MessageServiceName = "dmsync.v1.MessageService"
	SyncServiceName    = "dmsync.v1.SyncService"
)

// SessionServer reports on the daemon.
type SessionServer interface {
	GetStatus(context.Context, *StatusRequest) (*StatusResponse, error)
}

// ChatServer exposes the inbox and the open conversation.
type ChatServer interface {
	ListInbox(context.Context, *InboxRequest) (*InboxResponse, error)
	RefreshInbox(context.Context, *RefreshRequest) (*RefreshResponse, error)
	OpenConversation(context.Context, *OpenRequest) (*OpenResponse, error)
	GetConversation(context.Context, *ConversationRequest) (*ConversationResponse, error)
	WatchInbox(*InboxRequest, grpc.ServerStreamingServer[InboxResponse]) error
}

// MessageServer sends, mutates and looks up messages.
type MessageServer interface {
	Send(context.Context, *SendRequest) (*SendResponse, error)
	Edit(context.Context, *EditRequest) (*MutationResponse, error)
	Delete(context.Context, *DeleteRequest) (*MutationResponse, error)
	ListPending(context.Context, *PendingRequest) (*PendingResponse, error)
	ListArchive(context.Context, *ArchiveRequest) (*ArchiveResponse, error)
	Search(context.Context, *SearchRequest) (*SearchResponse, error)
}

// SyncServer streams engine events.
type SyncServer interface {
	WatchEvents(*WatchRequest, grpc.ServerStreamingServer[EventEnvelope]) error
}

var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SessionServiceName, "GetStatus", SessionServer.GetStatus),
	},
}

var ChatServiceDesc = grpc.ServiceDesc{
	ServiceName: ChatServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ChatServiceName, "ListInbox", ChatServer.ListInbox),
		unary(ChatServiceName, "RefreshInbox", ChatServer.RefreshInbox),
		unary(ChatServiceName, "OpenConversation", ChatServer.OpenConversation),
		unary(ChatServiceName, "GetConversation", ChatServer.GetConversation),
	},
	Streams: []grpc.StreamDesc{
		serverStream("WatchInbox", ChatServer.WatchInbox),
	},
}

var MessageServiceDesc = grpc.ServiceDesc{
	ServiceName: MessageServiceName,
	HandlerType: (*MessageServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MessageServiceName, "Send", MessageServer.Send),
		unary(MessageServiceName, "Edit", MessageServer.Edit),
		unary(MessageServiceName, "Delete", MessageServer.Delete),
		unary(MessageServiceName, "ListPending", MessageServer.ListPending),
		unary(MessageServiceName, "ListArchive", MessageServer.ListArchive),
		unary(MessageServiceName, "Search", MessageServer.Search),
	},
}

var SyncServiceDesc = grpc.ServiceDesc{
	ServiceName: SyncServiceName,
	HandlerType: (*SyncServer)(nil),
	Streams: []grpc.StreamDesc{
		serverStream("WatchEvents", SyncServer.WatchEvents),
	},
}

// Register adds every service to s.
func Register(s grpc.ServiceRegistrar, session SessionServer, chat ChatServer, msgs MessageServer, events SyncServer) {
	s.RegisterService(&SessionServiceDesc, session)
	s.RegisterService(&ChatServiceDesc, chat)
	s.RegisterService(&MessageServiceDesc, msgs)
	s.RegisterService(&SyncServiceDesc, events)
}

// FullMethod returns the /service/method path of a call.
func FullMethod(service, method string) string {
	return "/" + service + "/" + method
}

func unary[S, Req, Resp any](service, method string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := FullMethod(service, method)
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*Req))
			})
		},
	}
}

func serverStream[S, Req, Resp any](name string, call func(S, *Req, grpc.ServerStreamingServer[Resp]) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(Req)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(S), in, &grpc.GenericServerStream[Req, Resp]{ServerStream: stream})
		},
	}
}
