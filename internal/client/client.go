// Package client is the typed gRPC client of the daemon's control API.
package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/matheus3301/dmsync/internal/api"
	"github.com/matheus3301/dmsync/internal/conversation"
)

// Client wraps a gRPC connection to one daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket. The connection is lazy: an
// absent daemon surfaces on the first call.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
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

func invoke[Req, Resp any](ctx context.Context, c *Client, service, method string, in *Req) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, api.FullMethod(service, method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	return invoke[api.StatusRequest, api.StatusResponse](ctx, c, api.SessionServiceName, "GetStatus", &api.StatusRequest{})
}

func (c *Client) Inbox(ctx context.Context) (*api.InboxResponse, error) {
	return invoke[api.InboxRequest, api.InboxResponse](ctx, c, api.ChatServiceName, "ListInbox", &api.InboxRequest{})
}

func (c *Client) RefreshInbox(ctx context.Context) error {
	_, err := invoke[api.RefreshRequest, api.RefreshResponse](ctx, c, api.ChatServiceName, "RefreshInbox", &api.RefreshRequest{})
	return err
}

// Open makes peer the open conversation. With wait it returns after the
// history resolved.
func (c *Client) Open(ctx context.Context, peer int64, wait bool) (*api.OpenResponse, error) {
	return invoke[api.OpenRequest, api.OpenResponse](ctx, c, api.ChatServiceName, "OpenConversation", &api.OpenRequest{Peer: peer, Wait: wait})
}

func (c *Client) Conversation(ctx context.Context) (*conversation.Snapshot, error) {
	return invoke[api.ConversationRequest, api.ConversationResponse](ctx, c, api.ChatServiceName, "GetConversation", &api.ConversationRequest{})
}

func (c *Client) Send(ctx context.Context, req *api.SendRequest) (*api.SendResponse, error) {
	return invoke[api.SendRequest, api.SendResponse](ctx, c, api.MessageServiceName, "Send", req)
}

func (c *Client) Edit(ctx context.Context, id int64, text string) (*api.MutationResponse, error) {
	return invoke[api.EditRequest, api.MutationResponse](ctx, c, api.MessageServiceName, "Edit", &api.EditRequest{ID: id, Text: text})
}

func (c *Client) Delete(ctx context.Context, id int64) (*api.MutationResponse, error) {
	return invoke[api.DeleteRequest, api.MutationResponse](ctx, c, api.MessageServiceName, "Delete", &api.DeleteRequest{ID: id})
}

func (c *Client) Pending(ctx context.Context) (*api.PendingResponse, error) {
	return invoke[api.PendingRequest, api.PendingResponse](ctx, c, api.MessageServiceName, "ListPending", &api.PendingRequest{})
}

func (c *Client) Archive(ctx context.Context, req *api.ArchiveRequest) (*api.ArchiveResponse, error) {
	return invoke[api.ArchiveRequest, api.ArchiveResponse](ctx, c, api.MessageServiceName, "ListArchive", req)
}

func (c *Client) Search(ctx context.Context, req *api.SearchRequest) (*api.SearchResponse, error) {
	return invoke[api.SearchRequest, api.SearchResponse](ctx, c, api.MessageServiceName, "Search", req)
}

// WatchEvents streams bus events whose kind starts with namespace.
func (c *Client) WatchEvents(ctx context.Context, namespace string) (grpc.ServerStreamingClient[api.EventEnvelope], error) {
	return watch[api.WatchRequest, api.EventEnvelope](ctx, c, &api.SyncServiceDesc, "WatchEvents", &api.WatchRequest{Namespace: namespace})
}

// WatchInbox streams the inbox after every change.
func (c *Client) WatchInbox(ctx context.Context) (grpc.ServerStreamingClient[api.InboxResponse], error) {
	return watch[api.InboxRequest, api.InboxResponse](ctx, c, &api.ChatServiceDesc, "WatchInbox", &api.InboxRequest{})
}

func watch[Req, Resp any](ctx context.Context, c *Client, desc *grpc.ServiceDesc, name string, in *Req) (grpc.ServerStreamingClient[Resp], error) {
	var sd *grpc.StreamDesc
	for i := range desc.Streams {
		if desc.Streams[i].StreamName == name {
			sd = &desc.Streams[i]
		}
	}
	if sd == nil {
		return nil, fmt.Errorf("unknown stream %s/%s", desc.ServiceName, name)
	}
	stream, err := c.conn.NewStream(ctx, sd, api.FullMethod(desc.ServiceName, name))
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[Req, Resp]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
