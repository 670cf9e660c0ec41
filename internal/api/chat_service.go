package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/conversation"
	intsync "github.com/matheus3301/dmsync/internal/sync"
)

// Engine is the part of the sync engine the chat service drives.
type Engine interface {
	Open(ctx context.Context, peer int64) (uint64, error)
	RefreshInbox(ctx context.Context) error
	Inbox(ctx context.Context) (intsync.InboxView, error)
	Conversation(ctx context.Context) (conversation.Snapshot, error)
}

// ChatService implements ChatServer.
type ChatService struct {
	engine Engine
	bus    *bus.Bus
}

// NewChatService creates a chat service backed by the engine.
func NewChatService(engine Engine, b *bus.Bus) *ChatService {
	return &ChatService{engine: engine, bus: b}
}

func (s *ChatService) ListInbox(ctx context.Context, _ *InboxRequest) (*InboxResponse, error) {
	v, err := s.engine.Inbox(ctx)
	if err != nil {
		return nil, toStatus("list inbox", err)
	}
	return &v, nil
}

func (s *ChatService) RefreshInbox(ctx context.Context, _ *RefreshRequest) (*RefreshResponse, error) {
	if err := s.engine.RefreshInbox(ctx); err != nil {
		return nil, toStatus("refresh inbox", err)
	}
	return &RefreshResponse{}, nil
}

// OpenConversation opens a peer. With Wait it returns once the history of
// this open loaded or failed; a later open of another peer ends the wait too.
func (s *ChatService) OpenConversation(ctx context.Context, req *OpenRequest) (*OpenResponse, error) {
	if req.Peer <= 0 {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "open: invalid peer %d", req.Peer)
	}
	var events <-chan bus.Event
	if req.Wait {
		ch, unsub := s.bus.Subscribe("conversation.", 64)
		defer unsub()
		events = ch
	}

	gen, err := s.engine.Open(ctx, req.Peer)
	if err != nil {
		return nil, toStatus("open", err)
	}
	if req.Wait {
		if err := waitResolved(ctx, events, gen); err != nil {
			return nil, err
		}
	}

	snap, err := s.engine.Conversation(ctx)
	if err != nil {
		return nil, toStatus("open", err)
	}
	return &OpenResponse{Generation: gen, Conversation: snap}, nil
}

func waitResolved(ctx context.Context, events <-chan bus.Event, gen uint64) error {
	for {
		select {
		case evt := <-events:
			switch p := evt.Payload.(type) {
			case conversation.Snapshot:
				if p.Generation >= gen {
					return nil
				}
			case intsync.LoadFailed:
				if p.Generation == gen {
					return grpcstatus.Errorf(codes.Unavailable, "load history: %s", p.Error)
				}
			case intsync.Opened:
				if p.Generation > gen {
					return nil
				}
			}
		case <-ctx.Done():
			return toStatus("open", ctx.Err())
		}
	}
}

func (s *ChatService) GetConversation(ctx context.Context, _ *ConversationRequest) (*ConversationResponse, error) {
	snap, err := s.engine.Conversation(ctx)
	if err != nil {
		return nil, toStatus("get conversation", err)
	}
	return &snap, nil
}

// WatchInbox sends the inbox now and again after every inbox change.
func (s *ChatService) WatchInbox(_ *InboxRequest, stream grpc.ServerStreamingServer[InboxResponse]) error {
	ctx := stream.Context()
	ch, unsub := s.bus.Subscribe("inbox.", 256)
	defer unsub()

	push := func() error {
		v, err := s.engine.Inbox(ctx)
		if err != nil {
			return toStatus("watch inbox", err)
		}
		return stream.Send(&v)
	}
	if err := push(); err != nil {
		return err
	}
	for {
		select {
		case <-ch:
			// Coalesce a burst of updates into one view.
			for drained := false; !drained; {
				select {
				case <-ch:
				default:
					drained = true
				}
			}
			if err := push(); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
