package api

import (
	"context"
	"path/filepath"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/dmsync/internal/backend"
	"github.com/matheus3301/dmsync/internal/model"
	"github.com/matheus3301/dmsync/internal/mutation"
	"github.com/matheus3301/dmsync/internal/send"
	"github.com/matheus3301/dmsync/internal/store"
)

// Sender is the send pipeline.
type Sender interface {
	PendingLister
	Send(ctx context.Context, peer int64, text string, file *backend.Attachment) (model.Message, bool, error)
	Policy() send.Policy
}

// Mutator edits and deletes the user's messages.
type Mutator interface {
	Edit(ctx context.Context, id int64, text string) (mutation.Result, error)
	Delete(ctx context.Context, id int64) (mutation.Result, error)
}

// MessageService implements MessageServer.
type MessageService struct {
	me      int64
	sender  Sender
	mutator Mutator
	db      *store.DB
}

// NewMessageService creates a message service. The archive calls fail
// with Unavailable when db is nil.
func NewMessageService(me int64, sender Sender, mutator Mutator, db *store.DB) *MessageService {
	return &MessageService{me: me, sender: sender, mutator: mutator, db: db}
}

func (s *MessageService) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	var file *backend.Attachment
	if req.FilePath != "" {
		if !filepath.IsAbs(req.FilePath) {
			return nil, grpcstatus.Errorf(codes.InvalidArgument, "send: file path %q is not absolute", req.FilePath)
		}
		a, err := send.ReadAttachment(req.FilePath, s.sender.Policy())
		if err != nil {
			return nil, toStatus("send", err)
		}
		file = a
	}
	if req.Peer <= 0 || req.Peer == s.me {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "send: invalid receiver %d", req.Peer)
	}

	m, ok, err := s.sender.Send(ctx, req.Peer, req.Text, file)
	if err != nil {
		return nil, toStatus("send", err)
	}
	return &SendResponse{Sent: ok, Message: m}, nil
}

func (s *MessageService) Edit(ctx context.Context, req *EditRequest) (*MutationResponse, error) {
	res, err := s.mutator.Edit(ctx, req.ID, req.Text)
	if err != nil {
		return nil, toStatus("edit", err)
	}
	return &MutationResponse{Result: res.String()}, nil
}

func (s *MessageService) Delete(ctx context.Context, req *DeleteRequest) (*MutationResponse, error) {
	res, err := s.mutator.Delete(ctx, req.ID)
	if err != nil {
		return nil, toStatus("delete", err)
	}
	return &MutationResponse{Result: res.String()}, nil
}

func (s *MessageService) ListPending(_ context.Context, _ *PendingRequest) (*PendingResponse, error) {
	return &PendingResponse{Sends: s.sender.Pending()}, nil
}

func (s *MessageService) ListArchive(_ context.Context, req *ArchiveRequest) (*ArchiveResponse, error) {
	if s.db == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "archive not available")
	}
	if req.Peer <= 0 {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "archive: invalid peer %d", req.Peer)
	}
	limit := 50
	if req.Limit > 0 {
		limit = req.Limit
	}

	msgs, err := s.db.ListMessages(s.me, req.Peer, req.BeforeID, limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list archive: %v", err)
	}
	return &ArchiveResponse{Messages: msgs, HasMore: len(msgs) == limit}, nil
}

func (s *MessageService) Search(_ context.Context, req *SearchRequest) (*SearchResponse, error) {
	if s.db == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "archive not available")
	}
	results, err := s.db.SearchMessages(req.Query, s.me, req.Peer, req.Limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "search messages: %v", err)
	}
	return &SearchResponse{Results: hitsFromStore(results)}, nil
}
