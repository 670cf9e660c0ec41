package api

import (
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/matheus3301/dmsync/internal/bus"
)

// SyncService implements SyncServer.
type SyncService struct {
	profile string
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewSyncService creates a sync service.
func NewSyncService(profile string, b *bus.Bus, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{profile: profile, bus: b, logger: logger}
}

func (s *SyncService) WatchEvents(req *WatchRequest, stream grpc.ServerStreamingServer[EventEnvelope]) error {
	ch, unsub := s.bus.Subscribe(req.Namespace, 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			env, err := s.envelope(evt)
			if err != nil {
				s.logger.Warn("event not encodable", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *SyncService) envelope(evt bus.Event) (*EventEnvelope, error) {
	env := &EventEnvelope{
		EventID:          uuid.New().String(),
		Profile:          s.profile,
		OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
		Kind:             evt.Kind,
		PayloadVersion:   1,
	}
	if evt.Payload != nil {
		raw, err := json.Marshal(evt.Payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return env, nil
}
