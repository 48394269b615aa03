package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event channels observed by interested collaborators.
const (
	EventTokensIssued = "login_tokens.issued"
	EventTokenUsed    = "login_tokens.used"
)

// EventService publishes lifecycle notifications over Redis pub/sub.
// Publishing is best-effort: a missing or failing broker never fails
// the operation that emitted the event.
type EventService struct {
	client *redis.Client
	logger *zap.Logger
}

// NewEventService constructs an EventService. client may be nil, in
// which case publishing is a no-op.
func NewEventService(client *redis.Client, logger *zap.Logger) *EventService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventService{client: client, logger: logger}
}

// Publish emits the payload on the given channel.
func (s *EventService) Publish(ctx context.Context, event string, payload interface{}) {
	if s.client == nil {
		return
	}

	body, err := json.Marshal(map[string]interface{}{
		"event":   event,
		"payload": payload,
		"at":      time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("failed to encode event", zap.String("event", event), zap.Error(err))
		return
	}

	if err := s.client.Publish(ctx, event, body).Err(); err != nil {
		s.logger.Warn("failed to publish event", zap.String("event", event), zap.Error(err))
	}
}
