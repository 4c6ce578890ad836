package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aescanero/msgflow/pkg/domain"
	"github.com/aescanero/msgflow/pkg/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultMaxLen = 10000

// StreamMirror copies lifecycle events into one Redis stream per session so
// dashboards outside the process can follow or replay a flow
type StreamMirror struct {
	client  *redis.Client
	logger  *zap.Logger
	maxLen  int64
	timeout time.Duration
}

// NewStreamMirror creates a new Redis Streams mirror
func NewStreamMirror(client *redis.Client, maxLen int64, timeout time.Duration, logger *zap.Logger) *StreamMirror {
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	return &StreamMirror{
		client:  client,
		logger:  logger.With(zap.String("component", "stream_mirror")),
		maxLen:  maxLen,
		timeout: timeout,
	}
}

// Attach subscribes the mirror to every event type of the bus
func (m *StreamMirror) Attach(bus ports.EventBus) []ports.SubscriptionID {
	return bus.OnAll(m.handle)
}

// handle runs on the orchestrator goroutine; failures are only logged
func (m *StreamMirror) handle(event domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	if err := m.Publish(ctx, event.Record()); err != nil {
		m.logger.Error("failed to mirror event",
			zap.String("session_id", event.SessionID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

// Publish appends an event record to its session stream
func (m *StreamMirror) Publish(ctx context.Context, record domain.EventRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: getStreamKey(record.SessionID),
		MaxLen: m.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type": string(record.Type),
			"data": string(data),
		},
	}

	if _, err := m.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	m.logger.Debug("event mirrored",
		zap.String("event_id", record.ID),
		zap.String("type", string(record.Type)),
		zap.String("session_id", record.SessionID))

	return nil
}

// History returns the mirrored events of a session in emission order
func (m *StreamMirror) History(ctx context.Context, sessionID string) ([]domain.EventRecord, error) {
	messages, err := m.client.XRange(ctx, getStreamKey(sessionID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	records := make([]domain.EventRecord, 0, len(messages))
	for _, message := range messages {
		data, ok := message.Values["data"].(string)
		if !ok {
			m.logger.Error("invalid message format",
				zap.String("session_id", sessionID),
				zap.String("message_id", message.ID))
			continue
		}

		var record domain.EventRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			m.logger.Error("failed to unmarshal event",
				zap.String("session_id", sessionID),
				zap.String("message_id", message.ID),
				zap.Error(err))
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

// getStreamKey returns the Redis stream key for a session
func getStreamKey(sessionID string) string {
	return fmt.Sprintf("msgflow:events:%s", sessionID)
}
