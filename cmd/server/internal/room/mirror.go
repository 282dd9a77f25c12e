package room

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Mirror publishes every outbound room event onto a Redis channel
// named file_{id}, letting sibling instances and external consumers
// observe rooms without holding a websocket.
type Mirror struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewMirror(addr string, log *slog.Logger) *Mirror {
	return &Mirror{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		log: log.With("component", "mirror"),
	}
}

// Ping verifies the Redis connection.
func (m *Mirror) Ping(ctx context.Context) error {
	return m.rdb.Ping(ctx).Err()
}

// Publish mirrors one serialized event. Failures are logged and
// dropped; mirroring is best-effort and never blocks room delivery.
func (m *Mirror) Publish(docID string, data []byte) {
	if err := m.rdb.Publish(context.Background(), "file_"+docID, data).Err(); err != nil {
		m.log.Warn("failed to publish event", "file_id", docID, "error", err)
	}
}

// Close releases the Redis client.
func (m *Mirror) Close() error {
	return m.rdb.Close()
}
