package outbox

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/veriledger/veriledger/pkg/store"
)

// DefaultStream is the Redis Stream appends publish to unless configured
// otherwise.
const DefaultStream = "ledger.events"

// RedisPublisher appends outbox rows to a Redis Stream. Stream entries carry
// the signed envelope verbatim so consumers can verify hashes and signatures
// without touching the ledger database.
type RedisPublisher struct {
	client *redis.Client
	stream string
}

// NewRedisPublisher publishes to the given stream, or DefaultStream when
// empty.
func NewRedisPublisher(client *redis.Client, stream string) *RedisPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisPublisher{client: client, stream: stream}
}

func (p *RedisPublisher) Publish(ctx context.Context, row store.OutboxRow) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"outbox_id": row.OutboxID,
			"tenant_id": row.TenantID,
			"topic":     row.Topic,
			"payload":   string(row.Payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}
