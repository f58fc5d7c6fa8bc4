package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes notifications on Redis pub/sub so an external chat
// bridge can post them. Channel notifications go to "<prefix>:channel:<id>",
// user notifications to "<prefix>:user:<id>". A user notification counts as
// delivered only when some bridge is subscribed to that user's topic.
type RedisPublisher struct {
	rdb    *redis.Client
	prefix string
	logger *slog.Logger
}

type RedisOption func(*RedisPublisher)

func WithRedisPrefix(prefix string) RedisOption {
	return func(p *RedisPublisher) {
		if prefix = strings.Trim(prefix, ":"); prefix != "" {
			p.prefix = prefix
		}
	}
}

func WithRedisLogger(l *slog.Logger) RedisOption {
	return func(p *RedisPublisher) { p.logger = l }
}

func NewRedisPublisher(rdb *redis.Client, opts ...RedisOption) *RedisPublisher {
	p := &RedisPublisher{
		rdb:    rdb,
		prefix: "training:notify",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Topic is the pub/sub channel name r is published on.
func (p *RedisPublisher) Topic(r Recipient) string {
	return p.prefix + ":" + string(r.Kind) + ":" + r.ID
}

func (p *RedisPublisher) Deliver(ctx context.Context, n Notification) (string, bool) {
	if p == nil || p.rdb == nil || n.Recipient.ID == "" {
		return "", false
	}

	ev := Event{Ref: uuid.NewString(), Notification: n}
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", false
	}

	receivers, err := p.rdb.Publish(ctx, p.Topic(n.Recipient), payload).Result()
	if err != nil {
		p.logger.Warn("redis publish failed", "topic", p.Topic(n.Recipient), "error", err)
		return "", false
	}
	if n.Recipient.Kind == RecipientUser && receivers == 0 {
		return "", false
	}
	return ev.Ref, true
}
