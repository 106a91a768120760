package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultChannel = "orgdesk:cache:invalidations"

// invalidationMessage is the wire format published on the Redis channel.
type invalidationMessage struct {
	Origin  string `json:"origin"`
	Pattern string `json:"pattern"`
}

// Broadcaster fans cache invalidations out to other process instances over a
// Redis pub/sub channel. The local cache is always invalidated directly; the
// broadcast only covers peers, so a nil Broadcaster degrades to TTL staleness.
type Broadcaster struct {
	client   *redis.Client
	manager  *Manager
	channel  string
	origin   string
	logger   *slog.Logger
}

type BroadcasterOption func(b *Broadcaster)

func WithBroadcasterLogger(logger *slog.Logger) BroadcasterOption {
	return func(b *Broadcaster) {
		b.logger = logger
	}
}

// WithChannel overrides the pub/sub channel name.
func WithChannel(channel string) BroadcasterOption {
	return func(b *Broadcaster) {
		if channel != "" {
			b.channel = channel
		}
	}
}

// NewBroadcaster constructs a Broadcaster bound to a cache manager.
// The client lifecycle is managed externally.
func NewBroadcaster(client *redis.Client, manager *Manager, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		client:  client,
		manager: manager,
		channel: defaultChannel,
		origin:  uuid.NewString(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Publish invalidates the pattern locally and announces it to peers.
// A publish failure is logged, not returned as fatal: peers fall back to
// their TTL window, which the design tolerates.
func (b *Broadcaster) Publish(ctx context.Context, pattern string) int {
	removed := b.manager.InvalidatePattern(pattern)

	payload, err := json.Marshal(invalidationMessage{Origin: b.origin, Pattern: pattern})
	if err != nil {
		b.logger.ErrorContext(ctx, "marshal cache invalidation", "error", err)
		return removed
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.logger.WarnContext(ctx, "broadcast cache invalidation failed",
			"pattern", pattern,
			"error", err,
		)
	}
	return removed
}

// InvalidateSubject drops every cached entry for one subject locally and on
// peer instances. Satisfies the role service's Invalidator.
func (b *Broadcaster) InvalidateSubject(ctx context.Context, subjectID string) error {
	b.Publish(ctx, fmt.Sprintf("*:%s*", subjectID))
	return nil
}

// Run subscribes to the invalidation channel and applies peer invalidations
// until the context is cancelled. Messages from this instance are skipped
// because Publish already invalidated locally.
func (b *Broadcaster) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var inv invalidationMessage
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				b.logger.WarnContext(ctx, "malformed cache invalidation message", "error", err)
				continue
			}
			if inv.Origin == b.origin {
				continue
			}
			removed := b.manager.InvalidatePattern(inv.Pattern)
			b.logger.DebugContext(ctx, "applied peer cache invalidation",
				"pattern", inv.Pattern,
				"removed", removed,
			)
		}
	}
}
