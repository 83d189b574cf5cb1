package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers webhook event IDs so redelivered events are acknowledged
// without reprocessing. MarkSeen reports true when the ID was not seen
// before, claiming it atomically.
type Deduper interface {
	MarkSeen(ctx context.Context, eventID string) (first bool, err error)
}

// MemoryDeduper is the in-process dedupe store used when Redis is not
// configured. Entries expire after the TTL; eviction piggybacks on writes.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryDeduper creates an in-memory dedupe store.
func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (d *MemoryDeduper) MarkSeen(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, at := range d.seen {
		if now.Sub(at) > d.ttl {
			delete(d.seen, id)
		}
	}

	if _, ok := d.seen[eventID]; ok {
		return false, nil
	}
	d.seen[eventID] = now
	return true, nil
}

// RedisDeduper survives restarts and covers multiple replicas.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a Redis-backed dedupe store.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) MarkSeen(ctx context.Context, eventID string) (bool, error) {
	return d.client.SetNX(ctx, "webhook:seen:"+eventID, 1, d.ttl).Result()
}
