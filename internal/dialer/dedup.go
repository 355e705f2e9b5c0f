package dialer

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/nextgenfi/targeting-cli/internal/config"
)

// Deduper remembers which phone numbers were already called.
type Deduper interface {
	Seen(ctx context.Context, phone string) (bool, error)
	Mark(ctx context.Context, phone string, ttl time.Duration) error
}

// MemoryDeduper is a process-local Deduper. Entries expire after their TTL;
// a zero TTL never expires.
type MemoryDeduper struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryDeduper creates an empty MemoryDeduper.
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{entries: make(map[string]time.Time), now: time.Now}
}

// Seen reports whether phone was marked and has not expired.
func (d *MemoryDeduper) Seen(_ context.Context, phone string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	exp, ok := d.entries[phone]
	if !ok {
		return false, nil
	}
	if !exp.IsZero() && !d.now().Before(exp) {
		delete(d.entries, phone)
		return false, nil
	}
	return true, nil
}

// Mark records phone for ttl.
func (d *MemoryDeduper) Mark(_ context.Context, phone string, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = d.now().Add(ttl)
	}
	d.entries[phone] = exp
	d.sweep()
	return nil
}

// sweep drops expired entries. Caller holds mu.
func (d *MemoryDeduper) sweep() {
	now := d.now()
	for k, exp := range d.entries {
		if !exp.IsZero() && !now.Before(exp) {
			delete(d.entries, k)
		}
	}
}

// RedisCmdable is the subset of *redis.Client used by RedisDeduper.
type RedisCmdable interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisDeduper shares dedup state across callbot replicas.
type RedisDeduper struct {
	client RedisCmdable
	prefix string
}

// NewRedisDeduper creates a RedisDeduper namespacing keys with prefix.
func NewRedisDeduper(client RedisCmdable, prefix string) *RedisDeduper {
	return &RedisDeduper{client: client, prefix: prefix}
}

func (d *RedisDeduper) key(phone string) string {
	return d.prefix + phone
}

// Seen reports whether the phone key exists.
func (d *RedisDeduper) Seen(ctx context.Context, phone string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(phone)).Result()
	if err != nil {
		return false, eris.Wrapf(err, "dialer: redis exists %s", phone)
	}
	return n > 0, nil
}

// Mark sets the phone key with ttl.
func (d *RedisDeduper) Mark(ctx context.Context, phone string, ttl time.Duration) error {
	if err := d.client.Set(ctx, d.key(phone), time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return eris.Wrapf(err, "dialer: redis set %s", phone)
	}
	return nil
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "dialer: connect to redis at %s", cfg.Addr)
	}
	return client, nil
}
