package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// QuarantineMirror holds the set of currently quarantined IPs for fast
// lookups. A zero ttl means the entry never expires on its own.
type QuarantineMirror interface {
	Add(ctx context.Context, ip string, ttl time.Duration) error
	Remove(ctx context.Context, ip string) error
	Contains(ctx context.Context, ip string) (bool, error)
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// RedisQuarantine stores one key per quarantined IP.
type RedisQuarantine struct {
	client redis.Cmdable
	prefix string
}

// NewRedisQuarantine creates a mirror on the given client.
func NewRedisQuarantine(client redis.Cmdable) *RedisQuarantine {
	return &RedisQuarantine{client: client, prefix: "vigil:quarantine:"}
}

func (r *RedisQuarantine) Add(ctx context.Context, ip string, ttl time.Duration) error {
	if r.client == nil {
		return errors.New("redis client is nil")
	}
	return r.client.Set(ctx, r.prefix+ip, time.Now().UTC().Format(time.RFC3339), ttl).Err()
}

func (r *RedisQuarantine) Remove(ctx context.Context, ip string) error {
	if r.client == nil {
		return errors.New("redis client is nil")
	}
	return r.client.Del(ctx, r.prefix+ip).Err()
}

func (r *RedisQuarantine) Contains(ctx context.Context, ip string) (bool, error) {
	if r.client == nil {
		return false, errors.New("redis client is nil")
	}
	n, err := r.client.Exists(ctx, r.prefix+ip).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MemoryQuarantine is an in-process mirror used when Redis is not configured.
type MemoryQuarantine struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryQuarantine creates an empty in-memory mirror.
func NewMemoryQuarantine() *MemoryQuarantine {
	return &MemoryQuarantine{entries: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryQuarantine) Add(_ context.Context, ip string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	m.entries[ip] = exp
	return nil
}

func (m *MemoryQuarantine) Remove(_ context.Context, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, ip)
	return nil
}

func (m *MemoryQuarantine) Contains(_ context.Context, ip string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.entries[ip]
	if !ok {
		return false, nil
	}
	if !exp.IsZero() && !m.now().Before(exp) {
		delete(m.entries, ip)
		return false, nil
	}
	return true, nil
}
