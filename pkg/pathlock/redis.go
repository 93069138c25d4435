package pathlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL       = 30 * time.Second
	DefaultRetryWait = 50 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis locks keys across processes sharing one Redis.
// A lock expires after its TTL even if the holder never releases it.
type Redis struct {
	client    redis.UniversalClient
	prefix    string
	ttl       time.Duration
	retryWait time.Duration
}

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithTTL sets how long an unreleased lock survives.
func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithRetryWait sets the polling interval while a lock is busy.
func WithRetryWait(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.retryWait = d
		}
	}
}

// WithPrefix sets the key prefix. Defaults to "filegate:lock".
func WithPrefix(p string) RedisOption {
	return func(r *Redis) {
		if p != "" {
			r.prefix = p
		}
	}
}

// NewRedis creates a Redis-backed Locker.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client:    client,
		prefix:    "filegate:lock",
		ttl:       DefaultTTL,
		retryWait: DefaultRetryWait,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	token, err := newToken()
	if err != nil {
		return nil, errors.Join(ErrNotAcquired, err)
	}
	k := r.prefix + ":" + key

	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-t.C:
		}

		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, errors.Join(ErrNotAcquired, err)
		}
		if ok {
			return r.unlocker(k, token), nil
		}
		t.Reset(r.retryWait)
	}
}

func (r *Redis) unlocker(key, token string) Unlock {
	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrLost
		}
		return nil
	}
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var _ Locker = (*Redis)(nil)
