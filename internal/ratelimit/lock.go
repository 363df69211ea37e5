package ratelimit

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var (
	ErrLockHeld = errors.New("lock held by another owner")
	ErrLockLost = errors.New("lock no longer owned")
)

// Owner-checked scripts so a replica whose lease expired cannot drop or
// extend a lease taken over by another.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

// Locker hands out single-holder leases on redis keys.
type Locker struct {
	client *redis.Client
	owner  string
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "gatekeeper"
	}
	return &Locker{client: client, owner: host}
}

// Lease is one holder's claim on a key.
type Lease struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire returns ErrLockHeld when another owner has the key.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("lock client not configured")
	}
	if key == "" {
		return nil, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}

	token := l.owner + "/" + uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lease{client: l.client, key: key, token: token}, nil
}

// Holder returns the token currently stored under key, or "" when free.
func (l *Locker) Holder(ctx context.Context, key string) (string, error) {
	v, err := l.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (l *Lease) Key() string { return l.key }

func (l *Lease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

func (l *Lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}
