package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"rfidattend/internal/attendance"
)

// MemoryLocker is an in-process keyed mutex. It serializes scans of one card
// within a single API instance.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker creates an empty keyed mutex.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*keyLock)}
}

// WithLock runs fn against repo while key is held.
func (l *MemoryLocker) WithLock(ctx context.Context, key string, repo attendance.Repository, fn func(context.Context, attendance.Repository) error) error {
	unlock, err := l.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx, repo)
}

// acquire waits for key or ctx, whichever comes first.
func (l *MemoryLocker) acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(key, kl)
		})
	}, nil
}

func (l *MemoryLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// ErrLockTimeout is returned when a Redis lock cannot be acquired before ctx ends.
var ErrLockTimeout = errors.New("card lock not acquired")

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a SET NX PX lock shared by every API instance on one Redis.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker creates a locker. ttl bounds how long a crashed holder can
// block a card.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisLocker{client: client, prefix: "attendance:lock:", ttl: ttl, retry: 20 * time.Millisecond}
}

// WithLock runs fn against repo while the Redis lock for key is held.
func (l *RedisLocker) WithLock(ctx context.Context, key string, repo attendance.Repository, fn func(context.Context, attendance.Repository) error) error {
	unlock, err := l.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx, repo)
}

// acquire retries SET NX until it wins or ctx ends.
func (l *RedisLocker) acquire(ctx context.Context, key string) (func(), error) {
	k := l.prefix + key
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrLockTimeout, ctx.Err())
		case <-time.After(l.retry):
		}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{k}, token).Err()
	}, nil
}
