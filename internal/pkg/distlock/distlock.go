// Package distlock guards operations that must not run twice at once
// across hosts, such as launching the same campaign from two operator
// shells. Redis is the preferred backend; PostgreSQL advisory locks are
// the fallback when no Redis is configured.
package distlock

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a single-owner distributed lock. A Lock instance is not safe
// for concurrent use; each goroutine needs its own.
type Lock interface {
	// Acquire tries to take the lock without blocking. True on success.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock back if this instance still owns it.
	Release(ctx context.Context) error
}

// New picks the best available backend. With a Redis client the lock is
// a SET NX key with a TTL; otherwise it falls back to a Postgres
// advisory lock, which the session drop releases on crash.
func New(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) (Lock, error) {
	if redisClient != nil {
		return newRedisLock(redisClient, key, ttl)
	}
	return newAdvisoryLock(db, key), nil
}

type redisLock struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
}

func newRedisLock(client *redis.Client, key string, ttl time.Duration) (*redisLock, error) {
	// Random owner value so one process cannot release another's lock.
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate lock owner: %w", err)
	}
	return &redisLock{
		client: client,
		key:    "lock:" + key,
		owner:  hex.EncodeToString(b),
		ttl:    ttl,
	}, nil
}

func (l *redisLock) Acquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

func (l *redisLock) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Result()
	return err
}

type advisoryLock struct {
	db     *sql.DB
	lockID int64
}

func newAdvisoryLock(db *sql.DB, key string) *advisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &advisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *advisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

func (l *advisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
