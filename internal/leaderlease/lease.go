// Package leaderlease implements the optional single-active-worker lease
// hook described in spec.md §9: "wrap the monitor loop in a lease acquired
// against a key like worker:active:{S} with a short TTL and periodic
// renewal. Only the lease holder may dispatch phase handlers for S."
//
// The worker loop in this repository runs as a single instance by default
// (spec.md's Non-goals: "horizontal sharding across multiple worker
// instances"), so acquiring a Lease is opt-in: a deployment running more
// than one replica wraps monitor() with it to avoid double-dispatch.
package leaderlease

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kairoslabs/session-orchestrator/internal/domain"
)

// Lease is a TTL'd mutual-exclusion lock on a single Redis key, identified
// by a random token so only the instance that acquired it can renew or
// release it.
type Lease struct {
	rdb   *redis.Client
	key   string
	token string
	ttl   time.Duration
}

// New constructs a Lease for sessionID, scoped under worker:active:{id} per
// spec.md §9.
func New(rdb *redis.Client, sessionID int64, ttl time.Duration) *Lease {
	return &Lease{
		rdb:   rdb,
		key:   fmt.Sprintf("worker:active:%d", sessionID),
		token: uuid.NewString(),
		ttl:   ttl,
	}
}

// Acquire attempts to take the lease, returning true if this instance now
// holds it.
func (l *Lease) Acquire(ctx domain.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("op=leaderlease.acquire: %w", err)
	}
	return ok, nil
}

// renewScript extends the TTL only if the caller's token still matches the
// stored value, preventing an instance from renewing a lease another
// instance has since acquired after expiry.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Renew extends the lease's TTL if this instance still holds it. It returns
// false (with no error) if the lease was lost.
func (l *Lease) Renew(ctx domain.Context) (bool, error) {
	res, err := renewScript.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("op=leaderlease.renew: %w", err)
	}
	return res == 1, nil
}

// releaseScript deletes the key only if the caller's token still matches,
// so a stale holder cannot release a lease acquired by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release gives up the lease, if still held.
func (l *Lease) Release(ctx domain.Context) error {
	if _, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Result(); err != nil {
		return fmt.Errorf("op=leaderlease.release: %w", err)
	}
	return nil
}

// RenewPeriodically runs Renew every interval until ctx is cancelled or a
// renewal reports the lease was lost, at which point it sends on lost and
// returns.
func (l *Lease) RenewPeriodically(ctx domain.Context, interval time.Duration, lost chan<- struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := l.Renew(ctx)
			if err != nil || !held {
				select {
				case lost <- struct{}{}:
				case <-ctx.Done():
				}
				return
			}
		}
	}
}
