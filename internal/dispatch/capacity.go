package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach-engine/internal/domain"
)

// reserveScript seeds the day's counter from the persisted send count on
// first use, then increments it unless the limit is already reached.
var reserveScript = redis.NewScript(`
	local cur = redis.call("GET", KEYS[1])
	if not cur then
		redis.call("SET", KEYS[1], ARGV[1], "EX", ARGV[3])
		cur = ARGV[1]
	end
	if tonumber(cur) >= tonumber(ARGV[2]) then
		return -1
	end
	return redis.call("INCR", KEYS[1])
`)

var releaseScript = redis.NewScript(`
	local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
	if cur > 0 then
		return redis.call("DECR", KEYS[1])
	end
	return 0
`)

// CapacityLedger tracks per-campaign sends for the campaign's local day in
// Redis. Enrollments of the same campaign are planned by different workers,
// so the daily cap is enforced here rather than by the plan alone.
type CapacityLedger struct {
	client redis.Cmdable
	prefix string
}

// NewCapacityLedger creates a ledger whose keys start with prefix.
func NewCapacityLedger(client redis.Cmdable, prefix string) *CapacityLedger {
	if prefix == "" {
		prefix = "outreach:sends"
	}
	return &CapacityLedger{client: client, prefix: prefix}
}

func (l *CapacityLedger) key(campaignID, day string) string {
	return fmt.Sprintf("%s:%s:%s", l.prefix, campaignID, day)
}

// Reserve takes one send slot for campaignID on day. seed is the number of
// sends already persisted for that day and is only used when the counter
// does not exist yet. It returns domain.ErrCapacityExceeded when the limit
// is reached.
func (l *CapacityLedger) Reserve(ctx context.Context, campaignID, day string, limit, seed int, ttl time.Duration) (int, error) {
	secs := int(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	n, err := reserveScript.Run(ctx, l.client, []string{l.key(campaignID, day)}, seed, limit, secs).Int()
	if err != nil {
		return 0, fmt.Errorf("reserve capacity for %s: %w", campaignID, err)
	}
	if n < 0 {
		return limit, fmt.Errorf("campaign %s on %s: %w", campaignID, day, domain.ErrCapacityExceeded)
	}
	return n, nil
}

// Release gives back a slot taken by Reserve for a message that was never
// handed to the provider.
func (l *CapacityLedger) Release(ctx context.Context, campaignID, day string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key(campaignID, day)}).Err(); err != nil {
		return fmt.Errorf("release capacity for %s: %w", campaignID, err)
	}
	return nil
}

// used returns the counter for campaignID on day, or 0 before the first
// reservation.
func (l *CapacityLedger) used(ctx context.Context, campaignID, day string) (int, error) {
	n, err := l.client.Get(ctx, l.key(campaignID, day)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read capacity for %s: %w", campaignID, err)
	}
	return n, nil
}
