package utils

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNilClient = errors.New("slots: redis client is nil")
	ErrSlotKey   = errors.New("slots: key is required")
)

// Every successful acquire pushes the expiry out again, so a counter lives ttl
// past the most recent call start and slots leaked by a crashed process drain.
//
// KEYS[1] counter, ARGV[1] limit, ARGV[2] ttl in ms. Returns 1 or 0.
var acquireSlotScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current > tonumber(ARGV[1]) then
  redis.call('DECR', KEYS[1])
  return 0
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// KEYS[1] counter. Never leaves a zero or negative counter behind.
var releaseSlotScript = redis.NewScript(`
local current = redis.call('DECR', KEYS[1])
if current <= 0 then
  redis.call('DEL', KEYS[1])
end
return current
`)

// Slots caps concurrent holders per key, e.g. live outbound calls per origin
// number. Keys are namespaced with prefix so several caps can share a database.
type Slots struct {
	rdb    *redis.Client
	prefix string
	limit  int
	ttl    time.Duration
}

// NewSlots returns a cap of limit slots per key. ttl should exceed the
// longest expected call.
func NewSlots(rdb *redis.Client, prefix string, limit int, ttl time.Duration) (*Slots, error) {
	switch {
	case rdb == nil:
		return nil, ErrNilClient
	case limit <= 0:
		return nil, errors.New("slots: limit must be > 0")
	case ttl <= 0:
		return nil, errors.New("slots: ttl must be > 0")
	}
	return &Slots{rdb: rdb, prefix: prefix, limit: limit, ttl: ttl}, nil
}

func (s *Slots) Key(key string) string { return s.prefix + key }

// Acquire takes a slot for key, reporting false when the cap is reached.
func (s *Slots) Acquire(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrSlotKey
	}
	res, err := acquireSlotScript.Run(ctx, s.rdb, []string{s.Key(key)}, s.limit, s.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Release returns a slot taken by Acquire.
func (s *Slots) Release(ctx context.Context, key string) error {
	if key == "" {
		return ErrSlotKey
	}
	return releaseSlotScript.Run(ctx, s.rdb, []string{s.Key(key)}).Err()
}
