package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisConfigDefaults(t *testing.T) {
	c := RedisConfig{Addr: "localhost:6379", MinIdleConns: -1}.withDefaults()
	if c.PoolSize != 10 || c.MinIdleConns != 0 || c.PingTimeout != 2*time.Second {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestNewSlots_Validates(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer rdb.Close()

	if _, err := NewSlots(nil, "p:", 1, time.Minute); !errors.Is(err, ErrNilClient) {
		t.Fatalf("expected ErrNilClient, got %v", err)
	}
	if _, err := NewSlots(rdb, "p:", 0, time.Minute); err == nil {
		t.Fatalf("expected error for zero limit")
	}
	if _, err := NewSlots(rdb, "p:", 1, 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
	s, err := NewSlots(rdb, "callscript:outbound:", 2, time.Hour)
	if err != nil {
		t.Fatalf("new slots: %v", err)
	}
	if got := s.Key("+15550001"); got != "callscript:outbound:+15550001" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestSlots_EmptyKeyRejectedBeforeNetwork(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer rdb.Close()
	s, err := NewSlots(rdb, "p:", 1, time.Minute)
	if err != nil {
		t.Fatalf("new slots: %v", err)
	}

	if _, err := s.Acquire(context.Background(), ""); !errors.Is(err, ErrSlotKey) {
		t.Fatalf("expected ErrSlotKey, got %v", err)
	}
	if err := s.Release(context.Background(), ""); !errors.Is(err, ErrSlotKey) {
		t.Fatalf("expected ErrSlotKey, got %v", err)
	}
}
