package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	return mr, client
}

func TestRedisCompletionStore_MarkIfNew_firstDelivery(t *testing.T) {
	_, client := newTestRedis(t)
	s := NewRedisCompletionStore(client, time.Minute)

	first, err := s.MarkIfNew(context.Background(), uuid.New(), uuid.New(), "success")
	if err != nil {
		t.Fatalf("MarkIfNew error: %v", err)
	}
	if !first {
		t.Error("first delivery reported as duplicate")
	}
}

func TestRedisCompletionStore_MarkIfNew_redelivery(t *testing.T) {
	_, client := newTestRedis(t)
	s := NewRedisCompletionStore(client, time.Minute)
	agg, task := uuid.New(), uuid.New()

	_, _ = s.MarkIfNew(context.Background(), agg, task, "success")

	first, err := s.MarkIfNew(context.Background(), agg, task, "failure")
	if err != nil {
		t.Fatalf("MarkIfNew error: %v", err)
	}
	if first {
		t.Error("redelivery reported as first")
	}
}

func TestRedisCompletionStore_MarkIfNew_ttlExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	s := NewRedisCompletionStore(client, time.Second)
	agg, task := uuid.New(), uuid.New()

	_, _ = s.MarkIfNew(context.Background(), agg, task, "success")
	mr.FastForward(2 * time.Second)

	first, err := s.MarkIfNew(context.Background(), agg, task, "success")
	if err != nil {
		t.Fatalf("MarkIfNew error: %v", err)
	}
	if !first {
		t.Error("expired entry must count as first again")
	}
}

func TestRedisCompletionStore_Unmark_allowsRecount(t *testing.T) {
	_, client := newTestRedis(t)
	s := NewRedisCompletionStore(client, time.Minute)
	agg, task := uuid.New(), uuid.New()

	_, _ = s.MarkIfNew(context.Background(), agg, task, "success")
	if err := s.Unmark(context.Background(), agg, task); err != nil {
		t.Fatalf("Unmark error: %v", err)
	}

	first, err := s.MarkIfNew(context.Background(), agg, task, "success")
	if err != nil {
		t.Fatalf("MarkIfNew error: %v", err)
	}
	if !first {
		t.Error("released sub-task must count as first again")
	}
}

func TestRedisCompletionStore_HealthCheck(t *testing.T) {
	mr, client := newTestRedis(t)
	s := NewRedisCompletionStore(client, time.Minute)

	if err := s.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck error: %v", err)
	}

	mr.Close()
	if err := s.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck must fail once Redis is gone")
	}
}
