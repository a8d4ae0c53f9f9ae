package viewstate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bucketworks/boardwalk/model"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ttl), mr
}

func TestRedisStore_PutGet(t *testing.T) {
	store, _ := newRedisStore(t, 0)

	if err := store.PutMode(context.Background(), "user-1", "proj-1", model.ModeBoard); err != nil {
		t.Fatalf("PutMode error: %v", err)
	}

	mode, found, err := store.GetMode(context.Background(), "user-1", "proj-1")
	if err != nil {
		t.Fatalf("GetMode error: %v", err)
	}
	if !found {
		t.Fatal("slot should exist")
	}
	if mode != model.ModeBoard {
		t.Errorf("mode = %q, want board", mode)
	}
}

func TestRedisStore_GetMode_missing(t *testing.T) {
	store, _ := newRedisStore(t, 0)

	_, found, err := store.GetMode(context.Background(), "user-1", "proj-1")
	if err != nil {
		t.Fatalf("GetMode error: %v", err)
	}
	if found {
		t.Error("empty store should report no slot")
	}
}

func TestRedisStore_GetMode_corruptValueCountsAsAbsent(t *testing.T) {
	store, mr := newRedisStore(t, 0)
	mr.Set(FormatKey("user-1", "proj-1"), "sideways")

	_, found, err := store.GetMode(context.Background(), "user-1", "proj-1")
	if err != nil {
		t.Fatalf("GetMode error: %v", err)
	}
	if found {
		t.Error("unparseable slot should count as absent")
	}
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	store, mr := newRedisStore(t, time.Minute)

	if err := store.PutMode(context.Background(), "user-1", "proj-1", model.ModeBoard); err != nil {
		t.Fatalf("PutMode error: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	_, found, err := store.GetMode(context.Background(), "user-1", "proj-1")
	if err != nil {
		t.Fatalf("GetMode error: %v", err)
	}
	if found {
		t.Error("slot should expire after TTL")
	}
}

func TestRedisStore_SlotsAreSubjectScoped(t *testing.T) {
	store, _ := newRedisStore(t, 0)

	if err := store.PutMode(context.Background(), "user-1", "proj-1", model.ModeBoard); err != nil {
		t.Fatalf("PutMode error: %v", err)
	}
	if err := store.PutMode(context.Background(), "user-2", "proj-1", model.ModeList); err != nil {
		t.Fatalf("PutMode error: %v", err)
	}

	mode, _, err := store.GetMode(context.Background(), "user-1", "proj-1")
	if err != nil {
		t.Fatalf("GetMode error: %v", err)
	}
	if mode != model.ModeBoard {
		t.Errorf("user-1 mode = %q, want board", mode)
	}
}

func TestRedisStore_HealthCheck(t *testing.T) {
	store, mr := newRedisStore(t, 0)

	if err := store.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck error: %v", err)
	}

	mr.Close()
	if err := store.HealthCheck(context.Background()); err == nil {
		t.Error("expected error after server close")
	}
}
