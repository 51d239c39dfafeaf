package cache

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func TestRedisBackend_RoundTrip(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	// 若 Redis 未启动则跳过
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	defer rdb.Close()

	ctx := context.Background()
	b := NewRedisBackend(rdb)
	key := "collab:test:backend"
	defer func() { _ = b.Del(ctx, key) }()
	defer func() { _ = b.Del(ctx, key+":ops") }()

	if _, err := b.Get(ctx, key); err != ErrNotFound {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}
	if err := b.Set(ctx, key, "v", time.Minute); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	val, err := b.Get(ctx, key)
	if err != nil || val != "v" {
		t.Fatalf("Get = (%q, %v), want (v, nil)", val, err)
	}
	_ = b.Del(ctx, key)

	if err := b.SetFields(ctx, key, map[string]string{"version": "3", "updatedAt": "0"}); err != nil {
		t.Fatalf("SetFields error: %v", err)
	}
	fields, err := b.GetFields(ctx, key)
	if err != nil || fields["version"] != "3" {
		t.Fatalf("GetFields = (%v, %v), want version=3", fields, err)
	}

	for _, v := range []string{"a", "b", "c"} {
		if err := b.ListPush(ctx, key+":ops", v); err != nil {
			t.Fatalf("ListPush error: %v", err)
		}
	}
	list, err := b.ListRange(ctx, key+":ops", 0, -1)
	if err != nil || len(list) != 3 || list[0] != "c" {
		t.Fatalf("ListRange = (%v, %v), want newest first", list, err)
	}
	if err := b.ListTrim(ctx, key+":ops", 0, 1); err != nil {
		t.Fatalf("ListTrim error: %v", err)
	}
	list, _ = b.ListRange(ctx, key+":ops", 0, -1)
	if len(list) != 2 {
		t.Fatalf("after trim len = %d, want 2", len(list))
	}
}
