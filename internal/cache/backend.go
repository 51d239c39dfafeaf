package cache

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// 键不存在（或哈希字段不存在）时返回的哨兵错误
var ErrNotFound = errors.New("NOT_FOUND")

// Backend 抽象协作引擎使用的键值存储能力（Hash + List + TTL + Scan）。
// 两个实现：redisBackend（首选，跨进程共享）和 memoryBackend（进程内兜底）。
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	SetFields(ctx context.Context, key string, fields map[string]string) error
	GetFields(ctx context.Context, key string) (map[string]string, error)
	GetField(ctx context.Context, key, field string) (string, error)
	SetField(ctx context.Context, key, field, value string) error
	DelFields(ctx context.Context, key string, fields ...string) error

	ListPush(ctx context.Context, key, value string) error
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ListTrim(ctx context.Context, key string, start, stop int64) error

	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error)
}

type redisBackend struct {
	rdb *redis.Client
}

func NewRedisBackend(rdb *redis.Client) Backend {
	return &redisBackend{rdb: rdb}
}

func (b *redisBackend) Get(ctx context.Context, key string) (string, error) {
	val, err := b.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

func (b *redisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.rdb.Set(ctx, key, value, ttl).Err()
}

func (b *redisBackend) SetFields(ctx context.Context, key string, fields map[string]string) error {
	// HSet 接收 map 时按 field/value 对展开
	return b.rdb.HSet(ctx, key, fields).Err()
}

func (b *redisBackend) GetFields(ctx context.Context, key string) (map[string]string, error) {
	// 键不存在时 HGetAll 返回空 map，不报错
	return b.rdb.HGetAll(ctx, key).Result()
}

func (b *redisBackend) GetField(ctx context.Context, key, field string) (string, error) {
	val, err := b.rdb.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

func (b *redisBackend) SetField(ctx context.Context, key, field, value string) error {
	return b.rdb.HSet(ctx, key, field, value).Err()
}

func (b *redisBackend) DelFields(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return b.rdb.HDel(ctx, key, fields...).Err()
}

func (b *redisBackend) ListPush(ctx context.Context, key, value string) error {
	// 新元素放队首
	return b.rdb.LPush(ctx, key, value).Err()
}

func (b *redisBackend) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return b.rdb.LRange(ctx, key, start, stop).Result()
}

func (b *redisBackend) ListTrim(ctx context.Context, key string, start, stop int64) error {
	return b.rdb.LTrim(ctx, key, start, stop).Err()
}

func (b *redisBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return b.rdb.Expire(ctx, key, ttl).Err()
}

func (b *redisBackend) Del(ctx context.Context, key string) error {
	return b.rdb.Del(ctx, key).Err()
}

func (b *redisBackend) Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error) {
	return b.rdb.Scan(ctx, cursor, pattern, count).Result()
}
