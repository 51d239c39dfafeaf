package cache

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"
)

// FallbackBackend：逐调用选择存储。
// 先走 Redis；连接类错误时降级到进程内存，调用方不感知失败。
// 降级不是静默的：打 warning 日志，并通过 Degraded() 暴露给指标上报。
// 注意：内存兜底不跨进程共享，多实例同时降级会导致同一房间各自分叉。
type FallbackBackend struct {
	primary Backend // Redis，可能为 nil（未配置）
	local   Backend // 进程内兜底

	degraded atomic.Bool
}

func NewFallbackBackend(primary Backend) *FallbackBackend {
	return &FallbackBackend{primary: primary, local: NewMemoryBackend()}
}

// Degraded 返回最近一次调用是否走了兜底路径
func (f *FallbackBackend) Degraded() bool {
	return f.degraded.Load()
}

// ErrNotFound 是正常的业务结果，不触发降级
func unavailable(err error) bool {
	return err != nil && !errors.Is(err, ErrNotFound)
}

func (f *FallbackBackend) fellBack(op, key string, err error) {
	if !f.degraded.Swap(true) {
		log.Printf("cache degraded to in-memory fallback op=%s key=%s err=%v", op, key, err)
	}
}

func (f *FallbackBackend) Get(ctx context.Context, key string) (string, error) {
	if f.primary != nil {
		val, err := f.primary.Get(ctx, key)
		if !unavailable(err) {
			f.degraded.Store(false)
			return val, err
		}
		f.fellBack("GET", key, err)
	}
	return f.local.Get(ctx, key)
}

func (f *FallbackBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if f.primary != nil {
		if err := f.primary.Set(ctx, key, value, ttl); !unavailable(err) {
			f.degraded.Store(false)
			return err
		} else {
			f.fellBack("SET", key, err)
		}
	}
	return f.local.Set(ctx, key, value, ttl)
}

func (f *FallbackBackend) SetFields(ctx context.Context, key string, fields map[string]string) error {
	if f.primary != nil {
		if err := f.primary.SetFields(ctx, key, fields); !unavailable(err) {
			f.degraded.Store(false)
			return err
		} else {
			f.fellBack("HSET", key, err)
		}
	}
	return f.local.SetFields(ctx, key, fields)
}

func (f *FallbackBackend) GetFields(ctx context.Context, key string) (map[string]string, error) {
	if f.primary != nil {
		fields, err := f.primary.GetFields(ctx, key)
		if !unavailable(err) {
			f.degraded.Store(false)
			return fields, err
		}
		f.fellBack("HGETALL", key, err)
	}
	return f.local.GetFields(ctx, key)
}

func (f *FallbackBackend) GetField(ctx context.Context, key, field string) (string, error) {
	if f.primary != nil {
		val, err := f.primary.GetField(ctx, key, field)
		if !unavailable(err) {
			f.degraded.Store(false)
			return val, err
		}
		f.fellBack("HGET", key, err)
	}
	return f.local.GetField(ctx, key, field)
}

func (f *FallbackBackend) SetField(ctx context.Context, key, field, value string) error {
	if f.primary != nil {
		if err := f.primary.SetField(ctx, key, field, value); !unavailable(err) {
			f.degraded.Store(false)
			return err
		} else {
			f.fellBack("HSET", key, err)
		}
	}
	return f.local.SetField(ctx, key, field, value)
}

func (f *FallbackBackend) DelFields(ctx context.Context, key string, fields ...string) error {
	if f.primary != nil {
		if err := f.primary.DelFields(ctx, key, fields...); !unavailable(err) {
			f.degraded.Store(false)
			return err
		} else {
			f.fellBack("HDEL", key, err)
		}
	}
	return f.local.DelFields(ctx, key, fields...)
}

func (f *FallbackBackend) ListPush(ctx context.Context, key, value string) error {
	if f.primary != nil {
		if err := f.primary.ListPush(ctx, key, value); !unavailable(err) {
			f.degraded.Store(false)
			return err
		} else {
			f.fellBack("LPUSH", key, err)
		}
	}
	return f.local.ListPush(ctx, key, value)
}

func (f *FallbackBackend) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if f.primary != nil {
		list, err := f.primary.ListRange(ctx, key, start, stop)
		if !unavailable(err) {
			f.degraded.Store(false)
			return list, err
		}
		f.fellBack("LRANGE", key, err)
	}
	return f.local.ListRange(ctx, key, start, stop)
}

func (f *FallbackBackend) ListTrim(ctx context.Context, key string, start, stop int64) error {
	if f.primary != nil {
		if err := f.primary.ListTrim(ctx, key, start, stop); !unavailable(err) {
			f.degraded.Store(false)
			return err
		} else {
			f.fellBack("LTRIM", key, err)
		}
	}
	return f.local.ListTrim(ctx, key, start, stop)
}

func (f *FallbackBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if f.primary != nil {
		if err := f.primary.Expire(ctx, key, ttl); !unavailable(err) {
			f.degraded.Store(false)
			return err
		} else {
			f.fellBack("EXPIRE", key, err)
		}
	}
	return f.local.Expire(ctx, key, ttl)
}

// Del 与其它操作不同：两边都删。
// 之前的写入可能落在任意一边，清理必须同时覆盖，否则旧状态会从兜底里“复活”。
func (f *FallbackBackend) Del(ctx context.Context, key string) error {
	localErr := f.local.Del(ctx, key)
	if f.primary != nil {
		if err := f.primary.Del(ctx, key); unavailable(err) {
			f.fellBack("DEL", key, err)
		} else {
			f.degraded.Store(false)
		}
	}
	return localErr
}

func (f *FallbackBackend) Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error) {
	if f.primary != nil {
		keys, next, err := f.primary.Scan(ctx, cursor, pattern, count)
		if !unavailable(err) {
			f.degraded.Store(false)
			return keys, next, err
		}
		f.fellBack("SCAN", pattern, err)
	}
	return f.local.Scan(ctx, cursor, pattern, count)
}
