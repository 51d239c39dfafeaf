package cache

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

// memoryBackend 是进程内的兜底实现：Redis 连不上时由 FallbackBackend 切换过来。
// 注意：数据只在本进程可见，重启即丢；多实例部署下各实例各自为政。
type memoryBackend struct {
	mu      sync.RWMutex
	strings map[string]string
	hashes  map[string]map[string]string
	lists   map[string][]string
	expiry  map[string]time.Time
}

func NewMemoryBackend() Backend {
	return &memoryBackend{
		strings: make(map[string]string),
		hashes:  make(map[string]map[string]string),
		lists:   make(map[string][]string),
		expiry:  make(map[string]time.Time),
	}
}

// 惰性过期：访问时检查，过期即删
func (b *memoryBackend) expired(key string) bool {
	at, ok := b.expiry[key]
	if !ok {
		return false
	}
	if time.Now().Before(at) {
		return false
	}
	delete(b.strings, key)
	delete(b.hashes, key)
	delete(b.lists, key)
	delete(b.expiry, key)
	return true
}

func (b *memoryBackend) Get(_ context.Context, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.expired(key) {
		return "", ErrNotFound
	}
	val, ok := b.strings[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (b *memoryBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.strings[key] = value
	if ttl > 0 {
		b.expiry[key] = time.Now().Add(ttl)
	} else {
		delete(b.expiry, key)
	}
	return nil
}

func (b *memoryBackend) SetFields(_ context.Context, key string, fields map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expired(key)
	h := b.hashes[key]
	if h == nil {
		h = make(map[string]string, len(fields))
		b.hashes[key] = h
	}
	for f, v := range fields {
		h[f] = v
	}
	return nil
}

func (b *memoryBackend) GetFields(_ context.Context, key string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.expired(key) {
		return map[string]string{}, nil
	}
	// 拷贝一份，避免调用方拿到内部 map
	out := make(map[string]string, len(b.hashes[key]))
	for f, v := range b.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (b *memoryBackend) GetField(_ context.Context, key, field string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.expired(key) {
		return "", ErrNotFound
	}
	val, ok := b.hashes[key][field]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (b *memoryBackend) SetField(_ context.Context, key, field, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expired(key)
	h := b.hashes[key]
	if h == nil {
		h = make(map[string]string)
		b.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (b *memoryBackend) DelFields(_ context.Context, key string, fields ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.expired(key) {
		return nil
	}
	h := b.hashes[key]
	for _, f := range fields {
		delete(h, f)
	}
	if len(h) == 0 {
		delete(b.hashes, key)
	}
	return nil
}

func (b *memoryBackend) ListPush(_ context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expired(key)
	// 与 LPUSH 一致：新元素放队首
	b.lists[key] = append([]string{value}, b.lists[key]...)
	return nil
}

func (b *memoryBackend) ListRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.expired(key) {
		return nil, nil
	}
	list := b.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (b *memoryBackend) ListTrim(_ context.Context, key string, start, stop int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.expired(key) {
		return nil
	}
	list := b.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		delete(b.lists, key)
		return nil
	}
	trimmed := make([]string, stop-start+1)
	copy(trimmed, list[start:stop+1])
	b.lists[key] = trimmed
	return nil
}

func (b *memoryBackend) Expire(_ context.Context, key string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.expired(key) {
		return nil
	}
	b.expiry[key] = time.Now().Add(ttl)
	return nil
}

func (b *memoryBackend) Del(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.strings, key)
	delete(b.hashes, key)
	delete(b.lists, key)
	delete(b.expiry, key)
	return nil
}

// Scan 模拟 Redis 的游标式扫描：按排序后的键列表分页，cursor 是下一页的下标。
// 返回 cursor=0 表示扫描结束。
func (b *memoryBackend) Scan(_ context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if count <= 0 {
		count = 10
	}
	seen := make(map[string]struct{})
	var keys []string
	collect := func(key string) {
		if _, ok := seen[key]; ok {
			return
		}
		if b.expired(key) {
			return
		}
		if ok, _ := path.Match(pattern, key); ok {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	for k := range b.strings {
		collect(k)
	}
	for k := range b.hashes {
		collect(k)
	}
	for k := range b.lists {
		collect(k)
	}
	sort.Strings(keys)

	if cursor >= uint64(len(keys)) {
		return nil, 0, nil
	}
	end := cursor + uint64(count)
	if end >= uint64(len(keys)) {
		return keys[cursor:], 0, nil
	}
	return keys[cursor:end], end, nil
}
