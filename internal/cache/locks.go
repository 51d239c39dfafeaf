package cache

import "sync"

// KeyedMutex 提供按 key 粒度的互斥。
// 条目带引用计数：最后一个持有者 Unlock 时删除，常驻进程不会为见过的
// 每个 key 永久攒一把锁。
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedMutexEntry
}

type keyedMutexEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedMutexEntry)}
}

func (k *KeyedMutex) Lock(key string) {
	k.mu.Lock()
	e := k.entries[key]
	if e == nil {
		e = &keyedMutexEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()
	e.mu.Lock()
}

// Unlock 释放 key 上的锁；引用计数归零时条目从表里删除。
// 没有 Lock 配对的 Unlock 是编程错误，直接 panic。
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	e := k.entries[key]
	if e == nil {
		k.mu.Unlock()
		panic("cache: Unlock of unlocked KeyedMutex key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()
	e.mu.Unlock()
}

func (k *KeyedMutex) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
