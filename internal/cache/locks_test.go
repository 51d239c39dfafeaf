package cache

import (
	"sync"
	"testing"
)

func TestKeyedMutex_MutualExclusion(t *testing.T) {
	k := NewKeyedMutex()

	const n = 50
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k.Lock("room")
			defer k.Unlock("room")
			counter++
		}()
	}
	wg.Wait()
	if counter != n {
		t.Fatalf("counter = %d, want %d (lost update under keyed lock)", counter, n)
	}
}

// 引用计数归零即回收：长驻进程不会为每个见过的 key 永久攒一把锁
func TestKeyedMutex_EntriesEvicted(t *testing.T) {
	k := NewKeyedMutex()

	k.Lock("a")
	k.Lock("b")
	if got := k.len(); got != 2 {
		t.Fatalf("entries while held = %d, want 2", got)
	}
	k.Unlock("a")
	k.Unlock("b")
	if got := k.len(); got != 0 {
		t.Fatalf("entries after release = %d, want 0", got)
	}

	// 并发争抢同一 key，全部释放后也必须清空
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k.Lock("room")
			k.Unlock("room")
		}()
	}
	wg.Wait()
	if got := k.len(); got != 0 {
		t.Fatalf("entries after concurrent release = %d, want 0", got)
	}
}

func TestKeyedMutex_UnpairedUnlockPanics(t *testing.T) {
	k := NewKeyedMutex()
	defer func() {
		if recover() == nil {
			t.Fatalf("Unlock without Lock did not panic")
		}
	}()
	k.Unlock("never-locked")
}
