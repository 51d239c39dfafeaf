package cache

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

const sweepScanCount = 100

// Sweeper 是进程级的后台清理任务：定期扫描所有房间的 presence hash，
// 删掉心跳超时或无法解析的成员记录。
// 心跳刷新只发生在有请求的房间；彻底没人访问的房间也必须能被清掉，
// 所以清理独立于请求链路跑。
// 扫描用游标分页推进，单次只处理一页键，不做全键空间的阻塞遍历。
type Sweeper struct {
	backend  Backend
	ttl      time.Duration // 成员心跳的存活窗口
	interval time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func NewSweeper(backend Backend, ttl, interval time.Duration) *Sweeper {
	return &Sweeper{backend: backend, ttl: ttl, interval: interval}
}

// Start 启动后台清理。重复调用是 no-op，不会起第二个定时器。
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
	log.Printf("presence sweeper started interval=%s ttl=%s", s.interval, s.ttl)
}

// Stop 停止清理并等待当前一轮结束。未启动时调用是 no-op。
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	log.Printf("presence sweeper stopped")
}

func (s *Sweeper) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepOnce(context.Background())
		case <-stop:
			return
		}
	}
}

// sweepOnce 扫一遍全部 presence 键，返回删除的成员条数
func (s *Sweeper) sweepOnce(ctx context.Context) int {
	removed := 0
	var cursor uint64
	for {
		keys, next, err := s.backend.Scan(ctx, cursor, PresencePattern, sweepScanCount)
		if err != nil {
			log.Printf("presence sweep scan failed err=%v", err)
			return removed
		}
		for _, key := range keys {
			removed += s.sweepRoom(ctx, key)
		}
		cursor = next
		if cursor == 0 {
			return removed
		}
	}
}

func (s *Sweeper) sweepRoom(ctx context.Context, key string) int {
	fields, err := s.backend.GetFields(ctx, key)
	if err != nil {
		log.Printf("presence sweep read failed key=%s err=%v", key, err)
		return 0
	}
	deadline := time.Now().Add(-s.ttl).UnixMilli()
	var stale []string
	for userID, raw := range fields {
		var rec PresenceRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			// 解析不了的记录同样清掉
			stale = append(stale, userID)
			continue
		}
		if rec.LastHeartbeat < deadline {
			stale = append(stale, userID)
		}
	}
	if len(stale) == 0 {
		return 0
	}
	if err := s.backend.DelFields(ctx, key, stale...); err != nil {
		log.Printf("presence sweep delete failed key=%s err=%v", key, err)
		return 0
	}
	return len(stale)
}
