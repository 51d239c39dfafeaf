package collab

import (
	"context"
	"log"
	"sync"
	"time"
)

const persistWriteTimeout = 10 * time.Second

// PersistScheduler 把快照落盘从每次操作里摘出来：每个房间一个尾沿去抖定时器。
// 新的 Schedule 会取消上一个挂起的定时器，窗口内的中间状态被覆盖、永远不会写出——
// 冷加载只关心最终收敛的状态，这是接受的取舍。
// 落盘失败只打日志：下一次 ApplyOperation / SetSnapshot 自然会重新拉起定时器重试。
type PersistScheduler struct {
	durable DurableStore
	delay   time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewPersistScheduler(durable DurableStore, delay time.Duration) *PersistScheduler {
	return &PersistScheduler{
		durable: durable,
		delay:   delay,
		timers:  make(map[string]*time.Timer),
	}
}

// Schedule 安排（或重新安排）一次快照落盘，只有最新的 state 会被写出
func (p *PersistScheduler) Schedule(projectID string, st RoomState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t := p.timers[projectID]; t != nil {
		t.Stop()
	}
	p.timers[projectID] = time.AfterFunc(p.delay, func() {
		p.mu.Lock()
		delete(p.timers, projectID)
		p.mu.Unlock()
		p.flush(projectID, st)
	})
}

// Cancel 取消挂起的落盘（房间被 clear 时调用）
func (p *PersistScheduler) Cancel(projectID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t := p.timers[projectID]; t != nil {
		t.Stop()
		delete(p.timers, projectID)
	}
}

// Shutdown 停掉所有挂起的定时器，未触发的落盘直接放弃
func (p *PersistScheduler) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for projectID, t := range p.timers {
		t.Stop()
		delete(p.timers, projectID)
	}
}

func (p *PersistScheduler) flush(projectID string, st RoomState) {
	ctx, cancel := context.WithTimeout(context.Background(), persistWriteTimeout)
	defer cancel()
	if err := p.durable.Upsert(ctx, projectID, st.Version, st.Snapshot); err != nil {
		log.Printf("snapshot persist failed project=%s version=%d err=%v", projectID, st.Version, err)
	}
}
