package collab

import (
	"context"
	"testing"
	"time"
)

func waitUpserts(t *testing.T, d *memDurable, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		d.mu.Lock()
		n := d.upserts
		d.mu.Unlock()
		if n >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d upserts", want)
}

func TestPersistScheduler_TrailingDebounce(t *testing.T) {
	d := newMemDurable()
	p := NewPersistScheduler(d, 30*time.Millisecond)
	defer p.Shutdown()

	// 窗口内连续 Schedule：只有最后一个状态落盘
	p.Schedule("p1", RoomState{ProjectID: "p1", Version: 1, Snapshot: "a"})
	p.Schedule("p1", RoomState{ProjectID: "p1", Version: 2, Snapshot: "b"})
	p.Schedule("p1", RoomState{ProjectID: "p1", Version: 3, Snapshot: "c"})

	waitUpserts(t, d, 1)
	rec, _ := d.FindLatest(context.Background(), "p1")
	if rec == nil || rec.Version != 3 || rec.Snapshot != "c" {
		t.Fatalf("persisted = %+v, want only the latest state (v3/c)", rec)
	}
	d.mu.Lock()
	n := d.upserts
	d.mu.Unlock()
	if n != 1 {
		t.Fatalf("upserts = %d, want 1 (intermediate states superseded)", n)
	}
}

func TestPersistScheduler_Cancel(t *testing.T) {
	d := newMemDurable()
	p := NewPersistScheduler(d, 20*time.Millisecond)
	defer p.Shutdown()

	p.Schedule("p1", RoomState{ProjectID: "p1", Version: 1, Snapshot: "a"})
	p.Cancel("p1")

	time.Sleep(60 * time.Millisecond)
	rec, _ := d.FindLatest(context.Background(), "p1")
	if rec != nil {
		t.Fatalf("persisted after Cancel: %+v, want nothing", rec)
	}
	// 不存在的房间 Cancel 也安全
	p.Cancel("nope")
}

func TestPersistScheduler_PerRoomTimers(t *testing.T) {
	d := newMemDurable()
	p := NewPersistScheduler(d, 20*time.Millisecond)
	defer p.Shutdown()

	p.Schedule("p1", RoomState{ProjectID: "p1", Version: 1, Snapshot: "a"})
	p.Schedule("p2", RoomState{ProjectID: "p2", Version: 5, Snapshot: "b"})
	// p1 重新安排不影响 p2 的定时器
	p.Schedule("p1", RoomState{ProjectID: "p1", Version: 2, Snapshot: "c"})

	waitUpserts(t, d, 2)
	rec1, _ := d.FindLatest(context.Background(), "p1")
	rec2, _ := d.FindLatest(context.Background(), "p2")
	if rec1 == nil || rec1.Version != 2 {
		t.Fatalf("p1 persisted = %+v, want v2", rec1)
	}
	if rec2 == nil || rec2.Version != 5 {
		t.Fatalf("p2 persisted = %+v, want v5", rec2)
	}
}
