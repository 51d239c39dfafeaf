package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func newTestPresence() *Presence {
	return NewPresence(NewMemoryBackend(), 45*time.Second)
}

func TestPresence_MultiSocket(t *testing.T) {
	ctx := context.Background()
	p := newTestPresence()
	profile := json.RawMessage(`{"name":"An"}`)

	rec := p.AddPresence(ctx, "p1", "u1", profile, "sockA")
	if rec == nil || len(rec.Sockets) != 1 {
		t.Fatalf("AddPresence sockA = %+v, want 1 socket", rec)
	}
	rec = p.AddPresence(ctx, "p1", "u1", profile, "sockB")
	if len(rec.Sockets) != 2 {
		t.Fatalf("AddPresence sockB sockets = %v, want 2", rec.Sockets)
	}
	// 重复加入同一 socket 是幂等的
	rec = p.AddPresence(ctx, "p1", "u1", profile, "sockB")
	if len(rec.Sockets) != 2 {
		t.Fatalf("duplicate AddPresence sockets = %v, want 2", rec.Sockets)
	}

	members := p.ListPresence(ctx, "p1")
	if len(members) != 1 {
		t.Fatalf("ListPresence = %d entries, want exactly 1", len(members))
	}
	if members[0].UserID != "u1" {
		t.Fatalf("ListPresence userId = %q, want u1", members[0].UserID)
	}

	// 移除一个 socket，用户仍在线
	if rec := p.RemovePresence(ctx, "p1", "u1", "sockA"); rec == nil {
		t.Fatalf("RemovePresence sockA = nil, want surviving record")
	}
	if members := p.ListPresence(ctx, "p1"); len(members) != 1 {
		t.Fatalf("after removing sockA: %d entries, want 1", len(members))
	}

	// 最后一个 socket 移除，整条记录删除
	if rec := p.RemovePresence(ctx, "p1", "u1", "sockB"); rec != nil {
		t.Fatalf("RemovePresence sockB = %+v, want nil", rec)
	}
	if members := p.ListPresence(ctx, "p1"); len(members) != 0 {
		t.Fatalf("after removing sockB: %d entries, want 0", len(members))
	}
}

func TestPresence_EmptySocketIDNotPersisted(t *testing.T) {
	ctx := context.Background()
	p := newTestPresence()

	// socketID 为空时集合加不进任何元素，这样的记录不能落存储
	rec := p.AddPresence(ctx, "p1", "u1", nil, "")
	if rec == nil || rec.UserID != "u1" {
		t.Fatalf("AddPresence empty socketID = %+v, want in-process record", rec)
	}
	if len(rec.Sockets) != 0 {
		t.Fatalf("sockets = %v, want empty", rec.Sockets)
	}
	if members := p.ListPresence(ctx, "p1"); len(members) != 0 {
		t.Fatalf("empty-socket record was persisted and listed: %v", members)
	}

	// 正常加入后，空 socketID 的后续调用也不能把记录弄丢
	p.AddPresence(ctx, "p1", "u1", nil, "sockA")
	p.AddPresence(ctx, "p1", "u1", nil, "")
	if members := p.ListPresence(ctx, "p1"); len(members) != 1 {
		t.Fatalf("member list after empty-socketID refresh = %v, want 1 entry", members)
	}
}

func TestPresence_ViewExcludesSockets(t *testing.T) {
	ctx := context.Background()
	p := newTestPresence()
	p.AddPresence(ctx, "p1", "u1", nil, "sockA")

	members := p.ListPresence(ctx, "p1")
	if len(members) != 1 {
		t.Fatalf("ListPresence = %d entries, want 1", len(members))
	}
	b, err := json.Marshal(members[0])
	if err != nil {
		t.Fatalf("marshal view error: %v", err)
	}
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	if _, ok := m["sockets"]; ok {
		t.Fatalf("view leaks sockets: %s", b)
	}
}

func TestPresence_CursorAndHeartbeatRequireMembership(t *testing.T) {
	ctx := context.Background()
	p := newTestPresence()

	if rec := p.UpdateCursor(ctx, "p1", "ghost", json.RawMessage(`{"bar":4}`)); rec != nil {
		t.Fatalf("UpdateCursor without membership = %+v, want nil", rec)
	}
	if rec := p.Heartbeat(ctx, "p1", "ghost"); rec != nil {
		t.Fatalf("Heartbeat without membership = %+v, want nil", rec)
	}

	p.AddPresence(ctx, "p1", "u1", nil, "sockA")
	rec := p.UpdateCursor(ctx, "p1", "u1", json.RawMessage(`{"bar":4}`))
	if rec == nil || string(rec.Cursor) != `{"bar":4}` {
		t.Fatalf("UpdateCursor = %+v, want cursor persisted", rec)
	}

	before := rec.LastHeartbeat
	time.Sleep(2 * time.Millisecond)
	rec = p.Heartbeat(ctx, "p1", "u1")
	if rec == nil || rec.LastHeartbeat <= before {
		t.Fatalf("Heartbeat did not advance lastHeartbeat: %+v", rec)
	}
}

func TestPresence_StoreFailureIsBestEffort(t *testing.T) {
	ctx := context.Background()
	// 连兜底都没有的极端情况：存储完全不可用
	p := NewPresence(unreachableBackend{}, 45*time.Second)

	rec := p.AddPresence(ctx, "p1", "u1", nil, "sockA")
	if rec == nil || rec.UserID != "u1" {
		t.Fatalf("AddPresence under store failure = %+v, want in-process record", rec)
	}
	if members := p.ListPresence(ctx, "p1"); len(members) != 0 {
		t.Fatalf("ListPresence under store failure = %v, want empty", members)
	}
}
