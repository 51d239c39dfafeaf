package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Phuonglp03/melodyhub-dev-sub005/internal/cache"
)

const DefaultMaxOps = 200

// StateStore 管理房间的版本计数、操作日志和快照，是协作引擎的主读写入口。
// 读路径：缓存 -> 持久层冷加载（回写缓存）-> 零值默认。
// 写路径：read-then-increment-then-write 是典型的 check-then-act 竞态，
// 这里按房间粒度用互斥锁把 ApplyOperation 串行化，保证版本号严格 +1、永不重复。
type StateStore struct {
	backend cache.Backend
	durable DurableStore
	metrics MetricsSink
	persist *PersistScheduler
	maxOps  int

	// projectID -> 单写者锁，最后一个持有者释放时条目回收
	rooms *cache.KeyedMutex

	// 冷加载防击穿：同一房间的并发重连只打一次持久层
	sf singleflight.Group
}

type StateStoreOptions struct {
	MaxOps       int           // 非正数回落到 DefaultMaxOps
	PersistDelay time.Duration // 快照落盘的去抖窗口
}

func NewStateStore(backend cache.Backend, durable DurableStore, metrics MetricsSink, opt StateStoreOptions) *StateStore {
	maxOps := opt.MaxOps
	if maxOps <= 0 {
		maxOps = DefaultMaxOps
	}
	return &StateStore{
		backend: backend,
		durable: durable,
		metrics: metrics,
		persist: NewPersistScheduler(durable, opt.PersistDelay),
		maxOps:  maxOps,
		rooms:   cache.NewKeyedMutex(),
	}
}

func (s *StateStore) MaxOps() int { return s.maxOps }

// GetState 返回房间当前状态。数据缺失不算错误，只有 projectID 为空才报错。
func (s *StateStore) GetState(ctx context.Context, projectID string) (RoomState, error) {
	if projectID == "" {
		return RoomState{}, ErrMissingProject
	}
	return s.loadState(ctx, projectID), nil
}

// loadState：缓存命中直接返回；未命中走持久层冷加载并回写缓存；哪都没有返回零值状态
func (s *StateStore) loadState(ctx context.Context, projectID string) RoomState {
	fields, err := s.backend.GetFields(ctx, cache.ProjectKey(projectID))
	if err == nil && len(fields) > 0 {
		if st, ok := stateFromFields(projectID, fields); ok {
			return st
		}
		// 解析不了按缺失处理，走冷加载重建
		log.Printf("room state corrupt, rebuilding project=%s", projectID)
	}

	v, _, _ := s.sf.Do(projectID, func() (any, error) {
		rec, err := s.durable.FindLatest(ctx, projectID)
		if err != nil {
			log.Printf("durable cold load failed project=%s err=%v", projectID, err)
			return (*SnapshotRecord)(nil), nil
		}
		return rec, nil
	})
	rec, _ := v.(*SnapshotRecord)
	if rec == nil {
		return RoomState{ProjectID: projectID, Version: 0}
	}

	st := RoomState{
		ProjectID: projectID,
		Version:   rec.Version,
		UpdatedAt: rec.UpdatedAt,
		Snapshot:  rec.Snapshot,
	}
	// 缓存预热：冷加载结果写回，后续读不再打持久层
	if err := s.backend.SetFields(ctx, cache.ProjectKey(projectID), stateToFields(st)); err != nil {
		log.Printf("cache warm-up failed project=%s err=%v", projectID, err)
	}
	return st
}

// GetMissingOps 返回 version > fromVersion 的操作，按版本升序，供断线客户端追平。
// 结果可能为空：既可能是“已追平”，也可能是房间不存在，这一层不区分。
func (s *StateStore) GetMissingOps(ctx context.Context, projectID string, fromVersion uint64) ([]Operation, error) {
	if projectID == "" {
		return nil, ErrMissingProject
	}
	raw, err := s.backend.ListRange(ctx, cache.OpsKey(projectID), 0, int64(s.maxOps)-1)
	if err != nil {
		log.Printf("ops read failed project=%s err=%v", projectID, err)
		return []Operation{}, nil
	}
	// 日志里新操作在队首，反向遍历得到升序
	out := make([]Operation, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var op Operation
		if err := json.Unmarshal([]byte(raw[i]), &op); err != nil {
			continue
		}
		if op.Version > fromVersion {
			out = append(out, op)
		}
	}
	if len(out) > s.maxOps {
		out = out[len(out)-s.maxOps:]
	}
	return out, nil
}

// ApplyOperation 追加一个操作：版本 +1、写状态、入日志、裁剪、视情况安排快照落盘。
// 校验错误同步返回且不做任何 I/O；缓存写失败（兜底耗尽后）必须上抛，
// 默默丢掉一个已接受的编辑会弄脏协作历史。
func (s *StateStore) ApplyOperation(ctx context.Context, projectID string, op Operation, opt ApplyOptions) (Applied, error) {
	if projectID == "" {
		return Applied{}, ErrMissingProject
	}
	if op.Type == "" {
		return Applied{}, ErrMissingOpType
	}

	s.rooms.Lock(projectID)
	defer s.rooms.Unlock(projectID)

	cur := s.loadState(ctx, projectID)
	next := cur.Version + 1

	entry := op
	entry.Version = next
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.OpID == "" {
		entry.OpID = uuid.NewString()
	}

	snapshot := cur.Snapshot
	if opt.Snapshot != "" {
		snapshot = opt.Snapshot
	}

	st := RoomState{
		ProjectID: projectID,
		Version:   next,
		UpdatedAt: time.Now(),
		Snapshot:  snapshot,
	}

	t0 := time.Now()
	if err := s.backend.SetFields(ctx, cache.ProjectKey(projectID), stateToFields(st)); err != nil {
		return Applied{}, fmt.Errorf("write room state project=%s: %w", projectID, err)
	}
	s.record("collab.state.write", map[string]any{
		"projectId": projectID,
		"ms":        time.Since(t0).Milliseconds(),
	})

	b, err := json.Marshal(entry)
	if err != nil {
		return Applied{}, fmt.Errorf("encode op project=%s: %w", projectID, err)
	}
	t0 = time.Now()
	if err := s.backend.ListPush(ctx, cache.OpsKey(projectID), string(b)); err != nil {
		return Applied{}, fmt.Errorf("push op project=%s: %w", projectID, err)
	}
	s.record("collab.ops.push", map[string]any{
		"projectId": projectID,
		"ms":        time.Since(t0).Milliseconds(),
	})

	t0 = time.Now()
	if err := s.backend.ListTrim(ctx, cache.OpsKey(projectID), 0, int64(s.maxOps)-1); err != nil {
		log.Printf("ops trim failed project=%s err=%v", projectID, err)
	}
	s.record("collab.ops.trim", map[string]any{
		"projectId": projectID,
		"ms":        time.Since(t0).Milliseconds(),
	})

	if st.Snapshot != "" {
		s.persist.Schedule(projectID, st)
	}

	s.record("collab.op.applied", map[string]any{
		"projectId": projectID,
		"opType":    entry.Type,
		"version":   next,
		"fallback":  s.degraded(),
	})
	return Applied{Version: next, Op: entry}, nil
}

// SetSnapshot 直接覆盖快照（绕过操作日志的全量检查点）。
// version >= 0 时钉住指定版本号，否则保持当前版本。总是安排一次持久化。
func (s *StateStore) SetSnapshot(ctx context.Context, projectID, snapshot string, version int64) (RoomState, error) {
	if projectID == "" {
		return RoomState{}, ErrMissingProject
	}

	s.rooms.Lock(projectID)
	defer s.rooms.Unlock(projectID)

	cur := s.loadState(ctx, projectID)
	ver := cur.Version
	if version >= 0 {
		ver = uint64(version)
	}
	st := RoomState{
		ProjectID: projectID,
		Version:   ver,
		UpdatedAt: time.Now(),
		Snapshot:  snapshot,
	}
	if err := s.backend.SetFields(ctx, cache.ProjectKey(projectID), stateToFields(st)); err != nil {
		return RoomState{}, fmt.Errorf("write room state project=%s: %w", projectID, err)
	}
	if st.Snapshot == "" && cur.Snapshot != "" {
		// 显式清空快照时要把旧字段删掉，HSet 不会覆盖缺失的字段
		if err := s.backend.DelFields(ctx, cache.ProjectKey(projectID), "snapshot"); err != nil {
			log.Printf("snapshot field delete failed project=%s err=%v", projectID, err)
		}
	}
	s.persist.Schedule(projectID, st)
	return st, nil
}

// ClearCollabState 删除房间状态和操作日志，并取消挂起的落盘定时器。
// 幂等：房间不存在也不报错。
func (s *StateStore) ClearCollabState(ctx context.Context, projectID string) error {
	if projectID == "" {
		return ErrMissingProject
	}

	s.rooms.Lock(projectID)
	defer s.rooms.Unlock(projectID)

	s.persist.Cancel(projectID)
	if err := s.backend.Del(ctx, cache.ProjectKey(projectID)); err != nil {
		log.Printf("clear state failed project=%s err=%v", projectID, err)
	}
	if err := s.backend.Del(ctx, cache.OpsKey(projectID)); err != nil {
		log.Printf("clear ops failed project=%s err=%v", projectID, err)
	}
	return nil
}

// Close 释放挂起的落盘定时器（进程退出时调用）
func (s *StateStore) Close() {
	s.persist.Shutdown()
}

func (s *StateStore) record(event string, payload map[string]any) {
	if s.metrics != nil {
		s.metrics.Record(event, payload)
	}
}

func (s *StateStore) degraded() bool {
	if d, ok := s.backend.(interface{ Degraded() bool }); ok {
		return d.Degraded()
	}
	return false
}

func stateToFields(st RoomState) map[string]string {
	fields := map[string]string{
		"version":   strconv.FormatUint(st.Version, 10),
		"updatedAt": strconv.FormatInt(st.UpdatedAt.UnixMilli(), 10),
	}
	if st.Snapshot != "" {
		fields["snapshot"] = st.Snapshot
	}
	return fields
}

func stateFromFields(projectID string, fields map[string]string) (RoomState, bool) {
	version, err := strconv.ParseUint(fields["version"], 10, 64)
	if err != nil {
		return RoomState{}, false
	}
	st := RoomState{
		ProjectID: projectID,
		Version:   version,
		Snapshot:  fields["snapshot"],
	}
	if ms, err := strconv.ParseInt(fields["updatedAt"], 10, 64); err == nil {
		st.UpdatedAt = time.UnixMilli(ms)
	}
	return st, true
}
