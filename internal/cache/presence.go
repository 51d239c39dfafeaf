package cache

import (
	"context"
	"encoding/json"
	"log"
	"slices"
	"time"
)

// PresenceRecord 是房间 presence hash 里单个成员的存储结构。
// sockets 记录该用户的所有活跃连接（多标签页/多设备），集合为空时整条记录删除。
type PresenceRecord struct {
	UserID        string          `json:"userId"`
	UserProfile   json.RawMessage `json:"userProfile,omitempty"`
	Sockets       []string        `json:"sockets"`
	Cursor        json.RawMessage `json:"cursor,omitempty"`
	LastHeartbeat int64           `json:"lastHeartbeat"` // Unix 毫秒
}

// PresenceView 是对外可见的成员视图，socket 标识属于内部实现，不暴露
type PresenceView struct {
	UserID        string          `json:"userId"`
	UserProfile   json.RawMessage `json:"userProfile,omitempty"`
	Cursor        json.RawMessage `json:"cursor,omitempty"`
	LastHeartbeat int64           `json:"lastHeartbeat"`
}

// Presence 维护房间在线成员。
// 错误策略：presence 是辅助信息而非权威数据，存储故障时尽力而为（打日志、返回进程内构造的记录），
// 绝不把错误抛给调用方。
type Presence struct {
	backend Backend
	ttl     time.Duration

	// (projectID, userID) 粒度的互斥：同一用户的 socket 增删必须串行，
	// 否则“减到空即删整条记录”的判断会和并发加入打架
	locks *KeyedMutex
}

func NewPresence(backend Backend, ttl time.Duration) *Presence {
	return &Presence{backend: backend, ttl: ttl, locks: NewKeyedMutex()}
}

func userLockKey(projectID, userID string) string {
	return projectID + "\x00" + userID
}

// 读取单个成员记录；不存在或解析失败都视为不存在
func (p *Presence) load(ctx context.Context, projectID, userID string) *PresenceRecord {
	raw, err := p.backend.GetField(ctx, PresenceKey(projectID), userID)
	if err != nil {
		return nil
	}
	var rec PresenceRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		log.Printf("presence record corrupt project=%s user=%s err=%v", projectID, userID, err)
		return nil
	}
	return &rec
}

func (p *Presence) save(ctx context.Context, projectID string, rec *PresenceRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := p.backend.SetField(ctx, PresenceKey(projectID), rec.UserID, string(b)); err != nil {
		return err
	}
	return p.backend.Expire(ctx, PresenceKey(projectID), p.ttl)
}

// AddPresence 记录一次 socket 加入。重复加入同一 socket 是幂等的。
// 每次调用都刷新 userProfile、心跳时间和房间 TTL。
func (p *Presence) AddPresence(ctx context.Context, projectID, userID string, profile json.RawMessage, socketID string) *PresenceRecord {
	key := userLockKey(projectID, userID)
	p.locks.Lock(key)
	defer p.locks.Unlock(key)

	rec := p.load(ctx, projectID, userID)
	if rec == nil {
		rec = &PresenceRecord{UserID: userID}
	}
	if socketID != "" && !slices.Contains(rec.Sockets, socketID) {
		rec.Sockets = append(rec.Sockets, socketID)
	}
	if profile != nil {
		rec.UserProfile = profile
	}
	rec.LastHeartbeat = time.Now().UnixMilli()

	// 集合为空的记录不允许落存储：没有活跃连接的用户不该出现在房间列表里
	if len(rec.Sockets) == 0 {
		return rec
	}
	if err := p.save(ctx, projectID, rec); err != nil {
		// 存储挂了也不让调用方失败：返回进程内构造的记录
		log.Printf("presence save failed project=%s user=%s err=%v", projectID, userID, err)
	}
	return rec
}

// RemovePresence 移除一个 socket；socketID 为空表示移除该用户的全部连接。
// 集合清空时整条记录删除并返回 nil。
func (p *Presence) RemovePresence(ctx context.Context, projectID, userID, socketID string) *PresenceRecord {
	key := userLockKey(projectID, userID)
	p.locks.Lock(key)
	defer p.locks.Unlock(key)

	rec := p.load(ctx, projectID, userID)
	if rec == nil {
		return nil
	}
	if socketID != "" {
		rec.Sockets = slices.DeleteFunc(rec.Sockets, func(s string) bool { return s == socketID })
	} else {
		rec.Sockets = nil
	}
	if len(rec.Sockets) == 0 {
		if err := p.backend.DelFields(ctx, PresenceKey(projectID), userID); err != nil {
			log.Printf("presence delete failed project=%s user=%s err=%v", projectID, userID, err)
		}
		return nil
	}
	if err := p.save(ctx, projectID, rec); err != nil {
		log.Printf("presence save failed project=%s user=%s err=%v", projectID, userID, err)
	}
	return rec
}

// ListPresence 返回房间全部在线成员的公开视图。任何失败都返回空列表，不报错。
func (p *Presence) ListPresence(ctx context.Context, projectID string) []PresenceView {
	fields, err := p.backend.GetFields(ctx, PresenceKey(projectID))
	if err != nil {
		log.Printf("presence list failed project=%s err=%v", projectID, err)
		return []PresenceView{}
	}
	views := make([]PresenceView, 0, len(fields))
	for _, raw := range fields {
		var rec PresenceRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			// 坏记录跳过，交给后台清理删除
			continue
		}
		views = append(views, PresenceView{
			UserID:        rec.UserID,
			UserProfile:   rec.UserProfile,
			Cursor:        rec.Cursor,
			LastHeartbeat: rec.LastHeartbeat,
		})
	}
	return views
}

// UpdateCursor 更新成员光标。成员必须先 AddPresence，否则返回 nil。
func (p *Presence) UpdateCursor(ctx context.Context, projectID, userID string, cursor json.RawMessage) *PresenceRecord {
	key := userLockKey(projectID, userID)
	p.locks.Lock(key)
	defer p.locks.Unlock(key)

	rec := p.load(ctx, projectID, userID)
	if rec == nil {
		return nil
	}
	rec.Cursor = cursor
	if err := p.save(ctx, projectID, rec); err != nil {
		log.Printf("presence save failed project=%s user=%s err=%v", projectID, userID, err)
	}
	return rec
}

// Heartbeat 刷新成员心跳和房间 TTL。成员不存在时返回 nil。
func (p *Presence) Heartbeat(ctx context.Context, projectID, userID string) *PresenceRecord {
	key := userLockKey(projectID, userID)
	p.locks.Lock(key)
	defer p.locks.Unlock(key)

	rec := p.load(ctx, projectID, userID)
	if rec == nil {
		return nil
	}
	rec.LastHeartbeat = time.Now().UnixMilli()
	if err := p.save(ctx, projectID, rec); err != nil {
		log.Printf("presence save failed project=%s user=%s err=%v", projectID, userID, err)
	}
	return rec
}
