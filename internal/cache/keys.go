package cache

import "fmt"

// 键语义：
// - ProjectKey(projectID):  房间状态（Hash：version / updatedAt / snapshot，snapshot 为空时不写入）
// - OpsKey(projectID):      操作日志（List<序列化 Operation>，新操作在队首，长度有上限、写入时裁剪）
// - PresenceKey(projectID): 房间在线成员（Hash<userId -> 序列化 PresenceRecord>，每次写入刷新 TTL）

const (
	keyProjectFmt  = "collab:project:%s"
	keyOpsFmt      = "collab:project:%s:ops"
	keyPresenceFmt = "collab:project:%s:presence"

	// 后台清理扫描用的匹配模式
	PresencePattern = "collab:project:*:presence"
)

func ProjectKey(projectID string) string  { return fmt.Sprintf(keyProjectFmt, projectID) }
func OpsKey(projectID string) string      { return fmt.Sprintf(keyOpsFmt, projectID) }
func PresenceKey(projectID string) string { return fmt.Sprintf(keyPresenceFmt, projectID) }
