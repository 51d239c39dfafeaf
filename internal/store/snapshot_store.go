package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Phuonglp03/melodyhub-dev-sub005/internal/collab"
)

// ProjectSnapshot：每个房间一行，upsert 只保留最新检查点
type ProjectSnapshot struct {
	ProjectID string    `gorm:"primaryKey;size:64;column:project_id"`
	Version   uint64    `gorm:"column:version"`
	Snapshot  string    `gorm:"type:longtext;column:snapshot"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (ProjectSnapshot) TableName() string { return "project_snapshots" }

type SnapshotStore struct{ db *gorm.DB }

func NewSnapshotStore(db *gorm.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// snapshotUpsert：按 project_id 冲突时只允许版本前进。
// 去抖窗口外迟到的落盘可能携带旧版本，带守卫的赋值保证旧检查点盖不掉新检查点。
func snapshotUpsert() clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{{Name: "project_id"}},
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "snapshot"}, Value: gorm.Expr("IF(VALUES(version) >= version, VALUES(snapshot), snapshot)")},
			{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("IF(VALUES(version) >= version, VALUES(updated_at), updated_at)")},
			// version 必须放最后：前面的 IF 依赖它尚未被更新的旧值
			{Column: clause.Column{Name: "version"}, Value: gorm.Expr("IF(VALUES(version) >= version, VALUES(version), version)")},
		},
	}
}

func (s *SnapshotStore) Upsert(ctx context.Context, projectID string, version uint64, snapshot string) error {
	rec := ProjectSnapshot{
		ProjectID: projectID,
		Version:   version,
		Snapshot:  snapshot,
		UpdatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(snapshotUpsert()).
		Create(&rec).Error
}

func (s *SnapshotStore) FindLatest(ctx context.Context, projectID string) (*collab.SnapshotRecord, error) {
	var rec ProjectSnapshot
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &collab.SnapshotRecord{
		ProjectID: rec.ProjectID,
		Version:   rec.Version,
		Snapshot:  rec.Snapshot,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}
