package model

import "time"

// HarvestRecord 状态常量。
const (
	HarvestStatusRunning   = 0
	HarvestStatusCompleted = 1
	HarvestStatusFailed    = 2
	HarvestStatusNotFound  = 3
)

// HarvestRecord 对应于数据库中的 harvest_records 表。
// 每次仓库采集产生一条记录，跟踪文档数量与产物归档对象。
type HarvestRecord struct {
	ID            uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Owner         string     `gorm:"type:varchar(100);not null" json:"owner"`
	Name          string     `gorm:"type:varchar(100);not null" json:"name"`
	Namespace     string     `gorm:"type:varchar(128);not null;index" json:"namespace"`
	Status        int        `gorm:"type:tinyint;not null;default:0" json:"status"`
	DocumentCount int        `gorm:"not null;default:0" json:"documentCount"`
	ArchiveObject string     `gorm:"type:varchar(255)" json:"archiveObject"`
	ErrorMessage  string     `gorm:"type:text" json:"errorMessage"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	CompletedAt   *time.Time `gorm:"default:null" json:"completedAt"`
}

func (HarvestRecord) TableName() string {
	return "harvest_records"
}
