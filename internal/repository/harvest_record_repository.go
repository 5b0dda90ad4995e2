package repository

import (
	"time"

	"gorm.io/gorm"

	"repo-chat-go/internal/model"
)

// HarvestRecordRepository 定义了对 harvest_records 表的数据操作接口。
type HarvestRecordRepository interface {
	Create(record *model.HarvestRecord) error
	UpdateStatus(recordID uint, status int, errorMessage string) error
	MarkCompleted(recordID uint, documentCount int, archiveObject string) error
	FindLatestByNamespace(namespace string) (*model.HarvestRecord, error)
	ListRecent(limit int) ([]model.HarvestRecord, error)
}

type harvestRecordRepository struct {
	db *gorm.DB
}

// NewHarvestRecordRepository 创建一个新的 HarvestRecordRepository 实例。
func NewHarvestRecordRepository(db *gorm.DB) HarvestRecordRepository {
	return &harvestRecordRepository{db: db}
}

// Create 创建一条新的采集记录。
func (r *harvestRecordRepository) Create(record *model.HarvestRecord) error {
	return r.db.Create(record).Error
}

// UpdateStatus 更新采集记录的状态与错误信息。
func (r *harvestRecordRepository) UpdateStatus(recordID uint, status int, errorMessage string) error {
	updates := map[string]interface{}{
		"status":        status,
		"error_message": errorMessage,
	}
	return r.db.Model(&model.HarvestRecord{}).Where("id = ?", recordID).Updates(updates).Error
}

// MarkCompleted 将采集记录标记为完成，记录文档数量与归档对象名。
func (r *harvestRecordRepository) MarkCompleted(recordID uint, documentCount int, archiveObject string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":         model.HarvestStatusCompleted,
		"document_count": documentCount,
		"archive_object": archiveObject,
		"completed_at":   &now,
	}
	return r.db.Model(&model.HarvestRecord{}).Where("id = ?", recordID).Updates(updates).Error
}

// FindLatestByNamespace 查找指定命名空间最近一次的采集记录。
func (r *harvestRecordRepository) FindLatestByNamespace(namespace string) (*model.HarvestRecord, error) {
	var record model.HarvestRecord
	err := r.db.Where("namespace = ?", namespace).Order("id desc").First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListRecent 按创建时间倒序返回最近的采集记录。
func (r *harvestRecordRepository) ListRecent(limit int) ([]model.HarvestRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []model.HarvestRecord
	err := r.db.Order("id desc").Limit(limit).Find(&records).Error
	return records, err
}
