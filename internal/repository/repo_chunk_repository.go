// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"gorm.io/gorm"

	"repo-chat-go/internal/model"
)

// RepoChunkRepository 定义了对 repo_chunks 表的数据操作接口。
type RepoChunkRepository interface {
	BatchCreate(chunks []*model.RepoChunk) error
	FindByNamespace(namespace string) ([]*model.RepoChunk, error)
	DeleteByNamespace(namespace string) error
}

type repoChunkRepository struct {
	db *gorm.DB
}

// NewRepoChunkRepository 创建一个新的 RepoChunkRepository 实例。
func NewRepoChunkRepository(db *gorm.DB) RepoChunkRepository {
	return &repoChunkRepository{db: db}
}

// BatchCreate 批量创建分块记录。
func (r *repoChunkRepository) BatchCreate(chunks []*model.RepoChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.CreateInBatches(chunks, 100).Error // 每100条记录一批
}

// FindByNamespace 查找指定命名空间下的所有分块记录，按来源与分块序号排序。
func (r *repoChunkRepository) FindByNamespace(namespace string) ([]*model.RepoChunk, error) {
	var chunks []*model.RepoChunk
	err := r.db.Where("namespace = ?", namespace).
		Order("source asc, chunk_id asc").
		Find(&chunks).Error
	return chunks, err
}

// DeleteByNamespace 删除指定命名空间下的所有分块记录，用于重新入库前的清理。
func (r *repoChunkRepository) DeleteByNamespace(namespace string) error {
	return r.db.Where("namespace = ?", namespace).Delete(&model.RepoChunk{}).Error
}
