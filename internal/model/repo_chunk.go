package model

// RepoChunk 对应于数据库中的 repo_chunks 表。
// 每一行是一个文档分块的文本及其来源元数据，向量化前先落库。
type RepoChunk struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	Namespace    string `gorm:"type:varchar(128);not null;index;column:namespace"`
	Source       string `gorm:"type:varchar(255);not null;column:source"`
	ChunkID      int    `gorm:"not null;column:chunk_id"`
	TextContent  string `gorm:"type:text;column:text_content"`
	ModelVersion string `gorm:"type:varchar(50);column:model_version"`
}

func (RepoChunk) TableName() string {
	return "repo_chunks"
}
