package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"repo-chat-go/internal/config"
	"repo-chat-go/internal/harvester"
	"repo-chat-go/internal/model"
	"repo-chat-go/internal/normalizer"
	"repo-chat-go/internal/repository"
	"repo-chat-go/pkg/kafka"
	"repo-chat-go/pkg/log"
	"repo-chat-go/pkg/storage"
	"repo-chat-go/pkg/tasks"
)

// 归档预签名地址的有效期。
const archiveURLExpiry = 24 * time.Hour

// HarvestService 接口定义了仓库采集操作。
type HarvestService interface {
	// HarvestRepo 采集一个仓库：拉取元数据与代码、落盘文档、上传归档并投递摄取任务。
	// 仓库不存在时返回 harvester.ErrNotFound。
	HarvestRepo(ctx context.Context, owner, name string) (*model.HarvestResultDTO, error)
	// ListRecords 返回最近的采集记录。
	ListRecords(limit int) ([]model.HarvestRecord, error)
}

type harvestService struct {
	harvester  *harvester.Harvester
	recordRepo repository.HarvestRecordRepository
	ingestCfg  config.IngestConfig
	minioCfg   config.MinIOConfig
}

// NewHarvestService 创建一个新的 HarvestService 实例。
func NewHarvestService(
	h *harvester.Harvester,
	recordRepo repository.HarvestRecordRepository,
	ingestCfg config.IngestConfig,
	minioCfg config.MinIOConfig,
) HarvestService {
	return &harvestService{
		harvester:  h,
		recordRepo: recordRepo,
		ingestCfg:  ingestCfg,
		minioCfg:   minioCfg,
	}
}

// HarvestRepo 执行完整的采集流程。
func (s *harvestService) HarvestRepo(ctx context.Context, owner, name string) (*model.HarvestResultDTO, error) {
	namespace := owner + "/" + name
	log.Infof("[HarvestService] 开始采集仓库, namespace: %s", namespace)

	record := &model.HarvestRecord{
		Owner:     owner,
		Name:      name,
		Namespace: namespace,
		Status:    model.HarvestStatusRunning,
	}
	if err := s.recordRepo.Create(record); err != nil {
		log.Errorf("[HarvestService] 创建采集记录失败: %v", err)
		return nil, fmt.Errorf("创建采集记录失败: %w", err)
	}

	// 1. 采集元数据与代码归档
	log.Infof("[HarvestService] 步骤1: 开始采集, namespace: %s", namespace)
	bundle, err := s.harvester.Harvest(ctx, owner, name)
	if err != nil {
		if errors.Is(err, harvester.ErrNotFound) {
			log.Warnf("[HarvestService] 仓库不存在: %s", namespace)
			s.markStatus(record.ID, model.HarvestStatusNotFound, err.Error())
		} else {
			log.Errorf("[HarvestService] 采集失败, namespace: %s, err: %v", namespace, err)
			s.markStatus(record.ID, model.HarvestStatusFailed, err.Error())
		}
		return nil, err
	}
	log.Infof("[HarvestService] 步骤1: 采集完成, 文档数: %d", len(bundle.Documents))

	// 2. 将规范化文档写入本地文档目录
	docsDir := filepath.Join(s.ingestCfg.DocsDir, namespaceDir(namespace))
	log.Infof("[HarvestService] 步骤2: 写入文档目录, dir: %s", docsDir)
	if err := normalizer.WriteDocuments(docsDir, bundle.Documents); err != nil {
		log.Errorf("[HarvestService] 写入文档目录失败: %v", err)
		s.markStatus(record.ID, model.HarvestStatusFailed, err.Error())
		return nil, fmt.Errorf("写入文档目录失败: %w", err)
	}

	// 3. 构建 zip 归档并上传到对象存储（失败不中断采集）
	log.Info("[HarvestService] 步骤3: 构建并上传归档")
	archiveObject, archiveURL := s.uploadArchive(ctx, namespace, bundle)

	// 4. 投递摄取任务
	log.Infof("[HarvestService] 步骤4: 投递摄取任务, namespace: %s", namespace)
	task := tasks.IngestTask{
		Namespace:    namespace,
		DocsDir:      docsDir,
		RepoFullName: bundle.FullName(),
	}
	if err := kafka.ProduceIngestTask(task); err != nil {
		log.Errorf("[HarvestService] 投递摄取任务失败: %v", err)
		s.markStatus(record.ID, model.HarvestStatusFailed, err.Error())
		return nil, fmt.Errorf("投递摄取任务失败: %w", err)
	}

	// 5. 标记记录完成
	if err := s.recordRepo.MarkCompleted(record.ID, len(bundle.Documents), archiveObject); err != nil {
		log.Warnf("[HarvestService] 更新采集记录失败: %v", err)
	}
	record.Status = model.HarvestStatusCompleted
	record.DocumentCount = len(bundle.Documents)
	record.ArchiveObject = archiveObject

	log.Infof("[HarvestService] 采集流程完成, namespace: %s, 文档数: %d", namespace, len(bundle.Documents))
	return &model.HarvestResultDTO{
		Record:     *record,
		ArchiveURL: archiveURL,
	}, nil
}

// ListRecords 返回最近的采集记录。
func (s *harvestService) ListRecords(limit int) ([]model.HarvestRecord, error) {
	return s.recordRepo.ListRecent(limit)
}

// uploadArchive 打包文档并上传，返回对象名与预签名地址。
// 任一步失败只告警：归档是采集的附属产物，不影响摄取链路。
func (s *harvestService) uploadArchive(ctx context.Context, namespace string, bundle *harvester.Bundle) (string, string) {
	data, err := harvester.BuildArchive(bundle.Documents)
	if err != nil {
		log.Warnf("[HarvestService] 构建归档失败, namespace: %s, err: %v", namespace, err)
		return "", ""
	}
	objectName := fmt.Sprintf("archives/%s.zip", namespaceDir(namespace))
	if err := storage.UploadArchive(ctx, s.minioCfg.BucketName, objectName, data); err != nil {
		log.Warnf("[HarvestService] 上传归档失败, namespace: %s, err: %v", namespace, err)
		return "", ""
	}
	archiveURL, err := storage.GetPresignedURL(s.minioCfg.BucketName, objectName, archiveURLExpiry)
	if err != nil {
		log.Warnf("[HarvestService] 生成归档预签名地址失败, namespace: %s, err: %v", namespace, err)
		return objectName, ""
	}
	return objectName, archiveURL
}

func (s *harvestService) markStatus(recordID uint, status int, message string) {
	if err := s.recordRepo.UpdateStatus(recordID, status, message); err != nil {
		log.Warnf("[HarvestService] 更新采集记录状态失败, id: %d, err: %v", recordID, err)
	}
}

// namespaceDir 将命名空间转成安全的目录/对象名片段。
func namespaceDir(namespace string) string {
	return strings.ReplaceAll(namespace, "/", "__")
}
