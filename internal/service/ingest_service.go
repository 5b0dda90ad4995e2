package service

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"repo-chat-go/internal/config"
	"repo-chat-go/internal/model"
	"repo-chat-go/internal/pipeline"
	"repo-chat-go/internal/repository"
	"repo-chat-go/pkg/log"
	"repo-chat-go/pkg/tasks"
)

// IngestService 接口定义了同步触发摄取的操作。
// 常规摄取经由 Kafka 异步执行，这里提供一条绕过队列的手动触发路径。
type IngestService interface {
	// Run 同步执行指定命名空间的摄取，返回一段可读的运行摘要。
	Run(ctx context.Context, namespace string) (string, error)
}

type ingestService struct {
	processor  *pipeline.Processor
	recordRepo repository.HarvestRecordRepository
	ingestCfg  config.IngestConfig
}

// NewIngestService 创建一个新的 IngestService 实例。
func NewIngestService(
	processor *pipeline.Processor,
	recordRepo repository.HarvestRecordRepository,
	ingestCfg config.IngestConfig,
) IngestService {
	return &ingestService{
		processor:  processor,
		recordRepo: recordRepo,
		ingestCfg:  ingestCfg,
	}
}

// Run 同步执行摄取管道。
func (s *ingestService) Run(ctx context.Context, namespace string) (string, error) {
	docsDir := filepath.Join(s.ingestCfg.DocsDir, namespaceDir(namespace))
	log.Infof("[IngestService] 手动触发摄取, namespace: %s, dir: %s", namespace, docsDir)

	// 手动路径也可能摄取手工放置的文档，找不到采集记录只告警不中止
	if record, err := s.recordRepo.FindLatestByNamespace(namespace); err != nil {
		log.Warnf("[IngestService] 未找到 %s 的采集记录: %v", namespace, err)
	} else {
		log.Debugf("[IngestService] 命中采集记录, id: %d, status: %d, 文档数: %d",
			record.ID, record.Status, record.DocumentCount)
		if record.Status == model.HarvestStatusRunning {
			log.Warnf("[IngestService] %s 的最近一次采集仍在进行中, 文档目录可能不完整", namespace)
		}
	}

	task := tasks.IngestTask{
		Namespace:    namespace,
		DocsDir:      docsDir,
		RepoFullName: namespace,
	}

	start := time.Now()
	if err := s.processor.Ingest(ctx, task); err != nil {
		return "", err
	}
	summary := fmt.Sprintf("ingested namespace %s from %s in %s", namespace, docsDir, time.Since(start).Round(time.Millisecond))
	log.Infof("[IngestService] 手动摄取完成: %s", summary)
	return summary, nil
}
