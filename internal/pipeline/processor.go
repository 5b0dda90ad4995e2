// Package pipeline 定义了仓库文档摄取的核心流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"repo-chat-go/internal/config"
	"repo-chat-go/internal/model"
	"repo-chat-go/internal/normalizer"
	"repo-chat-go/internal/repository"
	"repo-chat-go/pkg/embedding"
	"repo-chat-go/pkg/es"
	"repo-chat-go/pkg/log"
	"repo-chat-go/pkg/tasks"
)

// ErrIngestion 表示摄取管道中的某一步失败，调用方可据此区分管道错误与参数错误。
var ErrIngestion = errors.New("ingestion failed")

// embedBatchSize 是单次 Embedding 请求携带的分块数量上限。
const embedBatchSize = 16

// Processor 封装了文档摄取的所有依赖和逻辑。
type Processor struct {
	embeddingClient embedding.Client
	esCfg           config.ElasticsearchConfig
	embeddingCfg    config.EmbeddingConfig
	chunkRepo       repository.RepoChunkRepository
	splitter        *Splitter
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	embeddingClient embedding.Client,
	esCfg config.ElasticsearchConfig,
	embeddingCfg config.EmbeddingConfig,
	ingestCfg config.IngestConfig,
	chunkRepo repository.RepoChunkRepository,
) *Processor {
	return &Processor{
		embeddingClient: embeddingClient,
		esCfg:           esCfg,
		embeddingCfg:    embeddingCfg,
		chunkRepo:       chunkRepo,
		splitter:        NewSplitter(ingestCfg.ChunkSize, ingestCfg.ChunkOverlap),
	}
}

// Ingest 是摄取任务的主函数：加载文档、分块、落库、向量化并索引到 ES。
// 同一命名空间重复摄取是幂等的：入库前先清理既有的分块与向量。
func (p *Processor) Ingest(ctx context.Context, task tasks.IngestTask) error {
	log.Infof("[Processor] 开始摄取任务, Namespace: %s, DocsDir: %s", task.Namespace, task.DocsDir)

	// 1. 从文档目录加载规范化文档
	log.Infof("[Processor] 步骤1: 加载文档目录, Dir: %s", task.DocsDir)
	docs, err := normalizer.LoadDirectory(task.DocsDir)
	if err != nil {
		log.Errorf("[Processor] 加载文档目录失败, Dir: %s, Error: %v", task.DocsDir, err)
		return fmt.Errorf("加载文档目录失败: %v: %w", err, ErrIngestion)
	}
	if len(docs) == 0 {
		log.Warnf("[Processor] 文档目录为空, 处理中止, Dir: %s", task.DocsDir)
		return fmt.Errorf("文档目录为空: %w", ErrIngestion)
	}
	log.Infof("[Processor] 步骤1: 加载完成, 文档数: %d", len(docs))

	// 2. 文本切块，保留每个分块的来源归属
	log.Infof("[Processor] 步骤2: 进行文本分块, chunkSize: %d, chunkOverlap: %d",
		p.splitter.chunkSize, p.splitter.chunkOverlap)
	dbChunks := p.splitDocuments(task.Namespace, docs)
	log.Infof("[Processor] 步骤2: 文本分块完成, 共生成 %d 个分块", len(dbChunks))
	if len(dbChunks) == 0 {
		log.Warnf("[Processor] 未生成任何文本分块, 处理中止, Namespace: %s", task.Namespace)
		return fmt.Errorf("未生成任何文本分块: %w", ErrIngestion)
	}

	// 阶段一：将分块文本和元数据存入数据库
	log.Info("[Processor] 阶段一: 开始将分块文本存入数据库")
	// 为避免重复摄取导致的累计膨胀，处理前先清理该命名空间既有的分块记录（幂等）
	if err := p.chunkRepo.DeleteByNamespace(task.Namespace); err != nil {
		log.Warnf("[Processor] 清理 repo_chunks 旧记录失败 (namespace=%s): %v", task.Namespace, err)
	}
	if err := p.chunkRepo.BatchCreate(dbChunks); err != nil {
		log.Errorf("[Processor] 阶段一: 批量保存文本分块到数据库失败, Error: %v", err)
		return fmt.Errorf("批量保存文本分块失败: %v: %w", err, ErrIngestion)
	}
	log.Infof("[Processor] 阶段一: 成功将 %d 个分块存入数据库", len(dbChunks))

	// 阶段二：从数据库读取、向量化并索引到 ES
	log.Info("[Processor] 阶段二: 开始从数据库读取分块并进行向量化")
	savedChunks, err := p.chunkRepo.FindByNamespace(task.Namespace)
	if err != nil {
		log.Errorf("[Processor] 阶段二: 从数据库读取分块失败, Namespace: %s, Error: %v", task.Namespace, err)
		return fmt.Errorf("从数据库读取分块失败: %v: %w", err, ErrIngestion)
	}
	log.Infof("[Processor] 阶段二: 成功从数据库读取 %d 个分块", len(savedChunks))

	// 3. 清理该命名空间在 ES 中的旧向量
	log.Infof("[Processor] 步骤3: 清理 ES 中的旧向量, Namespace: %s", task.Namespace)
	if err := es.DeleteByNamespace(ctx, p.esCfg.IndexName, task.Namespace); err != nil {
		log.Warnf("[Processor] 清理 ES 旧向量失败 (namespace=%s): %v", task.Namespace, err)
	}

	// 4. 分批向量化并批量索引到 ES
	log.Info("[Processor] 步骤4: 开始分批向量化与索引")
	if err := p.embedAndIndex(ctx, savedChunks); err != nil {
		return err
	}
	log.Info("[Processor] 步骤4: 所有分块处理完毕")

	log.Infof("[Processor] 摄取任务成功完成, Namespace: %s, 分块总数: %d", task.Namespace, len(savedChunks))
	return nil
}

// splitDocuments 将文档集切分为数据库分块记录，ChunkID 在每个来源内独立递增。
func (p *Processor) splitDocuments(namespace string, docs []model.Document) []*model.RepoChunk {
	var chunks []*model.RepoChunk
	for _, doc := range docs {
		pieces := p.splitter.Split(doc.Content)
		for i, piece := range pieces {
			chunks = append(chunks, &model.RepoChunk{
				Namespace:    namespace,
				Source:       doc.Source,
				ChunkID:      i,
				TextContent:  piece,
				ModelVersion: p.embeddingCfg.Model,
			})
		}
	}
	return chunks
}

// embedAndIndex 将分块按批向量化，并批量写入 Elasticsearch。
func (p *Processor) embedAndIndex(ctx context.Context, chunks []*model.RepoChunk) error {
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		inputs := make([]string, len(batch))
		for i, c := range batch {
			inputs[i] = c.TextContent
		}
		vectors, err := p.embeddingClient.CreateEmbeddings(ctx, inputs)
		if err != nil {
			log.Errorf("[Processor] 批次 %d-%d 向量化失败, Error: %v", start, end, err)
			return fmt.Errorf("批次 %d-%d 向量化失败: %v: %w", start, end, err, ErrIngestion)
		}

		esDocs := make([]model.EsDocument, len(batch))
		for i, c := range batch {
			esDocs[i] = model.EsDocument{
				VectorID:     fmt.Sprintf("%s_%s_%d", c.Namespace, c.Source, c.ChunkID),
				Namespace:    c.Namespace,
				Source:       c.Source,
				ChunkID:      c.ChunkID,
				TextContent:  c.TextContent,
				Vector:       vectors[i],
				ModelVersion: c.ModelVersion,
			}
		}
		if err := es.BulkIndexDocuments(ctx, p.esCfg.IndexName, esDocs); err != nil {
			log.Errorf("[Processor] 批次 %d-%d 索引到ES失败, Error: %v", start, end, err)
			return fmt.Errorf("批次 %d-%d 索引到 Elasticsearch 失败: %v: %w", start, end, err, ErrIngestion)
		}
		log.Infof("[Processor] 批次 %d-%d 向量化并索引成功 (%d/%d)", start, end, end, len(chunks))
	}
	return nil
}
