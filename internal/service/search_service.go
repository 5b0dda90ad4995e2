// Package service 提供了各业务模块的核心逻辑。
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"

	"repo-chat-go/internal/config"
	"repo-chat-go/internal/model"
	"repo-chat-go/pkg/embedding"
	"repo-chat-go/pkg/log"
)

// SearchService 接口定义了向量检索操作。
type SearchService interface {
	// VectorSearch 在指定命名空间内执行 kNN 向量检索。
	VectorSearch(ctx context.Context, namespace, query string, topK int) ([]model.SearchResponseDTO, error)
	// Retrieve 以问答链需要的形态返回检索结果。
	Retrieve(ctx context.Context, namespace, query string, topK int) ([]model.SourceDocument, error)
}

type searchService struct {
	embeddingClient embedding.Client
	esClient        *elasticsearch.Client
	esCfg           config.ElasticsearchConfig
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(embeddingClient embedding.Client, esClient *elasticsearch.Client, esCfg config.ElasticsearchConfig) SearchService {
	return &searchService{
		embeddingClient: embeddingClient,
		esClient:        esClient,
		esCfg:           esCfg,
	}
}

// VectorSearch 执行命名空间内的 kNN 向量检索。
func (s *searchService) VectorSearch(ctx context.Context, namespace, query string, topK int) ([]model.SearchResponseDTO, error) {
	log.Infof("[SearchService] 开始执行向量检索, namespace: %s, query: '%s', topK: %d", namespace, query, topK)
	if topK <= 0 {
		topK = 5
	}

	// 1. 向量化查询
	log.Info("[SearchService] 步骤1: 开始向量化查询")
	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[SearchService] 向量化查询失败: %v", err)
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}
	log.Infof("[SearchService] 步骤1: 向量化查询成功, 向量维度: %d", len(queryVector))

	// 2. 构建带命名空间过滤的 kNN 查询
	log.Info("[SearchService] 步骤2: 开始构建 Elasticsearch kNN 查询")
	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   queryVector,
			"k":              topK,
			"num_candidates": topK * 10,
			"filter": map[string]interface{}{
				"term": map[string]interface{}{
					"namespace": namespace,
				},
			},
		},
		"size": topK,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		log.Errorf("[SearchService] 序列化 Elasticsearch 查询失败: %v", err)
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	// 3. 执行搜索
	log.Info("[SearchService] 步骤3: 开始向 Elasticsearch 发送搜索请求")
	res, err := s.esClient.Search(
		s.esClient.Search.WithContext(ctx),
		s.esClient.Search.WithIndex(s.esCfg.IndexName),
		s.esClient.Search.WithBody(&buf),
	)
	if err != nil {
		log.Errorf("[SearchService] 向 Elasticsearch 发送搜索请求失败: %v", err)
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[SearchService] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	// 4. 解析结果
	log.Info("[SearchService] 步骤4: 开始解析 Elasticsearch 响应")
	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsDocument `json:"_source"`
				Score  float64          `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		log.Errorf("[SearchService] 解析 Elasticsearch 响应失败: %v", err)
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	results := make([]model.SearchResponseDTO, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		results = append(results, model.SearchResponseDTO{
			Namespace:   hit.Source.Namespace,
			Source:      hit.Source.Source,
			ChunkID:     hit.Source.ChunkID,
			TextContent: hit.Source.TextContent,
			Score:       hit.Score,
		})
	}
	log.Infof("[SearchService] 向量检索执行完毕, namespace: %s, 返回 %d 条结果", namespace, len(results))
	return results, nil
}

// Retrieve 将检索结果映射为问答链的来源文档形态。
func (s *searchService) Retrieve(ctx context.Context, namespace, query string, topK int) ([]model.SourceDocument, error) {
	dtos, err := s.VectorSearch(ctx, namespace, query, topK)
	if err != nil {
		return nil, err
	}
	docs := make([]model.SourceDocument, 0, len(dtos))
	for _, dto := range dtos {
		docs = append(docs, model.SourceDocument{
			Source:      dto.Source,
			PageContent: dto.TextContent,
			Score:       dto.Score,
		})
	}
	return docs, nil
}
