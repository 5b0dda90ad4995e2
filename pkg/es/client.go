// Package es 提供了与 Elasticsearch 向量索引交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"repo-chat-go/internal/config"
	"repo-chat-go/internal/model"
	"repo-chat-go/pkg/log"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ESClient *elasticsearch.Client

// InitES 初始化 Elasticsearch 客户端并确保向量索引存在。
func InitES(esCfg config.ElasticsearchConfig, dims int) error {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(esCfg.IndexName, dims)
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(indexName string, dims int) error {
	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	// namespace 作为租户隔离维度；向量维度与 embedding 模型配置保持一致
	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id": { "type": "keyword" },
				"namespace": { "type": "keyword" },
				"source": { "type": "keyword" },
				"chunk_id": { "type": "integer" },
				"text_content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" }
			}
		}
	}`, dims)

	res, err = ESClient.Indices.Create(
		indexName,
		ESClient.Indices.Create.WithBody(strings.NewReader(mapping)),
	)

	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// IndexDocument 将单个文档向量索引到 Elasticsearch。
func IndexDocument(ctx context.Context, indexName string, doc model.EsDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: doc.VectorID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, ESClient)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引文档到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index document")
	}

	return nil
}

// BulkIndexDocuments 通过 _bulk API 批量索引文档向量。
func BulkIndexDocuments(ctx context.Context, indexName string, docs []model.EsDocument) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, doc := range docs {
		meta := map[string]interface{}{
			"index": map[string]interface{}{"_index": indexName, "_id": doc.VectorID},
		}
		metaBytes, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		docBytes, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		buf.Write(metaBytes)
		buf.WriteByte('\n')
		buf.Write(docBytes)
		buf.WriteByte('\n')
	}

	res, err := ESClient.Bulk(
		bytes.NewReader(buf.Bytes()),
		ESClient.Bulk.WithContext(ctx),
		ESClient.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("批量索引到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to bulk index documents")
	}

	// _bulk 整体 200 时仍可能存在单条失败，检查 errors 标志
	var bulkResp struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if bulkResp.Errors {
		return errors.New("bulk indexing reported per-item errors")
	}
	return nil
}

// DeleteByNamespace 删除指定 namespace 下的全部向量文档。
// 重新摄取前调用，保证同一 namespace 不会累计重复向量。
func DeleteByNamespace(ctx context.Context, indexName, namespace string) error {
	// namespace 来自请求输入，查询体必须经 json 序列化而非字符串拼接
	query, err := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"namespace": namespace},
		},
	})
	if err != nil {
		return err
	}
	res, err := ESClient.DeleteByQuery(
		[]string{indexName},
		bytes.NewReader(query),
		ESClient.DeleteByQuery.WithContext(ctx),
		ESClient.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("按 namespace 删除向量出错: %s", res.String())
		return errors.New("failed to delete documents by namespace")
	}
	return nil
}
