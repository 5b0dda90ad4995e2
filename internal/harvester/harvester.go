// Package harvester 实现仓库采集：拉取元数据与文件树，规范化为文档集合。
package harvester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"repo-chat-go/internal/model"
	"repo-chat-go/internal/normalizer"
	"repo-chat-go/pkg/githubclient"
	"repo-chat-go/pkg/log"
	"sort"
	"sync"

	gh "github.com/google/go-github/v80/github"
)

// RepoAPI 是采集所需的仓库托管 API 子集。
// 由 githubclient.Client 实现；测试中可替换为假实现。
type RepoAPI interface {
	GetRepository(ctx context.Context, owner, name string) (*gh.Repository, error)
	ListCommits(ctx context.Context, owner, name string) ([]*gh.RepositoryCommit, error)
	ListBranches(ctx context.Context, owner, name string) ([]*gh.Branch, error)
	ListIssues(ctx context.Context, owner, name string) ([]*gh.Issue, error)
	ListPulls(ctx context.Context, owner, name string) ([]*gh.PullRequest, error)
	ListForks(ctx context.Context, owner, name string) ([]*gh.Repository, error)
	ListEvents(ctx context.Context, owner, name string) ([]*gh.Event, error)
	GetJSON(ctx context.Context, url string) (json.RawMessage, error)
	DownloadZipball(ctx context.Context, owner, name, ref string) ([]byte, error)
}

// Bundle 是一次采集的完整产物：规范化文档集合加上按字段展开的元数据。
type Bundle struct {
	Owner         string
	Name          string
	DefaultBranch string
	Documents     []model.Document
	// Data 是元数据中 URL 字段展开后的结果，失败的字段记录为 null。
	Data map[string]json.RawMessage
}

// FullName 返回 owner/name 形式的仓库标识。
func (b *Bundle) FullName() string {
	return b.Owner + "/" + b.Name
}

// Harvester 持有采集所需的依赖。
type Harvester struct {
	api RepoAPI
}

// New 创建一个 Harvester 实例。
func New(api RepoAPI) *Harvester {
	return &Harvester{api: api}
}

// metadataResult 聚合并发子请求的结果。每个子请求独立失败，不影响其它请求。
type metadataResult struct {
	commits  []*gh.RepositoryCommit
	branches []*gh.Branch
	issues   []*gh.Issue
	pulls    []*gh.PullRequest
	forks    []*gh.Repository
	events   []*gh.Event
}

// Harvest 采集一个仓库：元数据、URL 字段展开、默认分支归档的全部文本文件。
// 仓库不存在返回 ErrNotFound；元数据请求因其他原因失败返回 ErrUpstream。
func (h *Harvester) Harvest(ctx context.Context, owner, name string) (*Bundle, error) {
	log.Infof("[Harvester] 开始采集仓库 %s/%s", owner, name)

	// 1. 仓库元数据是关键请求：失败则中止
	repo, err := h.api.GetRepository(ctx, owner, name)
	if err != nil {
		if errors.Is(err, githubclient.ErrNotFound) {
			return nil, fmt.Errorf("%s/%s: %w", owner, name, ErrNotFound)
		}
		return nil, fmt.Errorf("%s/%s: %v: %w", owner, name, err, ErrUpstream)
	}

	// 2. 其余元数据集合并发拉取，单个失败记为空值继续
	meta := h.collectMetadata(ctx, owner, name)

	// 3. 展开元数据中指向 API 的 URL 字段（显式白名单）
	data := h.dereferenceFields(ctx, repo)

	// 4+5. 下载默认分支归档并规范化全部文本条目
	var fileDocs []model.Document
	archive, err := h.api.DownloadZipball(ctx, owner, name, repo.GetDefaultBranch())
	if err != nil {
		// 归档不可用时仍返回元数据文档，保持部分失败容忍
		log.Warnf("[Harvester] 下载归档失败, repo: %s/%s, err: %v", owner, name, err)
	} else {
		fileDocs = extractDocuments(archive)
	}
	log.Infof("[Harvester] 归档展平完成, 文件文档数: %d", len(fileDocs))

	// 6. 每个元数据集合规范化为独立文档，来源标识固定
	metaDocs := buildMetadataDocuments(repo, meta, data)

	bundle := &Bundle{
		Owner:         owner,
		Name:          name,
		DefaultBranch: repo.GetDefaultBranch(),
		Documents:     append(fileDocs, metaDocs...),
		Data:          data,
	}
	log.Infof("[Harvester] 采集完成, repo: %s/%s, 文档总数: %d", owner, name, len(bundle.Documents))
	return bundle, nil
}

// collectMetadata 并发拉取六类元数据集合。
// 每个子请求的失败在最小范围内捕获：告警一次，结果置空。
func (h *Harvester) collectMetadata(ctx context.Context, owner, name string) metadataResult {
	var meta metadataResult
	var wg sync.WaitGroup

	run := func(kind string, fetch func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fetch(); err != nil {
				log.Warnf("[Harvester] 拉取 %s 失败, repo: %s/%s, err: %v", kind, owner, name, err)
			}
		}()
	}

	run("commits", func() error {
		v, err := h.api.ListCommits(ctx, owner, name)
		meta.commits = v
		return err
	})
	run("branches", func() error {
		v, err := h.api.ListBranches(ctx, owner, name)
		meta.branches = v
		return err
	})
	run("issues", func() error {
		v, err := h.api.ListIssues(ctx, owner, name)
		meta.issues = v
		return err
	})
	run("pulls", func() error {
		v, err := h.api.ListPulls(ctx, owner, name)
		meta.pulls = v
		return err
	})
	run("forks", func() error {
		v, err := h.api.ListForks(ctx, owner, name)
		meta.forks = v
		return err
	})
	run("events", func() error {
		v, err := h.api.ListEvents(ctx, owner, name)
		meta.events = v
		return err
	})

	wg.Wait()
	return meta
}

// urlFields 是仓库元数据中允许展开的 URL 字段白名单。
// 只列出无路径模板、可直接 GET 的字段，避免跟随任意外部链接。
func urlFields(repo *gh.Repository) map[string]string {
	return map[string]string{
		"languages_url":    repo.GetLanguagesURL(),
		"contributors_url": repo.GetContributorsURL(),
		"tags_url":         repo.GetTagsURL(),
		"subscribers_url":  repo.GetSubscribersURL(),
	}
}

// dereferenceFields 并发展开白名单中的 URL 字段。
// 单个字段失败记录为 null，采集继续。
func (h *Harvester) dereferenceFields(ctx context.Context, repo *gh.Repository) map[string]json.RawMessage {
	fields := urlFields(repo)
	data := make(map[string]json.RawMessage, len(fields))

	var wg sync.WaitGroup
	var mu sync.Mutex
	for field, rawURL := range fields {
		if rawURL == "" {
			continue
		}
		wg.Add(1)
		go func(field, rawURL string) {
			defer wg.Done()
			payload, err := h.api.GetJSON(ctx, rawURL)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warnf("[Harvester] 展开字段 %s 失败: %v", field, err)
				data[field] = nil
				return
			}
			data[field] = payload
		}(field, rawURL)
	}
	wg.Wait()
	return data
}

// buildMetadataDocuments 将各元数据集合序列化为固定来源标识的文档。
// 某个集合序列化失败只影响自身。
func buildMetadataDocuments(repo *gh.Repository, meta metadataResult, data map[string]json.RawMessage) []model.Document {
	entries := []struct {
		source string
		value  interface{}
	}{
		{"repo_info", repo},
		{"commits", meta.commits},
		{"forks", meta.forks},
		{"data", data},
		{"events", meta.events},
		{"branches", meta.branches},
		{"issues", meta.issues},
		{"pulls", meta.pulls},
	}

	// 展开后的每个字段额外生成一份 <key>_data 文档，按 key 排序保证顺序稳定
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		entries = append(entries, struct {
			source string
			value  interface{}
		}{key + "_data", data[key]})
	}

	docs := make([]model.Document, 0, len(entries))
	for _, e := range entries {
		doc, err := normalizer.NormalizeJSON(e.source, e.value)
		if err != nil {
			log.Warnf("[Harvester] 规范化元数据集合 %s 失败: %v", e.source, err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}
