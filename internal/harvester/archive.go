package harvester

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"repo-chat-go/internal/model"
	"repo-chat-go/internal/normalizer"
	"repo-chat-go/pkg/log"
	"sync"
)

// 并发规范化归档条目的并行度上限。
const extractWorkers = 8

// extractDocuments 解包仓库归档并规范化每个文本条目。
// 条目并发处理，单条失败只告警跳过；目录、图片与锁文件不进入结果。
// 展平后同名条目相互覆盖（保留最后写入者）。
func extractDocuments(archive []byte) []model.Document {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		log.Warnf("[Harvester] 打开归档失败: %v", err)
		return nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	sem := make(chan struct{}, extractWorkers)
	bySource := make(map[string]model.Document)
	var order []string

	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		if normalizer.Skip(entry.Name) {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(entry *zip.File) {
			defer wg.Done()
			defer func() { <-sem }()

			doc, err := readEntry(entry)
			if err != nil {
				log.Warnf("[Harvester] 处理归档条目失败，跳过: %s, err: %v", entry.Name, err)
				return
			}

			mu.Lock()
			defer mu.Unlock()
			if _, seen := bySource[doc.Source]; !seen {
				order = append(order, doc.Source)
			}
			bySource[doc.Source] = doc
		}(entry)
	}
	wg.Wait()

	docs := make([]model.Document, 0, len(order))
	for _, source := range order {
		docs = append(docs, bySource[source])
	}
	return docs
}

// readEntry 读取并规范化单个归档条目。
func readEntry(entry *zip.File) (model.Document, error) {
	rc, err := entry.Open()
	if err != nil {
		return model.Document{}, fmt.Errorf("failed to open entry: %w", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return model.Document{}, fmt.Errorf("failed to read entry: %w", err)
	}
	return normalizer.Normalize(entry.Name, raw)
}

// BuildArchive 将文档集打包为一个可下载的 zip（根目录下的展平文本文件）。
func BuildArchive(docs []model.Document) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	for _, doc := range docs {
		f, err := w.Create(normalizer.ArtifactName(doc))
		if err != nil {
			return nil, fmt.Errorf("failed to create archive entry %q: %w", doc.Source, err)
		}
		if _, err := f.Write([]byte(doc.Content)); err != nil {
			return nil, fmt.Errorf("failed to write archive entry %q: %w", doc.Source, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
