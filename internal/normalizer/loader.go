package normalizer

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"repo-chat-go/internal/model"
	"repo-chat-go/pkg/log"
)

// LoadDirectory 递归加载目录下的全部文档。
// 不可读或非文本的条目只告警跳过，永远不中断整个加载。
func LoadDirectory(dir string) ([]model.Document, error) {
	var docs []model.Document

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if Skip(path) {
			return nil
		}

		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			log.Warnf("[Normalizer] 读取文件失败，跳过: %s, err=%v", path, readErr)
			return nil
		}

		doc, normErr := Normalize(path, raw)
		if normErr != nil {
			log.Warnf("[Normalizer] 规范化失败，跳过: %s, err=%v", path, normErr)
			return nil
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory %q: %w", dir, err)
	}
	return docs, nil
}

// WriteDocuments 将文档集写入目录，文件名为来源标识加文本后缀。
// 同名来源相互覆盖（展平是有损的，与产物 zip 的行为一致）。
func WriteDocuments(dir string, docs []model.Document) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dir, err)
	}
	for _, doc := range docs {
		path := filepath.Join(dir, ArtifactName(doc))
		if err := os.WriteFile(path, []byte(doc.Content), 0o644); err != nil {
			return fmt.Errorf("failed to write document %q: %w", doc.Source, err)
		}
	}
	return nil
}
